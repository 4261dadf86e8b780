package emulator

import (
	"context"
	"encoding/binary"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/types"
)

const (
	defaultBitrate     = 17000000
	defaultIntraPeriod = 60
	macroblockSize     = 16
	sadSampleStep      = 4
)

var (
	nalStartCode  = []byte{0, 0, 0, 1}
	spsPPSPayload = []byte{
		0, 0, 0, 1, 0x27, 0x64, 0x00, 0x28, 0xac, 0x2b, 0x40, 0x3c, 0x01, 0x13, 0xf2, 0xc0,
		0, 0, 0, 1, 0x28, 0xee, 0x02, 0x5c, 0xb0,
	}
)

// encoder produces H.264-like (or MJPEG-like) payloads whose size follows
// the configured bitrate. The content is not decodable.
type encoder struct {
	frameNum   uint64
	headerSent bool
	prevLuma   []byte
}

func (*encoder) ports() (inputs, outputs [][]types.Encoding) {
	return [][]types.Encoding{yuvEncodings}, [][]types.Encoding{compressedEncodings}
}

func (e *encoder) process(
	ctx context.Context,
	c *Component,
	_ *Port,
	f *frame,
) {
	out := c.outputs[0]
	outFmt := out.committedFormat()
	n := e.frameNum
	e.frameNum++

	luma, _, _, ok := planes(f.data, f.format)
	if !ok {
		logger.Warnf(ctx, "%s: a short input frame: %d bytes for %s", c, len(f.data), f.format)
		luma = f.data
	}
	size := frameBytes(outFmt, f.format)

	if outFmt.Encoding == types.EncodingMJPEG {
		out.produce(ctx, func(dst []byte) uint32 {
			return writeJPEGLike(dst, size, luma)
		}, hw.BufferFlagFrameEnd|hw.BufferFlagKeyframe, f.pts, hw.CommandNone)
		return
	}

	period := out.uint32Parameter(hw.ParameterIDVideoIntraPeriod, defaultIntraPeriod)
	keyframe := n == 0 || (period > 0 && uint64(n)%uint64(period) == 0)
	if !e.headerSent || (keyframe && out.boolParameter(hw.ParameterIDVideoEncodeInlineHeader)) {
		out.produce(ctx, func(dst []byte) uint32 {
			return uint32(copy(dst, spsPPSPayload))
		}, hw.BufferFlagConfig, f.pts, hw.CommandNone)
		e.headerSent = true
	}

	flags := hw.BufferFlagFrameEnd
	if keyframe {
		flags |= hw.BufferFlagKeyframe
		size *= 4
	}
	out.produce(ctx, func(dst []byte) uint32 {
		return writeNAL(dst, size, keyframe, luma)
	}, flags, f.pts, hw.CommandNone)

	if out.boolParameter(hw.ParameterIDVideoEncodeInlineVectors) {
		vectors := e.motionVectors(f.format, luma)
		out.produce(ctx, func(dst []byte) uint32 {
			return uint32(copy(dst, vectors))
		}, hw.BufferFlagCodecSideInfo|hw.BufferFlagFrameEnd, f.pts, hw.CommandNone)
	}

	e.prevLuma = append(e.prevLuma[:0], luma...)
}

func frameBytes(outFmt, inFmt types.Format) uint32 {
	bitrate := outFmt.Bitrate
	if bitrate == 0 {
		bitrate = defaultBitrate
	}
	fps := outFmt.FrameRate.Float64()
	if fps <= 0 {
		fps = inFmt.FrameRate.Float64()
	}
	if fps <= 0 {
		fps = 30
	}
	size := uint32(float64(bitrate) / 8 / fps)
	if size < 16 {
		size = 16
	}
	return size
}

func fill(dst []byte, from int, sample []byte) {
	for i := from; i < len(dst); i++ {
		if len(sample) == 0 {
			dst[i] = 0xaa
			continue
		}
		dst[i] = sample[(i*7919)%len(sample)] | 0x01
	}
}

func writeNAL(dst []byte, size uint32, keyframe bool, luma []byte) uint32 {
	if uint32(len(dst)) < size {
		size = uint32(len(dst))
	}
	if size < 5 {
		return 0
	}
	dst = dst[:size]
	copy(dst, nalStartCode)
	if keyframe {
		dst[4] = 0x65
	} else {
		dst[4] = 0x41
	}
	fill(dst, 5, luma)
	return size
}

func writeJPEGLike(dst []byte, size uint32, luma []byte) uint32 {
	if uint32(len(dst)) < size {
		size = uint32(len(dst))
	}
	if size < 4 {
		return 0
	}
	dst = dst[:size]
	dst[0], dst[1] = 0xff, 0xd8
	fill(dst[:size-2], 2, luma)
	dst[size-2], dst[size-1] = 0xff, 0xd9
	return size
}

// motionVectors returns one 4-byte record (x int8, y int8, SAD uint16le)
// per macroblock plus one extra column per row, the way the hardware
// lays them out.
func (e *encoder) motionVectors(f types.Format, luma []byte) []byte {
	width, height := f.Crop.Width, f.Crop.Height
	if width == 0 {
		width = f.Width
	}
	if height == 0 {
		height = f.Height
	}
	mbx := int(types.AlignUp[uint32](width, macroblockSize) / macroblockSize)
	mby := int(types.AlignUp[uint32](height, macroblockSize) / macroblockSize)
	stride := int(f.Width)
	result := make([]byte, (mbx+1)*mby*4)
	if len(e.prevLuma) != len(luma) || stride == 0 {
		return result
	}
	for by := 0; by < mby; by++ {
		for bx := 0; bx < mbx; bx++ {
			var sad uint32
			for y := by * macroblockSize; y < (by+1)*macroblockSize; y += sadSampleStep {
				for x := bx * macroblockSize; x < (bx+1)*macroblockSize; x += sadSampleStep {
					idx := y*stride + x
					if x >= stride || idx >= len(luma) {
						continue
					}
					d := int(luma[idx]) - int(e.prevLuma[idx])
					if d < 0 {
						d = -d
					}
					sad += uint32(d)
				}
			}
			sad *= sadSampleStep * sadSampleStep
			if sad > 0xffff {
				sad = 0xffff
			}
			rec := result[(by*(mbx+1)+bx)*4:]
			binary.LittleEndian.PutUint16(rec[2:], uint16(sad))
		}
	}
	return result
}
