package emulator

import (
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/types"
)

type frame struct {
	data   []byte
	format types.Format
	flags  hw.BufferFlags
	pts    int64
}

// planes splits an I420 (or opaque) payload laid out with the aligned
// format dimensions as strides.
func planes(data []byte, f types.Format) (y, u, v []byte, ok bool) {
	ySize := int(f.Width * f.Height)
	cSize := ySize / 4
	if len(data) < ySize+2*cSize {
		return nil, nil, nil, false
	}
	return data[:ySize], data[ySize : ySize+cSize], data[ySize+cSize : ySize+2*cSize], true
}

// writePattern draws a moving diagonal gradient; every frame differs
// from the previous one so motion detection has something to detect.
func writePattern(dst []byte, f types.Format, frameNum uint64) uint32 {
	size := f.Encoding.FrameSize(f.Width, f.Height)
	if size == 0 || uint32(len(dst)) < size {
		return 0
	}
	dst = dst[:size]
	shift := byte(frameNum * 4)
	switch f.Encoding {
	case types.EncodingRGB24:
		for row := uint32(0); row < f.Height; row++ {
			line := dst[row*f.Width*3 : (row+1)*f.Width*3]
			for col := uint32(0); col < f.Width; col++ {
				line[col*3+0] = byte(col) + shift
				line[col*3+1] = byte(row) + shift
				line[col*3+2] = byte(col+row) + shift
			}
		}
	default:
		y, u, v, _ := planes(dst, f)
		for row := uint32(0); row < f.Height; row++ {
			line := y[row*f.Width : (row+1)*f.Width]
			for col := range line {
				line[col] = byte(uint32(col)+row) + shift
			}
		}
		chroma := byte(128 + frameNum%32)
		for i := range u {
			u[i] = chroma
			v[i] = 255 - chroma
		}
	}
	return size
}
