package main

import (
	"context"
	"encoding/binary"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/port"
	"github.com/xaionaro-go/raspivid/types"
)

// frameCallback keeps a private copy of the luma plane of the last frame,
// so it can be processed after the hardware buffer went back to the pool.
type frameCallback struct {
	frameBuffer []byte
	filled      bool
}

var _ port.Callback = (*frameCallback)(nil)
var _ port.PostProcessor = (*frameCallback)(nil)

func newFrameCallback(format types.Format) *frameCallback {
	f := format.Aligned()
	return &frameCallback{
		frameBuffer: make([]byte, int(f.Width)*int(f.Height)),
	}
}

func (c *frameCallback) Callback(
	ctx context.Context,
	p *port.Port,
	buf *hw.Buffer,
) {
	payload := buf.Bytes()
	if len(payload) < len(c.frameBuffer) {
		logger.Tracef(ctx, "%s: short buffer %d < %d", p, len(payload), len(c.frameBuffer))
		c.filled = false
		return
	}
	copy(c.frameBuffer, payload)
	c.filled = true
}

func (c *frameCallback) PostProcess(
	ctx context.Context,
	p *port.Port,
) {
	if !c.filled {
		return
	}
	var sum uint64
	for _, v := range c.frameBuffer {
		sum += uint64(v)
	}
	logger.Debugf(ctx, "%s: frame copied, mean luma %d", p, sum/uint64(len(c.frameBuffer)))
}

const (
	motionVectorRecordSize = 4
	motionSADThreshold     = 256
)

// motionVectorCallback inspects the inline motion vectors emitted by the
// encoder: one record (x int8, y int8, SAD uint16le) per macroblock.
type motionVectorCallback struct{}

var _ port.Callback = (*motionVectorCallback)(nil)

func (motionVectorCallback) Callback(
	ctx context.Context,
	p *port.Port,
	buf *hw.Buffer,
) {
	if !buf.Flags.Has(hw.BufferFlagCodecSideInfo) {
		return
	}
	payload := buf.Bytes()
	var moving int
	for off := 0; off+motionVectorRecordSize <= len(payload); off += motionVectorRecordSize {
		x, y := int8(payload[off]), int8(payload[off+1])
		sad := binary.LittleEndian.Uint16(payload[off+2:])
		if x != 0 || y != 0 || sad > motionSADThreshold {
			moving++
		}
	}
	logger.Debugf(ctx, "%s: got motion vectors, %d of %d macroblocks moving", p, moving, len(payload)/motionVectorRecordSize)
}
