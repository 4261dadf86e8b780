package emulator

import (
	"context"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/types"
)

const splitterOutputs = 2

type splitter struct{}

func (*splitter) ports() (inputs, outputs [][]types.Encoding) {
	outputs = make([][]types.Encoding, splitterOutputs)
	for idx := range outputs {
		outputs[idx] = rawEncodings
	}
	return [][]types.Encoding{rawEncodings}, outputs
}

func (*splitter) process(
	ctx context.Context,
	c *Component,
	_ *Port,
	f *frame,
) {
	for _, out := range c.outputs {
		out.produce(ctx, func(dst []byte) uint32 {
			return uint32(copy(dst, f.data))
		}, f.flags, f.pts, hw.CommandNone)
	}
}
