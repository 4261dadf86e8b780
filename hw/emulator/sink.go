package emulator

import (
	"context"

	"github.com/xaionaro-go/raspivid/types"
)

// sink consumes frames; it serves both the renderer and the null sink.
type sink struct {
	inputs []types.Encoding
}

func (s *sink) ports() (inputs, outputs [][]types.Encoding) {
	return [][]types.Encoding{s.inputs}, nil
}

func (*sink) process(context.Context, *Component, *Port, *frame) {}
