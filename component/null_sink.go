package component

import (
	"context"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/port"
)

// NullSink consumes and discards everything. It is used to keep ports
// (e.g. the camera still port) connected to something.
type NullSink struct {
	*Base
	Input *port.Port
}

var _ Abstract = (*NullSink)(nil)

func NewNullSink(
	ctx context.Context,
	platform hw.Platform,
) (_ret *NullSink, _err error) {
	logger.Debugf(ctx, "NewNullSink")
	defer func() { logger.Debugf(ctx, "/NewNullSink: %v", _err) }()

	b, err := newBase(ctx, platform, hw.ComponentNameNullSink, "null_sink")
	if err != nil {
		return nil, err
	}
	s := &NullSink{Base: b}
	defer func() { closeOnError(ctx, s, _err) }()

	s.assertPorts(ctx, 1, 0)
	s.Input = s.addPort(ctx, s.hwComponent.Inputs()[0], PortNameInput)
	s.defaultInput = s.Input

	if err := s.enable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
