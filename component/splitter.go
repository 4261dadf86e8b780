package component

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/port"
)

// Splitter duplicates its input to two outputs; output_0 is the default.
type Splitter struct {
	*Base
	Input   *port.Port
	Output0 *port.Port
	Output1 *port.Port
}

var _ Abstract = (*Splitter)(nil)

func NewSplitter(
	ctx context.Context,
	platform hw.Platform,
) (_ret *Splitter, _err error) {
	logger.Debugf(ctx, "NewSplitter")
	defer func() { logger.Debugf(ctx, "/NewSplitter: %v", _err) }()

	b, err := newBase(ctx, platform, hw.ComponentNameVideoSplitter, "splitter")
	if err != nil {
		return nil, err
	}
	s := &Splitter{Base: b}
	defer func() { closeOnError(ctx, s, _err) }()

	s.assertPorts(ctx, 1, 2)
	outputs := s.hwComponent.Outputs()
	s.Input = s.addPort(ctx, s.hwComponent.Inputs()[0], PortNameInput)
	s.Output0 = s.addPort(ctx, outputs[0], PortNameOutput0)
	s.Output1 = s.addPort(ctx, outputs[1], PortNameOutput1)
	s.defaultInput = s.Input
	s.defaultOutput = s.Output0
	s.afterConnect = s.configureOutputs

	if err := s.enable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Splitter) configureOutputs(ctx context.Context) error {
	f := s.Input.GetFormat()
	for _, out := range []*port.Port{s.Output0, s.Output1} {
		if err := out.SetFormat(ctx, f); err != nil {
			return fmt.Errorf("unable to set the format of %s: %w", out, err)
		}
	}
	return nil
}
