package emulator

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/types"
	"go.uber.org/atomic"
)

// stage is what makes a component a camera, an encoder and so on.
type stage interface {
	// ports returns the encodings supported by the input and output ports;
	// the amount of entries is the amount of ports.
	ports() (inputs, outputs [][]types.Encoding)
	// process consumes one frame that arrived at an input port.
	process(ctx context.Context, c *Component, in *Port, f *frame)
}

// starter is implemented by stages that generate frames on their own.
type starter interface {
	start(ctx context.Context, c *Component)
	stop(ctx context.Context)
}

type parameterObserver interface {
	onParameter(ctx context.Context, c *Component, port *Port, param hw.Parameter)
}

type Component struct {
	platform *Platform
	name     string
	id       uint64
	stage    stage

	control *Port
	inputs  []*Port
	outputs []*Port

	enabled        atomic.Bool
	closed         atomic.Bool
	framesConsumed atomic.Uint64
}

var _ hw.Component = (*Component)(nil)

func newComponent(
	platform *Platform,
	name string,
	id uint64,
	s stage,
) *Component {
	c := &Component{
		platform: platform,
		name:     name,
		id:       id,
		stage:    s,
	}
	c.control = newPort(c, hw.PortTypeControl, 0, nil)
	inputs, outputs := s.ports()
	for idx, encs := range inputs {
		c.inputs = append(c.inputs, newPort(c, hw.PortTypeInput, idx, encs))
	}
	for idx, encs := range outputs {
		c.outputs = append(c.outputs, newPort(c, hw.PortTypeOutput, idx, encs))
	}
	return c
}

func (c *Component) String() string {
	return fmt.Sprintf("%s#%d", c.name, c.id)
}

func (c *Component) Name() string {
	return c.name
}

func (c *Component) Control() hw.Port {
	return c.control
}

func (c *Component) Inputs() []hw.Port {
	result := make([]hw.Port, 0, len(c.inputs))
	for _, p := range c.inputs {
		result = append(result, p)
	}
	return result
}

func (c *Component) Outputs() []hw.Port {
	result := make([]hw.Port, 0, len(c.outputs))
	for _, p := range c.outputs {
		result = append(result, p)
	}
	return result
}

func (c *Component) IsEnabled() bool {
	return c.enabled.Load()
}

func (c *Component) Enable(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Enable[%s]", c)
	defer func() { logger.Debugf(ctx, "/Enable[%s]: %v", c, _err) }()
	if c.closed.Load() {
		return fmt.Errorf("component %s is closed: %w", c, hw.StatusEINVAL)
	}
	if !c.enabled.CompareAndSwap(false, true) {
		return nil
	}
	if s, ok := c.stage.(starter); ok {
		s.start(ctx, c)
	}
	return nil
}

func (c *Component) Disable(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Disable[%s]", c)
	defer func() { logger.Debugf(ctx, "/Disable[%s]: %v", c, _err) }()
	if !c.enabled.CompareAndSwap(true, false) {
		return nil
	}
	if s, ok := c.stage.(starter); ok {
		s.stop(ctx)
	}
	return nil
}

func (c *Component) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close[%s]", c)
	defer func() { logger.Debugf(ctx, "/Close[%s]: %v", c, _err) }()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.Disable(ctx); err != nil {
		return err
	}
	for _, p := range c.allPorts() {
		if conn := p.getConnection(); conn != nil {
			if err := conn.Close(ctx); err != nil {
				logger.Errorf(ctx, "unable to close the connection %s: %v", conn, err)
			}
		}
		if err := p.Disable(ctx); err != nil {
			logger.Errorf(ctx, "unable to disable port %s: %v", p, err)
		}
	}
	return nil
}

// IsClosed is used by tests to check that teardown reached the hardware.
func (c *Component) IsClosed() bool {
	return c.closed.Load()
}

// FramesConsumed is the amount of frames the component took from its input ports.
func (c *Component) FramesConsumed() uint64 {
	return c.framesConsumed.Load()
}

// ControlPort, InputPort and OutputPort are typed accessors for tests.
func (c *Component) ControlPort() *Port {
	return c.control
}

func (c *Component) InputPort(idx int) *Port {
	return c.inputs[idx]
}

func (c *Component) OutputPort(idx int) *Port {
	return c.outputs[idx]
}

func (c *Component) allPorts() []*Port {
	result := make([]*Port, 0, 1+len(c.inputs)+len(c.outputs))
	result = append(result, c.control)
	result = append(result, c.inputs...)
	result = append(result, c.outputs...)
	return result
}

func (c *Component) consume(ctx context.Context, in *Port, f *frame) {
	if !c.enabled.Load() {
		logger.Tracef(ctx, "%s is disabled, dropping a frame from %s", c, in)
		return
	}
	c.framesConsumed.Inc()
	c.stage.process(ctx, c, in, f)
}
