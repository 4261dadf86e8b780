// Package component implements the processing stages of a capture
// pipeline (camera, encoder, resizer, splitter, renderers, null sink) on
// top of hardware components.
//
// Every stage embeds *Base, which owns the hardware component and the
// wrapped ports and implements the generic connect/teardown logic.
package component

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/internal"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/port"
	"github.com/xaionaro-go/raspivid/types"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
)

const (
	PortNameControl = "control"
	PortNameInput   = "input"
	PortNameOutput  = "output"
	PortNameOutput0 = "output_0"
	PortNameOutput1 = "output_1"
	PortNamePreview = "preview"
	PortNameVideo   = "video"
	PortNameStill   = "still"
)

// Abstract is implemented by every stage of this package and only by them.
type Abstract interface {
	fmt.Stringer

	// ComponentName is the name of the underlying hardware component.
	ComponentName() string
	Hardware() hw.Component

	// DefaultInput is nil for stages without inputs.
	DefaultInput() *port.Port
	// DefaultOutput is nil for stages without outputs.
	DefaultOutput() *port.Port
	Ports() []*port.Port
	Port(name string) (*port.Port, error)

	// Connect links the default output of src to the default input of
	// this stage.
	Connect(ctx context.Context, src Abstract) error
	// ConnectPort links src to the default input of this stage.
	ConnectPort(ctx context.Context, src *port.Port) error
	ConnectPortWithMode(ctx context.Context, src *port.Port, mode port.Mode, callback port.Callback) error

	// Close tears the stage down. It is safe to call more than once.
	Close(ctx context.Context) error

	base() *Base
}

type Base struct {
	platform    hw.Platform
	hwComponent hw.Component
	kind        string

	locker        xsync.Mutex
	closed        bool
	ports         []*port.Port
	defaultInput  *port.Port
	defaultOutput *port.Port

	// afterConnect re-derives output formats once the input format is known.
	afterConnect func(ctx context.Context) error
}

func newBase(
	ctx context.Context,
	platform hw.Platform,
	hwName string,
	kind string,
) (*Base, error) {
	hwComponent, err := platform.NewComponent(ctx, hwName)
	if err != nil {
		return nil, ErrHardwareUnavailable{Name: hwName, Err: err}
	}
	return &Base{
		platform:    platform,
		hwComponent: hwComponent,
		kind:        kind,
	}, nil
}

func (b *Base) base() *Base {
	return b
}

func (b *Base) String() string {
	return fmt.Sprintf("%s:%s", b.kind, types.GetObjectID(b))
}

func (b *Base) ComponentName() string {
	return b.hwComponent.Name()
}

func (b *Base) Hardware() hw.Component {
	return b.hwComponent
}

func (b *Base) DefaultInput() *port.Port {
	return b.defaultInput
}

func (b *Base) DefaultOutput() *port.Port {
	return b.defaultOutput
}

func (b *Base) Ports() []*port.Port {
	return xsync.DoR1(xsync.WithNoLogging(context.Background(), true), &b.locker, func() []*port.Port {
		result := make([]*port.Port, len(b.ports))
		copy(result, b.ports)
		return result
	})
}

func (b *Base) Port(name string) (*port.Port, error) {
	for _, p := range b.Ports() {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, ErrUnknownPort{Component: b.String(), Port: name}
}

// assertPorts panics unless the hardware component has exactly the given
// number of input and output ports.
func (b *Base) assertPorts(
	ctx context.Context,
	inputs, outputs int,
) {
	gotInputs, gotOutputs := len(b.hwComponent.Inputs()), len(b.hwComponent.Outputs())
	internal.Assert(
		ctx,
		gotInputs == inputs && gotOutputs == outputs,
		fmt.Sprintf("%s: expected %d/%d input/output ports, have %d/%d", b.hwComponent, inputs, outputs, gotInputs, gotOutputs),
	)
}

func (b *Base) addPort(
	ctx context.Context,
	hwPort hw.Port,
	name string,
) *port.Port {
	p := port.New(ctx, b.platform, hwPort, name)
	b.locker.Do(xsync.WithNoLogging(ctx, true), func() {
		b.ports = append(b.ports, p)
	})
	return p
}

func (b *Base) enable(ctx context.Context) error {
	if err := b.hwComponent.Enable(ctx); err != nil {
		return fmt.Errorf("unable to enable %s: %w", b.hwComponent, err)
	}
	return nil
}

func (b *Base) Connect(
	ctx context.Context,
	src Abstract,
) (_err error) {
	logger.Debugf(ctx, "Connect[%s](%s)", b, src)
	defer func() { logger.Debugf(ctx, "/Connect[%s](%s): %v", b, src, _err) }()

	if src == nil {
		return ErrInvalidTopology{Component: b.String(), Reason: "the source is nil"}
	}
	srcPort := src.DefaultOutput()
	if srcPort == nil {
		return ErrInvalidTopology{Component: b.String(), Reason: fmt.Sprintf("%s has no default output", src)}
	}
	return b.ConnectPortWithMode(ctx, srcPort, port.ModeTunnelled, nil)
}

func (b *Base) ConnectPort(
	ctx context.Context,
	src *port.Port,
) error {
	return b.ConnectPortWithMode(ctx, src, port.ModeTunnelled, nil)
}

func (b *Base) ConnectPortWithMode(
	ctx context.Context,
	src *port.Port,
	mode port.Mode,
	callback port.Callback,
) (_err error) {
	logger.Debugf(ctx, "ConnectPortWithMode[%s](%s, %s)", b, src, mode)
	defer func() { logger.Debugf(ctx, "/ConnectPortWithMode[%s](%s, %s): %v", b, src, mode, _err) }()

	if b.defaultInput == nil {
		return ErrInvalidTopology{Component: b.String(), Reason: "no default input"}
	}
	if src == nil {
		return ErrInvalidTopology{Component: b.String(), Reason: "the source port is nil"}
	}
	if err := b.defaultInput.ConnectWithMode(ctx, src, mode, callback); err != nil {
		return err
	}
	if b.afterConnect == nil {
		return nil
	}
	if err := b.afterConnect(ctx); err != nil {
		if conn := b.defaultInput.Connection(); conn != nil {
			if closeErr := conn.Close(ctx); closeErr != nil {
				logger.Errorf(ctx, "unable to undo the connection %s: %v", conn, closeErr)
			}
		}
		return fmt.Errorf("unable to configure the outputs of %s: %w", b, err)
	}
	return nil
}

// Close closes every port (and thus the connections they own), then
// disables and releases the hardware component. The ports are invalidated
// afterwards, so closing them again never touches the hardware.
func (b *Base) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close[%s]", b)
	defer func() { logger.Debugf(ctx, "/Close[%s]: %v", b, _err) }()
	ctx = xcontext.DetachDone(ctx)

	return xsync.DoR1(ctx, &b.locker, func() error {
		if b.closed {
			return nil
		}
		b.closed = true

		var errs []error
		for idx := len(b.ports) - 1; idx >= 0; idx-- {
			p := b.ports[idx]
			if err := p.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("unable to close %s: %w", p, err))
			}
		}
		if err := b.hwComponent.Disable(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to disable %s: %w", b.hwComponent, err))
		}
		if err := b.hwComponent.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to release %s: %w", b.hwComponent, err))
		}
		for _, p := range b.ports {
			p.Invalidate(ctx)
		}
		return errors.Join(errs...)
	})
}

// closeOnError is deferred by the constructors: a stage that failed to
// initialize is torn down before the error is returned.
func closeOnError(
	ctx context.Context,
	c Abstract,
	err error,
) {
	if err == nil {
		return
	}
	if closeErr := c.Close(ctx); closeErr != nil {
		logger.Errorf(ctx, "unable to close %s after a failed initialization: %v", c, closeErr)
	}
}
