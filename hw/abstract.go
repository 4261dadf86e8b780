// Package hw describes the video hardware as the rest of raspivid sees it:
// components with ports, connections between ports, and buffer headers.
//
// A real backend talks to the VideoCore firmware; package emulator provides
// a software one.
package hw

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/raspivid/types"
)

const (
	ComponentNameCamera        = "vc.ril.camera"
	ComponentNameVideoEncoder  = "vc.ril.video_encode"
	ComponentNameResizer       = "vc.ril.resize"
	ComponentNameVideoSplitter = "vc.ril.video_splitter"
	ComponentNameVideoRenderer = "vc.ril.video_render"
	ComponentNameNullSink      = "vc.null_sink"
)

// Platform creates hardware components and connections between their ports.
type Platform interface {
	NewComponent(ctx context.Context, name string) (Component, error)
	NewConnection(ctx context.Context, src, dst Port, flags ConnectionFlags) (Connection, error)
}

type Component interface {
	fmt.Stringer
	Name() string
	Control() Port
	Inputs() []Port
	Outputs() []Port
	IsEnabled() bool
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error

	// Close releases the component. Its ports must not be used afterwards.
	Close(ctx context.Context) error
}

type PortType int

const (
	PortTypeUndefined PortType = iota
	PortTypeControl
	PortTypeInput
	PortTypeOutput
)

func (t PortType) String() string {
	switch t {
	case PortTypeControl:
		return "control"
	case PortTypeInput:
		return "input"
	case PortTypeOutput:
		return "output"
	}
	return "undefined"
}

// BufferRequirements are the buffer count/size limits of a port and the
// values currently configured for it.
type BufferRequirements struct {
	NumMin          uint32
	NumRecommended  uint32
	SizeMin         uint32
	SizeRecommended uint32
	Num             uint32
	Size            uint32
}

// BufferHandler is called by the hardware once per buffer returned from a
// port. The buffer is already locked for CPU access when the handler runs.
// Calls for a single port are strictly ordered.
type BufferHandler func(ctx context.Context, port Port, buf *Buffer)

type Port interface {
	fmt.Stringer
	Name() string
	Type() PortType
	Index() int
	Component() Component

	// Format returns the format as currently staged (committed or not).
	Format() types.Format
	// SetFormat stages a format; CommitFormat applies it.
	SetFormat(types.Format)
	CommitFormat(ctx context.Context) error

	BufferRequirements() BufferRequirements
	SetBufferConfig(num, size uint32)

	SetParameter(ctx context.Context, param Parameter) error
	GetParameter(ctx context.Context, id ParameterID) (Parameter, error)

	IsEnabled() bool
	Enable(ctx context.Context, handler BufferHandler) error
	// Disable stops deliveries. It blocks until every in-flight handler call
	// has returned; buffers that were submitted but never filled are
	// released to their owner before it returns.
	Disable(ctx context.Context) error
	SendBuffer(ctx context.Context, buf *Buffer) error

	AllocateBuffers(ctx context.Context, num, size uint32) ([]*Buffer, error)
	FreeBuffers(ctx context.Context, bufs []*Buffer)
}

type ConnectionFlags uint32

const (
	ConnectionFlagTunnelling ConnectionFlags = 1 << iota
	ConnectionFlagAllocationOnInput
	ConnectionFlagAllocationOnOutput
)

// Connection is a hardware-managed edge between an output port and an input port.
type Connection interface {
	fmt.Stringer
	Source() Port
	Sink() Port
	Flags() ConnectionFlags
	IsEnabled() bool
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Close(ctx context.Context) error
}
