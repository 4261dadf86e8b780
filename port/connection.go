package port

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/xsync"
)

type Mode int

const (
	// ModeTunnelled lets the hardware move buffers between the ports.
	ModeTunnelled = Mode(iota)
	// ModeCallbackDriven relays every buffer through a callback before
	// handing its payload to the sink.
	ModeCallbackDriven
)

func (m Mode) String() string {
	switch m {
	case ModeTunnelled:
		return "tunnelled"
	case ModeCallbackDriven:
		return "callback"
	}
	return fmt.Sprintf("<unknown mode %d>", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "tunnelled", "tunneled":
		*m = ModeTunnelled
	case "callback", "callback-driven":
		*m = ModeCallbackDriven
	default:
		return fmt.Errorf("unknown connection mode '%s'", b)
	}
	return nil
}

// Connection is an edge from an output port (source) to an input port
// (sink). It is owned by the sink: closing the sink port closes it.
type Connection struct {
	mode   Mode
	source *Port
	sink   *Port
	hwConn hw.Connection
	relay  *relay
	closed atomic.Bool
}

func (conn *Connection) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", conn.source, conn.mode, conn.sink)
}

func (conn *Connection) Mode() Mode {
	return conn.mode
}

func (conn *Connection) Source() *Port {
	return conn.source
}

func (conn *Connection) Sink() *Port {
	return conn.sink
}

// Connect links src to this (input) port with a hardware tunnel. The format
// of src is copied to this port first.
func (p *Port) Connect(
	ctx context.Context,
	src *Port,
) error {
	return p.ConnectWithMode(ctx, src, ModeTunnelled, nil)
}

// ConnectWithMode links src to this (input) port. In ModeCallbackDriven
// callback (if not nil) sees every buffer of src before its payload is
// handed to this port.
func (p *Port) ConnectWithMode(
	ctx context.Context,
	src *Port,
	mode Mode,
	callback Callback,
) (_err error) {
	logger.Debugf(ctx, "ConnectWithMode[%s](%s, %s)", p, src, mode)
	defer func() { logger.Debugf(ctx, "/ConnectWithMode[%s](%s, %s): %v", p, src, mode, _err) }()

	p.locker.ManualLock(ctx)
	defer p.locker.ManualUnlock(ctx)

	if p.closed || p.invalidated.Load() {
		return ErrPortClosed{Port: p.String()}
	}
	if p.connection != nil {
		return ErrAlreadyConnected{Port: p.String()}
	}
	if src.getDownstreamOrConnected(ctx) {
		return ErrAlreadyConnected{Port: src.String()}
	}
	if mode == ModeTunnelled && p.bufferPool != nil {
		return ErrConnectionRejected{
			Source: src.String(),
			Sink:   p.String(),
			Err:    fmt.Errorf("the sink already has a buffer pool"),
		}
	}

	f := src.GetFormat()
	prev := p.hwPort.Format()
	p.hwPort.SetFormat(f)
	if err := p.hwPort.CommitFormat(ctx); err != nil {
		p.hwPort.SetFormat(prev)
		return ErrConnectionRejected{
			Source: src.String(),
			Sink:   p.String(),
			Err:    ErrFormatRejected{Port: p.String(), Format: f, Err: err},
		}
	}

	conn := &Connection{
		mode:   mode,
		source: src,
		sink:   p,
	}
	var err error
	switch mode {
	case ModeTunnelled:
		err = conn.enableTunnel(ctx)
	case ModeCallbackDriven:
		err = conn.enableRelay(ctx, callback)
	default:
		err = fmt.Errorf("unknown mode %s", mode)
	}
	if err != nil {
		p.hwPort.SetFormat(prev)
		if commitErr := p.hwPort.CommitFormat(ctx); commitErr != nil {
			logger.Errorf(ctx, "unable to restore the format %s of %s: %v", prev, p, commitErr)
		}
		return ErrConnectionRejected{Source: src.String(), Sink: p.String(), Err: err}
	}

	p.connection = conn
	src.setDownstream(ctx, conn)
	logger.Debugf(ctx, "connected %s", conn)
	return nil
}

func (p *Port) getDownstreamOrConnected(ctx context.Context) bool {
	return xsync.DoR1(ctx, &p.locker, func() bool {
		return p.downstream != nil || p.closed
	})
}

func (conn *Connection) enableTunnel(ctx context.Context) error {
	hwConn, err := conn.sink.platform.NewConnection(
		ctx,
		conn.source.hwPort,
		conn.sink.hwPort,
		hw.ConnectionFlagTunnelling|hw.ConnectionFlagAllocationOnInput,
	)
	if err != nil {
		return fmt.Errorf("unable to create a tunnel: %w", err)
	}
	if err := hwConn.Enable(ctx); err != nil {
		if closeErr := hwConn.Close(ctx); closeErr != nil {
			logger.Errorf(ctx, "unable to destroy the tunnel %s: %v", hwConn, closeErr)
		}
		return fmt.Errorf("unable to enable the tunnel: %w", err)
	}
	conn.hwConn = hwConn
	return nil
}

// Close tears the connection down; calling it again is a no-op.
func (conn *Connection) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close[%s]", conn)
	defer func() { logger.Debugf(ctx, "/Close[%s]: %v", conn, _err) }()
	if !conn.closed.CompareAndSwap(false, true) {
		return nil
	}

	var result error
	switch conn.mode {
	case ModeTunnelled:
		if !conn.sink.invalidated.Load() && !conn.source.invalidated.Load() {
			if err := conn.hwConn.Disable(ctx); err != nil {
				result = fmt.Errorf("unable to disable the tunnel: %w", err)
			}
			if err := conn.hwConn.Close(ctx); err != nil && result == nil {
				result = fmt.Errorf("unable to destroy the tunnel: %w", err)
			}
		}
	case ModeCallbackDriven:
		if err := conn.source.teardown(ctx); err != nil {
			result = err
		}
		if err := conn.sink.teardown(ctx); err != nil && result == nil {
			result = err
		}
	}

	conn.source.setDownstream(ctx, nil)
	conn.sink.locker.Do(ctx, func() {
		if conn.sink.connection == conn {
			conn.sink.connection = nil
		}
	})
	return result
}
