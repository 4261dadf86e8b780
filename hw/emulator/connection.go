package emulator

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

// Connection is a tunnel: frames filled on the source port are copied into
// a small queue and consumed by the sink component on a goroutine of its
// own. Frames are dropped when the queue is full.
type Connection struct {
	platform *Platform
	source   *Port
	sink     *Port
	flags    hw.ConnectionFlags

	locker  xsync.Mutex
	buffers []*hw.Buffer
	cancel  context.CancelFunc
	done    chan struct{}

	enabled       atomic.Bool
	closed        atomic.Bool
	framesDropped atomic.Uint64
}

var _ hw.Connection = (*Connection)(nil)

func newConnection(
	ctx context.Context,
	platform *Platform,
	src, dst *Port,
	flags hw.ConnectionFlags,
) (*Connection, error) {
	conn := &Connection{
		platform: platform,
		source:   src,
		sink:     dst,
		flags:    flags,
	}
	err := xsync.DoR1(noLog(ctx), &src.locker, func() error {
		if src.connection != nil {
			return fmt.Errorf("%s is already connected: %w", src, hw.StatusEISCONN)
		}
		src.connection = conn
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = xsync.DoR1(noLog(ctx), &dst.locker, func() error {
		if dst.connection != nil {
			return fmt.Errorf("%s is already connected: %w", dst, hw.StatusEISCONN)
		}
		dst.connection = conn
		return nil
	})
	if err != nil {
		src.setConnection(nil)
		return nil, err
	}
	return conn, nil
}

func (conn *Connection) String() string {
	return fmt.Sprintf("%s->%s", conn.source, conn.sink)
}

func (conn *Connection) Source() hw.Port {
	return conn.source
}

func (conn *Connection) Sink() hw.Port {
	return conn.sink
}

func (conn *Connection) Flags() hw.ConnectionFlags {
	return conn.flags
}

func (conn *Connection) IsEnabled() bool {
	return conn.enabled.Load()
}

// FramesDropped is the amount of frames lost because the sink did not keep up.
func (conn *Connection) FramesDropped() uint64 {
	return conn.framesDropped.Load()
}

func (conn *Connection) Enable(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Enable[%s]", conn)
	defer func() { logger.Debugf(ctx, "/Enable[%s]: %v", conn, _err) }()
	return xsync.DoA1R1(noLog(ctx), &conn.locker, conn.enableLocked, ctx)
}

func (conn *Connection) enableLocked(ctx context.Context) (_err error) {
	if conn.closed.Load() {
		return fmt.Errorf("connection %s is closed: %w", conn, hw.StatusENOTCONN)
	}
	if conn.enabled.Load() {
		return nil
	}
	if hook := conn.platform.getHooks().EnableConnection; hook != nil {
		if err := hook(conn); err != nil {
			return err
		}
	}

	if err := conn.sink.enableTunnelled(ctx); err != nil {
		return err
	}
	defer func() {
		if _err != nil {
			_ = conn.sink.Disable(ctx)
		}
	}()

	r := conn.source.BufferRequirements()
	bufs, err := conn.source.AllocateBuffers(ctx, r.Num, r.Size)
	if err != nil {
		return fmt.Errorf("unable to allocate the tunnel buffers: %w", err)
	}
	for _, buf := range bufs {
		buf.SetReleaseFunc(conn.recycle)
	}

	queue := make(chan *frame, conn.platform.config.TunnelQueueSize)
	if err := conn.source.Enable(ctx, func(ctx context.Context, _ hw.Port, buf *hw.Buffer) {
		conn.onSourceBuffer(ctx, queue, buf)
	}); err != nil {
		conn.source.FreeBuffers(ctx, bufs)
		return err
	}
	for _, buf := range bufs {
		if err := conn.source.SendBuffer(ctx, buf); err != nil {
			logger.Errorf(ctx, "unable to submit a tunnel buffer to %s: %v", conn.source, err)
		}
	}
	conn.buffers = bufs

	ctx, cancelFn := context.WithCancel(xcontext.DetachDone(ctx))
	done := make(chan struct{})
	conn.cancel = cancelFn
	conn.done = done
	observability.Go(ctx, func(ctx context.Context) {
		defer close(done)
		conn.tunnelLoop(ctx, queue)
	})

	conn.enabled.Store(true)
	return nil
}

func (conn *Connection) onSourceBuffer(
	ctx context.Context,
	queue chan<- *frame,
	buf *hw.Buffer,
) {
	f := &frame{
		data:   append([]byte(nil), buf.Bytes()...),
		format: conn.source.committedFormat(),
		flags:  buf.Flags,
		pts:    buf.PTS,
	}
	select {
	case queue <- f:
	default:
		conn.framesDropped.Inc()
		logger.Tracef(ctx, "%s: the sink is busy, dropping a frame", conn)
	}
	buf.Unlock()
	buf.Release()
}

func (conn *Connection) recycle(buf *hw.Buffer) {
	if !conn.source.IsEnabled() {
		return
	}
	if err := conn.source.SendBuffer(context.TODO(), buf); err != nil {
		logger.Tracef(context.TODO(), "%s: unable to resubmit a tunnel buffer: %v", conn, err)
	}
}

func (conn *Connection) tunnelLoop(
	ctx context.Context,
	queue <-chan *frame,
) {
	logger.Debugf(ctx, "tunnelLoop[%s]", conn)
	defer func() { logger.Debugf(ctx, "/tunnelLoop[%s]", conn) }()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-queue:
			conn.sink.component.consume(ctx, conn.sink, f)
		}
	}
}

func (conn *Connection) Disable(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Disable[%s]", conn)
	defer func() { logger.Debugf(ctx, "/Disable[%s]: %v", conn, _err) }()
	return xsync.DoA1R1(noLog(ctx), &conn.locker, conn.disableLocked, ctx)
}

func (conn *Connection) disableLocked(ctx context.Context) error {
	if !conn.enabled.Load() {
		return nil
	}
	conn.enabled.Store(false)
	if err := conn.source.Disable(ctx); err != nil {
		return err
	}
	conn.cancel()
	<-conn.done
	conn.source.FreeBuffers(ctx, conn.buffers)
	conn.buffers = nil
	return conn.sink.Disable(ctx)
}

func (conn *Connection) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close[%s]", conn)
	defer func() { logger.Debugf(ctx, "/Close[%s]: %v", conn, _err) }()
	if !conn.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := conn.Disable(ctx)
	conn.source.setConnection(nil)
	conn.sink.setConnection(nil)
	return err
}
