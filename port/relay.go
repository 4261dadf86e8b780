package port

import (
	"context"
	"fmt"

	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
)

// relay is the source-side callback of a callback-driven connection: it
// lets the user callback look at the buffer and then copies the payload
// into an idle buffer of the sink.
type relay struct {
	conn     *Connection
	callback Callback
}

var _ PostProcessor = (*relay)(nil)

func (r *relay) Callback(
	ctx context.Context,
	src *Port,
	buf *hw.Buffer,
) {
	if r.callback != nil {
		r.callback.Callback(ctx, src, buf)
	}

	sink := r.conn.sink
	bp := sink.BufferPool()
	if bp == nil {
		return
	}
	dst := bp.Get()
	if dst == nil {
		sink.counters.RelayDropped.Add(1)
		logger.Tracef(ctx, "%s: the sink has no idle buffer, dropping", r.conn)
		return
	}
	payload := buf.Bytes()
	n := copy(dst.Data, payload)
	if n < len(payload) {
		logger.Warnf(ctx, "%s: truncated a %d bytes payload to %d bytes", r.conn, len(payload), n)
	}
	dst.Offset = 0
	dst.Length = uint32(n)
	dst.Flags = buf.Flags
	dst.PTS = buf.PTS
	dst.DTS = buf.DTS
	if err := sink.sendBuffer(ctx, dst); err != nil {
		logger.Debugf(ctx, "%s: %v", r.conn, err)
		return
	}
	sink.counters.Relayed.Increment(uint64(n))
}

func (r *relay) PostProcess(ctx context.Context, src *Port) {
	if pp, ok := r.callback.(PostProcessor); ok {
		pp.PostProcess(ctx, src)
	}
}

// enableRelay must be called with the sink locker held.
func (conn *Connection) enableRelay(
	ctx context.Context,
	callback Callback,
) (_err error) {
	sink := conn.sink
	bp, err := sink.createBufferPoolLocked(ctx)
	if err != nil {
		return err
	}
	xatomic.StorePointer(&sink.dispatchCtx, &dispatchContext{pool: bp})
	if err := sink.hwPort.Enable(ctx, sink.dispatch); err != nil {
		_ = sink.teardown(ctx)
		return fmt.Errorf("unable to enable %s: %w", sink, err)
	}

	conn.relay = &relay{conn: conn, callback: callback}
	if err := conn.source.AddCallback(ctx, conn.relay); err != nil {
		if err := sink.teardown(ctx); err != nil {
			logger.Errorf(ctx, "unable to roll back %s: %v", sink, err)
		}
		return err
	}
	return nil
}
