package port

import (
	"context"

	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
)

// dispatch is the trampoline the hardware calls for every buffer the port
// returns: user callback, unlock, release to the pool, then (for output
// ports) hand an idle buffer back to the hardware and run the
// post-process hook.
//
// It must not take p.locker: Close holds it while the hardware waits for
// in-flight dispatches to finish.
func (p *Port) dispatch(
	ctx context.Context,
	_ hw.Port,
	buf *hw.Buffer,
) {
	dc := xatomic.LoadPointer(&p.dispatchCtx)
	logger.Tracef(ctx, "dispatch[%s]: %s", p, buf)
	p.counters.Delivered.Increment(uint64(buf.Length))

	if dc != nil && dc.callback != nil {
		dc.callback.Callback(ctx, p, buf)
	}
	buf.Unlock()
	buf.Release()

	if dc == nil {
		return
	}
	if dc.resubmit && dc.pool != nil && p.hwPort.IsEnabled() {
		p.resubmit(ctx, dc.pool)
	}
	if pp, ok := dc.callback.(PostProcessor); ok {
		pp.PostProcess(ctx, p)
	}
}

func (p *Port) resubmit(
	ctx context.Context,
	bp *BufferPool,
) {
	next := bp.Get()
	if next == nil {
		p.counters.Starved.Add(1)
		logger.Warnf(ctx, "%s: no idle buffer to hand back to the hardware", p)
		return
	}
	if err := p.hwPort.SendBuffer(ctx, next); err != nil {
		p.counters.ResubmitFailures.Add(1)
		next.Release()
		if p.hwPort.IsEnabled() {
			logger.Errorf(ctx, "%s: unable to hand a buffer back to the hardware: %v", p, err)
		} else {
			logger.Debugf(ctx, "%s: the port got disabled while resubmitting: %v", p, err)
		}
		return
	}
	p.counters.Resubmitted.Add(1)
}
