// Package port wraps a hardware port: format negotiation, buffer pools,
// user callbacks and connections to other ports.
package port

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/types"
	"github.com/xaionaro-go/xsync"
)

type Port struct {
	hwPort   hw.Port
	platform hw.Platform
	name     string

	locker     xsync.Mutex
	closed     bool
	connection *Connection // owned; set on the sink side only
	downstream *Connection // not owned; set on the source side only

	// read without the locker by the dispatch trampoline and GetBuffer
	bufferPool  *BufferPool
	dispatchCtx *dispatchContext

	invalidated atomic.Bool
	counters    Counters
}

type dispatchContext struct {
	callback Callback
	pool     *BufferPool
	resubmit bool
}

// New wraps a hardware port. Zero copy is requested right away; if the
// hardware refuses it the port still works, just slower.
func New(
	ctx context.Context,
	platform hw.Platform,
	hwPort hw.Port,
	name string,
) *Port {
	p := &Port{
		hwPort:   hwPort,
		platform: platform,
		name:     name,
	}
	if hwPort.Type() != hw.PortTypeControl {
		if err := hwPort.SetParameter(ctx, hw.ParameterBool{ID: hw.ParameterIDZeroCopy, Value: true}); err != nil {
			logger.Warnf(ctx, "unable to enable zero copy on %s: %v", p, err)
		}
	}
	return p
}

func (p *Port) String() string {
	return fmt.Sprintf("%s(%s)", p.name, p.hwPort)
}

func (p *Port) Name() string {
	return p.name
}

func (p *Port) Type() hw.PortType {
	return p.hwPort.Type()
}

// Hardware returns the underlying hardware port.
func (p *Port) Hardware() hw.Port {
	return p.hwPort
}

func (p *Port) Statistics() Statistics {
	return p.counters.ToStats()
}

func (p *Port) IsEnabled() bool {
	return !p.invalidated.Load() && p.hwPort.IsEnabled()
}

// GetFormat returns the last committed format, with the aligned dimensions.
func (p *Port) GetFormat() types.Format {
	return p.hwPort.Format()
}

// SetFormat aligns the dimensions of f to what the hardware requires and
// commits it. On rejection the previous format stays in effect.
func (p *Port) SetFormat(
	ctx context.Context,
	f types.Format,
) (_err error) {
	logger.Debugf(ctx, "SetFormat[%s](%s)", p, f)
	defer func() { logger.Debugf(ctx, "/SetFormat[%s](%s): %v", p, f, _err) }()
	return xsync.DoA2R1(ctx, &p.locker, p.setFormatLocked, ctx, f)
}

func (p *Port) setFormatLocked(
	ctx context.Context,
	f types.Format,
) error {
	if p.closed || p.invalidated.Load() {
		return ErrPortClosed{Port: p.String()}
	}
	aligned := f.Aligned()
	logger.Tracef(ctx, "aligned format for %s: %s", p, spew.Sdump(aligned))
	prev := p.hwPort.Format()
	p.hwPort.SetFormat(aligned)
	if err := p.hwPort.CommitFormat(ctx); err != nil {
		p.hwPort.SetFormat(prev)
		return ErrFormatRejected{Port: p.String(), Format: aligned, Err: err}
	}
	return nil
}

// SetBufferConfig overrides the amount and size of the buffers the next
// buffer pool of the port gets.
func (p *Port) SetBufferConfig(num, size uint32) {
	p.hwPort.SetBufferConfig(num, size)
}

func (p *Port) BufferRequirements() hw.BufferRequirements {
	return p.hwPort.BufferRequirements()
}

func (p *Port) SetParameter(ctx context.Context, param hw.Parameter) error {
	return p.hwPort.SetParameter(ctx, param)
}

func (p *Port) GetParameter(ctx context.Context, id hw.ParameterID) (hw.Parameter, error) {
	return p.hwPort.GetParameter(ctx, id)
}

// BufferPool returns the pool of the port, or nil.
func (p *Port) BufferPool() *BufferPool {
	return xatomic.LoadPointer(&p.bufferPool)
}

// CreateBufferPool allocates the buffers of the port according to its
// current buffer config. Calling it again returns the existing pool.
func (p *Port) CreateBufferPool(ctx context.Context) (_ret *BufferPool, _err error) {
	logger.Debugf(ctx, "CreateBufferPool[%s]", p)
	defer func() { logger.Debugf(ctx, "/CreateBufferPool[%s]: %v", p, _err) }()
	return xsync.DoA1R2(ctx, &p.locker, p.createBufferPoolLocked, ctx)
}

func (p *Port) createBufferPoolLocked(ctx context.Context) (*BufferPool, error) {
	if p.closed || p.invalidated.Load() {
		return nil, ErrPortClosed{Port: p.String()}
	}
	if bp := p.bufferPool; bp != nil {
		return bp, nil
	}
	r := p.hwPort.BufferRequirements()
	bp, err := newBufferPool(ctx, p.hwPort, r.Num, r.Size)
	if err != nil {
		return nil, err
	}
	xatomic.StorePointer(&p.bufferPool, bp)
	return bp, nil
}

// AddCallback enables the port and routes every buffer it returns
// through callback.
//
// For an output port a buffer pool is created (if there is none yet) and
// every buffer of it is handed to the hardware to be filled. An input port
// also gets a pool, to be fed via GetBuffer and SendBuffer. A control port
// uses buffers owned by the hardware.
func (p *Port) AddCallback(
	ctx context.Context,
	callback Callback,
) (_err error) {
	logger.Debugf(ctx, "AddCallback[%s]", p)
	defer func() { logger.Debugf(ctx, "/AddCallback[%s]: %v", p, _err) }()
	return xsync.DoA2R1(ctx, &p.locker, p.addCallbackLocked, ctx, callback)
}

func (p *Port) addCallbackLocked(
	ctx context.Context,
	callback Callback,
) (_err error) {
	if p.closed || p.invalidated.Load() {
		return ErrPortClosed{Port: p.String()}
	}
	if p.connection != nil || p.downstream != nil {
		return ErrAlreadyConnected{Port: p.String()}
	}
	if xatomic.LoadPointer(&p.dispatchCtx) != nil || p.hwPort.IsEnabled() {
		return ErrAlreadyEnabled{Port: p.String()}
	}

	portType := p.hwPort.Type()
	xatomic.StorePointer(&p.dispatchCtx, &dispatchContext{callback: callback})
	if err := p.hwPort.Enable(ctx, p.dispatch); err != nil {
		xatomic.StorePointer(&p.dispatchCtx, nil)
		return fmt.Errorf("unable to enable %s: %w", p, err)
	}
	if portType == hw.PortTypeControl {
		return nil
	}
	defer func() {
		if _err != nil {
			if err := p.hwPort.Disable(ctx); err != nil {
				logger.Errorf(ctx, "unable to disable %s: %v", p, err)
			}
			xatomic.StorePointer(&p.dispatchCtx, nil)
		}
	}()

	bp, err := p.createBufferPoolLocked(ctx)
	if err != nil {
		return err
	}
	xatomic.StorePointer(&p.dispatchCtx, &dispatchContext{
		callback: callback,
		pool:     bp,
		resubmit: portType == hw.PortTypeOutput,
	})
	if portType != hw.PortTypeOutput {
		return nil
	}

	var (
		primed int
		failed []*hw.Buffer
	)
	for i := 0; i < bp.Cap(); i++ {
		buf := bp.Get()
		if buf == nil {
			break
		}
		if err := p.hwPort.SendBuffer(ctx, buf); err != nil {
			logger.Errorf(ctx, "unable to hand a buffer to %s: %v", p, err)
			p.counters.SendFailures.Add(1)
			failed = append(failed, buf)
			continue
		}
		primed++
	}
	// released only now, so that the loop above does not get them again
	for _, buf := range failed {
		buf.Release()
	}
	logger.Debugf(ctx, "%s: primed %d/%d buffers", p, primed, bp.Cap())
	return nil
}

// GetBuffer takes an idle buffer from the pool of the port, waiting until
// one is available or ctx is done.
func (p *Port) GetBuffer(ctx context.Context) (*hw.Buffer, error) {
	bp := p.BufferPool()
	if bp == nil {
		return nil, ErrNoBufferPool{Port: p.String()}
	}
	return bp.Wait(ctx)
}

// SendBuffer hands a buffer (taken by GetBuffer) to the hardware; its whole
// capacity is considered payload. If the hardware refuses it, the buffer
// goes back to the pool.
func (p *Port) SendBuffer(
	ctx context.Context,
	buf *hw.Buffer,
) error {
	buf.Offset = 0
	buf.Length = buf.Capacity()
	return p.sendBuffer(ctx, buf)
}

func (p *Port) sendBuffer(
	ctx context.Context,
	buf *hw.Buffer,
) error {
	if p.invalidated.Load() {
		buf.Release()
		return ErrSendFailed{Port: p.String(), Err: ErrPortClosed{Port: p.String()}}
	}
	length := buf.Length
	if err := p.hwPort.SendBuffer(ctx, buf); err != nil {
		p.counters.SendFailures.Add(1)
		buf.Release()
		return ErrSendFailed{Port: p.String(), Err: err}
	}
	p.counters.Sent.Increment(uint64(length))
	return nil
}

// Close tears the port down: if it owns a connection the connection is
// closed, otherwise the port is disabled and its buffer pool released.
// Once the owning component has been destroyed, Close touches no hardware.
func (p *Port) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close[%s]", p)
	defer func() { logger.Debugf(ctx, "/Close[%s]: %v", p, _err) }()

	conn, alreadyClosed := xsync.DoR2(ctx, &p.locker, func() (*Connection, bool) {
		if p.closed {
			return nil, true
		}
		p.closed = true
		return p.connection, false
	})
	if alreadyClosed {
		return nil
	}
	if conn != nil {
		return conn.Close(ctx)
	}
	return p.teardown(ctx)
}

// teardown disables the port and releases its pool; it never takes the
// locker while waiting for the hardware, so in-flight callbacks may still
// call GetBuffer and SendBuffer.
func (p *Port) teardown(ctx context.Context) error {
	var err error
	if !p.invalidated.Load() && p.hwPort.IsEnabled() {
		if disableErr := p.hwPort.Disable(ctx); disableErr != nil {
			err = fmt.Errorf("unable to disable %s: %w", p, disableErr)
		}
	}
	xatomic.StorePointer(&p.dispatchCtx, nil)
	if bp := xatomic.SwapPointer(&p.bufferPool, nil); bp != nil {
		if p.invalidated.Load() {
			return err
		}
		bp.close(ctx)
	}
	return err
}

// Invalidate is called by the owner of the port once the hardware port
// is gone; after that the port never touches the hardware again.
func (p *Port) Invalidate(ctx context.Context) {
	logger.Debugf(ctx, "Invalidate[%s]", p)
	p.invalidated.Store(true)
	p.locker.Do(ctx, func() {
		p.closed = true
		p.connection = nil
		p.downstream = nil
	})
}

func (p *Port) setDownstream(ctx context.Context, conn *Connection) {
	p.locker.Do(ctx, func() {
		p.downstream = conn
	})
}

func (p *Port) getConnection(ctx context.Context) *Connection {
	return xsync.DoR1(ctx, &p.locker, func() *Connection {
		return p.connection
	})
}

// Connection returns the connection feeding this port, or nil.
func (p *Port) Connection() *Connection {
	return p.getConnection(context.TODO())
}
