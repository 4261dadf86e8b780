package port

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/pool"
)

// BufferPool is the set of buffers allocated for one port. Idle buffers
// wait in a FIFO; Release on any of its buffers puts it back.
type BufferPool struct {
	hwPort     hw.Port
	pool       *pool.Pool[hw.Buffer]
	buffers    []*hw.Buffer
	bufferSize uint32
}

func newBufferPool(
	ctx context.Context,
	hwPort hw.Port,
	num, size uint32,
) (_ret *BufferPool, _err error) {
	logger.Debugf(ctx, "newBufferPool[%s](%d, %s)", hwPort, num, humanize.Bytes(uint64(size)))
	defer func() { logger.Debugf(ctx, "/newBufferPool[%s]: %v", hwPort, _err) }()

	bufs, err := hwPort.AllocateBuffers(ctx, num, size)
	if err != nil {
		return nil, ErrAllocationFailed{Port: hwPort.String(), Num: num, Size: size, Err: err}
	}

	bp := &BufferPool{
		hwPort:     hwPort,
		buffers:    bufs,
		bufferSize: size,
	}
	idx := 0
	bp.pool, err = pool.NewPool(
		uint(len(bufs)),
		func() (*hw.Buffer, error) {
			buf := bufs[idx]
			idx++
			buf.SetReleaseFunc(bp.put)
			return buf, nil
		},
		nil,
		nil,
	)
	if err != nil {
		hwPort.FreeBuffers(ctx, bufs)
		return nil, ErrAllocationFailed{Port: hwPort.String(), Num: num, Size: size, Err: err}
	}
	return bp, nil
}

func (bp *BufferPool) put(buf *hw.Buffer) {
	bp.pool.Put(buf)
}

// Get returns an idle buffer or nil.
func (bp *BufferPool) Get() *hw.Buffer {
	return bp.pool.Get()
}

// Wait returns an idle buffer, waiting for one if needed.
func (bp *BufferPool) Wait(ctx context.Context) (*hw.Buffer, error) {
	return bp.pool.Wait(ctx)
}

// Len is the amount of idle buffers.
func (bp *BufferPool) Len() int {
	return bp.pool.Len()
}

// Cap is the amount of buffers in the pool.
func (bp *BufferPool) Cap() int {
	return bp.pool.Cap()
}

func (bp *BufferPool) BufferSize() uint32 {
	return bp.bufferSize
}

// close returns the memory to the hardware. The caller must have disabled
// the port, so that no buffer is held by the hardware anymore.
func (bp *BufferPool) close(ctx context.Context) {
	if outstanding := bp.pool.Close(); outstanding > 0 {
		logger.Warnf(ctx, "%s: %d buffers were not returned to the pool before it was destroyed", bp.hwPort, outstanding)
	}
	bp.hwPort.FreeBuffers(ctx, bp.buffers)
	bp.buffers = nil
}
