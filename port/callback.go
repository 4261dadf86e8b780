package port

import (
	"context"

	"github.com/xaionaro-go/raspivid/hw"
)

// Callback is invoked once per buffer a port hands back, on a goroutine
// owned by the hardware.
//
// The buffer is locked for CPU access and belongs to the callback only
// until it returns; afterwards it goes back to the pool (and possibly to the
// hardware). Implementations must not block for long: a slow callback
// stalls every later delivery of the same port.
type Callback interface {
	Callback(ctx context.Context, port *Port, buf *hw.Buffer)
}

// PostProcessor is an optional extension of Callback: PostProcess runs
// after the delivered buffer was released and a replacement was
// resubmitted.
type PostProcessor interface {
	PostProcess(ctx context.Context, port *Port)
}

type CallbackFunc func(ctx context.Context, port *Port, buf *hw.Buffer)

func (fn CallbackFunc) Callback(ctx context.Context, port *Port, buf *hw.Buffer) {
	fn(ctx, port, buf)
}
