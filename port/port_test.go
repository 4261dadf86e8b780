package port

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/hw/emulator"
	"github.com/xaionaro-go/raspivid/types"
	"go.uber.org/goleak"
)

type dummyCallback struct {
	CallbackCount    atomic.Uint64
	PostProcessCount atomic.Uint64
	BytesSeen        atomic.Uint64
	Sleep            time.Duration
}

var _ Callback = (*dummyCallback)(nil)
var _ PostProcessor = (*dummyCallback)(nil)

func (cb *dummyCallback) Callback(ctx context.Context, port *Port, buf *hw.Buffer) {
	cb.CallbackCount.Add(1)
	cb.BytesSeen.Add(uint64(buf.Length))
	if cb.Sleep > 0 {
		time.Sleep(cb.Sleep)
	}
}

func (cb *dummyCallback) PostProcess(ctx context.Context, port *Port) {
	cb.PostProcessCount.Add(1)
}

func smallI420() types.Format {
	return types.Format{
		Encoding: types.EncodingI420,
		Width:    64,
		Height:   48,
	}
}

type testBed struct {
	Platform *emulator.Platform
}

func newTestBed(opts ...emulator.Option) *testBed {
	opts = append([]emulator.Option{emulator.OptionFrameInterval(time.Millisecond)}, opts...)
	return &testBed{Platform: emulator.New(opts...)}
}

func (tb *testBed) component(t *testing.T, name string) *emulator.Component {
	c, err := tb.Platform.NewComponent(context.Background(), name)
	require.NoError(t, err)
	return c.(*emulator.Component)
}

func (tb *testBed) port(t *testing.T, hwPort hw.Port) *Port {
	return New(context.Background(), tb.Platform, hwPort, hwPort.Name())
}

func TestSetFormatAligns(t *testing.T) {
	ctx := context.Background()
	tb := newTestBed()
	sink := tb.component(t, hw.ComponentNameNullSink)
	p := tb.port(t, sink.InputPort(0))

	require.NoError(t, p.SetFormat(ctx, types.Format{
		Encoding: types.EncodingI420,
		Width:    1918,
		Height:   1078,
	}))
	f := p.GetFormat()
	require.Equal(t, uint32(1920), f.Width)
	require.Equal(t, uint32(1088), f.Height)
	require.Equal(t, uint32(1918), f.Crop.Width)
	require.Equal(t, uint32(1078), f.Crop.Height)

	param, err := p.GetParameter(ctx, hw.ParameterIDZeroCopy)
	require.NoError(t, err)
	require.Equal(t, hw.ParameterBool{ID: hw.ParameterIDZeroCopy, Value: true}, param)
}

func TestSetFormatRejected(t *testing.T) {
	ctx := context.Background()
	tb := newTestBed()
	enc := tb.component(t, hw.ComponentNameVideoEncoder)
	p := tb.port(t, enc.InputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))

	err := p.SetFormat(ctx, types.Format{Encoding: types.EncodingMJPEG, Width: 64, Height: 48})
	var errRejected ErrFormatRejected
	require.ErrorAs(t, err, &errRejected)
	require.ErrorIs(t, err, hw.StatusEINVAL)
	require.Equal(t, types.EncodingI420, p.GetFormat().Encoding)
}

func TestCreateBufferPoolIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tb := newTestBed()
	split := tb.component(t, hw.ComponentNameVideoSplitter)
	p := tb.port(t, split.OutputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))

	bp0, err := p.CreateBufferPool(ctx)
	require.NoError(t, err)
	bp1, err := p.CreateBufferPool(ctx)
	require.NoError(t, err)
	require.Same(t, bp0, bp1)
	require.Equal(t, int(p.BufferRequirements().Num), bp0.Cap())
	require.Equal(t, bp0.Cap(), split.OutputPort(0).AllocatedBuffers())

	require.NoError(t, p.Close(ctx))
	require.Nil(t, p.BufferPool())
	require.Zero(t, split.OutputPort(0).AllocatedBuffers())
}

func TestCreateBufferPoolAllocationFailure(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")
	tb := newTestBed(emulator.OptionHooks(emulator.Hooks{
		AllocateBuffers: func(*emulator.Port, uint32, uint32) error { return errBoom },
	}))
	split := tb.component(t, hw.ComponentNameVideoSplitter)
	p := tb.port(t, split.OutputPort(0))

	_, err := p.CreateBufferPool(ctx)
	var errAlloc ErrAllocationFailed
	require.ErrorAs(t, err, &errAlloc)
	require.ErrorIs(t, err, errBoom)

	err = p.AddCallback(ctx, &dummyCallback{})
	require.ErrorIs(t, err, errBoom)
	require.False(t, split.OutputPort(0).IsEnabled())
}

func TestAddCallbackPrimesOutput(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	tb := newTestBed()
	split := tb.component(t, hw.ComponentNameVideoSplitter)
	p := tb.port(t, split.OutputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))

	require.NoError(t, p.AddCallback(ctx, &dummyCallback{}))
	bp := p.BufferPool()
	require.NotNil(t, bp)
	require.Zero(t, bp.Len())
	require.Equal(t, bp.Cap(), split.OutputPort(0).SubmittedBuffers())

	require.NoError(t, p.Close(ctx))
	require.False(t, split.OutputPort(0).IsEnabled())
	require.NoError(t, p.Close(ctx))
}

func TestAddCallbackPrimingSkipsRejectedBuffer(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	var sends atomic.Uint64
	tb := newTestBed(emulator.OptionHooks(emulator.Hooks{
		SendBuffer: func(*emulator.Port, *hw.Buffer) error {
			if sends.Add(1) == 1 {
				return hw.StatusENOSPC
			}
			return nil
		},
	}))
	split := tb.component(t, hw.ComponentNameVideoSplitter)
	p := tb.port(t, split.OutputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))

	require.NoError(t, p.AddCallback(ctx, &dummyCallback{}))
	bp := p.BufferPool()
	require.Greater(t, bp.Cap(), 1)
	require.Equal(t, bp.Cap()-1, split.OutputPort(0).SubmittedBuffers())
	require.Equal(t, 1, bp.Len())
	require.Equal(t, uint64(1), p.Statistics().SendFailures)

	require.NoError(t, p.Close(ctx))
}

func TestAddCallbackTwiceKeepsFirst(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	tb := newTestBed()
	cam := tb.component(t, hw.ComponentNameCamera)
	p := tb.port(t, cam.OutputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))

	first := &dummyCallback{}
	require.NoError(t, p.AddCallback(ctx, first))
	require.NoError(t, cam.Enable(ctx))
	require.Eventually(t, func() bool {
		return first.CallbackCount.Load() >= 3
	}, 5*time.Second, time.Millisecond)

	second := &dummyCallback{}
	err := p.AddCallback(ctx, second)
	require.ErrorAs(t, err, &ErrAlreadyEnabled{})
	require.True(t, p.IsEnabled())

	seen := first.CallbackCount.Load()
	require.Eventually(t, func() bool {
		return first.CallbackCount.Load() >= seen+3
	}, 5*time.Second, time.Millisecond)
	require.Zero(t, second.CallbackCount.Load())
	require.Zero(t, p.Statistics().Starved)

	require.NoError(t, p.Close(ctx))
	require.NoError(t, cam.Close(ctx))
}

func TestAddCallbackInputGetsPoolWithoutPriming(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	tb := newTestBed()
	renderer := tb.component(t, hw.ComponentNameVideoRenderer)
	require.NoError(t, renderer.Enable(ctx))
	p := tb.port(t, renderer.InputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))

	cb := &dummyCallback{}
	require.NoError(t, p.AddCallback(ctx, cb))
	bp := p.BufferPool()
	require.Equal(t, bp.Cap(), bp.Len())

	buf, err := p.GetBuffer(ctx)
	require.NoError(t, err)
	require.NoError(t, p.SendBuffer(ctx, buf))
	require.Equal(t, buf.Capacity(), uint32(p.Statistics().Sent.Bytes))

	require.Eventually(t, func() bool {
		return cb.PostProcessCount.Load() == 1 && bp.Len() == bp.Cap()
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, uint64(1), cb.CallbackCount.Load())
	require.Equal(t, uint64(1), renderer.FramesConsumed())

	require.NoError(t, p.Close(ctx))
	require.NoError(t, renderer.Close(ctx))
}

func TestSendBufferFailureReturnsBufferToPool(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	errBoom := errors.New("boom")
	tb := newTestBed()
	renderer := tb.component(t, hw.ComponentNameVideoRenderer)
	p := tb.port(t, renderer.InputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))
	require.NoError(t, p.AddCallback(ctx, &dummyCallback{}))

	tb.Platform.SetHooks(emulator.Hooks{
		SendBuffer: func(*emulator.Port, *hw.Buffer) error { return errBoom },
	})
	buf, err := p.GetBuffer(ctx)
	require.NoError(t, err)
	err = p.SendBuffer(ctx, buf)
	var errSend ErrSendFailed
	require.ErrorAs(t, err, &errSend)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, p.BufferPool().Cap(), p.BufferPool().Len())
	require.Equal(t, uint64(1), p.Statistics().SendFailures)

	require.NoError(t, p.Close(ctx))
}

func TestGetBuffer(t *testing.T) {
	ctx := context.Background()
	tb := newTestBed()
	split := tb.component(t, hw.ComponentNameVideoSplitter)
	p := tb.port(t, split.OutputPort(1))

	_, err := p.GetBuffer(ctx)
	var errNoPool ErrNoBufferPool
	require.ErrorAs(t, err, &errNoPool)

	require.NoError(t, p.SetFormat(ctx, smallI420()))
	bp, err := p.CreateBufferPool(ctx)
	require.NoError(t, err)
	var taken []*hw.Buffer
	for i := 0; i < bp.Cap(); i++ {
		buf, err := p.GetBuffer(ctx)
		require.NoError(t, err)
		taken = append(taken, buf)
	}

	timeoutCtx, cancelFn := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelFn()
	_, err = p.GetBuffer(timeoutCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		taken[0].Release()
	}()
	buf, err := p.GetBuffer(ctx)
	require.NoError(t, err)
	require.Same(t, taken[0], buf)
}

func TestDispatchWithEmptyPoolRunsPostProcess(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	tb := newTestBed()
	split := tb.component(t, hw.ComponentNameVideoSplitter)
	p := tb.port(t, split.OutputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))
	cb := &dummyCallback{}
	require.NoError(t, p.AddCallback(ctx, cb))
	require.Zero(t, p.BufferPool().Len())

	foreign := hw.NewBuffer(make([]byte, 16), nil)
	foreign.Length = 16
	foreign.Lock()
	p.dispatch(ctx, split.OutputPort(0), foreign)

	require.Equal(t, uint64(1), cb.CallbackCount.Load())
	require.Equal(t, uint64(1), cb.PostProcessCount.Load())
	require.Equal(t, uint64(1), p.Statistics().Starved)
	require.False(t, foreign.IsLocked())

	require.NoError(t, p.Close(ctx))
}

func TestCallbackResubmitsBuffers(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	tb := newTestBed()
	cam := tb.component(t, hw.ComponentNameCamera)
	p := tb.port(t, cam.OutputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))

	cb := &dummyCallback{}
	require.NoError(t, p.AddCallback(ctx, cb))
	require.NoError(t, cam.Enable(ctx))

	want := uint64(p.BufferPool().Cap() * 3)
	require.Eventually(t, func() bool {
		return cb.CallbackCount.Load() >= want
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, p.Close(ctx))
	require.NoError(t, cam.Close(ctx))
	require.Equal(t, cb.CallbackCount.Load(), cb.PostProcessCount.Load())
	stats := p.Statistics()
	require.GreaterOrEqual(t, stats.Resubmitted+stats.ResubmitFailures, want-1)
	require.Zero(t, stats.Starved)
}

func TestCloseWithSleepingCallback(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	tb := newTestBed()
	cam := tb.component(t, hw.ComponentNameCamera)
	p := tb.port(t, cam.OutputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))

	cb := &dummyCallback{Sleep: 50 * time.Millisecond}
	require.NoError(t, p.AddCallback(ctx, cb))
	require.NoError(t, cam.Enable(ctx))
	require.Eventually(t, func() bool {
		return cb.CallbackCount.Load() > 0
	}, 5*time.Second, time.Millisecond)

	closed := make(chan error)
	go func() {
		closed <- p.Close(ctx)
	}()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close deadlocked with a callback in flight")
	}
	require.False(t, p.IsEnabled())
	require.NoError(t, cam.Close(ctx))
}

func TestConnectTunnelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	tb := newTestBed()
	cam := tb.component(t, hw.ComponentNameCamera)
	sink := tb.component(t, hw.ComponentNameNullSink)
	src := tb.port(t, cam.OutputPort(0))
	dst := tb.port(t, sink.InputPort(0))
	require.NoError(t, src.SetFormat(ctx, smallI420()))

	require.NoError(t, dst.Connect(ctx, src))
	require.Equal(t, src.GetFormat(), dst.GetFormat())
	require.NotNil(t, dst.Connection())
	require.Equal(t, ModeTunnelled, dst.Connection().Mode())

	var errConnected ErrAlreadyConnected
	require.ErrorAs(t, dst.Connect(ctx, src), &errConnected)
	require.ErrorAs(t, src.AddCallback(ctx, &dummyCallback{}), &errConnected)

	require.NoError(t, cam.Enable(ctx))
	require.NoError(t, sink.Enable(ctx))
	require.Eventually(t, func() bool {
		return sink.FramesConsumed() > 0
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, dst.Close(ctx))
	require.Nil(t, dst.Connection())
	require.False(t, sink.InputPort(0).IsEnabled())
	require.False(t, cam.OutputPort(0).IsEnabled())
	require.NoError(t, dst.Close(ctx))

	require.NoError(t, src.Close(ctx))
	require.NoError(t, cam.Close(ctx))
	require.NoError(t, sink.Close(ctx))
}

func TestConnectRollsBackOnEnableFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	errBoom := errors.New("boom")
	tb := newTestBed(emulator.OptionHooks(emulator.Hooks{
		EnableConnection: func(*emulator.Connection) error { return errBoom },
	}))
	cam := tb.component(t, hw.ComponentNameCamera)
	sink := tb.component(t, hw.ComponentNameNullSink)
	src := tb.port(t, cam.OutputPort(0))
	dst := tb.port(t, sink.InputPort(0))
	require.NoError(t, src.SetFormat(ctx, smallI420()))
	before := dst.GetFormat()
	require.NotEqual(t, src.GetFormat(), before)

	err := dst.Connect(ctx, src)
	var errRejected ErrConnectionRejected
	require.ErrorAs(t, err, &errRejected)
	require.ErrorIs(t, err, errBoom)
	require.Nil(t, dst.Connection())
	require.False(t, sink.InputPort(0).IsEnabled())
	require.Equal(t, before, dst.GetFormat())

	tb.Platform.SetHooks(emulator.Hooks{})
	require.NoError(t, dst.Connect(ctx, src))
	require.NoError(t, dst.Close(ctx))
}

func TestConnectRejectsIncompatibleFormat(t *testing.T) {
	ctx := context.Background()
	tb := newTestBed()
	cam := tb.component(t, hw.ComponentNameCamera)
	enc := tb.component(t, hw.ComponentNameVideoEncoder)
	src := tb.port(t, cam.OutputPort(0))
	dst := tb.port(t, enc.InputPort(0))
	require.NoError(t, src.SetFormat(ctx, types.Format{Encoding: types.EncodingRGB24, Width: 64, Height: 48}))

	err := dst.Connect(ctx, src)
	var errRejected ErrConnectionRejected
	require.ErrorAs(t, err, &errRejected)
	var errFormat ErrFormatRejected
	require.ErrorAs(t, err, &errFormat)
	require.Nil(t, dst.Connection())
}

func TestConnectCallbackDriven(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	tb := newTestBed()
	cam := tb.component(t, hw.ComponentNameCamera)
	sink := tb.component(t, hw.ComponentNameNullSink)
	src := tb.port(t, cam.OutputPort(0))
	dst := tb.port(t, sink.InputPort(0))
	require.NoError(t, src.SetFormat(ctx, smallI420()))

	cb := &dummyCallback{}
	require.NoError(t, dst.ConnectWithMode(ctx, src, ModeCallbackDriven, cb))
	require.NoError(t, sink.Enable(ctx))
	require.NoError(t, cam.Enable(ctx))

	require.Eventually(t, func() bool {
		return sink.FramesConsumed() >= 3 && cb.PostProcessCount.Load() >= 3
	}, 5*time.Second, time.Millisecond)
	require.NotZero(t, dst.Statistics().Relayed.Count)

	require.NoError(t, dst.Close(ctx))
	require.False(t, cam.OutputPort(0).IsEnabled())
	require.False(t, sink.InputPort(0).IsEnabled())
	require.Zero(t, cam.OutputPort(0).AllocatedBuffers())
	require.Zero(t, sink.InputPort(0).AllocatedBuffers())

	require.NoError(t, cam.Close(ctx))
	require.NoError(t, sink.Close(ctx))
}

func TestCloseAfterInvalidateTouchesNoHardware(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	tb := newTestBed()
	split := tb.component(t, hw.ComponentNameVideoSplitter)
	p := tb.port(t, split.OutputPort(0))
	require.NoError(t, p.SetFormat(ctx, smallI420()))
	require.NoError(t, p.AddCallback(ctx, &dummyCallback{}))

	p.Invalidate(ctx)
	require.NoError(t, p.Close(ctx))
	require.True(t, split.OutputPort(0).IsEnabled())
	require.False(t, p.IsEnabled())

	require.ErrorAs(t, p.SetFormat(ctx, smallI420()), &ErrPortClosed{})
	require.NoError(t, split.Close(ctx))
}
