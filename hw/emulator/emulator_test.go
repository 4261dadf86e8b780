package emulator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	assertT "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/types"
	"go.uber.org/goleak"
)

func smallI420() types.Format {
	return types.Format{
		Encoding: types.EncodingI420,
		Width:    64,
		Height:   48,
	}.Aligned()
}

func newTestComponent(t *testing.T, p *Platform, name string) *Component {
	ctx := context.Background()
	c, err := p.NewComponent(ctx, name)
	require.NoError(t, err)
	return c.(*Component)
}

func TestUnknownComponent(t *testing.T) {
	p := New()
	_, err := p.NewComponent(context.Background(), "vc.ril.teleporter")
	require.ErrorIs(t, err, hw.StatusENOENT)
}

func TestNewComponentHook(t *testing.T) {
	errBoom := errors.New("boom")
	p := New(OptionHooks(Hooks{
		NewComponent: func(name string) error {
			if name == hw.ComponentNameCamera {
				return errBoom
			}
			return nil
		},
	}))
	_, err := p.NewComponent(context.Background(), hw.ComponentNameCamera)
	require.ErrorIs(t, err, errBoom)
	_, err = p.NewComponent(context.Background(), hw.ComponentNameNullSink)
	require.NoError(t, err)
}

func TestPortLayout(t *testing.T) {
	p := New()
	for name, counts := range map[string][2]int{
		hw.ComponentNameCamera:        {0, 3},
		hw.ComponentNameVideoEncoder:  {1, 1},
		hw.ComponentNameResizer:       {1, 1},
		hw.ComponentNameVideoSplitter: {1, 2},
		hw.ComponentNameVideoRenderer: {1, 0},
		hw.ComponentNameNullSink:      {1, 0},
	} {
		c := newTestComponent(t, p, name)
		require.Len(t, c.Inputs(), counts[0], name)
		require.Len(t, c.Outputs(), counts[1], name)
		require.Equal(t, hw.PortTypeControl, c.Control().Type())
	}
}

func TestCommitFormat(t *testing.T) {
	ctx := context.Background()
	p := New()
	enc := newTestComponent(t, p, hw.ComponentNameVideoEncoder)

	in := enc.InputPort(0)
	in.SetFormat(smallI420())
	require.NoError(t, in.CommitFormat(ctx))
	require.Equal(t, uint32(64*48*3/2), in.BufferRequirements().SizeMin)
	require.GreaterOrEqual(t, in.BufferRequirements().Size, in.BufferRequirements().SizeMin)

	f := smallI420()
	f.Width = 8192
	in.SetFormat(f)
	require.ErrorIs(t, in.CommitFormat(ctx), hw.StatusEINVAL)

	f = smallI420()
	f.Encoding = types.EncodingH264
	in.SetFormat(f)
	require.ErrorIs(t, in.CommitFormat(ctx), hw.StatusEINVAL)

	out := enc.OutputPort(0)
	f = out.Format()
	f.Encoding = types.EncodingH264
	f.Bitrate = 1000000
	out.SetFormat(f)
	require.NoError(t, out.CommitFormat(ctx))
	require.Equal(t, uint32(compressedSizeMin), out.BufferRequirements().SizeMin)
}

func TestDisableReleasesUnfilledBuffers(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	p := New()
	split := newTestComponent(t, p, hw.ComponentNameVideoSplitter)
	out := split.OutputPort(0)
	out.SetFormat(smallI420())
	require.NoError(t, out.CommitFormat(ctx))

	r := out.BufferRequirements()
	bufs, err := out.AllocateBuffers(ctx, r.Num, r.Size)
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		released int
	)
	for _, buf := range bufs {
		buf.SetReleaseFunc(func(*hw.Buffer) {
			mu.Lock()
			defer mu.Unlock()
			released++
		})
	}

	require.NoError(t, out.Enable(ctx, func(context.Context, hw.Port, *hw.Buffer) {}))
	for _, buf := range bufs {
		require.NoError(t, out.SendBuffer(ctx, buf))
	}
	require.Equal(t, len(bufs), out.SubmittedBuffers())

	require.NoError(t, out.Disable(ctx))
	require.Equal(t, 0, out.SubmittedBuffers())
	require.Equal(t, len(bufs), released)
	require.False(t, out.IsEnabled())

	require.ErrorIs(t, out.SendBuffer(ctx, bufs[0]), hw.StatusEINVAL)
	out.FreeBuffers(ctx, bufs)
	require.Zero(t, out.AllocatedBuffers())
}

func TestCameraDeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	p := New(OptionFrameInterval(time.Millisecond))
	cam := newTestComponent(t, p, hw.ComponentNameCamera)
	video := cam.OutputPort(cameraPortVideo)
	video.SetFormat(smallI420())
	require.NoError(t, video.CommitFormat(ctx))

	r := video.BufferRequirements()
	bufs, err := video.AllocateBuffers(ctx, r.Num, r.Size)
	require.NoError(t, err)

	const wantFrames = 5
	var (
		mu   sync.Mutex
		ptss []int64
	)
	gotAll := make(chan struct{})
	require.NoError(t, video.Enable(ctx, func(ctx context.Context, port hw.Port, buf *hw.Buffer) {
		assertT.True(t, buf.IsLocked())
		mu.Lock()
		ptss = append(ptss, buf.PTS)
		if len(ptss) == wantFrames {
			close(gotAll)
		}
		mu.Unlock()
		buf.Unlock()
		_ = port.SendBuffer(ctx, buf)
	}))
	for _, buf := range bufs {
		require.NoError(t, video.SendBuffer(ctx, buf))
	}
	require.NoError(t, video.SetParameter(ctx, hw.ParameterBool{ID: hw.ParameterIDCapture, Value: true}))
	require.NoError(t, cam.Enable(ctx))

	select {
	case <-gotAll:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frames")
	}

	require.NoError(t, cam.Close(ctx))
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(ptss); i++ {
		require.Greater(t, ptss[i], ptss[i-1])
	}
}

func TestCameraSettingsEvents(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	p := New(OptionFrameInterval(time.Millisecond), OptionEventPeriod(2))
	cam := newTestComponent(t, p, hw.ComponentNameCamera)
	ctrl := cam.ControlPort()
	require.NoError(t, ctrl.SetParameter(ctx, hw.ParameterChangeEventRequest{
		ChangeID: hw.ParameterIDCameraSettings,
		Enable:   true,
	}))

	events := make(chan *hw.ParameterChangedEvent, 16)
	require.NoError(t, ctrl.Enable(ctx, func(ctx context.Context, port hw.Port, buf *hw.Buffer) {
		defer buf.Release()
		defer buf.Unlock()
		assertT.True(t, buf.Flags.Has(hw.BufferFlagEvent))
		ev, err := hw.ParseParameterChangedEvent(buf)
		if !assertT.NoError(t, err) {
			return
		}
		select {
		case events <- ev:
		default:
		}
	}))
	require.NoError(t, cam.Enable(ctx))

	select {
	case ev := <-events:
		require.Equal(t, hw.ParameterIDCameraSettings, ev.ID)
		require.NotNil(t, ev.Settings)
		require.NotZero(t, ev.Settings.Exposure)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a settings event")
	}
	require.NoError(t, cam.Close(ctx))
}

func TestTunnel(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	p := New(OptionFrameInterval(time.Millisecond))
	cam := newTestComponent(t, p, hw.ComponentNameCamera)
	sink := newTestComponent(t, p, hw.ComponentNameNullSink)

	preview := cam.OutputPort(cameraPortPreview)
	preview.SetFormat(smallI420())
	require.NoError(t, preview.CommitFormat(ctx))
	sink.InputPort(0).SetFormat(smallI420())
	require.NoError(t, sink.InputPort(0).CommitFormat(ctx))

	conn, err := p.NewConnection(ctx, preview, sink.InputPort(0), hw.ConnectionFlagTunnelling|hw.ConnectionFlagAllocationOnInput)
	require.NoError(t, err)

	_, err = p.NewConnection(ctx, preview, sink.InputPort(0), hw.ConnectionFlagTunnelling)
	require.ErrorIs(t, err, hw.StatusEISCONN)

	require.NoError(t, conn.Enable(ctx))
	require.True(t, sink.InputPort(0).IsEnabled())
	require.NoError(t, cam.Enable(ctx))
	require.NoError(t, sink.Enable(ctx))

	require.Eventually(t, func() bool {
		return sink.FramesConsumed() >= 3
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, conn.Close(ctx))
	require.False(t, preview.IsEnabled())
	require.False(t, sink.InputPort(0).IsEnabled())
	require.Zero(t, preview.AllocatedBuffers())

	require.NoError(t, cam.Close(ctx))
	require.NoError(t, sink.Close(ctx))
}

func TestEnableConnectionHook(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")
	p := New(OptionHooks(Hooks{
		EnableConnection: func(*Connection) error { return errBoom },
	}))
	cam := newTestComponent(t, p, hw.ComponentNameCamera)
	sink := newTestComponent(t, p, hw.ComponentNameNullSink)
	conn, err := p.NewConnection(ctx, cam.OutputPort(0), sink.InputPort(0), hw.ConnectionFlagTunnelling)
	require.NoError(t, err)
	require.ErrorIs(t, conn.Enable(ctx), errBoom)
	require.False(t, conn.IsEnabled())
	require.False(t, sink.InputPort(0).IsEnabled())
	require.NoError(t, conn.Close(ctx))
}

func TestEncoderInlineVectors(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	p := New()
	enc := newTestComponent(t, p, hw.ComponentNameVideoEncoder)
	in, out := enc.InputPort(0), enc.OutputPort(0)

	in.SetFormat(smallI420())
	require.NoError(t, in.CommitFormat(ctx))
	outFmt := smallI420()
	outFmt.Encoding = types.EncodingH264
	outFmt.Bitrate = 1000000
	out.SetFormat(outFmt)
	require.NoError(t, out.CommitFormat(ctx))
	require.NoError(t, out.SetParameter(ctx, hw.ParameterBool{ID: hw.ParameterIDVideoEncodeInlineVectors, Value: true}))

	outputs := make(chan hw.BufferFlags, 16)
	r := out.BufferRequirements()
	outBufs, err := out.AllocateBuffers(ctx, 8, r.Size)
	require.NoError(t, err)
	require.NoError(t, out.Enable(ctx, func(ctx context.Context, port hw.Port, buf *hw.Buffer) {
		buf.Unlock()
		outputs <- buf.Flags
		_ = port.SendBuffer(ctx, buf)
	}))
	for _, buf := range outBufs {
		require.NoError(t, out.SendBuffer(ctx, buf))
	}

	returned := make(chan struct{}, 4)
	require.NoError(t, in.Enable(ctx, func(ctx context.Context, port hw.Port, buf *hw.Buffer) {
		buf.Unlock()
		returned <- struct{}{}
	}))
	require.NoError(t, enc.Enable(ctx))

	r = in.BufferRequirements()
	inBufs, err := in.AllocateBuffers(ctx, 1, r.Size)
	require.NoError(t, err)
	inBufs[0].Length = writePattern(inBufs[0].Data, smallI420(), 1)
	require.NoError(t, in.SendBuffer(ctx, inBufs[0]))

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("the input buffer was not returned")
	}

	var flags []hw.BufferFlags
	require.Eventually(t, func() bool {
		for {
			select {
			case f := <-outputs:
				flags = append(flags, f)
			default:
				return len(flags) >= 3
			}
		}
	}, 5*time.Second, time.Millisecond)
	require.True(t, flags[0].Has(hw.BufferFlagConfig))
	require.True(t, flags[1].Has(hw.BufferFlagKeyframe))
	require.True(t, flags[2].Has(hw.BufferFlagCodecSideInfo))

	require.NoError(t, enc.Close(ctx))
}

func TestResizer(t *testing.T) {
	ctx := context.Background()
	p := New()
	rs := newTestComponent(t, p, hw.ComponentNameResizer)
	rs.InputPort(0).SetFormat(smallI420())
	require.NoError(t, rs.InputPort(0).CommitFormat(ctx))
	outFmt := types.Format{Encoding: types.EncodingI420, Width: 32, Height: 24}.Aligned()
	rs.OutputPort(0).SetFormat(outFmt)
	require.NoError(t, rs.OutputPort(0).CommitFormat(ctx))

	src := make([]byte, smallI420().Encoding.FrameSize(64, 48))
	writePattern(src, smallI420(), 0)
	dst := make([]byte, outFmt.Encoding.FrameSize(outFmt.Width, outFmt.Height))
	require.True(t, scaleI420(src, smallI420(), dst, outFmt))

	_, u, _, ok := planes(dst, outFmt)
	require.True(t, ok)
	require.Equal(t, byte(128), u[0])
}
