package graph

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/raspivid/component"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/hw/emulator"
	"github.com/xaionaro-go/raspivid/port"
	"github.com/xaionaro-go/raspivid/types"
	"go.uber.org/goleak"
)

const testConfigYAML = `
components:
  - name: cam
    type: camera
    camera:
      width: 64
      height: 48
      framerate: 30/1
  - name: split
    type: splitter
  - name: enc
    type: encoder
    encoder:
      width: 64
      height: 48
      bitrate: 1000000
      intra_period: 5
  - name: small
    type: resizer
    resizer:
      width: 32
      height: 24
  - name: preview
    type: null_sink
formats:
  - port: cam.video
    encoding: I420
links:
  - from: cam.preview
    to: preview
  - from: cam
    to: split
  - from: split
    to: enc.input
  - from: split.output_1
    to: small
    mode: callback
`

func newPlatform(opts ...emulator.Option) *emulator.Platform {
	opts = append([]emulator.Option{emulator.OptionFrameInterval(time.Millisecond)}, opts...)
	return emulator.New(opts...)
}

func requireAllClosed(t *testing.T, platform *emulator.Platform) {
	for _, c := range platform.Components() {
		require.True(t, c.IsClosed(), c.String())
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfigYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Components, 5)

	cam := cfg.Components[0].Camera
	require.NotNil(t, cam)
	require.Equal(t, uint32(64), cam.Width)
	require.Equal(t, types.Rational{Num: 30, Den: 1}, cam.FrameRate)

	enc := cfg.Components[2].Encoder
	require.NotNil(t, enc)
	require.Equal(t, uint32(1000000), enc.Bitrate)
	// not mentioned, so it keeps the default
	require.True(t, enc.InlineMotionVectors)
	require.Equal(t, types.EncodingH264, enc.Encoding)
	encCfg := enc.toComponent()
	require.True(t, encCfg.IntraPeriod.IsSet())
	require.Equal(t, uint32(5), encCfg.IntraPeriod.Get())

	require.Equal(t, types.EncodingI420, cfg.Formats[0].Encoding)
	require.Equal(t, port.ModeCallbackDriven, cfg.Links[3].Mode)
	require.Equal(t, port.ModeTunnelled, cfg.Links[0].Mode)

	// splitter has no stage config
	require.Nil(t, cfg.Components[1].Camera)
}

func TestValidate(t *testing.T) {
	for name, cfg := range map[string]Config{
		"duplicate": {Components: []ComponentConfig{
			{Name: "a", Type: ComponentTypeNullSink},
			{Name: "a", Type: ComponentTypeNullSink},
		}},
		"unnamed": {Components: []ComponentConfig{
			{Type: ComponentTypeNullSink},
		}},
		"dotted": {Components: []ComponentConfig{
			{Name: "a.b", Type: ComponentTypeNullSink},
		}},
		"self-link": {
			Components: []ComponentConfig{{Name: "s", Type: ComponentTypeSplitter}},
			Links:      []LinkConfig{{From: "s", To: "s"}},
		},
		"double-input": {
			Components: []ComponentConfig{
				{Name: "c", Type: ComponentTypeCamera},
				{Name: "n", Type: ComponentTypeNullSink},
			},
			Links: []LinkConfig{{From: "c.preview", To: "n"}, {From: "c.video", To: "n"}},
		},
		"portless-format": {
			Components: []ComponentConfig{{Name: "c", Type: ComponentTypeCamera}},
			Formats:    []FormatConfig{{Port: "c", Encoding: types.EncodingI420}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorAs(t, cfg.Validate(), &ErrInvalidConfig{})
		})
	}

	err := Config{Components: []ComponentConfig{{Name: "x", Type: "teleporter"}}}.Validate()
	require.ErrorAs(t, err, &ErrUnknownComponentType{})

	err = Config{
		Components: []ComponentConfig{{Name: "x", Type: ComponentTypeNullSink}},
		Links:      []LinkConfig{{From: "y", To: "x"}},
	}.Validate()
	require.ErrorAs(t, err, &ErrUnknownComponent{})
}

func TestTopologicalOrder(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfigYAML))
	require.NoError(t, err)
	order, err := cfg.topologicalOrder()
	require.NoError(t, err)
	require.Equal(t, []string{"cam", "split", "enc", "small", "preview"}, order)

	cycle := Config{
		Components: []ComponentConfig{
			{Name: "a", Type: ComponentTypeSplitter},
			{Name: "b", Type: ComponentTypeSplitter},
		},
		Links: []LinkConfig{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	_, err = cycle.topologicalOrder()
	require.ErrorAs(t, err, &ErrInvalidConfig{})
}

func TestBuildDefaultConfig(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	platform := newPlatform()
	g, err := Build(ctx, platform, DefaultConfig())
	require.NoError(t, err)

	video, err := g.Port("camera.video")
	require.NoError(t, err)
	require.Equal(t, types.EncodingI420, video.GetFormat().Encoding)

	c, err := g.Component("splitter")
	require.NoError(t, err)
	splitter := c.(*component.Splitter)
	require.Equal(t, video.GetFormat(), splitter.Output0.GetFormat())
	require.Equal(t, video.GetFormat(), splitter.Output1.GetFormat())

	resized, err := g.Port("resizer.output")
	require.NoError(t, err)
	require.Equal(t, uint32(640), resized.GetFormat().Width)
	require.Equal(t, uint32(480), resized.GetFormat().Height)

	for _, sink := range []string{"preview", "nullsink", "splitter", "encoder", "resizer"} {
		c, err := g.Component(sink)
		require.NoError(t, err)
		require.NotNil(t, c.DefaultInput().Connection(), sink)
	}

	require.NoError(t, g.Close(ctx))
	require.NoError(t, g.Close(ctx))
	requireAllClosed(t, platform)
}

type frameCounter struct {
	Count atomic.Uint64
}

func (c *frameCounter) Callback(ctx context.Context, p *port.Port, buf *hw.Buffer) {
	c.Count.Add(1)
}

func TestBuildAndRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	platform := newPlatform()
	cfg, err := ParseConfig([]byte(testConfigYAML))
	require.NoError(t, err)
	g, err := Build(ctx, platform, *cfg)
	require.NoError(t, err)

	small := &frameCounter{}
	encoded := &frameCounter{}
	require.NoError(t, g.AddCallback(ctx, "small", small))
	require.NoError(t, g.AddCallback(ctx, "enc.output", encoded))
	require.ErrorAs(t, g.AddCallback(ctx, "nope", small), &ErrUnknownComponent{})

	require.NoError(t, g.Start(ctx))
	require.Eventually(t, func() bool {
		return small.Count.Load() >= 3 && encoded.Count.Load() >= 3
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, g.Stop(ctx))

	stats := g.Statistics()
	require.NotZero(t, stats["small.output"].Delivered.Count)
	require.NotZero(t, stats["small.input"].Relayed.Count)

	require.NoError(t, g.Close(ctx))
	requireAllClosed(t, platform)
}

func TestBuildFailureTearsDown(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	var enabled atomic.Uint64
	platform := newPlatform(emulator.OptionHooks(emulator.Hooks{
		EnableConnection: func(conn *emulator.Connection) error {
			if enabled.Add(1) == 2 {
				return hw.StatusENOSPC
			}
			return nil
		},
	}))
	cfg, err := ParseConfig([]byte(testConfigYAML))
	require.NoError(t, err)

	g, err := Build(ctx, platform, *cfg)
	require.Nil(t, g)
	var errLink ErrLink
	require.ErrorAs(t, err, &errLink)
	require.Equal(t, "split", errLink.Link.To)
	require.ErrorAs(t, err, &port.ErrConnectionRejected{})
	require.Len(t, platform.Components(), 5)
	requireAllClosed(t, platform)
}

func TestBuildRejectsNonInputTarget(t *testing.T) {
	ctx := context.Background()
	platform := newPlatform()
	cfg := Config{
		Components: []ComponentConfig{
			{Name: "cam", Type: ComponentTypeCamera},
			{Name: "split", Type: ComponentTypeSplitter},
		},
		Links: []LinkConfig{{From: "cam", To: "split.output_0"}},
	}
	g, err := Build(ctx, platform, cfg)
	require.Nil(t, g)
	require.ErrorAs(t, err, &ErrInvalidConfig{})
	requireAllClosed(t, platform)
}
