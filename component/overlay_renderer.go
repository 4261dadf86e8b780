package component

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/port"
	"github.com/xaionaro-go/raspivid/types"
)

// OverlayLayer is above the preview layer.
const OverlayLayer = 128

type OverlayConfig struct {
	Encoding   types.Encoding `yaml:"encoding"`
	Width      uint32         `yaml:"width"`
	Height     uint32         `yaml:"height"`
	Layer      int32          `yaml:"layer"`
	Alpha      uint8          `yaml:"alpha"`
	DestRect   types.Rect     `yaml:"dest_rect"`
	Fullscreen bool           `yaml:"fullscreen"`
}

func DefaultOverlayConfig() OverlayConfig {
	f := types.DefaultFormat()
	return OverlayConfig{
		Encoding:   types.EncodingRGB24,
		Width:      f.Width,
		Height:     f.Height,
		Layer:      OverlayLayer,
		Alpha:      255,
		DestRect:   types.Rect{Width: f.Width, Height: f.Height},
		Fullscreen: true,
	}
}

// OverlayRenderer displays pictures drawn by the client: take a buffer
// with GetBuffer, fill it, hand it over with SendBuffer.
type OverlayRenderer struct {
	*Base
	Input *port.Port

	Config OverlayConfig
}

var _ Abstract = (*OverlayRenderer)(nil)

func NewOverlayRenderer(
	ctx context.Context,
	platform hw.Platform,
	cfg OverlayConfig,
) (_ret *OverlayRenderer, _err error) {
	logger.Debugf(ctx, "NewOverlayRenderer(%#+v)", cfg)
	defer func() { logger.Debugf(ctx, "/NewOverlayRenderer(%#+v): %v", cfg, _err) }()

	b, err := newBase(ctx, platform, hw.ComponentNameVideoRenderer, "overlay")
	if err != nil {
		return nil, err
	}
	r := &OverlayRenderer{Base: b, Config: cfg}
	defer func() { closeOnError(ctx, r, _err) }()

	if err := r.init(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OverlayRenderer) init(ctx context.Context) error {
	cfg := r.Config
	r.assertPorts(ctx, 1, 0)
	r.Input = r.addPort(ctx, r.hwComponent.Inputs()[0], PortNameInput)
	r.defaultInput = r.Input

	if err := r.Input.SetFormat(ctx, types.Format{
		Encoding: cfg.Encoding,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Crop:     types.Rect{Width: cfg.Width, Height: cfg.Height},
	}); err != nil {
		return fmt.Errorf("unable to set the overlay format: %w", err)
	}

	if err := r.enable(ctx); err != nil {
		return err
	}

	req := r.Input.BufferRequirements()
	r.Input.SetBufferConfig(max(req.NumRecommended, 2), req.SizeRecommended)
	if _, err := r.Input.CreateBufferPool(ctx); err != nil {
		return err
	}

	if err := r.Input.SetParameter(ctx, hw.ParameterDisplayRegion{
		Set:        hw.DisplaySetLayer | hw.DisplaySetAlpha | hw.DisplaySetDestRect | hw.DisplaySetFullscreen,
		Layer:      cfg.Layer,
		Alpha:      uint32(cfg.Alpha),
		DestRect:   cfg.DestRect,
		Fullscreen: cfg.Fullscreen,
	}); err != nil {
		return fmt.Errorf("unable to set the overlay display region: %w", err)
	}

	// the trampoline returns consumed buffers to the pool; nothing else to do
	if err := r.Input.AddCallback(ctx, port.CallbackFunc(func(context.Context, *port.Port, *hw.Buffer) {})); err != nil {
		return fmt.Errorf("unable to enable the overlay input: %w", err)
	}
	return nil
}

// GetBuffer blocks until an idle buffer is available or ctx is done.
func (r *OverlayRenderer) GetBuffer(ctx context.Context) (*hw.Buffer, error) {
	return r.Input.GetBuffer(ctx)
}

func (r *OverlayRenderer) SendBuffer(ctx context.Context, buf *hw.Buffer) error {
	return r.Input.SendBuffer(ctx, buf)
}
