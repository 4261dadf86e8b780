package component

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/port"
)

// PreviewLayer is the display layer of the camera preview.
const PreviewLayer = 2

type RendererConfig struct {
	Layer      int32 `yaml:"layer"`
	Alpha      uint8 `yaml:"alpha"`
	Fullscreen bool  `yaml:"fullscreen"`
}

func DefaultRendererConfig() RendererConfig {
	return RendererConfig{
		Layer:      PreviewLayer,
		Alpha:      255,
		Fullscreen: true,
	}
}

// Renderer shows its input on the display.
type Renderer struct {
	*Base
	Input *port.Port

	Config RendererConfig
}

var _ Abstract = (*Renderer)(nil)

func NewRenderer(
	ctx context.Context,
	platform hw.Platform,
	cfg RendererConfig,
) (_ret *Renderer, _err error) {
	logger.Debugf(ctx, "NewRenderer(%#+v)", cfg)
	defer func() { logger.Debugf(ctx, "/NewRenderer(%#+v): %v", cfg, _err) }()

	b, err := newBase(ctx, platform, hw.ComponentNameVideoRenderer, "renderer")
	if err != nil {
		return nil, err
	}
	r := &Renderer{Base: b, Config: cfg}
	defer func() { closeOnError(ctx, r, _err) }()

	r.assertPorts(ctx, 1, 0)
	r.Input = r.addPort(ctx, r.hwComponent.Inputs()[0], PortNameInput)
	r.defaultInput = r.Input

	err = r.Input.SetParameter(ctx, hw.ParameterDisplayRegion{
		Set:        hw.DisplaySetLayer | hw.DisplaySetAlpha | hw.DisplaySetFullscreen,
		Layer:      cfg.Layer,
		Alpha:      uint32(cfg.Alpha),
		Fullscreen: cfg.Fullscreen,
	})
	switch {
	case errors.Is(err, hw.StatusENOSYS):
		logger.Debugf(ctx, "the renderer has no display region support: %v", err)
	case err != nil:
		return nil, fmt.Errorf("unable to set the display region: %w", err)
	}

	if err := r.enable(ctx); err != nil {
		return nil, err
	}
	return r, nil
}
