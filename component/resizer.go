package component

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/port"
	"github.com/xaionaro-go/raspivid/types"
)

type ResizerConfig struct {
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

func DefaultResizerConfig() ResizerConfig {
	return ResizerConfig{
		Width:  640,
		Height: 480,
	}
}

// Resizer scales its input to a fixed size and emits I420.
type Resizer struct {
	*Base
	Input  *port.Port
	Output *port.Port

	Config ResizerConfig
}

var _ Abstract = (*Resizer)(nil)

func NewResizer(
	ctx context.Context,
	platform hw.Platform,
	cfg ResizerConfig,
) (_ret *Resizer, _err error) {
	logger.Debugf(ctx, "NewResizer(%#+v)", cfg)
	defer func() { logger.Debugf(ctx, "/NewResizer(%#+v): %v", cfg, _err) }()

	b, err := newBase(ctx, platform, hw.ComponentNameResizer, "resizer")
	if err != nil {
		return nil, err
	}
	r := &Resizer{Base: b, Config: cfg}
	defer func() { closeOnError(ctx, r, _err) }()

	r.assertPorts(ctx, 1, 1)
	r.Input = r.addPort(ctx, r.hwComponent.Inputs()[0], PortNameInput)
	r.Output = r.addPort(ctx, r.hwComponent.Outputs()[0], PortNameOutput)
	r.defaultInput = r.Input
	r.defaultOutput = r.Output
	r.afterConnect = r.configureOutput

	if err := r.enable(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// configureOutput derives the output format from the (just connected)
// input format: same picture, I420, scaled to the configured size.
func (r *Resizer) configureOutput(ctx context.Context) error {
	f := r.Input.GetFormat()
	f.Encoding = types.EncodingI420
	f.EncodingVariant = types.EncodingI420
	f.Width = r.Config.Width
	f.Height = r.Config.Height
	f.Crop.Width = r.Config.Width
	f.Crop.Height = r.Config.Height
	if err := r.Output.SetFormat(ctx, f); err != nil {
		return fmt.Errorf("unable to set the resizer output format: %w", err)
	}
	return nil
}
