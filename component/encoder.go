package component

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/port"
	"github.com/xaionaro-go/raspivid/types"
	"github.com/xaionaro-go/typing"
)

const (
	MaxBitrateLevel4  = 25000000
	MaxBitrateLevel42 = 62500000
	MaxBitrateMJPEG   = 25000000

	// macroblocks per second
	maxMacroblockRateLevel4  = 245760
	maxMacroblockRateLevel42 = 522240

	compressedBufferSize = 256 << 10
)

type EncoderConfig struct {
	Encoding types.Encoding `yaml:"encoding"`

	// Width, Height and FrameRate describe the expected input; they only
	// matter for picking the H.264 level.
	Width     uint32         `yaml:"width"`
	Height    uint32         `yaml:"height"`
	FrameRate types.Rational `yaml:"framerate"`

	Bitrate uint32 `yaml:"bitrate"`

	// IntraPeriod is the distance between key frames; unset leaves the
	// firmware default.
	IntraPeriod typing.Optional[uint32] `yaml:"-"`
	// QuantisationParameter, if set, fixes the initial, min and max QP.
	QuantisationParameter typing.Optional[uint32] `yaml:"-"`

	ImmutableInput      bool                             `yaml:"immutable_input"`
	Profile             hw.VideoProfile                  `yaml:"profile"`
	Level               hw.VideoLevel                    `yaml:"level"`
	InlineHeaders       bool                             `yaml:"inline_headers"`
	InlineMotionVectors bool                             `yaml:"inline_motion_vectors"`
	IntraRefresh        typing.Optional[hw.IntraRefresh] `yaml:"-"`
}

func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Encoding:            types.EncodingH264,
		Width:               1920,
		Height:              1080,
		FrameRate:           types.Rational{Num: 30, Den: 1},
		Bitrate:             17000000,
		ImmutableInput:      true,
		Profile:             hw.VideoProfileH264High,
		Level:               hw.VideoLevelH264_4,
		InlineHeaders:       false,
		InlineMotionVectors: true,
		IntraRefresh:        typing.Opt(hw.IntraRefreshCyclic),
	}
}

// Encoder compresses raw video into H.264 or MJPEG.
type Encoder struct {
	*Base
	Input  *port.Port
	Output *port.Port

	Config EncoderConfig
}

var _ Abstract = (*Encoder)(nil)

func NewEncoder(
	ctx context.Context,
	platform hw.Platform,
	cfg EncoderConfig,
) (_ret *Encoder, _err error) {
	logger.Debugf(ctx, "NewEncoder(%#+v)", cfg)
	defer func() { logger.Debugf(ctx, "/NewEncoder(%#+v): %v", cfg, _err) }()

	b, err := newBase(ctx, platform, hw.ComponentNameVideoEncoder, "encoder")
	if err != nil {
		return nil, err
	}
	e := &Encoder{Base: b, Config: cfg}
	defer func() { closeOnError(ctx, e, _err) }()

	if err := e.init(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// clampBitrate returns the bitrate limited to what the encoding/level can
// carry.
func clampBitrate(
	ctx context.Context,
	cfg EncoderConfig,
) uint32 {
	limit := uint32(0)
	switch {
	case cfg.Encoding == types.EncodingMJPEG:
		limit = MaxBitrateMJPEG
	case cfg.Level == hw.VideoLevelH264_4:
		limit = MaxBitrateLevel4
	case cfg.Level == hw.VideoLevelH264_42:
		limit = MaxBitrateLevel42
	}
	if limit == 0 || cfg.Bitrate <= limit {
		return cfg.Bitrate
	}
	logger.Warnf(ctx, "the bitrate %d is too high for %s level %s, using %d", cfg.Bitrate, cfg.Encoding, cfg.Level, limit)
	return limit
}

// macroblockRate is the amount of 16x16 macroblocks per second.
func macroblockRate(
	width, height uint32,
	frameRate types.Rational,
) uint64 {
	mbx := uint64(types.AlignUp[uint32](width, 16) / 16)
	mby := uint64(types.AlignUp[uint32](height, 16) / 16)
	return uint64(float64(mbx*mby) * frameRate.Float64())
}

// levelFor picks the H.264 level able to carry the macroblock rate,
// bumping level 4 to 4.2 when needed.
func levelFor(
	ctx context.Context,
	cfg EncoderConfig,
) (hw.VideoLevel, error) {
	rate := macroblockRate(cfg.Width, cfg.Height, cfg.FrameRate)
	switch {
	case rate <= maxMacroblockRateLevel4:
		return cfg.Level, nil
	case rate <= maxMacroblockRateLevel42:
		if cfg.Level < hw.VideoLevelH264_42 {
			logger.Warnf(ctx, "too many macroblocks/s (%d) for level %s, increasing the H.264 level to 4.2", rate, cfg.Level)
			return hw.VideoLevelH264_42, nil
		}
		return cfg.Level, nil
	default:
		return cfg.Level, ErrMacroblockRateExceeded{Rate: rate, Max: maxMacroblockRateLevel42}
	}
}

func (e *Encoder) init(ctx context.Context) error {
	cfg := &e.Config
	e.assertPorts(ctx, 1, 1)
	e.Input = e.addPort(ctx, e.hwComponent.Inputs()[0], PortNameInput)
	e.Output = e.addPort(ctx, e.hwComponent.Outputs()[0], PortNameOutput)
	e.defaultInput = e.Input
	e.defaultOutput = e.Output

	f := e.Input.GetFormat()
	f.Encoding = cfg.Encoding
	f.EncodingVariant = types.EncodingUnknown
	cfg.Bitrate = clampBitrate(ctx, *cfg)
	f.Bitrate = cfg.Bitrate
	// the firmware takes the frame rate from the input once connected
	f.FrameRate = types.Rational{Num: 0, Den: 1}

	r := e.Output.BufferRequirements()
	size := uint32(compressedBufferSize)
	if cfg.Encoding == types.EncodingH264 {
		size = r.SizeRecommended
	}
	size = max(size, r.SizeMin)
	num := max(r.NumRecommended, r.NumMin)
	e.Output.SetBufferConfig(num, size)

	if err := e.Output.SetFormat(ctx, f); err != nil {
		return fmt.Errorf("unable to set the encoder output format: %w", err)
	}

	if cfg.Encoding == types.EncodingH264 && cfg.QuantisationParameter.IsSet() {
		qp := cfg.QuantisationParameter.Get()
		for _, id := range []hw.ParameterID{
			hw.ParameterIDVideoEncodeInitialQuant,
			hw.ParameterIDVideoEncodeMinQuant,
			hw.ParameterIDVideoEncodeMaxQuant,
		} {
			if err := e.Output.SetParameter(ctx, hw.ParameterUint32{ID: id, Value: qp}); err != nil {
				return fmt.Errorf("unable to set the quantisation parameter %d: %w", qp, err)
			}
		}
	}

	if cfg.Encoding == types.EncodingH264 {
		level, err := levelFor(ctx, *cfg)
		if err != nil {
			return err
		}
		cfg.Level = level
		if err := e.Output.SetParameter(ctx, hw.ParameterVideoProfile{
			Profile: cfg.Profile,
			Level:   cfg.Level,
		}); err != nil {
			return fmt.Errorf("unable to set the H.264 profile: %w", err)
		}
	}

	if err := e.Input.SetParameter(ctx, hw.ParameterBool{ID: hw.ParameterIDVideoImmutableInput, Value: cfg.ImmutableInput}); err != nil {
		logger.Errorf(ctx, "unable to set immutable input: %v", err)
	}
	if err := e.Output.SetParameter(ctx, hw.ParameterBool{ID: hw.ParameterIDVideoEncodeInlineHeader, Value: cfg.InlineHeaders}); err != nil {
		logger.Errorf(ctx, "unable to set inline headers: %v", err)
	}
	if cfg.Encoding == types.EncodingH264 {
		if err := e.Output.SetParameter(ctx, hw.ParameterBool{ID: hw.ParameterIDVideoEncodeInlineVectors, Value: cfg.InlineMotionVectors}); err != nil {
			logger.Errorf(ctx, "unable to set inline motion vectors: %v", err)
		}
	}

	if cfg.IntraPeriod.IsSet() {
		period := cfg.IntraPeriod.Get()
		if err := e.Output.SetParameter(ctx, hw.ParameterUint32{ID: hw.ParameterIDVideoIntraPeriod, Value: period}); err != nil {
			return fmt.Errorf("unable to set the intra period %d: %w", period, err)
		}
	}

	if cfg.Encoding == types.EncodingH264 && cfg.IntraRefresh.IsSet() {
		if err := e.setIntraRefresh(ctx, cfg.IntraRefresh.Get()); err != nil {
			return err
		}
	}

	return e.enable(ctx)
}

func (e *Encoder) setIntraRefresh(
	ctx context.Context,
	mode hw.IntraRefresh,
) error {
	var param hw.ParameterIntraRefresh
	current, err := e.Output.GetParameter(ctx, hw.ParameterIDVideoIntraRefresh)
	switch {
	case errors.Is(err, hw.StatusENOENT):
	case err != nil:
		logger.Warnf(ctx, "unable to get the current intra refresh parameters, using zeros: %v", err)
	default:
		if v, ok := current.(hw.ParameterIntraRefresh); ok {
			param = v
		}
	}
	param.Mode = mode
	if err := e.Output.SetParameter(ctx, param); err != nil {
		return fmt.Errorf("unable to set the intra refresh mode %d: %w", mode, err)
	}
	return nil
}
