package component

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/port"
	"github.com/xaionaro-go/raspivid/types"
)

const (
	cameraPortPreview = 0
	cameraPortVideo   = 1
	cameraPortStill   = 2

	// VideoOutputBuffersNum is the minimal amount of buffers on the video
	// and still ports; fewer than that drops frames.
	VideoOutputBuffersNum = 3
)

type CameraConfig struct {
	Width     uint32         `yaml:"width"`
	Height    uint32         `yaml:"height"`
	FrameRate types.Rational `yaml:"framerate"`
	CameraNum int32          `yaml:"camera_num"`

	// SensorMode zero lets the firmware pick the mode.
	SensorMode   uint32        `yaml:"sensor_mode"`
	ShutterSpeed time.Duration `yaml:"shutter_speed"`

	// SettingsCallback receives the events of the control port. If nil,
	// the control port is left disabled.
	SettingsCallback port.Callback `yaml:"-"`
}

// DefaultCameraConfig is 1920x1080 with a variable frame rate.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		Width:     1920,
		Height:    1080,
		FrameRate: types.Rational{Num: 0, Den: 1},
	}
}

// Camera has no inputs and three outputs: preview, video and still.
// The video port is the default output.
type Camera struct {
	*Base
	Control *port.Port
	Preview *port.Port
	Video   *port.Port
	Still   *port.Port

	Config CameraConfig
}

var _ Abstract = (*Camera)(nil)

func NewCamera(
	ctx context.Context,
	platform hw.Platform,
	cfg CameraConfig,
) (_ret *Camera, _err error) {
	logger.Debugf(ctx, "NewCamera(%#+v)", cfg)
	defer func() { logger.Debugf(ctx, "/NewCamera(%#+v): %v", cfg, _err) }()

	b, err := newBase(ctx, platform, hw.ComponentNameCamera, "camera")
	if err != nil {
		return nil, err
	}
	c := &Camera{Base: b, Config: cfg}
	defer func() { closeOnError(ctx, c, _err) }()

	if err := c.init(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Camera) init(ctx context.Context) error {
	cfg := &c.Config
	c.Control = c.addPort(ctx, c.hwComponent.Control(), PortNameControl)

	if err := c.Control.SetParameter(ctx, hw.ParameterInt32{ID: hw.ParameterIDCameraNum, Value: cfg.CameraNum}); err != nil {
		return fmt.Errorf("unable to select camera #%d: %w", cfg.CameraNum, err)
	}

	c.assertPorts(ctx, 0, 3)
	outputs := c.hwComponent.Outputs()
	c.Preview = c.addPort(ctx, outputs[cameraPortPreview], PortNamePreview)
	c.Video = c.addPort(ctx, outputs[cameraPortVideo], PortNameVideo)
	c.Still = c.addPort(ctx, outputs[cameraPortStill], PortNameStill)
	c.defaultOutput = c.Video

	if err := c.Control.SetParameter(ctx, hw.ParameterUint32{ID: hw.ParameterIDCameraCustomSensorConfig, Value: cfg.SensorMode}); err != nil {
		logger.Warnf(ctx, "unable to set sensor mode %d: %v", cfg.SensorMode, err)
	}

	if cfg.SettingsCallback != nil {
		if err := c.Control.SetParameter(ctx, hw.ParameterChangeEventRequest{
			ChangeID: hw.ParameterIDCameraSettings,
			Enable:   true,
		}); err != nil {
			logger.Warnf(ctx, "unable to request camera settings events: %v", err)
		}
		if err := c.Control.AddCallback(ctx, cfg.SettingsCallback); err != nil {
			return fmt.Errorf("unable to enable the camera control port: %w", err)
		}
	}

	fps := uint32(cfg.FrameRate.Float64())
	extraFrames := uint32(0)
	if fps > 30 {
		extraFrames = (fps - 30) / 10
	}
	if err := c.Control.SetParameter(ctx, hw.ParameterCameraConfig{
		MaxStillsWidth:        cfg.Width,
		MaxStillsHeight:       cfg.Height,
		MaxPreviewVideoWidth:  cfg.Width,
		MaxPreviewVideoHeight: cfg.Height,
		NumPreviewVideoFrames: 3 + extraFrames,
		FastPreviewResume:     false,
		UseSTCTimestamp:       hw.TimestampModeRawSTC,
	}); err != nil {
		logger.Warnf(ctx, "unable to set the camera config: %v", err)
	}

	if err := c.setFPSRange(ctx, c.Preview, types.Rational{Num: 166, Den: 1000}); err != nil {
		return err
	}
	if cfg.ShutterSpeed > 0 && cfg.FrameRate.Float64() > float64(time.Second)/float64(cfg.ShutterSpeed) {
		logger.Infof(ctx, "enabling dynamic frame rate to allow a shutter speed of %v", cfg.ShutterSpeed)
		cfg.FrameRate = types.Rational{Num: 0, Den: 1}
	}
	if err := c.Preview.SetFormat(ctx, c.outputFormat(types.Rational{Num: 0, Den: 1})); err != nil {
		return fmt.Errorf("unable to set the preview format: %w", err)
	}

	if err := c.setFPSRange(ctx, c.Video, types.Rational{Num: 167, Den: 1000}); err != nil {
		return err
	}
	videoFPS := cfg.FrameRate
	if videoFPS.Den == 0 {
		videoFPS.Den = 1
	}
	if err := c.Video.SetFormat(ctx, c.outputFormat(videoFPS)); err != nil {
		return fmt.Errorf("unable to set the video format: %w", err)
	}
	ensureBufferNum(c.Video, VideoOutputBuffersNum)

	if err := c.Still.SetFormat(ctx, c.outputFormat(types.Rational{Num: 0, Den: 1})); err != nil {
		return fmt.Errorf("unable to set the still format: %w", err)
	}
	ensureBufferNum(c.Still, VideoOutputBuffersNum)

	return c.enable(ctx)
}

func (c *Camera) outputFormat(frameRate types.Rational) types.Format {
	f := types.DefaultFormat()
	f.Width = c.Config.Width
	f.Height = c.Config.Height
	f.Crop = types.Rect{Width: c.Config.Width, Height: c.Config.Height}
	f.FrameRate = frameRate
	return f
}

// setFPSRange widens the frame rate range for long exposures; short
// exposures keep the hardware default.
func (c *Camera) setFPSRange(
	ctx context.Context,
	p *port.Port,
	longLow types.Rational,
) error {
	var r hw.ParameterFPSRange
	switch {
	case c.Config.ShutterSpeed > 6*time.Second:
		r = hw.ParameterFPSRange{
			Low:  types.Rational{Num: 50, Den: 1000},
			High: types.Rational{Num: 166, Den: 1000},
		}
	case c.Config.ShutterSpeed > time.Second:
		r = hw.ParameterFPSRange{
			Low:  longLow,
			High: types.Rational{Num: 999, Den: 1000},
		}
	default:
		return nil
	}
	if err := p.SetParameter(ctx, r); err != nil {
		return fmt.Errorf("unable to set the FPS range of %s: %w", p, err)
	}
	return nil
}

func ensureBufferNum(p *port.Port, num uint32) {
	r := p.BufferRequirements()
	if r.Num < num {
		p.SetBufferConfig(num, r.Size)
	}
}

// Start begins the video capture.
func (c *Camera) Start(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Start[%s]", c)
	defer func() { logger.Debugf(ctx, "/Start[%s]: %v", c, _err) }()
	return c.setCapture(ctx, c.Video, true)
}

func (c *Camera) Stop(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Stop[%s]", c)
	defer func() { logger.Debugf(ctx, "/Stop[%s]: %v", c, _err) }()
	return c.setCapture(ctx, c.Video, false)
}

// CaptureStill requests a single frame on the still port.
func (c *Camera) CaptureStill(ctx context.Context) error {
	return c.setCapture(ctx, c.Still, true)
}

func (c *Camera) setCapture(
	ctx context.Context,
	p *port.Port,
	value bool,
) error {
	if err := p.SetParameter(ctx, hw.ParameterBool{ID: hw.ParameterIDCapture, Value: value}); err != nil {
		return fmt.Errorf("unable to set capture=%t on %s: %w", value, p, err)
	}
	return nil
}

// LogSettingsCallback is a camera SettingsCallback that logs the exposure
// and gains the firmware reports, and sensor errors.
var LogSettingsCallback port.Callback = port.CallbackFunc(logCameraSettings)

func logCameraSettings(
	ctx context.Context,
	p *port.Port,
	buf *hw.Buffer,
) {
	switch buf.Command {
	case hw.EventParameterChanged:
		ev, err := hw.ParseParameterChangedEvent(buf)
		if err != nil {
			logger.Errorf(ctx, "unable to parse an event on %s: %v", p, err)
			return
		}
		if ev.ID != hw.ParameterIDCameraSettings || ev.Settings == nil {
			return
		}
		s := ev.Settings
		logger.Infof(ctx, "exposure now %d, analog gain %s, digital gain %s", s.Exposure, s.AnalogGain, s.DigitalGain)
		logger.Infof(ctx, "AWB R=%s, B=%s", s.AWBRedGain, s.AWBBlueGain)
	case hw.EventError:
		logger.Errorf(ctx, "no data received from sensor; check all connections, including the sensor and the ribbon cable")
	default:
		logger.Errorf(ctx, "received an unexpected camera control event: %s", buf.Command)
	}
}
