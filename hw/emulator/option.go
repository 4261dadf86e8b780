// option.go defines functional options for configuring the emulated platform.

package emulator

import (
	"time"

	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/types"
)

// Hooks let tests inject hardware failures. A hook returning a non-nil
// error makes the corresponding operation fail with that error.
type Hooks struct {
	NewComponent     func(name string) error
	CommitFormat     func(port *Port, format types.Format) error
	EnableConnection func(conn *Connection) error
	AllocateBuffers  func(port *Port, num, size uint32) error
	SendBuffer       func(port *Port, buf *hw.Buffer) error
	SetParameter     func(port *Port, param hw.Parameter) error
}

type config struct {
	FrameInterval     time.Duration
	DeliveryQueueSize uint
	TunnelQueueSize   uint
	EventBuffersNum   uint
	EventPeriod       uint64
	Hooks             Hooks
}

func defaultConfig() config {
	return config{
		DeliveryQueueSize: 64,
		TunnelQueueSize:   4,
		EventBuffersNum:   4,
		EventPeriod:       15,
	}
}

type Option interface {
	apply(*config)
}

type Options []Option

func (opts Options) apply(cfg *config) {
	for _, opt := range opts {
		opt.apply(cfg)
	}
}

func (opts Options) config() config {
	cfg := defaultConfig()
	opts.apply(&cfg)
	return cfg
}

// OptionFrameInterval overrides the camera frame interval; by default it is
// derived from the frame rate of the camera video port.
type OptionFrameInterval time.Duration

func (opt OptionFrameInterval) apply(cfg *config) {
	cfg.FrameInterval = time.Duration(opt)
}

type OptionDeliveryQueueSize uint

func (opt OptionDeliveryQueueSize) apply(cfg *config) {
	cfg.DeliveryQueueSize = uint(opt)
}

type OptionTunnelQueueSize uint

func (opt OptionTunnelQueueSize) apply(cfg *config) {
	cfg.TunnelQueueSize = uint(opt)
}

// OptionEventPeriod is how many camera frames pass between two
// camera-settings events (when those were requested).
type OptionEventPeriod uint64

func (opt OptionEventPeriod) apply(cfg *config) {
	cfg.EventPeriod = uint64(opt)
}

type OptionHooksValue struct {
	Hooks
}

func (o OptionHooksValue) apply(cfg *config) {
	cfg.Hooks = o.Hooks
}

func OptionHooks(hooks Hooks) OptionHooksValue {
	return OptionHooksValue{hooks}
}
