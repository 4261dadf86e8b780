package emulator

import (
	"context"
	"time"

	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/types"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

const (
	cameraPortPreview = 0
	cameraPortVideo   = 1
	cameraPortStill   = 2

	defaultFrameInterval = time.Second / 30
)

type camera struct {
	locker   xsync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	frameNum atomic.Uint64
}

func (*camera) ports() (inputs, outputs [][]types.Encoding) {
	return nil, [][]types.Encoding{rawEncodings, rawEncodings, rawEncodings}
}

func (*camera) process(context.Context, *Component, *Port, *frame) {}

func (cam *camera) start(ctx context.Context, c *Component) {
	interval := c.platform.config.FrameInterval
	if interval <= 0 {
		interval = defaultFrameInterval
		if fps := c.outputs[cameraPortVideo].committedFormat().FrameRate.Float64(); fps > 0 {
			interval = time.Duration(float64(time.Second) / fps)
		}
	}
	logger.Debugf(ctx, "%s: generating a frame every %v", c, interval)

	cam.locker.Do(noLog(ctx), func() {
		ctx, cancelFn := context.WithCancel(xcontext.DetachDone(ctx))
		done := make(chan struct{})
		cam.cancel = cancelFn
		cam.done = done
		observability.Go(ctx, func(ctx context.Context) {
			defer close(done)
			cam.loop(ctx, c, interval)
		})
	})
}

func (cam *camera) stop(ctx context.Context) {
	var done chan struct{}
	cam.locker.Do(noLog(ctx), func() {
		if cam.cancel == nil {
			return
		}
		cam.cancel()
		done = cam.done
		cam.cancel, cam.done = nil, nil
	})
	if done != nil {
		<-done
	}
}

func (cam *camera) loop(
	ctx context.Context,
	c *Component,
	interval time.Duration,
) {
	logger.Debugf(ctx, "cameraLoop[%s]", c)
	defer func() { logger.Debugf(ctx, "/cameraLoop[%s]", c) }()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cam.generate(ctx, c, interval)
		}
	}
}

func (cam *camera) generate(
	ctx context.Context,
	c *Component,
	interval time.Duration,
) {
	n := cam.frameNum.Inc()
	pts := int64(n) * interval.Microseconds()

	emit := func(p *Port) {
		f := p.committedFormat()
		p.produce(ctx, func(dst []byte) uint32 {
			return writePattern(dst, f, n)
		}, hw.BufferFlagFrameEnd, pts, hw.CommandNone)
	}

	emit(c.outputs[cameraPortPreview])
	if still := c.outputs[cameraPortStill]; still.boolParameter(hw.ParameterIDCapture) {
		// stills are one-shot
		still.locker.Do(noLog(ctx), func() {
			delete(still.parameters, hw.ParameterIDCapture)
		})
		emit(still)
	}
	if video := c.outputs[cameraPortVideo]; video.boolParameter(hw.ParameterIDCapture) {
		emit(video)
	}

	period := c.platform.config.EventPeriod
	if period > 0 && n%period == 0 && cam.settingsEventsRequested(c) {
		cam.emitSettings(ctx, c, n)
	}
}

func (cam *camera) settingsEventsRequested(c *Component) bool {
	param, err := c.control.GetParameter(context.TODO(), hw.ParameterIDChangeEventRequest)
	if err != nil {
		return false
	}
	req, ok := param.(hw.ParameterChangeEventRequest)
	return ok && req.Enable && req.ChangeID == hw.ParameterIDCameraSettings
}

func (cam *camera) emitSettings(
	ctx context.Context,
	c *Component,
	n uint64,
) {
	ev := hw.ParameterChangedEvent{
		ID: hw.ParameterIDCameraSettings,
		Settings: &hw.CameraSettings{
			Exposure:      uint32(10000 + (n%100)*100),
			AnalogGain:    types.Rational{Num: uint32(256 + n%64), Den: 256},
			DigitalGain:   types.Rational{Num: 1, Den: 1},
			AWBRedGain:    types.Rational{Num: 3, Den: 2},
			AWBBlueGain:   types.Rational{Num: 7, Den: 5},
			FocusPosition: 0,
		},
	}
	payload, err := ev.MarshalBinary()
	if err != nil {
		logger.Errorf(ctx, "unable to serialize the camera settings: %v", err)
		return
	}
	c.control.emitEvent(ctx, hw.EventParameterChanged, payload)
}
