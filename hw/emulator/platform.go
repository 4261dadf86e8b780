// Package emulator is a pure-Go software model of the video hardware.
//
// It implements package hw well enough to run whole pipelines without a
// VideoCore: the camera generates test-pattern frames, the splitter
// duplicates them, the resizer scales them, the encoder produces H.264-like
// payloads, and the sinks consume whatever they are given. Hooks allow
// tests to inject hardware failures.
package emulator

import (
	"context"
	"fmt"

	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/xsync"
)

type Platform struct {
	config     config
	hooks      *Hooks
	locker     xsync.Mutex
	components []*Component
	lastID     uint64
}

var _ hw.Platform = (*Platform)(nil)

func New(opts ...Option) *Platform {
	cfg := Options(opts).config()
	hooks := cfg.Hooks
	return &Platform{
		config: cfg,
		hooks:  &hooks,
	}
}

// SetHooks replaces the fault-injection hooks; it is safe to call while
// pipelines are running.
func (p *Platform) SetHooks(hooks Hooks) {
	xatomic.StorePointer(&p.hooks, &hooks)
}

func (p *Platform) getHooks() *Hooks {
	return xatomic.LoadPointer(&p.hooks)
}

func (p *Platform) NewComponent(
	ctx context.Context,
	name string,
) (_ret hw.Component, _err error) {
	logger.Debugf(ctx, "NewComponent(%s)", name)
	defer func() { logger.Debugf(ctx, "/NewComponent(%s): %v", name, _err) }()

	if hook := p.getHooks().NewComponent; hook != nil {
		if err := hook(name); err != nil {
			return nil, err
		}
	}

	newStage, ok := stageFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown component '%s': %w", name, hw.StatusENOENT)
	}

	return xsync.DoR1(noLog(ctx), &p.locker, func() hw.Component {
		p.lastID++
		c := newComponent(p, name, p.lastID, newStage())
		p.components = append(p.components, c)
		return c
	}), nil
}

// Components returns every component ever created on the platform,
// closed ones included.
func (p *Platform) Components() []*Component {
	ctx := context.TODO()
	return xsync.DoR1(noLog(ctx), &p.locker, func() []*Component {
		return append([]*Component(nil), p.components...)
	})
}

func (p *Platform) NewConnection(
	ctx context.Context,
	src, dst hw.Port,
	flags hw.ConnectionFlags,
) (_ret hw.Connection, _err error) {
	logger.Debugf(ctx, "NewConnection(%s -> %s, 0x%x)", src, dst, uint32(flags))
	defer func() { logger.Debugf(ctx, "/NewConnection(%s -> %s): %v", src, dst, _err) }()

	srcPort, ok := src.(*Port)
	if !ok {
		return nil, fmt.Errorf("source port %T does not belong to the emulator: %w", src, hw.StatusEINVAL)
	}
	dstPort, ok := dst.(*Port)
	if !ok {
		return nil, fmt.Errorf("sink port %T does not belong to the emulator: %w", dst, hw.StatusEINVAL)
	}
	if srcPort.typ != hw.PortTypeOutput {
		return nil, fmt.Errorf("source %s is not an output port: %w", srcPort, hw.StatusEINVAL)
	}
	if dstPort.typ != hw.PortTypeInput {
		return nil, fmt.Errorf("sink %s is not an input port: %w", dstPort, hw.StatusEINVAL)
	}
	if flags&hw.ConnectionFlagTunnelling == 0 {
		return nil, fmt.Errorf("only tunnelled connections are supported: %w", hw.StatusENOSYS)
	}
	return newConnection(ctx, p, srcPort, dstPort, flags)
}

func noLog(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}
