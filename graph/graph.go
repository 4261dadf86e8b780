// Package graph builds a whole capture pipeline from a Config and tears it
// down again.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/xaionaro-go/raspivid/component"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/port"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
)

type Graph struct {
	Config Config

	locker     xsync.Mutex
	closer     *astikit.Closer
	closed     bool
	closeErrs  []error
	components map[string]component.Abstract
	order      []string
}

// Build creates every component of cfg, applies the format overrides and
// establishes the links in the order they are listed. On the first failure
// everything built so far is torn down and the error is returned.
func Build(
	ctx context.Context,
	platform hw.Platform,
	cfg Config,
) (_ret *Graph, _err error) {
	logger.Debugf(ctx, "Build")
	defer func() { logger.Debugf(ctx, "/Build: %v", _err) }()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	order, err := cfg.topologicalOrder()
	if err != nil {
		return nil, err
	}

	g := &Graph{
		Config:     cfg,
		closer:     astikit.NewCloser(),
		components: map[string]component.Abstract{},
	}
	defer func() {
		if _err != nil {
			if err := g.Close(ctx); err != nil {
				logger.Errorf(ctx, "unable to tear down a partially built pipeline: %v", err)
			}
		}
	}()

	byName := map[string]ComponentConfig{}
	for _, c := range cfg.Components {
		byName[c.Name] = c
	}
	for _, name := range order {
		c, err := newComponent(ctx, platform, byName[name])
		if err != nil {
			return nil, ErrComponent{Name: name, Err: err}
		}
		g.add(ctx, name, c)
	}

	for _, f := range cfg.Formats {
		p, err := g.Port(f.Port)
		if err != nil {
			return nil, err
		}
		if err := p.SetFormat(ctx, f.apply(p.GetFormat())); err != nil {
			return nil, err
		}
	}

	for _, l := range cfg.Links {
		if err := g.link(ctx, l); err != nil {
			return nil, ErrLink{Link: l, Err: err}
		}
	}
	return g, nil
}

// topologicalOrder lists the components so that every link source comes
// before its sink; ties keep the config order.
func (cfg Config) topologicalOrder() ([]string, error) {
	position := map[string]int{}
	for idx, c := range cfg.Components {
		position[c.Name] = idx
	}
	inDegree := map[string]int{}
	next := map[string][]string{}
	for _, l := range cfg.Links {
		from, _ := splitEndpoint(l.From)
		to, _ := splitEndpoint(l.To)
		next[from] = append(next[from], to)
		inDegree[to]++
	}

	var ready []string
	for _, c := range cfg.Components {
		if inDegree[c.Name] == 0 {
			ready = append(ready, c.Name)
		}
	}
	var result []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return position[ready[i]] < position[ready[j]]
		})
		name := ready[0]
		ready = ready[1:]
		result = append(result, name)
		for _, to := range next[name] {
			inDegree[to]--
			if inDegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	if len(result) != len(cfg.Components) {
		return nil, ErrInvalidConfig{Reason: "the links form a cycle"}
	}
	return result, nil
}

func newComponent(
	ctx context.Context,
	platform hw.Platform,
	cfg ComponentConfig,
) (component.Abstract, error) {
	cfg.setDefaults()
	switch cfg.Type {
	case ComponentTypeCamera:
		return component.NewCamera(ctx, platform, *cfg.Camera)
	case ComponentTypeEncoder:
		return component.NewEncoder(ctx, platform, cfg.Encoder.toComponent())
	case ComponentTypeResizer:
		return component.NewResizer(ctx, platform, *cfg.Resizer)
	case ComponentTypeSplitter:
		return component.NewSplitter(ctx, platform)
	case ComponentTypeRenderer:
		return component.NewRenderer(ctx, platform, *cfg.Renderer)
	case ComponentTypeOverlay:
		return component.NewOverlayRenderer(ctx, platform, *cfg.Overlay)
	case ComponentTypeNullSink:
		return component.NewNullSink(ctx, platform)
	}
	return nil, ErrUnknownComponentType{Type: cfg.Type}
}

func (g *Graph) add(
	ctx context.Context,
	name string,
	c component.Abstract,
) {
	g.locker.Do(ctx, func() {
		g.components[name] = c
		g.order = append(g.order, name)
	})
	ctx = xcontext.DetachDone(ctx)
	g.closer.Add(func() {
		if err := c.Close(ctx); err != nil {
			err = fmt.Errorf("unable to close '%s': %w", name, err)
			errmon.ObserveErrorCtx(ctx, err)
			g.closeErrs = append(g.closeErrs, err)
		}
	})
}

func (g *Graph) link(
	ctx context.Context,
	l LinkConfig,
) error {
	src, err := g.Port(l.From)
	if err != nil {
		return err
	}
	toName, toPort := splitEndpoint(l.To)
	dst, err := g.Component(toName)
	if err != nil {
		return err
	}
	if toPort != "" {
		p, err := dst.Port(toPort)
		if err != nil {
			return err
		}
		if p != dst.DefaultInput() {
			return ErrInvalidConfig{Reason: fmt.Sprintf("'%s' is not the input of '%s'", toPort, toName)}
		}
	}
	return dst.ConnectPortWithMode(ctx, src, l.Mode, nil)
}

func (g *Graph) Component(name string) (component.Abstract, error) {
	c := xsync.DoR1(xsync.WithNoLogging(context.Background(), true), &g.locker, func() component.Abstract {
		return g.components[name]
	})
	if c == nil {
		return nil, ErrUnknownComponent{Name: name}
	}
	return c, nil
}

// Port resolves "name.port"; a bare "name" is the default output of the
// component (or its default input if it has no outputs).
func (g *Graph) Port(endpoint string) (*port.Port, error) {
	name, portName := splitEndpoint(endpoint)
	c, err := g.Component(name)
	if err != nil {
		return nil, err
	}
	if portName != "" {
		return c.Port(portName)
	}
	if p := c.DefaultOutput(); p != nil {
		return p, nil
	}
	if p := c.DefaultInput(); p != nil {
		return p, nil
	}
	return nil, ErrInvalidConfig{Reason: fmt.Sprintf("'%s' has no default port", name)}
}

func (g *Graph) AddCallback(
	ctx context.Context,
	endpoint string,
	callback port.Callback,
) error {
	p, err := g.Port(endpoint)
	if err != nil {
		return err
	}
	return p.AddCallback(ctx, callback)
}

func (g *Graph) cameras() []*component.Camera {
	return xsync.DoR1(xsync.WithNoLogging(context.Background(), true), &g.locker, func() []*component.Camera {
		var result []*component.Camera
		for _, name := range g.order {
			if cam, ok := g.components[name].(*component.Camera); ok {
				result = append(result, cam)
			}
		}
		return result
	})
}

// Start begins the capture on every camera.
func (g *Graph) Start(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start: %v", _err) }()
	for _, cam := range g.cameras() {
		if err := cam.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) Stop(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Stop")
	defer func() { logger.Debugf(ctx, "/Stop: %v", _err) }()
	var errs []error
	for _, cam := range g.cameras() {
		if err := cam.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Statistics returns the counters of every port, keyed by "name.port".
func (g *Graph) Statistics() map[string]port.Statistics {
	return xsync.DoR1(xsync.WithNoLogging(context.Background(), true), &g.locker, func() map[string]port.Statistics {
		result := map[string]port.Statistics{}
		for _, name := range g.order {
			c := g.components[name]
			for _, p := range c.Ports() {
				if p.Type() == hw.PortTypeControl {
					continue
				}
				result[name+"."+p.Name()] = p.Statistics()
			}
		}
		return result
	})
}

// Close tears the components down in reverse construction order, so
// every sink is closed before its source. Safe to call more than once.
func (g *Graph) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	return xsync.DoR1(xcontext.DetachDone(ctx), &g.locker, func() error {
		if g.closed {
			return nil
		}
		g.closed = true
		if err := g.closer.Close(); err != nil {
			g.closeErrs = append(g.closeErrs, err)
		}
		return errors.Join(g.closeErrs...)
	})
}
