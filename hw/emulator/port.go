package emulator

import (
	"context"
	"fmt"
	"slices"

	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/types"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

const (
	maxDimension              = 4096
	eventBufferSize           = 256
	compressedSizeMin         = 32 * 1024
	compressedSizeRecommended = 256 * 1024
)

type Port struct {
	component *Component
	typ       hw.PortType
	index     int
	encodings []types.Encoding

	locker       xsync.Mutex
	format       types.Format
	committed    types.Format
	requirements hw.BufferRequirements
	parameters   map[hw.ParameterID]hw.Parameter
	handler      hw.BufferHandler
	submitted    []*hw.Buffer
	deliveries   chan *hw.Buffer
	stopDispatch chan struct{}
	dispatchDone chan struct{}
	connection   *Connection
	tunnelled    bool
	allocated    int

	enabled        atomic.Bool
	framesProduced atomic.Uint64
	framesDropped  atomic.Uint64
}

var _ hw.Port = (*Port)(nil)

func newPort(
	c *Component,
	typ hw.PortType,
	index int,
	encodings []types.Encoding,
) *Port {
	p := &Port{
		component:  c,
		typ:        typ,
		index:      index,
		encodings:  encodings,
		parameters: map[hw.ParameterID]hw.Parameter{},
	}
	if typ == hw.PortTypeControl {
		return p
	}
	f := types.DefaultFormat()
	if !p.supports(f.Encoding) {
		f.Encoding = encodings[0]
		f.EncodingVariant = types.EncodingUnknown
	}
	p.format = f.Aligned()
	p.committed = p.format
	p.requirements = requirementsFor(typ, p.committed, hw.BufferRequirements{})
	return p
}

func (p *Port) String() string {
	return p.Name()
}

func (p *Port) Name() string {
	var kind string
	switch p.typ {
	case hw.PortTypeControl:
		kind = "ctr"
	case hw.PortTypeInput:
		kind = "in"
	case hw.PortTypeOutput:
		kind = "out"
	}
	return fmt.Sprintf("%s:%s:%d", p.component.name, kind, p.index)
}

func (p *Port) Type() hw.PortType {
	return p.typ
}

func (p *Port) Index() int {
	return p.index
}

func (p *Port) Component() hw.Component {
	return p.component
}

func (p *Port) Format() types.Format {
	ctx := context.TODO()
	return xsync.DoR1(noLog(ctx), &p.locker, func() types.Format {
		return p.format
	})
}

func (p *Port) SetFormat(f types.Format) {
	ctx := context.TODO()
	p.locker.Do(noLog(ctx), func() {
		p.format = f
	})
}

func (p *Port) committedFormat() types.Format {
	ctx := context.TODO()
	return xsync.DoR1(noLog(ctx), &p.locker, func() types.Format {
		return p.committed
	})
}

func (p *Port) supports(enc types.Encoding) bool {
	if p.encodings == nil {
		return true
	}
	return slices.Contains(p.encodings, enc)
}

func (p *Port) CommitFormat(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "CommitFormat[%s]", p)
	defer func() { logger.Debugf(ctx, "/CommitFormat[%s]: %v", p, _err) }()

	if p.typ == hw.PortTypeControl {
		return fmt.Errorf("control ports have no format: %w", hw.StatusENOSYS)
	}

	f := p.Format()
	if hook := p.component.platform.getHooks().CommitFormat; hook != nil {
		if err := hook(p, f); err != nil {
			return err
		}
	}
	if err := p.validateFormat(f); err != nil {
		return err
	}

	p.locker.Do(noLog(ctx), func() {
		p.committed = f
		p.requirements = requirementsFor(p.typ, f, p.requirements)
	})
	return nil
}

func (p *Port) validateFormat(f types.Format) error {
	if !p.supports(f.Encoding) {
		return fmt.Errorf("encoding %s is not supported by %s: %w", f.Encoding, p, hw.StatusEINVAL)
	}
	if f.Width > maxDimension || f.Height > maxDimension {
		return fmt.Errorf("%dx%d is larger than %dx%d: %w", f.Width, f.Height, maxDimension, maxDimension, hw.StatusEINVAL)
	}
	if f.Encoding.IsRaw() && (f.Width == 0 || f.Height == 0) {
		return fmt.Errorf("a raw format must have non-zero dimensions, got %dx%d: %w", f.Width, f.Height, hw.StatusEINVAL)
	}
	return nil
}

func requirementsFor(
	typ hw.PortType,
	f types.Format,
	prev hw.BufferRequirements,
) hw.BufferRequirements {
	r := hw.BufferRequirements{
		NumMin:         1,
		NumRecommended: 1,
		Num:            prev.Num,
		Size:           prev.Size,
	}
	if typ == hw.PortTypeOutput {
		r.NumRecommended = 3
	}
	if f.Encoding.IsRaw() {
		r.SizeMin = f.Encoding.FrameSize(f.Width, f.Height)
		r.SizeRecommended = r.SizeMin
	} else {
		r.SizeMin = compressedSizeMin
		r.SizeRecommended = compressedSizeRecommended
	}
	if r.Num < r.NumMin {
		r.Num = r.NumRecommended
	}
	if r.Size < r.SizeMin {
		r.Size = r.SizeRecommended
	}
	return r
}

func (p *Port) BufferRequirements() hw.BufferRequirements {
	ctx := context.TODO()
	return xsync.DoR1(noLog(ctx), &p.locker, func() hw.BufferRequirements {
		return p.requirements
	})
}

func (p *Port) SetBufferConfig(num, size uint32) {
	ctx := context.TODO()
	p.locker.Do(noLog(ctx), func() {
		p.requirements.Num = num
		p.requirements.Size = size
	})
}

func (p *Port) SetParameter(
	ctx context.Context,
	param hw.Parameter,
) (_err error) {
	logger.Debugf(ctx, "SetParameter[%s](%T)", p, param)
	defer func() { logger.Debugf(ctx, "/SetParameter[%s](%T): %v", p, param, _err) }()

	if hook := p.component.platform.getHooks().SetParameter; hook != nil {
		if err := hook(p, param); err != nil {
			return err
		}
	}
	p.locker.Do(noLog(ctx), func() {
		p.parameters[param.ParameterID()] = param
	})
	if o, ok := p.component.stage.(parameterObserver); ok {
		o.onParameter(ctx, p.component, p, param)
	}
	return nil
}

func (p *Port) GetParameter(
	ctx context.Context,
	id hw.ParameterID,
) (hw.Parameter, error) {
	param, ok := xsync.DoR2(noLog(ctx), &p.locker, func() (hw.Parameter, bool) {
		param, ok := p.parameters[id]
		return param, ok
	})
	if !ok {
		return nil, fmt.Errorf("parameter %d is not set on %s: %w", id, p, hw.StatusENOENT)
	}
	return param, nil
}

func (p *Port) boolParameter(id hw.ParameterID) bool {
	param, err := p.GetParameter(context.TODO(), id)
	if err != nil {
		return false
	}
	b, ok := param.(hw.ParameterBool)
	return ok && b.Value
}

func (p *Port) uint32Parameter(id hw.ParameterID, defaultValue uint32) uint32 {
	param, err := p.GetParameter(context.TODO(), id)
	if err != nil {
		return defaultValue
	}
	v, ok := param.(hw.ParameterUint32)
	if !ok {
		return defaultValue
	}
	return v.Value
}

func (p *Port) IsEnabled() bool {
	return p.enabled.Load()
}

func (p *Port) Enable(
	ctx context.Context,
	handler hw.BufferHandler,
) (_err error) {
	logger.Debugf(ctx, "Enable[%s]", p)
	defer func() { logger.Debugf(ctx, "/Enable[%s]: %v", p, _err) }()
	if handler == nil {
		return fmt.Errorf("no buffer handler given: %w", hw.StatusEINVAL)
	}
	return xsync.DoR1(noLog(ctx), &p.locker, func() error {
		if p.enabled.Load() {
			return fmt.Errorf("%s is already enabled: %w", p, hw.StatusEINVAL)
		}
		if p.typ != hw.PortTypeControl {
			r := p.requirements
			if r.Num < r.NumMin || r.Size < r.SizeMin {
				return fmt.Errorf("buffer config %dx%d is below the minimum %dx%d: %w", r.Num, r.Size, r.NumMin, r.SizeMin, hw.StatusEINVAL)
			}
		}

		cfg := p.component.platform.config
		deliveries := make(chan *hw.Buffer, cfg.DeliveryQueueSize)
		stop := make(chan struct{})
		done := make(chan struct{})
		p.handler = handler
		p.deliveries = deliveries
		p.stopDispatch = stop
		p.dispatchDone = done
		p.submitted = p.submitted[:0]
		if p.typ == hw.PortTypeControl {
			for i := uint(0); i < cfg.EventBuffersNum; i++ {
				p.submitted = append(p.submitted, hw.NewBuffer(make([]byte, eventBufferSize), p.recycleEvent))
			}
		}
		p.enabled.Store(true)

		observability.Go(xcontext.DetachDone(ctx), func(ctx context.Context) {
			p.dispatchLoop(ctx, handler, deliveries, stop, done)
		})
		return nil
	})
}

// Disable stops deliveries; it must not be called from the port's own handler.
func (p *Port) Disable(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Disable[%s]", p)
	defer func() { logger.Debugf(ctx, "/Disable[%s]: %v", p, _err) }()

	var (
		unfilled []*hw.Buffer
		stop     chan struct{}
		done     chan struct{}
	)
	p.locker.Do(noLog(ctx), func() {
		if !p.enabled.Load() {
			return
		}
		p.enabled.Store(false)
		if p.tunnelled {
			p.tunnelled = false
			return
		}
		unfilled = p.submitted
		p.submitted = nil
		stop, done = p.stopDispatch, p.dispatchDone
		p.stopDispatch, p.dispatchDone = nil, nil
		p.handler = nil
	})
	if stop == nil {
		return nil
	}

	close(stop)
	<-done

	if p.typ == hw.PortTypeControl {
		return nil
	}
	logger.Debugf(ctx, "%s: releasing %d unfilled buffers", p, len(unfilled))
	for _, buf := range unfilled {
		buf.Release()
	}
	return nil
}

func (p *Port) enableTunnelled(ctx context.Context) error {
	return xsync.DoR1(noLog(ctx), &p.locker, func() error {
		if p.enabled.Load() {
			return fmt.Errorf("%s is already enabled: %w", p, hw.StatusEISCONN)
		}
		p.tunnelled = true
		p.enabled.Store(true)
		return nil
	})
}

func (p *Port) dispatchLoop(
	ctx context.Context,
	handler hw.BufferHandler,
	deliveries <-chan *hw.Buffer,
	stop <-chan struct{},
	done chan<- struct{},
) {
	logger.Debugf(ctx, "dispatchLoop[%s]", p)
	defer func() { logger.Debugf(ctx, "/dispatchLoop[%s]", p) }()
	defer close(done)
	for {
		select {
		case buf := <-deliveries:
			p.deliver(ctx, handler, buf)
		case <-stop:
			for {
				select {
				case buf := <-deliveries:
					p.deliver(ctx, handler, buf)
				default:
					return
				}
			}
		}
	}
}

func (p *Port) deliver(
	ctx context.Context,
	handler hw.BufferHandler,
	buf *hw.Buffer,
) {
	if p.typ == hw.PortTypeInput {
		p.component.consume(ctx, p, &frame{
			data:   buf.Bytes(),
			format: p.committedFormat(),
			flags:  buf.Flags,
			pts:    buf.PTS,
		})
	}
	buf.Lock()
	handler(ctx, p, buf)
}

func (p *Port) recycleEvent(buf *hw.Buffer) {
	ctx := context.TODO()
	p.locker.Do(noLog(ctx), func() {
		if !p.enabled.Load() {
			return
		}
		p.submitted = append(p.submitted, buf)
	})
}

func (p *Port) SendBuffer(
	ctx context.Context,
	buf *hw.Buffer,
) error {
	logger.Tracef(ctx, "SendBuffer[%s]: %s", p, buf)
	if hook := p.component.platform.getHooks().SendBuffer; hook != nil {
		if err := hook(p, buf); err != nil {
			return err
		}
	}
	return xsync.DoR1(noLog(ctx), &p.locker, func() error {
		if !p.enabled.Load() {
			return fmt.Errorf("%s is disabled: %w", p, hw.StatusEINVAL)
		}
		switch p.typ {
		case hw.PortTypeControl:
			return fmt.Errorf("buffers cannot be sent to a control port: %w", hw.StatusEINVAL)
		case hw.PortTypeInput:
			if p.tunnelled {
				return fmt.Errorf("%s is fed by a tunnel: %w", p, hw.StatusEISCONN)
			}
			select {
			case p.deliveries <- buf:
				return nil
			default:
				return fmt.Errorf("the input queue of %s is full: %w", p, hw.StatusENOSPC)
			}
		default:
			if buf.Capacity() == 0 {
				return fmt.Errorf("a buffer with no payload memory: %w", hw.StatusEINVAL)
			}
			p.submitted = append(p.submitted, buf)
			return nil
		}
	})
}

// produce fills the oldest submitted buffer and queues it for delivery.
// It reports false if the frame was dropped.
func (p *Port) produce(
	ctx context.Context,
	write func(dst []byte) uint32,
	flags hw.BufferFlags,
	pts int64,
	cmd hw.Command,
) bool {
	ok := xsync.DoR1(noLog(ctx), &p.locker, func() bool {
		if !p.enabled.Load() || p.tunnelled || len(p.submitted) == 0 {
			return false
		}
		buf := p.submitted[0]
		p.submitted = p.submitted[1:]
		buf.Offset = 0
		buf.Length = write(buf.Data)
		buf.Flags = flags
		buf.PTS = pts
		buf.DTS = pts
		buf.Command = cmd
		select {
		case p.deliveries <- buf:
			return true
		default:
			p.submitted = append([]*hw.Buffer{buf}, p.submitted...)
			return false
		}
	})
	if ok {
		p.framesProduced.Inc()
	} else {
		p.framesDropped.Inc()
		logger.Tracef(ctx, "%s: dropped a frame", p)
	}
	return ok
}

// emitEvent delivers an event buffer on a control port.
func (p *Port) emitEvent(
	ctx context.Context,
	cmd hw.Command,
	payload []byte,
) bool {
	return p.produce(ctx, func(dst []byte) uint32 {
		return uint32(copy(dst, payload))
	}, hw.BufferFlagEvent, 0, cmd)
}

func (p *Port) AllocateBuffers(
	ctx context.Context,
	num, size uint32,
) (_ret []*hw.Buffer, _err error) {
	logger.Debugf(ctx, "AllocateBuffers[%s](%d, %d)", p, num, size)
	defer func() { logger.Debugf(ctx, "/AllocateBuffers[%s](%d, %d): %v", p, num, size, _err) }()
	if hook := p.component.platform.getHooks().AllocateBuffers; hook != nil {
		if err := hook(p, num, size); err != nil {
			return nil, err
		}
	}
	if p.typ == hw.PortTypeControl {
		return nil, fmt.Errorf("control ports use hardware-owned buffers: %w", hw.StatusEINVAL)
	}
	if num == 0 || size == 0 {
		return nil, fmt.Errorf("cannot allocate %d buffers of %d bytes: %w", num, size, hw.StatusEINVAL)
	}
	result := make([]*hw.Buffer, 0, num)
	for i := uint32(0); i < num; i++ {
		result = append(result, hw.NewBuffer(make([]byte, size), nil))
	}
	p.locker.Do(noLog(ctx), func() {
		p.allocated += len(result)
	})
	return result, nil
}

func (p *Port) FreeBuffers(
	ctx context.Context,
	bufs []*hw.Buffer,
) {
	logger.Debugf(ctx, "FreeBuffers[%s](%d)", p, len(bufs))
	p.locker.Do(noLog(ctx), func() {
		p.allocated -= len(bufs)
	})
}

// AllocatedBuffers is the amount of buffers allocated on the port and not freed yet.
func (p *Port) AllocatedBuffers() int {
	ctx := context.TODO()
	return xsync.DoR1(noLog(ctx), &p.locker, func() int {
		return p.allocated
	})
}

// SubmittedBuffers is the amount of buffers the port holds and has not filled yet.
func (p *Port) SubmittedBuffers() int {
	ctx := context.TODO()
	return xsync.DoR1(noLog(ctx), &p.locker, func() int {
		return len(p.submitted)
	})
}

func (p *Port) FramesProduced() uint64 {
	return p.framesProduced.Load()
}

func (p *Port) FramesDropped() uint64 {
	return p.framesDropped.Load()
}

func (p *Port) getConnection() *Connection {
	ctx := context.TODO()
	return xsync.DoR1(noLog(ctx), &p.locker, func() *Connection {
		return p.connection
	})
}

func (p *Port) setConnection(conn *Connection) {
	ctx := context.TODO()
	p.locker.Do(noLog(ctx), func() {
		p.connection = conn
	})
}
