// Package poller binds handlers to endpoints and runs a device's event loop.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/deimic-pi/internal/pkg/message"
	"github.com/anicoll/deimic-pi/internal/pkg/metric"
	"github.com/anicoll/deimic-pi/pkg/sockets"
)

var (
	ErrUnregisteredEndpoint = errors.New("no handler registered for endpoint")
	ErrIdentityType         = errors.New("identity frame missing or empty")
	ErrHandlerPanic         = errors.New("handler panicked")
	ErrNotPollable          = errors.New("endpoint cannot receive")
)

// DefaultTick bounds each wait so cancellation of Run is noticed.
const DefaultTick = 250 * time.Millisecond

// Handler consumes one message received on an endpoint. identity is set for
// Router and Stream endpoints and nil otherwise. Handlers keep no state of
// their own; everything they need lives on the device.
type Handler[D any] interface {
	Handle(ctx context.Context, device D, h *message.Handling, identity []byte) error
}

type HandlerFunc[D any] func(ctx context.Context, device D, h *message.Handling, identity []byte) error

func (f HandlerFunc[D]) Handle(ctx context.Context, device D, h *message.Handling, identity []byte) error {
	return f(ctx, device, h, identity)
}

type options struct {
	tick    time.Duration
	metrics *metric.Metrics
	logger  *zap.Logger
}

type Option func(*options)

func WithTick(d time.Duration) Option {
	return func(o *options) {
		o.tick = d
	}
}

func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Poller dispatches ready endpoints of one device to their handlers, one
// message at a time.
type Poller[D any] struct {
	device    D
	transport sockets.Poller
	tick      time.Duration
	metrics   *metric.Metrics
	logger    *zap.Logger

	mu       sync.RWMutex
	handlers map[sockets.Socket]Handler[D]
}

func New[D any](device D, transport sockets.Poller, opts ...Option) *Poller[D] {
	o := options{tick: DefaultTick, logger: zap.L()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metric.New()
	}
	return &Poller[D]{
		device:    device,
		transport: transport,
		tick:      o.tick,
		metrics:   o.metrics,
		logger:    o.logger,
		handlers:  make(map[sockets.Socket]Handler[D]),
	}
}

// Register binds h to s. The endpoint joins the transport poller on its first
// registration; registering again replaces the handler.
func (p *Poller[D]) Register(s sockets.Socket, h Handler[D]) error {
	if !s.Pattern().Readable() {
		return fmt.Errorf("%w: %s is %s", ErrNotPollable, s.Name(), s.Pattern())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, seen := p.handlers[s]; !seen {
		if err := p.transport.Add(s); err != nil {
			return fmt.Errorf("poll %s: %w", s.Name(), err)
		}
	}
	p.handlers[s] = h
	return nil
}

// Validate checks that every given endpoint has a handler.
func (p *Poller[D]) Validate(endpoints ...sockets.Socket) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var errs []error
	for _, s := range endpoints {
		if h, ok := p.handlers[s]; !ok || h == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnregisteredEndpoint, s.Name()))
		}
	}
	return errors.Join(errs...)
}

// Poll waits up to timeout and returns the endpoints with a message waiting.
func (p *Poller[D]) Poll(timeout time.Duration) ([]sockets.Socket, error) {
	return p.transport.Poll(timeout)
}

// Dispatch reads one message from s and hands it to the registered handler.
// Frames the handler leaves unread are discarded afterwards so the next
// message on s starts on a message boundary.
func (p *Poller[D]) Dispatch(ctx context.Context, s sockets.Socket) error {
	p.mu.RLock()
	h, ok := p.handlers[s]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredEndpoint, s.Name())
	}

	p.metrics.MessagesDispatched.WithLabelValues(s.Name()).Inc()
	handling := message.NewHandling(s)
	err := p.handle(ctx, s, h, handling)
	p.drain(s, handling)
	return err
}

func (p *Poller[D]) handle(ctx context.Context, s sockets.Socket, h Handler[D], handling *message.Handling) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	var identity []byte
	if s.Pattern().CarriesIdentity() {
		identity, err = handling.NextBytes()
		if err != nil {
			return fmt.Errorf("read identity: %w", err)
		}
		if len(identity) == 0 || handling.Done() {
			return ErrIdentityType
		}
	}
	return h.Handle(ctx, p.device, handling, identity)
}

func (p *Poller[D]) drain(s sockets.Socket, handling *message.Handling) {
	if handling.Done() {
		return
	}
	n, err := handling.Drain()
	if n > 0 {
		p.metrics.FramesDrained.WithLabelValues(s.Name()).Add(float64(n))
		p.logger.Warn("handler left frames unread",
			zap.String("endpoint", s.Name()),
			zap.Int("read", handling.Reads()-n),
			zap.Int("discarded", n),
		)
	}
	if err != nil {
		p.logger.Error("failed to discard unread frames", zap.String("endpoint", s.Name()), zap.Error(err))
	}
}

// Run polls and dispatches until ctx is done. Handler errors are logged and
// counted; a transport failure or an unregistered endpoint stops the loop.
func (p *Poller[D]) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ready, err := p.Poll(p.tick)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("poll: %w", err)
		}
		for _, s := range ready {
			err := p.Dispatch(ctx, s)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrUnregisteredEndpoint) {
				return err
			}
			p.metrics.HandlerErrors.WithLabelValues(s.Name()).Inc()
			p.logger.Error("failed to handle message",
				zap.String("endpoint", s.Name()),
				zap.Stringer("pattern", s.Pattern()),
				zap.Error(err),
			)
		}
	}
}
