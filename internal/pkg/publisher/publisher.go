package publisher

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/deimic-pi/internal/pkg/metric"
	"github.com/anicoll/deimic-pi/internal/pkg/model"
)

var ErrAlreadyRegistered = errors.New("publisher already registered")

// Mirror receives every changed component state seen by the bridge.
type Mirror interface {
	// RegisterComponent announces a component before its first state.
	RegisterComponent(key model.ComponentKey) error
	Write(ctx context.Context, state model.MirroredState) error
}

// DefaultQueueSize is how many updates may wait for the mirrors before new
// ones are dropped.
const DefaultQueueSize = 256

// Registry fans state updates out to named mirrors.
type Registry struct {
	mu         sync.RWMutex
	mirrors    map[string]Mirror
	registered map[string]map[model.ComponentKey]struct{}
	queue      chan model.StateUpdate
	metrics    *metric.Metrics
	logger     *zap.Logger
}

type Option func(*Registry)

func WithQueueSize(n int) Option {
	return func(r *Registry) {
		r.queue = make(chan model.StateUpdate, n)
	}
}

func New(m *metric.Metrics, opts ...Option) *Registry {
	r := &Registry{
		mirrors:    make(map[string]Mirror),
		registered: make(map[string]map[model.ComponentKey]struct{}),
		queue:      make(chan model.StateUpdate, DefaultQueueSize),
		metrics:    m,
		logger:     zap.L(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(name string, m Mirror) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mirrors[name]; ok {
		return ErrAlreadyRegistered
	}
	r.mirrors[name] = m
	r.registered[name] = make(map[model.ComponentKey]struct{})
	return nil
}

// Names lists the registered mirrors in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.mirrors)
	slices.Sort(names)
	return names
}

// Enqueue hands u to Run without blocking. When the queue is full the update
// is dropped and false is returned.
func (r *Registry) Enqueue(u model.StateUpdate) bool {
	if len(r.Names()) == 0 {
		return true
	}
	select {
	case r.queue <- u:
		return true
	default:
		if r.metrics != nil {
			r.metrics.MirrorDropped.Inc()
		}
		r.logger.Warn("mirror queue full, dropping update", zap.Stringer("component", u.Key()))
		return false
	}
}

// Run publishes queued updates until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-r.queue:
			r.Publish(ctx, u)
		}
	}
}

// Publish writes u to every mirror. A component is announced to a mirror
// before its first write, and again on the next update if that failed. A
// failing mirror is logged and counted and does not stop the others.
func (r *Registry) Publish(ctx context.Context, u model.StateUpdate) {
	key := u.Key()
	state := model.NewMirroredState(u)
	for _, name := range r.Names() {
		r.mu.RLock()
		m := r.mirrors[name]
		_, known := r.registered[name][key]
		r.mu.RUnlock()

		if !known {
			if err := m.RegisterComponent(key); err != nil {
				r.fail(name, "failed to register component", key, err)
				continue
			}
			r.mu.Lock()
			r.registered[name][key] = struct{}{}
			r.mu.Unlock()
			r.logger.Debug("registered component", zap.Stringer("component", key), zap.String("publisher", name))
		}
		if err := m.Write(ctx, state); err != nil {
			r.fail(name, "failed to publish state", key, err)
			continue
		}
		r.logger.Debug("updated component", zap.Stringer("component", key), zap.String("publisher", name))
	}
}

func (r *Registry) fail(name, msg string, key model.ComponentKey, err error) {
	if r.metrics != nil {
		r.metrics.MirrorErrors.WithLabelValues(name).Inc()
	}
	r.logger.Error(msg, zap.Error(err), zap.String("publisher", name), zap.Stringer("component", key))
}
