package leddriver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/deimic-pi/internal/pkg/metric"
)

// Gate pauses pattern execution without stopping it.
type Gate struct {
	mu   sync.Mutex
	open chan struct{}
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{open: make(chan struct{})}
}

func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
	default:
		close(g.open)
	}
}

func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		g.open = make(chan struct{})
	default:
	}
}

func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor runs at most one pattern at a time on its own goroutine.
type Executor struct {
	gate    *Gate
	metrics *metric.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	name   string

	active atomic.Int32
}

func NewExecutor(gate *Gate, m *metric.Metrics) *Executor {
	return &Executor{
		gate:    gate,
		metrics: m,
		logger:  zap.L(),
	}
}

// Start stops the running pattern, waits for its worker to exit and then
// starts p.
func (e *Executor) Start(ctx context.Context, name string, p Pattern) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done, e.name = cancel, done, name

	e.active.Add(1)
	e.metrics.PatternWorkers.Inc()
	go func() {
		defer func() {
			e.active.Add(-1)
			e.metrics.PatternWorkers.Dec()
			close(done)
		}()
		e.run(ctx, name, p)
	}()
}

func (e *Executor) run(ctx context.Context, name string, p Pattern) {
	logger := e.logger.With(zap.String("pattern", name))
	logger.Info("pattern started")
	start := time.Now()
	var wait time.Duration
	for {
		if err := e.gate.Wait(ctx); err != nil || ctx.Err() != nil {
			logger.Info("pattern stopped")
			return
		}
		wait = p.Step(time.Since(start))
		if wait <= 0 {
			logger.Info("pattern finished")
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			logger.Info("pattern stopped")
			return
		}
	}
}

// Stop cancels the running pattern and waits for its worker to exit.
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Executor) stopLocked() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel, e.done = nil, nil
}

// Pattern is the name of the last pattern started.
func (e *Executor) Pattern() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// Active is the number of live workers; never more than one.
func (e *Executor) Active() int {
	return int(e.active.Load())
}
