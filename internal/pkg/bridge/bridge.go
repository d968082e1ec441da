// Package bridge is the central device. It terminates the Deimic raw stream,
// relays internal peripherals' reports and serves external tools.
package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/anicoll/deimic-pi/internal/pkg/config"
	"github.com/anicoll/deimic-pi/internal/pkg/device"
	"github.com/anicoll/deimic-pi/internal/pkg/metric"
	"github.com/anicoll/deimic-pi/internal/pkg/poller"
	"github.com/anicoll/deimic-pi/internal/pkg/publisher"
	"github.com/anicoll/deimic-pi/internal/pkg/requests"
	"github.com/anicoll/deimic-pi/internal/pkg/state"
	"github.com/anicoll/deimic-pi/pkg/sockets"
)

// Endpoint names.
const (
	DeimicStream      = "deimic_stream"
	InterBroadcaster  = "inter_broadcaster"
	InterListener     = "inter_listener"
	ExternListener    = "extern_listener"
	ExternBroadcaster = "extern_broadcaster"
)

type Bridge struct {
	*device.Device
	poller *poller.Poller[*Bridge]

	deimicStream      sockets.Socket
	interBroadcaster  sockets.Socket
	interListener     sockets.Socket
	externListener    sockets.Socket
	externBroadcaster sockets.Socket

	state   *state.Cache
	pending *requests.Queue
	journal *requests.Journal
	mirrors *publisher.Registry
	metrics *metric.Metrics
	logger  *zap.Logger
}

type Option func(*Bridge)

func WithMetrics(m *metric.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithMirrors sets the registry changed states are fanned out to.
func WithMirrors(r *publisher.Registry) Option {
	return func(b *Bridge) {
		b.mirrors = r
	}
}

// New binds every bridge endpoint and registers the handlers. If any
// endpoint cannot be bound the ones already bound are closed.
func New(settings *config.Settings, factory sockets.Factory, opts ...Option) (*Bridge, error) {
	dev := device.New(device.Bridge, settings, factory)
	b := &Bridge{
		Device:  dev,
		state:   state.New(),
		pending: requests.NewQueue(settings.Bridge.RequestQueueCap, settings.Bridge.RequestTTL),
		journal: requests.NewJournal(settings.Bridge.JournalSize),
		logger:  dev.Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = metric.New()
	}
	if b.mirrors == nil {
		b.mirrors = publisher.New(b.metrics)
	}

	if err := b.bind(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	dev.Seal()

	b.poller = poller.New(b, dev.NewPoller(), poller.WithMetrics(b.metrics), poller.WithLogger(b.logger))
	if err := b.register(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bridge) bind() error {
	s := b.Settings
	var err error
	if b.deimicStream, err = b.Bind(DeimicStream, sockets.Stream, s.DeimicPort); err != nil {
		return err
	}
	if b.interBroadcaster, err = b.Bind(InterBroadcaster, sockets.Pub, s.InterBroadcasterPort); err != nil {
		return err
	}
	if b.interListener, err = b.Bind(InterListener, sockets.Sub, s.InterListenerPort, sockets.Subscribe("")); err != nil {
		return err
	}
	if b.externListener, err = b.Bind(ExternListener, sockets.Router, s.ExternReqPort); err != nil {
		return err
	}
	if b.externBroadcaster, err = b.Bind(ExternBroadcaster, sockets.Pub, s.ExternBcstPort); err != nil {
		return err
	}
	return nil
}

func (b *Bridge) register() error {
	if err := b.poller.Register(b.deimicStream, DeimicHandler{}); err != nil {
		return err
	}
	if err := b.poller.Register(b.interListener, InternalRepliesHandler{}); err != nil {
		return err
	}
	if err := b.poller.Register(b.externListener, ExternalRequestsHandler{}); err != nil {
		return err
	}
	return b.poller.Validate(b.deimicStream, b.interListener, b.externListener)
}

// Execute runs the poll loop until ctx is done.
func (b *Bridge) Execute(ctx context.Context) error {
	b.logger.Info("bridge running",
		zap.Uint16("deimic_port", uint16(b.Settings.DeimicPort)),
		zap.Uint16("extern_req_port", uint16(b.Settings.ExternReqPort)),
	)
	return b.poller.Run(ctx)
}

func (b *Bridge) State() *state.Cache          { return b.state }
func (b *Bridge) Journal() *requests.Journal   { return b.journal }
func (b *Bridge) Metrics() *metric.Metrics     { return b.metrics }
func (b *Bridge) Mirrors() *publisher.Registry { return b.mirrors }

// QueueRequest holds payload until the peripheral with identity next reports
// READY, at which point it is sent in place of the acknowledgment.
func (b *Bridge) QueueRequest(identity []byte, payload string) (requests.Request, error) {
	r, err := b.pending.Push(identity, payload)
	if err != nil {
		return r, fmt.Errorf("queue request for %s: %w", state.PeerID(identity), err)
	}
	b.metrics.PendingRequests.Set(float64(b.pending.Len()))
	return r, nil
}

// ExpirePending drops requests whose peripheral never became ready in time.
func (b *Bridge) ExpirePending() {
	expired := b.pending.Expire()
	for _, r := range expired {
		b.logger.Warn("pending request expired",
			zap.Stringer("request_id", r.ID),
			zap.String("peer", state.PeerID(r.Identity)),
			zap.Time("queued_at", r.QueuedAt),
		)
	}
	b.metrics.PendingRequests.Set(float64(b.pending.Len()))
}
