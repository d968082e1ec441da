// Package leddriver is the internal peripheral driving an LED strip from
// commands broadcast by the bridge.
package leddriver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anicoll/deimic-pi/internal/pkg/config"
	"github.com/anicoll/deimic-pi/internal/pkg/device"
	"github.com/anicoll/deimic-pi/internal/pkg/message"
	"github.com/anicoll/deimic-pi/internal/pkg/metric"
	"github.com/anicoll/deimic-pi/internal/pkg/model"
	"github.com/anicoll/deimic-pi/internal/pkg/poller"
	"github.com/anicoll/deimic-pi/pkg/sockets"
)

// Endpoint names.
const (
	RequestsSocket = "requests_socket"
	Broadcaster    = "broadcaster"
)

// RequestType is the second frame of a request broadcast to the driver.
type RequestType string

const (
	RequestOff     RequestType = "OFF"
	RequestOn      RequestType = "ON"
	RequestPattern RequestType = "PATTERN"
)

var ErrUnknownRequest = errors.New("unknown led driver request")

type LedDriver struct {
	*device.Device
	poller *poller.Poller[*LedDriver]

	requests    sockets.Socket
	broadcaster sockets.Socket

	strip    Strip
	gate     *Gate
	executor *Executor
	metrics  *metric.Metrics
	logger   *zap.Logger
}

type Option func(*LedDriver)

func WithStrip(s Strip) Option {
	return func(d *LedDriver) {
		d.strip = s
	}
}

func WithMetrics(m *metric.Metrics) Option {
	return func(d *LedDriver) {
		d.metrics = m
	}
}

// New connects to the bridge, subscribing to every broadcast that concerns
// the LED driver role.
func New(settings *config.Settings, factory sockets.Factory, opts ...Option) (*LedDriver, error) {
	dev := device.New(device.LedDriver, settings, factory)
	d := &LedDriver{
		Device: dev,
		gate:   NewGate(),
		logger: dev.Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metric.New()
	}
	if d.strip == nil {
		d.strip = NewMemoryStrip(settings.LedDriver.StripLength)
	}
	d.executor = NewExecutor(d.gate, d.metrics)

	topics := device.Topics(device.LedDriver.FamiliarSignatures())
	var err error
	if d.requests, err = d.Connect(RequestsSocket, sockets.Sub, settings.InterBroadcasterPort, sockets.Subscribe(topics...)); err != nil {
		_ = dev.Close()
		return nil, err
	}
	if d.broadcaster, err = d.Connect(Broadcaster, sockets.Pub, settings.InterListenerPort); err != nil {
		_ = dev.Close()
		return nil, err
	}
	dev.Seal()

	d.poller = poller.New(d, dev.NewPoller(), poller.WithMetrics(d.metrics), poller.WithLogger(d.logger))
	if err := d.poller.Register(d.requests, RequestHandler{}); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return d, nil
}

// Execute runs the poll loop until ctx is done, then stops the pattern worker.
func (d *LedDriver) Execute(ctx context.Context) error {
	defer d.executor.Stop()
	d.logger.Info("led driver running", zap.Int("strip_length", d.strip.Len()), zap.Int("data_pin", d.Settings.LedDriver.DataPin))
	return d.poller.Run(ctx)
}

func (d *LedDriver) Close() error {
	d.executor.Stop()
	return d.Device.Close()
}

func (d *LedDriver) Status() model.LedStatus {
	return model.LedStatus{Running: d.gate.IsOpen(), Pattern: d.executor.Pattern()}
}

// report sends the driver's status to the bridge.
func (d *LedDriver) report() error {
	return message.SendParts(d.broadcaster,
		message.String(device.Bridge.Signature().Topic()),
		message.String(model.MessageStateUpdate.String()),
		message.String(model.SourceLedDriver),
		message.JSON(d.Status()),
	)
}

// RequestHandler applies requests addressed to the LED driver and reports
// the resulting status after each one.
type RequestHandler struct{}

var _ poller.Handler[*LedDriver] = RequestHandler{}

func (RequestHandler) Handle(ctx context.Context, d *LedDriver, h *message.Handling, _ []byte) error {
	err := d.apply(ctx, h)
	if rerr := d.report(); rerr != nil {
		return errors.Join(err, fmt.Errorf("report status: %w", rerr))
	}
	return err
}

func (d *LedDriver) apply(ctx context.Context, h *message.Handling) error {
	if _, err := h.NextString(); err != nil {
		return fmt.Errorf("read target: %w", err)
	}
	rt, err := h.NextString()
	if err != nil {
		return fmt.Errorf("read request type: %w", err)
	}

	switch RequestType(rt) {
	case RequestOff:
		d.gate.Close()
		d.logger.Info("led strip paused")
	case RequestOn:
		d.gate.Open()
		d.logger.Info("led strip resumed")
	case RequestPattern:
		name, err := h.NextString()
		if err != nil {
			return fmt.Errorf("read pattern name: %w", err)
		}
		var params []byte
		if !h.Done() {
			if params, err = h.NextBytes(); err != nil {
				return fmt.Errorf("read pattern params: %w", err)
			}
		}
		if len(params) == 0 {
			params = []byte("{}")
		}
		factory, err := LookupPattern(name)
		if err != nil {
			return err
		}
		p, err := factory(d.strip, params)
		if err != nil {
			return fmt.Errorf("pattern %s: %w", name, err)
		}
		d.executor.Start(ctx, name, p)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRequest, rt)
	}
	return nil
}
