// Package clitool is the external consumer role: it follows the bridge's
// public broadcast and sends requests to the bridge's request endpoint.
package clitool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/deimic-pi/internal/pkg/config"
	"github.com/anicoll/deimic-pi/internal/pkg/device"
	"github.com/anicoll/deimic-pi/internal/pkg/message"
	"github.com/anicoll/deimic-pi/internal/pkg/metric"
	"github.com/anicoll/deimic-pi/internal/pkg/model"
	"github.com/anicoll/deimic-pi/internal/pkg/poller"
	"github.com/anicoll/deimic-pi/internal/pkg/state"
	"github.com/anicoll/deimic-pi/pkg/sockets"
)

// Endpoint names.
const (
	MonitorSocket = "monitor_socket"
	RequestSocket = "request_socket"
)

var (
	ErrRequestFailed   = errors.New("request failed")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

type CLITool struct {
	*device.Device
	poller *poller.Poller[*CLITool]

	monitor sockets.Socket
	request sockets.Socket

	outMu   sync.Mutex
	out     *json.Encoder
	metrics *metric.Metrics
	logger  *zap.Logger
}

type Option func(*CLITool)

// WithOutput sets where monitored updates are written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(c *CLITool) {
		c.out = json.NewEncoder(w)
	}
}

func WithMetrics(m *metric.Metrics) Option {
	return func(c *CLITool) {
		c.metrics = m
	}
}

func New(settings *config.Settings, factory sockets.Factory, opts ...Option) (*CLITool, error) {
	dev := device.New(device.CLITool, settings, factory)
	c := &CLITool{
		Device: dev,
		out:    json.NewEncoder(os.Stdout),
		logger: dev.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metric.New()
	}

	var err error
	if c.monitor, err = c.Connect(MonitorSocket, sockets.Sub, settings.ExternBcstPort, sockets.Subscribe("")); err != nil {
		_ = dev.Close()
		return nil, err
	}
	if c.request, err = c.Connect(RequestSocket, sockets.Req, settings.ExternReqPort, sockets.WithRecvTimeout(settings.CLITool.RequestTimeout)); err != nil {
		_ = dev.Close()
		return nil, err
	}
	dev.Seal()

	c.poller = poller.New(c, dev.NewPoller(), poller.WithMetrics(c.metrics), poller.WithLogger(c.logger))
	if err := c.poller.Register(c.monitor, MonitorHandler{}); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return c, nil
}

// Execute follows the broadcast until ctx is done.
func (c *CLITool) Execute(ctx context.Context) error {
	c.logger.Info("monitoring bridge broadcast")
	return c.poller.Run(ctx)
}

// Update is one line of monitor output.
type Update struct {
	Type   model.MessageType `json:"type"`
	Source string            `json:"source"`
	Update any               `json:"update"`
}

func (c *CLITool) write(u Update) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.out.Encode(u)
}

// MonitorHandler writes every state update broadcast by the bridge.
type MonitorHandler struct{}

var _ poller.Handler[*CLITool] = MonitorHandler{}

func (MonitorHandler) Handle(_ context.Context, c *CLITool, h *message.Handling, _ []byte) error {
	mt, err := h.NextString()
	if err != nil {
		return fmt.Errorf("read message type: %w", err)
	}
	if model.MessageType(mt) != model.MessageStateUpdate {
		n, err := h.Drain()
		c.logger.Debug("ignoring broadcast", zap.String("type", mt), zap.Int("frames", n))
		return err
	}

	if _, err := h.NextBytes(); err != nil {
		return err
	}
	source, err := h.NextString()
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if _, err := h.NextBytes(); err != nil {
		return err
	}

	out := Update{Type: model.MessageStateUpdate, Source: source}
	if source == model.SourceDeimic {
		u, err := model.DecodeStateUpdateBody(h, source)
		if err != nil {
			return err
		}
		out.Update = model.NewMirroredState(u)
	} else {
		var status json.RawMessage
		if err := h.NextJSON(&status); err != nil {
			return fmt.Errorf("decode %s status: %w", source, err)
		}
		out.Update = status
	}
	return c.write(out)
}

// Reply is the bridge's answer to a request, without the envelope.
type Reply struct {
	Status model.ReplyStatus
	Frames [][]byte
}

// Request sends one request and waits for the reply, bounded by the
// configured request timeout. An ERROR reply is returned as ErrRequestFailed.
func (c *CLITool) Request(kind model.ExternalRequestKind, args ...message.Part) (Reply, error) {
	parts := append([]message.Part{message.String(string(kind))}, args...)
	if err := message.SendParts(c.request, parts...); err != nil {
		return Reply{}, fmt.Errorf("send %s: %w", kind, err)
	}

	h := message.NewHandling(c.request)
	status, err := h.NextString()
	if err != nil {
		return Reply{}, fmt.Errorf("receive %s reply: %w", kind, err)
	}
	frames, err := h.RestFrames()
	if err != nil {
		return Reply{}, fmt.Errorf("receive %s reply: %w", kind, err)
	}
	r := Reply{Status: model.ReplyStatus(status), Frames: frames}
	if r.Status == model.ReplyError {
		reason := ""
		if len(frames) > 0 {
			reason = string(frames[0])
		}
		return r, fmt.Errorf("%w: %s", ErrRequestFailed, reason)
	}
	c.logger.Debug("reply received", zap.String("kind", string(kind)), zap.String("status", status))
	return r, nil
}

// State fetches the bridge's state snapshot.
func (c *CLITool) State() (state.Snapshot, error) {
	var snap state.Snapshot
	r, err := c.Request(model.ExternalState)
	if err != nil {
		return snap, err
	}
	if r.Status != model.ReplyState || len(r.Frames) != 1 {
		return snap, fmt.Errorf("%w: %s with %d frames", ErrUnexpectedReply, r.Status, len(r.Frames))
	}
	if err := message.DecodeJSON(r.Frames[0], &snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Command asks the bridge to forward frames to every role matching target.
func (c *CLITool) Command(target device.Signature, frames ...string) error {
	args := []message.Part{message.String(fmt.Sprint(uint8(target)))}
	for _, f := range frames {
		args = append(args, message.String(f))
	}
	r, err := c.Request(model.ExternalCommand, args...)
	if err != nil {
		return err
	}
	if r.Status != model.ReplyOK {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, r.Status)
	}
	return nil
}

// Record submits a payload to the bridge's request journal and returns the
// record id.
func (c *CLITool) Record(payload any) (string, error) {
	r, err := c.Request(model.ExternalRequest, message.JSON(payload))
	if err != nil {
		return "", err
	}
	if r.Status != model.ReplyRecorded || len(r.Frames) != 1 {
		return "", fmt.Errorf("%w: %s with %d frames", ErrUnexpectedReply, r.Status, len(r.Frames))
	}
	return string(r.Frames[0]), nil
}
