package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anicoll/deimic-pi/internal/pkg/device"
	"github.com/anicoll/deimic-pi/internal/pkg/message"
	"github.com/anicoll/deimic-pi/internal/pkg/model"
	"github.com/anicoll/deimic-pi/internal/pkg/poller"
	"github.com/anicoll/deimic-pi/internal/pkg/state"
)

// AckReady is sent to a peripheral that reported READY when nothing is
// queued for it.
const AckReady = ":3"

// SourceExternal marks journal records submitted by external tools.
const SourceExternal = "EXTERNAL"

var (
	ErrUnknownRequest   = errors.New("unknown request")
	ErrMalformedRequest = errors.New("malformed request")
)

var (
	_ poller.Handler[*Bridge] = DeimicHandler{}
	_ poller.Handler[*Bridge] = InternalRepliesHandler{}
	_ poller.Handler[*Bridge] = ExternalRequestsHandler{}
)

// DeimicHandler handles frames from peripherals on the raw stream.
type DeimicHandler struct{}

func (DeimicHandler) Handle(_ context.Context, b *Bridge, h *message.Handling, identity []byte) error {
	frame, err := h.NextString()
	if err != nil {
		return fmt.Errorf("read deimic frame: %w", err)
	}
	// Only an untrimmed empty frame is a connect or disconnect.
	fields := model.SplitFields(frame)
	mt, ok := model.ParseDeimicMessageType(fields[0])
	if !ok || (mt == model.DeimicConnection && frame != "") {
		b.logger.Warn("unrecognised deimic message", zap.String("peer", state.PeerID(identity)), zap.String("frame", frame))
		return nil
	}

	switch mt {
	case model.DeimicConnection:
		b.handleConnection(identity)
	case model.DeimicOutput, model.DeimicInput:
		return b.handleStateUpdate(mt, fields[1:], identity)
	case model.DeimicReady:
		return b.handleReady(identity)
	case model.DeimicRequest:
		b.handleDeimicRequest(identity, fields[1:])
	}
	return nil
}

// The stream endpoint signals both connect and disconnect with an empty frame.
func (b *Bridge) handleConnection(identity []byte) {
	connected := b.state.TogglePeer(identity)
	b.metrics.ConnectedPeers.Set(float64(b.state.PeerCount()))
	b.logger.Info("deimic connection changed", zap.String("peer", state.PeerID(identity)), zap.Bool("connected", connected))
}

func (b *Bridge) handleStateUpdate(mt model.DeimicMessageType, fields []string, identity []byte) error {
	u, err := model.ParseStateUpdate(mt, fields, identity)
	if err != nil {
		return err
	}
	if err := message.SendParts(b.externBroadcaster, u.Parts()...); err != nil {
		return fmt.Errorf("broadcast %s: %w", u.Key(), err)
	}
	b.metrics.StateUpdates.WithLabelValues(u.Source, u.Component.String()).Inc()
	b.logger.Debug("state update", zap.Stringer("component", u.Key()), zap.Any("value", u.NewState))

	if b.state.Apply(u) {
		b.mirrors.Enqueue(u)
	}
	return nil
}

func (b *Bridge) handleReady(identity []byte) error {
	peer := state.PeerID(identity)
	if r, ok := b.pending.PopFor(identity); ok {
		b.metrics.PendingRequests.Set(float64(b.pending.Len()))
		b.logger.Info("delivering pending request", zap.String("peer", peer), zap.Stringer("request_id", r.ID))
		return message.SendParts(b.deimicStream, message.Raw(identity), message.String(r.Payload))
	}
	b.logger.Debug("acknowledging ready peer", zap.String("peer", peer))
	return message.SendParts(b.deimicStream, message.Raw(identity), message.String(AckReady))
}

func (b *Bridge) handleDeimicRequest(identity []byte, fields []string) {
	r := b.journal.Record(model.SourceDeimic, fields)
	b.logger.Info("deimic request recorded",
		zap.String("peer", state.PeerID(identity)),
		zap.String("request_id", r.ID),
		zap.Strings("fields", fields),
	)
}

// InternalRepliesHandler relays reports of internal peripherals to external
// subscribers.
type InternalRepliesHandler struct{}

func (InternalRepliesHandler) Handle(_ context.Context, b *Bridge, h *message.Handling, _ []byte) error {
	topic, err := h.NextString()
	if err != nil {
		return fmt.Errorf("read topic: %w", err)
	}
	mt, err := h.NextString()
	if err != nil {
		return fmt.Errorf("read message type: %w", err)
	}

	switch model.MessageType(mt) {
	case model.MessageStateUpdate:
		source, err := h.NextString()
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		var status any
		if err := h.NextJSON(&status); err != nil {
			return fmt.Errorf("read %s status: %w", source, err)
		}
		b.metrics.StateUpdates.WithLabelValues(source, "").Inc()
		b.logger.Debug("internal state update", zap.String("topic", topic), zap.String("source", source))
		return message.SendParts(b.externBroadcaster,
			message.String(model.MessageStateUpdate.String()),
			message.Empty(),
			message.String(source),
			message.Empty(),
			message.JSON(status),
		)
	default:
		n, err := h.Drain()
		b.logger.Info("ignoring internal message", zap.String("topic", topic), zap.String("type", mt), zap.Int("frames", n))
		return err
	}
}

// ExternalRequestsHandler answers external tools. Every request gets exactly
// one reply.
type ExternalRequestsHandler struct{}

func (ExternalRequestsHandler) Handle(_ context.Context, b *Bridge, h *message.Handling, identity []byte) error {
	reply, err := b.handleExternal(h)
	if err != nil {
		reply = []message.Part{message.String(string(model.ReplyError)), message.String(err.Error())}
	}
	parts := append([]message.Part{message.Raw(identity), message.Empty()}, reply...)
	if sendErr := message.SendParts(b.externListener, parts...); sendErr != nil {
		return errors.Join(err, fmt.Errorf("reply: %w", sendErr))
	}
	return err
}

func (b *Bridge) handleExternal(h *message.Handling) ([]message.Part, error) {
	delimiter, err := h.NextBytes()
	if err != nil {
		return nil, err
	}
	if len(delimiter) != 0 || h.Done() {
		return nil, fmt.Errorf("%w: missing envelope delimiter", ErrMalformedRequest)
	}
	kind, err := h.NextString()
	if err != nil {
		return nil, err
	}

	switch model.ExternalRequestKind(kind) {
	case model.ExternalState:
		return []message.Part{
			message.String(string(model.ReplyState)),
			message.JSON(b.state.Snapshot()),
		}, nil

	case model.ExternalCommand:
		if h.Done() {
			return nil, fmt.Errorf("%w: command without target", ErrMalformedRequest)
		}
		target, err := h.NextString()
		if err != nil {
			return nil, err
		}
		sig, err := device.ParseSignature(target)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		frames, err := h.RestFrames()
		if err != nil {
			return nil, err
		}
		if len(frames) == 0 {
			return nil, fmt.Errorf("%w: empty command", ErrMalformedRequest)
		}
		if err := message.SendFrames(b.interBroadcaster, append([][]byte{[]byte(sig.Topic())}, frames...)...); err != nil {
			return nil, fmt.Errorf("forward command: %w", err)
		}
		b.logger.Info("command forwarded", zap.Stringer("target", sig), zap.ByteString("command", frames[0]))
		return []message.Part{message.String(string(model.ReplyOK))}, nil

	case model.ExternalRequest:
		if h.Done() {
			return nil, fmt.Errorf("%w: request without payload", ErrMalformedRequest)
		}
		var payload any
		if err := h.NextJSON(&payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		r := b.journal.Record(SourceExternal, payload)
		b.logger.Info("external request recorded", zap.String("request_id", r.ID))
		return []message.Part{message.String(string(model.ReplyRecorded)), message.String(r.ID)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, kind)
}
