package poller

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anicoll/deimic-pi/internal/pkg/message"
	"github.com/anicoll/deimic-pi/internal/pkg/metric"
	"github.com/anicoll/deimic-pi/pkg/sockets"
	"github.com/anicoll/deimic-pi/pkg/sockets/socketstest"
)

type testDevice struct {
	seen []string
}

type recordHandler struct {
	label string
}

func (r recordHandler) Handle(_ context.Context, d *testDevice, h *message.Handling, identity []byte) error {
	frames, err := h.Rest(message.PartString)
	if err != nil {
		return err
	}
	line := r.label + ":" + string(identity)
	for _, f := range frames {
		line += "|" + f.(string)
	}
	d.seen = append(d.seen, line)
	return nil
}

func newPoller(t *testing.T, d *testDevice, opts ...Option) (*Poller[*testDevice], *socketstest.Poller) {
	t.Helper()
	transport := &socketstest.Poller{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New[*testDevice](d, transport, opts...), transport
}

func TestRegister_LastWins(t *testing.T) {
	d := &testDevice{}
	p, _ := newPoller(t, d)
	sub := socketstest.NewSocket("inter_listener", sockets.Sub)

	require.NoError(t, p.Register(sub, recordHandler{label: "first"}))
	require.NoError(t, p.Register(sub, recordHandler{label: "second"}))

	sub.DeliverStrings("001", "ON")
	require.NoError(t, p.Dispatch(context.Background(), sub))
	assert.Equal(t, []string{"second:|001|ON"}, d.seen)

	ready, err := p.Poll(0)
	require.NoError(t, err)
	assert.Empty(t, ready)

	sub.DeliverStrings("x")
	ready, err = p.Poll(0)
	require.NoError(t, err)
	assert.Len(t, ready, 1, "endpoint added to the transport once")
}

func TestRegister_WriteOnlyEndpoint(t *testing.T) {
	p, _ := newPoller(t, &testDevice{})
	err := p.Register(socketstest.NewSocket("inter_broadcaster", sockets.Pub), recordHandler{})
	assert.ErrorIs(t, err, ErrNotPollable)
}

func TestRegister_ForeignSocket(t *testing.T) {
	p, _ := newPoller(t, &testDevice{})
	foreign := struct{ sockets.Socket }{socketstest.NewSocket("x", sockets.Sub)}
	err := p.Register(foreign, recordHandler{})
	assert.ErrorIs(t, err, sockets.ErrForeignSocket)
}

func TestValidate(t *testing.T) {
	p, _ := newPoller(t, &testDevice{})
	a := socketstest.NewSocket("a", sockets.Sub)
	b := socketstest.NewSocket("b", sockets.Router)
	require.NoError(t, p.Register(a, recordHandler{}))

	assert.NoError(t, p.Validate(a))
	assert.ErrorIs(t, p.Validate(a, b), ErrUnregisteredEndpoint)
}

func TestDispatch_Unregistered(t *testing.T) {
	p, _ := newPoller(t, &testDevice{})
	err := p.Dispatch(context.Background(), socketstest.NewSocket("a", sockets.Sub))
	assert.ErrorIs(t, err, ErrUnregisteredEndpoint)
}

func TestDispatch_Identity(t *testing.T) {
	d := &testDevice{}
	p, _ := newPoller(t, d)
	stream := socketstest.NewSocket("deimic_stream", sockets.Stream)
	require.NoError(t, p.Register(stream, recordHandler{label: "stream"}))

	stream.DeliverStrings("p1", "READY")
	require.NoError(t, p.Dispatch(context.Background(), stream))
	assert.Equal(t, []string{"stream:p1|READY"}, d.seen)
}

func TestDispatch_IdentityType(t *testing.T) {
	tests := map[string][]string{
		"empty identity":     {"", "READY"},
		"identity only":      {"p1"},
		"empty single frame": {""},
	}
	for name, frames := range tests {
		t.Run(name, func(t *testing.T) {
			d := &testDevice{}
			p, _ := newPoller(t, d)
			router := socketstest.NewSocket("extern_listener", sockets.Router)
			require.NoError(t, p.Register(router, recordHandler{}))

			router.DeliverStrings(frames...)
			err := p.Dispatch(context.Background(), router)
			assert.ErrorIs(t, err, ErrIdentityType)
			assert.Empty(t, d.seen)
			assert.False(t, router.Readable(), "message fully consumed")
		})
	}
}

func TestDispatch_DrainsUnreadFrames(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := metric.New()
	p, _ := newPoller(t, &testDevice{}, WithLogger(zap.New(core)), WithMetrics(m))
	sub := socketstest.NewSocket("inter_listener", sockets.Sub)

	lazy := HandlerFunc[*testDevice](func(_ context.Context, _ *testDevice, h *message.Handling, _ []byte) error {
		_, err := h.NextString()
		return err
	})
	require.NoError(t, p.Register(sub, lazy))

	sub.DeliverStrings("064", "STATE_UPDATE", "LED_DRIVER", "{}")
	sub.DeliverStrings("001", "OFF")
	require.NoError(t, p.Dispatch(context.Background(), sub))

	assert.Equal(t, 4, sub.Reads())
	require.Equal(t, 1, logs.FilterMessage("handler left frames unread").Len())
	entry := logs.All()[0]
	assert.Equal(t, int64(3), entry.ContextMap()["discarded"])
	assert.Equal(t, int64(1), entry.ContextMap()["read"])
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FramesDrained.WithLabelValues("inter_listener")))

	var next []string
	seen := HandlerFunc[*testDevice](func(_ context.Context, _ *testDevice, h *message.Handling, _ []byte) error {
		frames, err := h.Rest(message.PartString)
		for _, f := range frames {
			next = append(next, f.(string))
		}
		return err
	})
	require.NoError(t, p.Register(sub, seen))
	require.NoError(t, p.Dispatch(context.Background(), sub))
	assert.Equal(t, []string{"001", "OFF"}, next, "next message starts on its boundary")
}

func TestDispatch_RecoversPanic(t *testing.T) {
	p, _ := newPoller(t, &testDevice{})
	sub := socketstest.NewSocket("inter_listener", sockets.Sub)
	require.NoError(t, p.Register(sub, HandlerFunc[*testDevice](func(context.Context, *testDevice, *message.Handling, []byte) error {
		panic("boom")
	})))

	sub.DeliverStrings("a", "b")
	err := p.Dispatch(context.Background(), sub)
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.False(t, sub.Readable())
}

func TestRun_IsolatesHandlerErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	m := metric.New()
	d := &testDevice{}
	p, transport := newPoller(t, d, WithLogger(zap.New(core)), WithMetrics(m))

	x := socketstest.NewSocket("x", sockets.Sub)
	y := socketstest.NewSocket("y", sockets.Sub)
	boom := errors.New("boom")
	require.NoError(t, p.Register(x, HandlerFunc[*testDevice](func(context.Context, *testDevice, *message.Handling, []byte) error {
		return boom
	})))
	require.NoError(t, p.Register(y, recordHandler{label: "y"}))

	x.DeliverStrings("bad")
	y.DeliverStrings("good")

	ctx, cancel := context.WithCancel(context.Background())
	transport.OnIdle = cancel

	require.NoError(t, p.Run(ctx))
	assert.Equal(t, []string{"y:|good"}, d.seen)
	assert.Equal(t, 1, logs.FilterMessage("failed to handle message").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerErrors.WithLabelValues("x")))
}

func TestRun_PollErrorIsFatal(t *testing.T) {
	p, transport := newPoller(t, &testDevice{})
	boom := errors.New("context terminated")
	transport.Err = boom

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRun_StopsOnCancel(t *testing.T) {
	p, _ := newPoller(t, &testDevice{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, p.Run(ctx))
}
