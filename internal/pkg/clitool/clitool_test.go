package clitool

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/deimic-pi/internal/pkg/config"
	"github.com/anicoll/deimic-pi/internal/pkg/device"
	"github.com/anicoll/deimic-pi/internal/pkg/message"
	"github.com/anicoll/deimic-pi/internal/pkg/model"
	"github.com/anicoll/deimic-pi/pkg/sockets"
	"github.com/anicoll/deimic-pi/pkg/sockets/socketstest"
)

func newTool(t *testing.T) (*CLITool, *socketstest.Factory, *bytes.Buffer) {
	t.Helper()
	s := config.Default()
	f := socketstest.NewFactory()
	out := &bytes.Buffer{}
	c, err := New(&s, f, WithOutput(out))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, f, out
}

func deliverParts(t *testing.T, s *socketstest.Socket, parts ...message.Part) {
	t.Helper()
	frames := make([][]byte, len(parts))
	for i, p := range parts {
		frame, err := message.EncodePart(p)
		require.NoError(t, err)
		frames[i] = frame
	}
	s.Deliver(frames...)
}

func lines(out *bytes.Buffer) []string {
	return strings.Split(strings.TrimSpace(out.String()), "\n")
}

func TestNew_Topology(t *testing.T) {
	_, f, _ := newTool(t)

	mon := f.Socket(MonitorSocket)
	assert.Equal(t, sockets.Sub, mon.Pattern())
	assert.Equal(t, []string{"tcp://localhost:5558"}, mon.Connected())
	assert.Equal(t, []string{""}, mon.Subscriptions())

	req := f.Socket(RequestSocket)
	assert.Equal(t, sockets.Req, req.Pattern())
	assert.Equal(t, []string{"tcp://localhost:5559"}, req.Connected())
}

func TestNew_ConnectFailureClosesEndpoints(t *testing.T) {
	s := config.Default()
	f := socketstest.NewFactory()
	f.ConnectErrs["tcp://localhost:5559"] = assert.AnError

	_, err := New(&s, f)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, f.Socket(MonitorSocket).Closes())
}

func TestMonitor_DeimicUpdate(t *testing.T) {
	c, f, out := newTool(t)
	u := model.StateUpdate{
		Source:    model.SourceDeimic,
		Component: model.ComponentOutput,
		Address:   "A",
		Number:    3,
		NewState:  int64(1),
	}
	deliverParts(t, f.Socket(MonitorSocket), u.Parts()...)

	require.NoError(t, c.poller.Dispatch(context.Background(), f.Socket(MonitorSocket)))

	var got struct {
		Type   string              `json:"type"`
		Source string              `json:"source"`
		Update model.MirroredState `json:"update"`
	}
	require.Len(t, lines(out), 1)
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "STATE_UPDATE", got.Type)
	assert.Equal(t, "DEIMIC", got.Source)
	assert.Equal(t, model.ComponentOutput, got.Update.Component)
	assert.Equal(t, "A", got.Update.Address)
	assert.Equal(t, 3, got.Update.Number)
	assert.Equal(t, 1.0, got.Update.Value)
}

func TestMonitor_PeripheralStatus(t *testing.T) {
	c, f, out := newTool(t)
	deliverParts(t, f.Socket(MonitorSocket),
		message.String("STATE_UPDATE"),
		message.Empty(),
		message.String(model.SourceLedDriver),
		message.Empty(),
		message.JSON(model.LedStatus{Running: true, Pattern: "ConstColorPattern"}),
	)

	require.NoError(t, c.poller.Dispatch(context.Background(), f.Socket(MonitorSocket)))
	assert.JSONEq(t,
		`{"type":"STATE_UPDATE","source":"LED_DRIVER","update":{"running":true,"pattern":"ConstColorPattern"}}`,
		out.String())
}

func TestMonitor_Errors(t *testing.T) {
	tests := map[string]struct {
		frames []string
		want   error
	}{
		"truncated envelope": {[]string{"STATE_UPDATE", ""}, message.ErrHandlingFinished},
		"bad deimic body":    {[]string{"STATE_UPDATE", "", "DEIMIC", "", "x"}, model.ErrMalformedStateUpdate},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c, f, out := newTool(t)
			f.Socket(MonitorSocket).DeliverStrings(tt.frames...)
			err := c.poller.Dispatch(context.Background(), f.Socket(MonitorSocket))
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, out.String())
		})
	}
}

func TestMonitor_BadStatusJSON(t *testing.T) {
	c, f, out := newTool(t)
	f.Socket(MonitorSocket).DeliverStrings("STATE_UPDATE", "", "LED_DRIVER", "", "{")

	err := c.poller.Dispatch(context.Background(), f.Socket(MonitorSocket))
	assert.ErrorContains(t, err, "decode LED_DRIVER status")
	assert.Empty(t, out.String())
}

func TestMonitor_IgnoresOtherTypes(t *testing.T) {
	c, f, out := newTool(t)
	f.Socket(MonitorSocket).DeliverStrings("REQUEST", "a", "b")

	require.NoError(t, c.poller.Dispatch(context.Background(), f.Socket(MonitorSocket)))
	assert.Empty(t, out.String())
	assert.Equal(t, 3, f.Socket(MonitorSocket).Reads())
}

func TestExecute_WritesEveryUpdate(t *testing.T) {
	c, f, out := newTool(t)
	status := message.JSON(model.LedStatus{Running: false})
	for range 3 {
		deliverParts(t, f.Socket(MonitorSocket),
			message.String("STATE_UPDATE"), message.Empty(), message.String("LED_DRIVER"), message.Empty(), status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.Poller(0).OnIdle = cancel
	require.NoError(t, c.Execute(ctx))
	assert.Len(t, lines(out), 3)
}

func TestRequest_State(t *testing.T) {
	c, f, _ := newTool(t)
	req := f.Socket(RequestSocket)
	deliverParts(t, req,
		message.String("STATE"),
		message.JSON(map[string]any{
			"components": []map[string]any{{"component": "OUTPUT", "address": "A", "number": 3, "value": 1, "source": "DEIMIC"}},
			"peers":      []string{"0a"},
		}),
	)

	snap, err := c.State()
	require.NoError(t, err)
	require.Len(t, snap.Components, 1)
	assert.Equal(t, "A", snap.Components[0].Address)
	assert.Equal(t, []string{"0a"}, snap.Peers)

	sent := req.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, [][]byte{[]byte("STATE")}, sent[0])
}

func TestRequest_Command(t *testing.T) {
	c, f, _ := newTool(t)
	req := f.Socket(RequestSocket)
	req.DeliverStrings("OK")

	require.NoError(t, c.Command(device.LedDriver.Signature(), "PATTERN", "ConstColorPattern", `{"color":[0,1,1]}`))

	sent := req.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"COMMAND", "1", "PATTERN", "ConstColorPattern", `{"color":[0,1,1]}`}, toStrings(sent[0]))
}

func TestRequest_Record(t *testing.T) {
	c, f, _ := newTool(t)
	req := f.Socket(RequestSocket)
	req.DeliverStrings("RECORDED", "3f0c")

	id, err := c.Record(map[string]string{"say": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "3f0c", id)
	assert.JSONEq(t, `{"say":"hello"}`, string(req.Sent()[0][1]))
}

func TestRequest_Errors(t *testing.T) {
	tests := map[string]struct {
		reply []string
		call  func(c *CLITool) error
		want  error
	}{
		"error reply": {
			reply: []string{"ERROR", "unknown request"},
			call:  func(c *CLITool) error { _, err := c.State(); return err },
			want:  ErrRequestFailed,
		},
		"wrong status": {
			reply: []string{"OK"},
			call:  func(c *CLITool) error { _, err := c.Record("x"); return err },
			want:  ErrUnexpectedReply,
		},
		"command not acknowledged": {
			reply: []string{"STATE", "{}"},
			call:  func(c *CLITool) error { return c.Command(device.All.Signature(), "ON") },
			want:  ErrUnexpectedReply,
		},
		"no reply": {
			call: func(c *CLITool) error { _, err := c.State(); return err },
			want: socketstest.ErrWouldBlock,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c, f, _ := newTool(t)
			if tt.reply != nil {
				f.Socket(RequestSocket).DeliverStrings(tt.reply...)
			}
			assert.ErrorIs(t, tt.call(c), tt.want)
		})
	}
}

func toStrings(frames [][]byte) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f)
	}
	return out
}
