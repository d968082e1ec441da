package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/deimic-pi/internal/pkg/model"
)

type mockToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *mockToken {
	t := &mockToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *mockToken) Wait() bool                       { <-t.done; return true }
func (t *mockToken) WaitTimeout(d time.Duration) bool { return t.Wait() }
func (t *mockToken) Done() <-chan struct{}            { return t.done }
func (t *mockToken) Error() error                     { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type MockClient struct {
	ConnectFunc func() paho_mqtt.Token
	PublishErr  error

	mu        sync.Mutex
	published []published
}

func (c *MockClient) Connect() paho_mqtt.Token {
	if c.ConnectFunc != nil {
		return c.ConnectFunc()
	}
	return completedToken(nil)
}

func (c *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return completedToken(c.PublishErr)
}

func (c *MockClient) Disconnect(uint) {}

var key = model.ComponentKey{Component: model.ComponentOutput, Address: "A", Number: 3}

func TestComponentSlug(t *testing.T) {
	assert.Equal(t, "deimic-output-a-3", ComponentSlug(key))
}

func TestConnect(t *testing.T) {
	assert.NoError(t, New(&MockClient{}, "deimicpi").Connect())

	boom := errors.New("refused")
	c := &MockClient{ConnectFunc: func() paho_mqtt.Token { return completedToken(boom) }}
	assert.ErrorIs(t, New(c, "deimicpi").Connect(), boom)
}

func TestRegisterComponent_Once(t *testing.T) {
	c := &MockClient{}
	s := New(c, "deimicpi")

	require.NoError(t, s.RegisterComponent(key))
	require.NoError(t, s.RegisterComponent(key))

	require.Len(t, c.published, 1)
	p := c.published[0]
	assert.Equal(t, "homeassistant/sensor/deimic-output-a-3/config", p.topic)
	assert.True(t, p.retained)
	assert.Equal(t, byte(1), p.qos)

	var msg model.RegisterMessage
	require.NoError(t, json.Unmarshal(p.payload, &msg))
	assert.Equal(t, "deimicpi/deimic-output-a-3", msg.Tilda)
	assert.Equal(t, "~/state", msg.StateTopic)
	assert.Equal(t, "deimic-output-a-3", msg.ID)
	assert.Equal(t, []string{"deimic-a"}, msg.Device.Identifiers)
}

func TestRegisterComponent_RetriedAfterFailure(t *testing.T) {
	c := &MockClient{PublishErr: errors.New("not connected")}
	s := New(c, "deimicpi")

	assert.Error(t, s.RegisterComponent(key))
	c.PublishErr = nil
	assert.NoError(t, s.RegisterComponent(key))
	assert.Len(t, c.published, 2)
}

func TestWrite(t *testing.T) {
	c := &MockClient{}
	s := New(c, "deimicpi")

	u, err := model.ParseStateUpdate(model.DeimicOutput, []string{"A", "3", "7"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), model.NewMirroredState(u)))

	require.Len(t, c.published, 1)
	p := c.published[0]
	assert.Equal(t, "deimicpi/deimic-output-a-3/state", p.topic)
	assert.False(t, p.retained)

	var got map[string]any
	require.NoError(t, json.Unmarshal(p.payload, &got))
	assert.Equal(t, 7.0, got["value"])
	assert.Equal(t, "DEIMIC", got["source"])
}

func TestWrite_ContextDone(t *testing.T) {
	pending := &mockToken{done: make(chan struct{})}
	c := &pendingClient{token: pending}
	s := New(c, "deimicpi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Write(ctx, model.MirroredState{Component: model.ComponentInput, Address: "B", Number: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

type pendingClient struct {
	MockClient
	token *mockToken
}

func (c *pendingClient) Publish(string, byte, bool, interface{}) paho_mqtt.Token {
	return c.token
}
