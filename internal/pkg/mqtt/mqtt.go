package mqtt

import (
	"errors"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/anicoll/deimic-pi/internal/pkg/config"
)

var ErrConnectTimeout = errors.New("unable to connect in time")

// Client is the part of the paho client the mirror uses.
type Client interface {
	Connect() paho_mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token
	Disconnect(quiesce uint)
}

type service struct {
	client  Client
	prefix  string
	timeout time.Duration

	mu         sync.Mutex
	configured map[string]struct{}
}

func New(client Client, topicPrefix string) *service {
	return &service{
		client:     client,
		prefix:     topicPrefix,
		timeout:    5 * time.Second,
		configured: make(map[string]struct{}),
	}
}

// NewClient builds a paho client for the configured broker.
func NewClient(cfg config.MqttSettings) paho_mqtt.Client {
	opts := paho_mqtt.NewClientOptions().
		AddBroker(cfg.Host).
		SetClientID("deimic-pi-" + uuid.NewString()[:8]).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	return paho_mqtt.NewClient(opts)
}

func (s *service) Connect() error {
	token := s.client.Connect()
	res := token.WaitTimeout(s.timeout)
	if err := token.Error(); err != nil {
		return err
	}
	if res {
		return nil
	}
	return ErrConnectTimeout
}

func (s *service) Close() {
	s.client.Disconnect(250)
}
