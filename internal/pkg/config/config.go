package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override, e.g. DEIMICPI_DEIMIC_PORT
// or DEIMICPI_LED_DRIVER__STRIP_LENGTH.
const EnvPrefix = "DEIMICPI_"

var (
	ErrInvalidPort   = errors.New("port out of range (1 - 65535)")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Port is a TCP port number.
type Port uint16

func (p Port) Validate() error {
	if p == 0 {
		return ErrInvalidPort
	}
	return nil
}

// Settings is the configuration snapshot shared by every device role.
type Settings struct {
	BridgeAddrForm string `yaml:"bridge_addr_form" env:"BRIDGE_ADDR_FORM"`

	DeimicPort Port `yaml:"deimic_port" env:"DEIMIC_PORT"`

	InterBroadcasterPort Port `yaml:"inter_broadcaster_port" env:"INTER_BROADCASTER_PORT"`
	InterListenerPort    Port `yaml:"inter_listener_port" env:"INTER_LISTENER_PORT"`

	ExternBcstPort Port `yaml:"extern_bcst_port" env:"EXTERN_BCST_PORT"`
	ExternReqPort  Port `yaml:"extern_req_port" env:"EXTERN_REQ_PORT"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	Bridge    BridgeSettings    `yaml:"bridge" envPrefix:"BRIDGE__"`
	LedDriver LedDriverSettings `yaml:"led_driver" envPrefix:"LED_DRIVER__"`
	CLITool   CLIToolSettings   `yaml:"cli_tool" envPrefix:"CLI_TOOL__"`
}

type BridgeSettings struct {
	HTTPAddr        string        `yaml:"http_addr" env:"HTTP_ADDR"`
	RequestQueueCap int           `yaml:"request_queue_capacity" env:"REQUEST_QUEUE_CAPACITY"`
	RequestTTL      time.Duration `yaml:"request_ttl" env:"REQUEST_TTL"`
	JournalSize     int           `yaml:"journal_size" env:"JOURNAL_SIZE"`
	Mqtt            MqttSettings  `yaml:"mqtt" envPrefix:"MQTT__"`
}

type MqttSettings struct {
	Host        string `yaml:"host" env:"HOST"`
	Username    string `yaml:"username" env:"USERNAME"`
	Password    string `yaml:"password" env:"PASSWORD"`
	TopicPrefix string `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
}

type LedDriverSettings struct {
	StripLength int `yaml:"strip_length" env:"STRIP_LENGTH"`
	DataPin     int `yaml:"data_pin" env:"DATA_PIN"`
}

type CLIToolSettings struct {
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

func Default() Settings {
	return Settings{
		BridgeAddrForm:       "tcp://localhost:{port}",
		DeimicPort:           5555,
		InterBroadcasterPort: 5556,
		InterListenerPort:    5557,
		ExternBcstPort:       5558,
		ExternReqPort:        5559,
		LogLevel:             "INFO",
		Bridge: BridgeSettings{
			HTTPAddr:        "0.0.0.0:8000",
			RequestQueueCap: 64,
			RequestTTL:      10 * time.Minute,
			JournalSize:     128,
			Mqtt: MqttSettings{
				TopicPrefix: "deimicpi",
			},
		},
		LedDriver: LedDriverSettings{
			StripLength: 0,
			DataPin:     18,
		},
		CLITool: CLIToolSettings{
			RequestTimeout: 5 * time.Second,
		},
	}
}

// DefaultPath is ~/.config/deimic_pi/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "deimic_pi", "config.yaml")
}

// Load builds the settings snapshot: defaults, then the file at path (a
// missing file is not an error), then DEIMICPI_* environment variables, then
// the overrides in order. The result is validated.
func Load(path string, overrides ...func(*Settings)) (*Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return nil, fmt.Errorf("parse settings %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	for _, o := range overrides {
		o(&s)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	ports := map[string]Port{
		"deimic_port":            s.DeimicPort,
		"inter_broadcaster_port": s.InterBroadcasterPort,
		"inter_listener_port":    s.InterListenerPort,
		"extern_bcst_port":       s.ExternBcstPort,
		"extern_req_port":        s.ExternReqPort,
	}
	seen := make(map[Port]string, len(ports))
	for name, p := range ports {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if other, dup := seen[p]; dup {
			return fmt.Errorf("%w: %s and %s share port %d", ErrInvalidConfig, name, other, p)
		}
		seen[p] = name
	}
	if !strings.Contains(s.BridgeAddrForm, "{port}") {
		return fmt.Errorf("%w: bridge_addr_form %q has no {port} placeholder", ErrInvalidConfig, s.BridgeAddrForm)
	}
	if s.Bridge.RequestQueueCap < 1 {
		return fmt.Errorf("%w: request_queue_capacity must be positive", ErrInvalidConfig)
	}
	if s.Bridge.JournalSize < 1 {
		return fmt.Errorf("%w: journal_size must be positive", ErrInvalidConfig)
	}
	if s.LedDriver.StripLength < 0 {
		return fmt.Errorf("%w: strip_length must not be negative", ErrInvalidConfig)
	}
	return nil
}
