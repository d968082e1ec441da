// Package device holds the endpoint topology shared by every role.
package device

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/deimic-pi/internal/pkg/config"
	"github.com/anicoll/deimic-pi/pkg/sockets"
)

var ErrTopologySealed = errors.New("device topology is sealed")

// Device owns the endpoints of one role. Endpoints are created by the role
// constructor, after which Seal freezes the set. Close releases each of them
// exactly once.
type Device struct {
	Type     Type
	Settings *config.Settings

	factory sockets.Factory
	logger  *zap.Logger

	mu        sync.Mutex
	endpoints []sockets.Socket
	sealed    bool
	closed    bool
}

func New(t Type, settings *config.Settings, factory sockets.Factory) *Device {
	return &Device{
		Type:     t,
		Settings: settings,
		factory:  factory,
		logger:   zap.L().With(zap.String("device", t.String())),
	}
}

func (d *Device) Logger() *zap.Logger {
	return d.logger
}

// NewPoller creates a transport poller on the device's context.
func (d *Device) NewPoller() sockets.Poller {
	return d.factory.NewPoller()
}

// Bind creates an endpoint listening on every interface at port.
func (d *Device) Bind(name string, p sockets.Pattern, port config.Port, opts ...func(*sockets.Options)) (sockets.Socket, error) {
	return d.open(name, p, func(s sockets.Socket) error {
		return s.Bind(sockets.BindAddr(uint16(port)))
	}, opts...)
}

// Connect creates an endpoint connected to the bridge at port, using the
// configured address form.
func (d *Device) Connect(name string, p sockets.Pattern, port config.Port, opts ...func(*sockets.Options)) (sockets.Socket, error) {
	addr, err := sockets.ConnectAddr(d.Settings.BridgeAddrForm, uint16(port))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return d.open(name, p, func(s sockets.Socket) error {
		return s.Connect(addr)
	}, opts...)
}

func (d *Device) open(name string, p sockets.Pattern, attach func(sockets.Socket) error, opts ...func(*sockets.Options)) (sockets.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed || d.closed {
		return nil, fmt.Errorf("%w: cannot create %s", ErrTopologySealed, name)
	}

	s, err := d.factory.NewSocket(p, append(opts, sockets.WithName(name))...)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	if err := attach(s); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("attach %s: %w", name, err)
	}
	d.endpoints = append(d.endpoints, s)
	d.logger.Debug("endpoint ready", zap.String("endpoint", name), zap.Stringer("pattern", p))
	return s, nil
}

// Seal freezes the endpoint set.
func (d *Device) Seal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sealed = true
}

// Endpoints returns the endpoints in creation order.
func (d *Device) Endpoints() []sockets.Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sockets.Socket(nil), d.endpoints...)
}

// Close closes every endpoint once. Later calls are no-ops.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	endpoints := d.endpoints
	d.endpoints = nil
	d.mu.Unlock()

	var errs []error
	for i := len(endpoints) - 1; i >= 0; i-- {
		if err := endpoints[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", endpoints[i].Name(), err))
		}
	}
	d.logger.Info("device closed", zap.Int("endpoints", len(endpoints)))
	return errors.Join(errs...)
}
