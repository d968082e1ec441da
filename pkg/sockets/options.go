package sockets

import "time"

// Options collects the settings applied to a socket when it is created.
// Factories other than the ZeroMQ one (test fakes) read it through ApplyOptions.
type Options struct {
	Name          string
	Subscriptions []string
	Linger        time.Duration
	RecvTimeout   time.Duration
}

func ApplyOptions(opts ...func(*Options)) Options {
	o := Options{Linger: 0, RecvTimeout: -1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithName labels the socket in logs and metrics.
func WithName(name string) func(*Options) {
	return func(o *Options) {
		o.Name = name
	}
}

// Subscribe adds a topic prefix filter. Only meaningful for Sub sockets; an
// empty prefix subscribes to everything.
func Subscribe(prefixes ...string) func(*Options) {
	return func(o *Options) {
		o.Subscriptions = append(o.Subscriptions, prefixes...)
	}
}

func WithLinger(d time.Duration) func(*Options) {
	return func(o *Options) {
		o.Linger = d
	}
}

// WithRecvTimeout bounds blocking receives. Negative waits forever.
func WithRecvTimeout(d time.Duration) func(*Options) {
	return func(o *Options) {
		o.RecvTimeout = d
	}
}
