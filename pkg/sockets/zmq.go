package sockets

import (
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
)

var _ Factory = (*Context)(nil)

// Context is the ZeroMQ implementation of Factory. A process normally owns a
// single Context and terminates it after every device is closed.
type Context struct {
	ctx *zmq.Context
}

func NewContext() (*Context, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create zmq context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// Close terminates the context. All sockets must have been closed first.
func (c *Context) Close() error {
	return c.ctx.Term()
}

func zmqType(p Pattern) (zmq.Type, error) {
	switch p {
	case Pub:
		return zmq.PUB, nil
	case Sub:
		return zmq.SUB, nil
	case Router:
		return zmq.ROUTER, nil
	case Stream:
		return zmq.STREAM, nil
	case Req:
		return zmq.REQ, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownPattern, p)
}

func (c *Context) NewSocket(p Pattern, opts ...func(*Options)) (Socket, error) {
	t, err := zmqType(p)
	if err != nil {
		return nil, err
	}
	o := ApplyOptions(opts...)

	soc, err := c.ctx.NewSocket(t)
	if err != nil {
		return nil, fmt.Errorf("create %s socket %q: %w", p, o.Name, err)
	}
	s := &zmqSocket{soc: soc, pattern: p, name: o.Name}

	if err := soc.SetLinger(o.Linger); err != nil {
		_ = s.Close()
		return nil, err
	}
	if o.RecvTimeout >= 0 {
		if err := soc.SetRcvtimeo(o.RecvTimeout); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	if p == Sub {
		for _, prefix := range o.Subscriptions {
			if err := soc.SetSubscribe(prefix); err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("subscribe %q on %q: %w", prefix, o.Name, err)
			}
		}
	}
	return s, nil
}

func (c *Context) NewPoller() Poller {
	return &zmqPoller{
		poller:  zmq.NewPoller(),
		sockets: make(map[*zmq.Socket]*zmqSocket),
	}
}

type zmqSocket struct {
	mu      sync.Mutex
	soc     *zmq.Socket
	pattern Pattern
	name    string
	closed  bool
}

func (s *zmqSocket) Name() string     { return s.name }
func (s *zmqSocket) Pattern() Pattern { return s.pattern }

func (s *zmqSocket) String() string {
	return fmt.Sprintf("%s(%s)", s.name, s.pattern)
}

func (s *zmqSocket) Bind(endpoint string) error {
	if err := s.soc.Bind(endpoint); err != nil {
		return fmt.Errorf("bind %s to %s: %w", s, endpoint, err)
	}
	return nil
}

func (s *zmqSocket) Connect(endpoint string) error {
	if err := s.soc.Connect(endpoint); err != nil {
		return fmt.Errorf("connect %s to %s: %w", s, endpoint, err)
	}
	return nil
}

func (s *zmqSocket) SendFrame(frame []byte, more bool) error {
	var flags zmq.Flag
	if more {
		flags = zmq.SNDMORE
	}
	if _, err := s.soc.SendBytes(frame, flags); err != nil {
		return fmt.Errorf("send on %s: %w", s, err)
	}
	return nil
}

func (s *zmqSocket) RecvFrame() ([]byte, error) {
	frame, err := s.soc.RecvBytes(0)
	if err != nil {
		return nil, fmt.Errorf("receive on %s: %w", s, err)
	}
	return frame, nil
}

func (s *zmqSocket) More() (bool, error) {
	return s.soc.GetRcvmore()
}

func (s *zmqSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.soc.Close()
}

type zmqPoller struct {
	poller  *zmq.Poller
	sockets map[*zmq.Socket]*zmqSocket
}

func (p *zmqPoller) Add(s Socket) error {
	zs, ok := s.(*zmqSocket)
	if !ok {
		return fmt.Errorf("%w: %s", ErrForeignSocket, s.Name())
	}
	if _, exists := p.sockets[zs.soc]; exists {
		return nil
	}
	p.poller.Add(zs.soc, zmq.POLLIN)
	p.sockets[zs.soc] = zs
	return nil
}

func (p *zmqPoller) Poll(timeout time.Duration) ([]Socket, error) {
	polled, err := p.poller.Poll(timeout)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	ready := make([]Socket, 0, len(polled))
	for _, item := range polled {
		if item.Events&zmq.POLLIN == 0 {
			continue
		}
		if s, ok := p.sockets[item.Socket]; ok {
			ready = append(ready, s)
		}
	}
	return ready, nil
}
