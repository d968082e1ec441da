// Package socketstest provides in-memory sockets for testing code built on
// package sockets without a ZeroMQ context.
package socketstest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anicoll/deimic-pi/pkg/sockets"
)

// ErrWouldBlock is returned by RecvFrame when no frame is queued.
var ErrWouldBlock = errors.New("socketstest: no frame queued")

var (
	_ sockets.Socket  = (*Socket)(nil)
	_ sockets.Poller  = (*Poller)(nil)
	_ sockets.Factory = (*Factory)(nil)
)

// Socket is an in-memory endpoint. Incoming messages are queued with Deliver;
// sent messages are collected and returned by Sent.
type Socket struct {
	mu            sync.Mutex
	name          string
	pattern       sockets.Pattern
	subscriptions []string
	inbox         [][][]byte
	current       [][]byte
	more          bool
	reads         int
	pending       [][]byte
	sent          [][][]byte
	bound         []string
	connected     []string
	closes        int
	factory       *Factory

	// SendErr, when set, fails every SendFrame.
	SendErr error
}

func NewSocket(name string, p sockets.Pattern) *Socket {
	return &Socket{name: name, pattern: p}
}

func (s *Socket) Name() string            { return s.name }
func (s *Socket) Pattern() sockets.Pattern { return s.pattern }

// Deliver queues one multipart message for reception.
func (s *Socket) Deliver(frames ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := make([][]byte, len(frames))
	copy(msg, frames)
	s.inbox = append(s.inbox, msg)
}

// DeliverStrings is Deliver for text frames.
func (s *Socket) DeliverStrings(frames ...string) {
	raw := make([][]byte, len(frames))
	for i, f := range frames {
		raw[i] = []byte(f)
	}
	s.Deliver(raw...)
}

// Readable reports whether a frame is waiting.
func (s *Socket) Readable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current) > 0 || len(s.inbox) > 0
}

// Reads is the number of frames received so far.
func (s *Socket) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Socket) Bind(endpoint string) error {
	if s.factory != nil {
		if err := s.factory.claim(endpoint); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = append(s.bound, endpoint)
	return nil
}

func (s *Socket) Connect(endpoint string) error {
	if s.factory != nil {
		if err := s.factory.connectErr(endpoint); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, endpoint)
	return nil
}

func (s *Socket) Bound() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bound...)
}

func (s *Socket) Connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.connected...)
}

func (s *Socket) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscriptions...)
}

func (s *Socket) SendFrame(frame []byte, more bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return sockets.ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.pending = append(s.pending, append([]byte(nil), frame...))
	if !more {
		s.sent = append(s.sent, s.pending)
		s.pending = nil
	}
	return nil
}

// Sent returns every completed outgoing message.
func (s *Socket) Sent() [][][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][][]byte(nil), s.sent...)
}

// Pending returns the frames of a message whose last frame was not sent yet.
func (s *Socket) Pending() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.pending...)
}

func (s *Socket) RecvFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return nil, sockets.ErrClosed
	}
	if len(s.current) == 0 {
		if len(s.inbox) == 0 {
			return nil, ErrWouldBlock
		}
		s.current, s.inbox = s.inbox[0], s.inbox[1:]
		if len(s.current) == 0 {
			// a zero-frame message still yields one empty frame
			s.current = [][]byte{{}}
		}
	}
	frame := s.current[0]
	s.current = s.current[1:]
	s.more = len(s.current) > 0
	s.reads++
	return frame, nil
}

func (s *Socket) More() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.more, nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	s.closes++
	endpoints := append([]string(nil), s.bound...)
	s.mu.Unlock()
	if s.factory != nil {
		for _, e := range endpoints {
			s.factory.release(e)
		}
	}
	return nil
}

// Closes reports how many times Close was called.
func (s *Socket) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *Socket) String() string {
	return fmt.Sprintf("%s(%s)", s.name, s.pattern)
}

// Poller polls fake sockets. Ready sockets are reported in Add order.
type Poller struct {
	mu      sync.Mutex
	sockets []*Socket
	// Err, when set, is returned by Poll.
	Err error
	// OnIdle is called when a Poll finds nothing readable.
	OnIdle func()
}

func (p *Poller) Add(s sockets.Socket) error {
	fs, ok := s.(*Socket)
	if !ok {
		return fmt.Errorf("%w: %s", sockets.ErrForeignSocket, s.Name())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.sockets {
		if existing == fs {
			return nil
		}
	}
	p.sockets = append(p.sockets, fs)
	return nil
}

func (p *Poller) Poll(timeout time.Duration) ([]sockets.Socket, error) {
	p.mu.Lock()
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	var ready []sockets.Socket
	for _, s := range p.sockets {
		if s.Readable() {
			ready = append(ready, s)
		}
	}
	onIdle := p.OnIdle
	p.mu.Unlock()

	if len(ready) == 0 && onIdle != nil {
		onIdle()
	}
	return ready, nil
}

// Factory creates fake sockets, remembers them by name and rejects a second
// bind on an endpoint that is still held by an open socket.
type Factory struct {
	mu          sync.Mutex
	sockets     []*Socket
	byName      map[string]*Socket
	held        map[string]bool
	pollers     []*Poller
	ConnectErrs map[string]error
	// NewSocketErr, when set, fails NewSocket for the given socket name.
	NewSocketErr map[string]error
}

func NewFactory() *Factory {
	return &Factory{
		byName:       make(map[string]*Socket),
		held:         make(map[string]bool),
		ConnectErrs:  make(map[string]error),
		NewSocketErr: make(map[string]error),
	}
}

func (f *Factory) NewSocket(p sockets.Pattern, opts ...func(*sockets.Options)) (sockets.Socket, error) {
	o := sockets.ApplyOptions(opts...)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.NewSocketErr[o.Name]; err != nil {
		return nil, err
	}
	s := NewSocket(o.Name, p)
	s.factory = f
	if p == sockets.Sub {
		s.subscriptions = append(s.subscriptions, o.Subscriptions...)
	}
	f.sockets = append(f.sockets, s)
	f.byName[o.Name] = s
	return s, nil
}

func (f *Factory) NewPoller() sockets.Poller {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &Poller{}
	f.pollers = append(f.pollers, p)
	return p
}

// Socket returns the most recent socket created with the given name.
func (f *Factory) Socket(name string) *Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byName[name]
}

// Sockets returns every socket created so far.
func (f *Factory) Sockets() []*Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Socket(nil), f.sockets...)
}

// Poller returns the i-th poller created.
func (f *Factory) Poller(i int) *Poller {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollers[i]
}

func (f *Factory) claim(endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[endpoint] {
		return fmt.Errorf("bind %s: address already in use", endpoint)
	}
	f.held[endpoint] = true
	return nil
}

func (f *Factory) release(endpoint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, endpoint)
}

func (f *Factory) connectErr(endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ConnectErrs[endpoint]
}
