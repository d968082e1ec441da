// Package sockets wraps the ZeroMQ endpoints used by every deimic-pi device.
//
// A Socket is one endpoint of exactly one Pattern. Frames are sent one at a
// time with an explicit "more" flag, and received one at a time with More
// reporting whether the current multipart message continues.
package sockets

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Pattern is the messaging pattern of an endpoint.
type Pattern int

const (
	Pub Pattern = iota + 1
	Sub
	Router
	Stream
	Req
)

func (p Pattern) String() string {
	switch p {
	case Pub:
		return "PUB"
	case Sub:
		return "SUB"
	case Router:
		return "ROUTER"
	case Stream:
		return "STREAM"
	case Req:
		return "REQ"
	}
	return "UNKNOWN(" + strconv.Itoa(int(p)) + ")"
}

// CarriesIdentity reports whether every received message on this pattern is
// prefixed by a frame holding the sender's connection identity.
func (p Pattern) CarriesIdentity() bool {
	return p == Router || p == Stream
}

// Readable reports whether endpoints of this pattern receive messages and can
// therefore be polled.
func (p Pattern) Readable() bool {
	return p != Pub
}

var (
	ErrClosed          = errors.New("socket closed")
	ErrUnknownPattern  = errors.New("unknown socket pattern")
	ErrForeignSocket   = errors.New("socket does not belong to this poller")
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Socket is a single transport endpoint.
type Socket interface {
	Name() string
	Pattern() Pattern
	Bind(endpoint string) error
	Connect(endpoint string) error
	// SendFrame sends one frame; more marks that further frames of the same
	// multipart message follow.
	SendFrame(frame []byte, more bool) error
	// RecvFrame blocks until the next frame is available.
	RecvFrame() ([]byte, error)
	// More reports whether the last received frame is followed by another
	// frame of the same message.
	More() (bool, error)
	io.Closer
}

// Poller waits for readability across a set of sockets.
type Poller interface {
	Add(s Socket) error
	// Poll returns the sockets with at least one message waiting, in the order
	// the transport reports them. A negative timeout blocks indefinitely.
	Poll(timeout time.Duration) ([]Socket, error)
}

// Factory creates sockets and pollers on one transport context.
type Factory interface {
	NewSocket(p Pattern, opts ...func(*Options)) (Socket, error)
	NewPoller() Poller
}

// BindAddr is the wildcard address bound by the bridge.
func BindAddr(port uint16) string {
	return fmt.Sprintf("tcp://*:%d", port)
}

// ConnectAddr resolves an address template containing a {port} placeholder.
func ConnectAddr(form string, port uint16) (string, error) {
	if !strings.Contains(form, "{port}") {
		return "", fmt.Errorf("%w: %q has no {port} placeholder", ErrInvalidEndpoint, form)
	}
	return strings.ReplaceAll(form, "{port}", strconv.Itoa(int(port))), nil
}
