package message

import (
	"errors"
	"fmt"
)

// ErrHandlingFinished is returned when a frame is requested after the last
// frame of the message has already been read.
var ErrHandlingFinished = errors.New("message handling already finished")

// Receiver is the receiving half of a socket.
type Receiver interface {
	RecvFrame() ([]byte, error)
	More() (bool, error)
}

// Handling decodes one multipart message frame by frame. The caller decides
// how each frame is interpreted at the moment it asks for it, so the schema
// does not need to be known up front.
//
// A Handling must be read until Done, otherwise the remaining frames are
// picked up as the start of the next message on the socket.
type Handling struct {
	r     Receiver
	reads int
	done  bool
}

func NewHandling(r Receiver) *Handling {
	return &Handling{r: r}
}

// Done reports whether the last frame has been read.
func (h *Handling) Done() bool { return h.done }

// Reads is the number of frames consumed so far.
func (h *Handling) Reads() int { return h.reads }

func (h *Handling) nextFrame() ([]byte, error) {
	if h.done {
		return nil, ErrHandlingFinished
	}
	frame, err := h.r.RecvFrame()
	if err != nil {
		return nil, err
	}
	h.reads++
	more, err := h.r.More()
	if err != nil {
		return nil, err
	}
	h.done = !more
	return frame, nil
}

// Next reads exactly one frame and decodes it as pt.
func (h *Handling) Next(pt PartType) (any, error) {
	if !validPartType(pt) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPartType, string(pt))
	}
	frame, err := h.nextFrame()
	if err != nil {
		return nil, err
	}
	return DecodePart(pt, frame)
}

func (h *Handling) NextBytes() ([]byte, error) {
	return h.nextFrame()
}

func (h *Handling) NextString() (string, error) {
	v, err := h.Next(PartString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// NextJSON decodes the next frame as JSON into v.
func (h *Handling) NextJSON(v any) error {
	frame, err := h.nextFrame()
	if err != nil {
		return err
	}
	return DecodeJSON(frame, v)
}

// NextTagged decodes the next frame as a tagged object into v.
func (h *Handling) NextTagged(v any) error {
	frame, err := h.nextFrame()
	if err != nil {
		return err
	}
	return DecodeTagged(frame, v)
}

// Rest decodes every remaining frame as pt.
func (h *Handling) Rest(pt PartType) ([]any, error) {
	var out []any
	for !h.done {
		v, err := h.Next(pt)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// RestFrames returns every remaining frame undecoded.
func (h *Handling) RestFrames() ([][]byte, error) {
	var out [][]byte
	for !h.done {
		frame, err := h.nextFrame()
		if err != nil {
			return out, err
		}
		out = append(out, frame)
	}
	return out, nil
}

// Drain discards the remaining frames and returns how many there were.
func (h *Handling) Drain() (int, error) {
	n := 0
	for !h.done {
		if _, err := h.nextFrame(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
