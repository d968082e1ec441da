package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anicoll/deimic-pi/internal/pkg/message"
)

var ErrMalformedStateUpdate = errors.New("malformed state update")

// FieldDelimiter separates the fields of a Deimic frame.
const FieldDelimiter = "-"

// StateUpdate is a change of a single Deimic component.
type StateUpdate struct {
	Source       string        `json:"source"`
	Component    ComponentType `json:"component"`
	Address      string        `json:"address"`
	Number       int           `json:"number"`
	NewState     any           `json:"new_state"`
	ReceivedFrom []byte        `json:"-"`
	ReceivedAt   time.Time     `json:"received_at"`
}

// Key identifies the component the update refers to.
func (u StateUpdate) Key() ComponentKey {
	return ComponentKey{Component: u.Component, Address: u.Address, Number: u.Number}
}

type ComponentKey struct {
	Component ComponentType `json:"component"`
	Address   string        `json:"address"`
	Number    int           `json:"number"`
}

func (k ComponentKey) String() string {
	return fmt.Sprintf("%s %s-%d", k.Component, k.Address, k.Number)
}

// SplitFields splits a Deimic frame into its dash-delimited fields. Trailing
// line terminators added by the peripheral's serial bridge are dropped.
func SplitFields(frame string) []string {
	return strings.Split(strings.TrimRight(frame, "\r\n"), FieldDelimiter)
}

// ParseStateUpdate builds an update from the fields following the message
// type: address, number and new state.
func ParseStateUpdate(mt DeimicMessageType, fields []string, from []byte) (StateUpdate, error) {
	var component ComponentType
	switch mt {
	case DeimicOutput:
		component = ComponentOutput
	case DeimicInput:
		component = ComponentInput
	default:
		return StateUpdate{}, fmt.Errorf("%w: %q is not a component type", ErrMalformedStateUpdate, string(mt))
	}
	if len(fields) != 3 {
		return StateUpdate{}, fmt.Errorf("%w: want address, number and state, got %d fields %q", ErrMalformedStateUpdate, len(fields), fields)
	}
	if fields[0] == "" {
		return StateUpdate{}, fmt.Errorf("%w: empty address", ErrMalformedStateUpdate)
	}
	number, err := strconv.Atoi(fields[1])
	if err != nil {
		return StateUpdate{}, fmt.Errorf("%w: number %q: %w", ErrMalformedStateUpdate, fields[1], err)
	}
	return StateUpdate{
		Source:       SourceDeimic,
		Component:    component,
		Address:      fields[0],
		Number:       number,
		NewState:     parseStateValue(fields[2]),
		ReceivedFrom: from,
		ReceivedAt:   time.Now(),
	}, nil
}

// Numeric states are carried as integers, anything else as text.
func parseStateValue(field string) any {
	if n, err := strconv.ParseInt(field, 10, 64); err == nil {
		return n
	}
	return field
}

// Parts is the broadcast layout of the update: message type, separator,
// source, separator, then the four tagged component fields.
func (u StateUpdate) Parts() []message.Part {
	return []message.Part{
		message.String(MessageStateUpdate.String()),
		message.Empty(),
		message.String(u.Source),
		message.Empty(),
		message.Tagged(u.Component.String()),
		message.Tagged(u.Address),
		message.Tagged(u.Number),
		message.Tagged(u.NewState),
	}
}

// DecodeStateUpdateBody reads the four tagged component fields of a
// broadcast update whose envelope has already been consumed.
func DecodeStateUpdateBody(h *message.Handling, source string) (StateUpdate, error) {
	u := StateUpdate{Source: source, ReceivedAt: time.Now()}
	var component string
	if err := h.NextTagged(&component); err != nil {
		return u, fmt.Errorf("%w: component: %w", ErrMalformedStateUpdate, err)
	}
	u.Component = ComponentType(component)
	if err := h.NextTagged(&u.Address); err != nil {
		return u, fmt.Errorf("%w: address: %w", ErrMalformedStateUpdate, err)
	}
	if err := h.NextTagged(&u.Number); err != nil {
		return u, fmt.Errorf("%w: number: %w", ErrMalformedStateUpdate, err)
	}
	state, err := h.Next(message.PartTagged)
	if err != nil {
		return u, fmt.Errorf("%w: new state: %w", ErrMalformedStateUpdate, err)
	}
	u.NewState = normalizeTagged(state)
	return u, nil
}

// CBOR hands back unsigned integers for non-negative values; fold them to
// int64 so decoded updates compare equal to parsed ones.
func normalizeTagged(v any) any {
	if n, ok := v.(uint64); ok && n <= 1<<63-1 {
		return int64(n)
	}
	return v
}

// LedStatus is reported by the LED driver after every request it handles.
type LedStatus struct {
	Running bool   `json:"running"`
	Pattern string `json:"pattern,omitempty"`
}
