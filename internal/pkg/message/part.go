package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

// PartType selects how a single frame is encoded and decoded.
type PartType string

func (pt PartType) String() string {
	if pt == "" {
		return string(PartRaw)
	}
	return string(pt)
}

const (
	PartRaw    PartType = "RAW"
	PartTagged PartType = "TAGGED" // self-describing CBOR object
	PartString PartType = "STRING"
	PartJSON   PartType = "JSON"
)

var (
	ErrInvalidPartType  = errors.New("invalid part type")
	ErrInvalidPartValue = errors.New("invalid part value")
	ErrInvalidString    = errors.New("string part is not valid utf-8")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("message: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		DupMapKey:      cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic("message: CBOR decoder initialization failed: " + err.Error())
	}
}

// Part is one frame of an outgoing multipart message.
type Part struct {
	Type  PartType
	Value any
}

func Raw(b []byte) Part { return Part{Type: PartRaw, Value: b} }
func String(s string) Part { return Part{Type: PartString, Value: s} }
func JSON(v any) Part { return Part{Type: PartJSON, Value: v} }
func Tagged(v any) Part { return Part{Type: PartTagged, Value: v} }
func Empty() Part { return Part{Type: PartRaw, Value: []byte{}} }
func RawString(s string) Part { return Part{Type: PartRaw, Value: s} }

// EncodePart returns the frame bytes for p.
func EncodePart(p Part) ([]byte, error) {
	switch p.Type {
	case "", PartRaw:
		switch v := p.Value.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		case nil:
			return []byte{}, nil
		}
		return nil, fmt.Errorf("%w: raw part cannot carry %T", ErrInvalidPartValue, p.Value)
	case PartString:
		switch v := p.Value.(type) {
		case string:
			return []byte(v), nil
		case fmt.Stringer:
			return []byte(v.String()), nil
		}
		return nil, fmt.Errorf("%w: string part cannot carry %T", ErrInvalidPartValue, p.Value)
	case PartJSON:
		data, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPartValue, err)
		}
		return data, nil
	case PartTagged:
		data, err := encMode.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPartValue, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidPartType, string(p.Type))
}

// DecodePart interprets a received frame according to pt.
func DecodePart(pt PartType, frame []byte) (any, error) {
	switch pt {
	case "", PartRaw:
		return frame, nil
	case PartString:
		if !utf8.Valid(frame) {
			return nil, ErrInvalidString
		}
		return string(frame), nil
	case PartJSON:
		var v any
		if err := json.Unmarshal(frame, &v); err != nil {
			return nil, fmt.Errorf("decode json part: %w", err)
		}
		return v, nil
	case PartTagged:
		var v any
		if err := decMode.Unmarshal(frame, &v); err != nil {
			return nil, fmt.Errorf("decode tagged part: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidPartType, string(pt))
}

// DecodeJSON unmarshals a JSON frame into v.
func DecodeJSON(frame []byte, v any) error {
	if err := json.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("decode json part: %w", err)
	}
	return nil
}

// DecodeTagged unmarshals a tagged (CBOR) frame into v.
func DecodeTagged(frame []byte, v any) error {
	if err := decMode.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("decode tagged part: %w", err)
	}
	return nil
}

func validPartType(pt PartType) bool {
	switch pt {
	case "", PartRaw, PartString, PartJSON, PartTagged:
		return true
	}
	return false
}
