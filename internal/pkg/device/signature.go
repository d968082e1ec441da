package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Type is a device role. Roles are single bits so that any combination of
// them forms a Signature.
type Type uint8

const (
	LedDriver Type = 1 << iota
	VoiceRecognition
	VoiceNotifications
	ExternalApp
	CLITool
	Deimic
	Bridge
)

const (
	Unknown Type = 0
	All     Type = 0b1111111
)

var typeNames = map[Type]string{
	LedDriver:          "LED_DRIVER",
	VoiceRecognition:   "VOICE_RECOGNITION",
	VoiceNotifications: "VOICE_NOTIFICATIONS",
	ExternalApp:        "EXTERNAL_APP",
	CLITool:            "CLI_TOOL",
	Deimic:             "DEIMIC",
	Bridge:             "BRIDGE",
}

// Types lists every single-bit role in ascending bit order.
var Types = []Type{LedDriver, VoiceRecognition, VoiceNotifications, ExternalApp, CLITool, Deimic, Bridge}

func (t Type) String() string {
	switch t {
	case Unknown:
		return "UNKNOWN"
	case All:
		return "ALL"
	}
	if name, ok := typeNames[t]; ok {
		return name
	}
	return Signature(t).String()
}

// Signature returns the signature made of this role alone.
func (t Type) Signature() Signature {
	return Signature(t)
}

func (t Type) FamiliarSignatures() []Signature {
	return Signature(t).FamiliarSignatures()
}

// ParseType accepts a role name such as "LED_DRIVER".
func ParseType(name string) (Type, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	switch name {
	case "UNKNOWN":
		return Unknown, nil
	case "ALL":
		return All, nil
	}
	t, ok := lo.FindKeyBy(typeNames, func(_ Type, n string) bool { return n == name })
	if !ok {
		return Unknown, fmt.Errorf("unknown device type %q", name)
	}
	return t, nil
}

// Signature is a set of roles used to scope broadcasts.
type Signature uint8

// BuildSignature is the union of the given roles.
func BuildSignature(types ...Type) Signature {
	var s Signature
	for _, t := range types {
		s |= Signature(t)
	}
	return s
}

// Union combines two signatures.
func (s Signature) Union(other Signature) Signature {
	return s | other
}

// Has reports whether every role of t is part of the signature.
func (s Signature) Has(t Type) bool {
	return t != Unknown && Signature(t)&s == Signature(t)
}

// Shares reports whether the two signatures have at least one role in common.
func (s Signature) Shares(other Signature) bool {
	return s&other != 0
}

// Types lists the roles of the signature in ascending bit order.
func (s Signature) Types() []Type {
	return lo.Filter(Types, func(t Type, _ int) bool { return s.Has(t) })
}

// FamiliarSignatures returns every non-empty signature that shares at least
// one role with s, in ascending order. A broadcast addressed to any of them
// concerns a holder of s.
func (s Signature) FamiliarSignatures() []Signature {
	candidates := lo.RangeFrom(Signature(1), int(All))
	return lo.Filter(candidates, func(c Signature, _ int) bool { return s.Shares(c) })
}

// Topic is the fixed-width form of the signature used as the first frame of
// internal broadcasts. The fixed width makes prefix subscriptions exact.
func (s Signature) Topic() string {
	return fmt.Sprintf("%03d", uint8(s))
}

// Topics renders each signature with Topic.
func Topics(sigs []Signature) []string {
	return lo.Map(sigs, func(s Signature, _ int) string { return s.Topic() })
}

func (s Signature) String() string {
	if s == 0 {
		return "UNKNOWN"
	}
	return strings.Join(lo.Map(s.Types(), func(t Type, _ int) string { return t.String() }), "|")
}

// ParseSignature accepts a decimal signature ("64", "064") or a list of role
// names joined by "|" or ",".
func ParseSignature(text string) (Signature, error) {
	text = strings.TrimSpace(text)
	if n, err := strconv.ParseUint(text, 10, 8); err == nil {
		if Signature(n)&^Signature(All) != 0 || n == 0 {
			return 0, fmt.Errorf("signature %d out of range 1 - %d", n, All)
		}
		return Signature(n), nil
	}
	names := strings.FieldsFunc(text, func(r rune) bool { return r == '|' || r == ',' })
	if len(names) == 0 {
		return 0, fmt.Errorf("empty signature")
	}
	types := make([]Type, 0, len(names))
	for _, name := range names {
		t, err := ParseType(name)
		if err != nil {
			return 0, err
		}
		types = append(types, t)
	}
	s := BuildSignature(types...)
	if s == 0 {
		return 0, fmt.Errorf("signature %q has no roles", text)
	}
	return s, nil
}
