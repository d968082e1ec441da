package model

// MessageType is the leading frame of messages broadcast to subscribers.
type MessageType string

func (mt MessageType) String() string {
	return string(mt)
}

const (
	MessageError       MessageType = "ERROR"
	MessageStateUpdate MessageType = "STATE_UPDATE"
	MessageRequest     MessageType = "REQUEST"
)

// DeimicMessageType is the first dash-delimited field of a frame sent by a
// Deimic peripheral over the raw stream.
type DeimicMessageType string

const (
	DeimicConnection DeimicMessageType = ""
	DeimicOutput     DeimicMessageType = "OUTPUT"
	DeimicInput      DeimicMessageType = "INPUT"
	DeimicReady      DeimicMessageType = "READY"
	DeimicRequest    DeimicMessageType = "REQUEST"
)

// ParseDeimicMessageType maps the wire field to a message type. The firmware
// sends the short component codes, so O and I are accepted alongside the
// long names. ok is false for anything unrecognised.
func ParseDeimicMessageType(field string) (DeimicMessageType, bool) {
	switch field {
	case "":
		return DeimicConnection, true
	case "OUTPUT", "O":
		return DeimicOutput, true
	case "INPUT", "I":
		return DeimicInput, true
	case "READY":
		return DeimicReady, true
	case "REQUEST":
		return DeimicRequest, true
	}
	return DeimicMessageType(field), false
}

// ComponentType distinguishes the two kinds of Deimic components.
type ComponentType string

const (
	ComponentOutput ComponentType = "OUTPUT"
	ComponentInput  ComponentType = "INPUT"
)

func (ct ComponentType) String() string {
	return string(ct)
}

// Code is the single-letter form used by the Deimic firmware.
func (ct ComponentType) Code() string {
	switch ct {
	case ComponentOutput:
		return "O"
	case ComponentInput:
		return "I"
	}
	return ""
}

// Source literals identify who produced a state update.
const (
	SourceDeimic    = "DEIMIC"
	SourceLedDriver = "LED_DRIVER"
)

// ExternalRequestKind is the first frame after the envelope of a request sent
// by an external tool to the bridge.
type ExternalRequestKind string

const (
	ExternalState   ExternalRequestKind = "STATE"
	ExternalCommand ExternalRequestKind = "COMMAND"
	ExternalRequest ExternalRequestKind = "REQUEST"
)

// ReplyStatus is the first frame of the bridge's reply to an external request.
type ReplyStatus string

const (
	ReplyState    ReplyStatus = "STATE"
	ReplyOK       ReplyStatus = "OK"
	ReplyRecorded ReplyStatus = "RECORDED"
	ReplyError    ReplyStatus = "ERROR"
)
