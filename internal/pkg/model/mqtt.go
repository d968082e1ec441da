package model

type RegisterDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

// RegisterMessage is the Home Assistant MQTT discovery payload announcing a
// Deimic component as a sensor.
type RegisterMessage struct {
	Tilda      string         `json:"~"`
	Name       string         `json:"name"`
	ID         string         `json:"unique_id"`
	StateTopic string         `json:"state_topic"`
	ValueTmpl  string         `json:"value_template"`
	Device     RegisterDevice `json:"device"`
}

// MirroredState is the payload published to mirrors for one update.
type MirroredState struct {
	Component ComponentType `json:"component"`
	Address   string        `json:"address"`
	Number    int           `json:"number"`
	Value     any           `json:"value"`
	Source    string        `json:"source"`
	Timestamp int64         `json:"timestamp"`
}

func NewMirroredState(u StateUpdate) MirroredState {
	return MirroredState{
		Component: u.Component,
		Address:   u.Address,
		Number:    u.Number,
		Value:     u.NewState,
		Source:    u.Source,
		Timestamp: u.ReceivedAt.Unix(),
	}
}
