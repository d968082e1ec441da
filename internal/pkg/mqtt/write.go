package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gosimple/slug"

	"github.com/anicoll/deimic-pi/internal/pkg/model"
)

// ComponentSlug is the identifier of a component in topics and discovery ids.
func ComponentSlug(key model.ComponentKey) string {
	return slug.Make(fmt.Sprintf("deimic %s %s %d", key.Component, key.Address, key.Number))
}

func (s *service) stateTopic(id string) string {
	return fmt.Sprintf("%s/%s/state", s.prefix, id)
}

// RegisterComponent publishes the retained Home Assistant discovery config
// for key once per process.
func (s *service) RegisterComponent(key model.ComponentKey) error {
	id := ComponentSlug(key)
	s.mu.Lock()
	_, exists := s.configured[id]
	s.mu.Unlock()
	if exists {
		return nil
	}

	payload, err := json.Marshal(s.registerMsg(key, id))
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("homeassistant/sensor/%s/config", id)
	if err := wait(s.client.Publish(topic, 1, true, payload), s.timeout); err != nil {
		return err
	}
	s.mu.Lock()
	s.configured[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *service) Write(ctx context.Context, state model.MirroredState) error {
	key := model.ComponentKey{Component: state.Component, Address: state.Address, Number: state.Number}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	token := s.client.Publish(s.stateTopic(ComponentSlug(key)), 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * s.timeout):
		return fmt.Errorf("publish %s: timed out", key)
	}
}

func wait(t paho_mqtt.Token, d time.Duration) error {
	if !t.WaitTimeout(d) {
		if err := t.Error(); err != nil {
			return err
		}
		return fmt.Errorf("publish: timed out after %s", d)
	}
	return t.Error()
}

func (s *service) registerMsg(key model.ComponentKey, id string) model.RegisterMessage {
	name := fmt.Sprintf("Deimic %s", key)
	return model.RegisterMessage{
		Tilda:      fmt.Sprintf("%s/%s", s.prefix, id),
		Name:       name,
		ID:         id,
		StateTopic: "~/state",
		ValueTmpl:  "{{ value_json.value }}",
		Device: model.RegisterDevice{
			Name:         "Deimic " + key.Address,
			Identifiers:  []string{slug.Make("deimic " + key.Address)},
			Model:        "Deimic module",
			Manufacturer: "Deimic",
		},
	}
}
