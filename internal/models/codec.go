// Package models: JSON codec for payload envelopes and wire records.
package models

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalMessage serializes a message into its wire/queue JSON form.
func MarshalMessage(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message %s failed: %w", m.Nonce, err)
	}
	return data, nil
}

// UnmarshalMessage parses a wire/queue JSON record into a Message.
func UnmarshalMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message failed: %w", err)
	}
	if m.Type == "" {
		m.Type = MessageTypeCompound
	}
	return &m, nil
}

// PayloadNonce extracts the owning record's nonce from a serialized payload
// body without decoding the whole envelope.
func PayloadNonce(p Payload) string {
	return jsoniter.Get(p.Body, "nonce").ToString()
}

// NewMessagePayload wraps a message into a queueable payload envelope.
func NewMessagePayload(m *Message) (Payload, error) {
	body, err := MarshalMessage(m)
	if err != nil {
		return Payload{}, err
	}
	return Payload{BaseType: PayloadBaseTypeMessage, Body: body}, nil
}

// Event is an interaction/analytics record delivered with the same
// reliability guarantees as messages.
type Event struct {
	Nonce           string                 `json:"nonce"`
	Label           string                 `json:"label"`
	ClientCreatedAt float64                `json:"client_created_at"`
	Data            map[string]interface{} `json:"data,omitempty"`
}

// NewEventPayload builds a queueable event payload.
func NewEventPayload(label string, data map[string]interface{}) (Payload, error) {
	ev := Event{
		Nonce:           NewNonce(),
		Label:           label,
		ClientCreatedAt: Now(),
		Data:            data,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return Payload{}, fmt.Errorf("marshal event %s failed: %w", label, err)
	}
	return Payload{BaseType: PayloadBaseTypeEvent, Body: body}, nil
}

// Device describes the client device; sent as a PUT so repeated sends are safe.
type Device struct {
	UUID       string                 `json:"uuid"`
	OSName     string                 `json:"os_name,omitempty"`
	OSVersion  string                 `json:"os_version,omitempty"`
	Locale     string                 `json:"locale_raw,omitempty"`
	CustomData map[string]interface{} `json:"custom_data,omitempty"`
}

// NewDevicePayload builds a queueable device payload.
func NewDevicePayload(d *Device) (Payload, error) {
	body, err := json.Marshal(struct {
		Nonce string `json:"nonce"`
		*Device
	}{NewNonce(), d})
	if err != nil {
		return Payload{}, fmt.Errorf("marshal device failed: %w", err)
	}
	return Payload{BaseType: PayloadBaseTypeDevice, Body: body}, nil
}

// Person describes the app user; sent as a PUT so repeated sends are safe.
type Person struct {
	Name       string                 `json:"name,omitempty"`
	Email      string                 `json:"email,omitempty"`
	CustomData map[string]interface{} `json:"custom_data,omitempty"`
}

// NewPersonPayload builds a queueable person payload.
func NewPersonPayload(p *Person) (Payload, error) {
	body, err := json.Marshal(struct {
		Nonce string `json:"nonce"`
		*Person
	}{NewNonce(), p})
	if err != nil {
		return Payload{}, fmt.Errorf("marshal person failed: %w", err)
	}
	return Payload{BaseType: PayloadBaseTypePerson, Body: body}, nil
}
