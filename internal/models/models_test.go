package models

import (
	"strings"
	"testing"
)

func TestNewOutgoingMessage(t *testing.T) {
	m := NewOutgoingMessage("hello")
	if m.Nonce == "" {
		t.Error("expected nonce to be assigned")
	}
	if m.Type != MessageTypeCompound || !m.TextOnly || !m.Outgoing {
		t.Errorf("unexpected message shape: type=%s textOnly=%v outgoing=%v", m.Type, m.TextOnly, m.Outgoing)
	}
	if !m.Read {
		t.Error("own messages should start read")
	}
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestMessageValidate(t *testing.T) {
	m := &Message{Type: MessageTypeCompound, TextOnly: true, Body: "hi"}
	if err := m.Validate(); err != ErrEmptyNonce {
		t.Errorf("expected ErrEmptyNonce, got %v", err)
	}
	m.Nonce = NewNonce()
	m.Body = ""
	if err := m.Validate(); err != ErrEmptyBody {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
}

func TestMarkSendFailed(t *testing.T) {
	m := NewOutgoingMessage("x")
	if m.SendFailed() {
		t.Error("new message should not be failed")
	}
	m.MarkSendFailed()
	if !m.SendFailed() {
		t.Error("expected SendFailed after MarkSendFailed")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := NewOutgoingMessage("round trip")
	m.Hidden = true
	data, err := MarshalMessage(m)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	got, err := UnmarshalMessage(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Nonce != m.Nonce || got.Body != m.Body || !got.Hidden || !got.TextOnly {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestUnmarshalMessageDefaultsType(t *testing.T) {
	got, err := UnmarshalMessage([]byte(`{"nonce":"n1","body":"hi"}`))
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Type != MessageTypeCompound {
		t.Errorf("expected compound default, got %s", got.Type)
	}
}

func TestPayloadNonce(t *testing.T) {
	m := NewOutgoingMessage("n")
	p, err := NewMessagePayload(m)
	if err != nil {
		t.Fatalf("payload build failed: %v", err)
	}
	if got := PayloadNonce(p); got != m.Nonce {
		t.Errorf("expected nonce %s, got %s", m.Nonce, got)
	}
}

func TestEventPayload(t *testing.T) {
	p, err := NewEventPayload("launch", map[string]interface{}{"cold": true})
	if err != nil {
		t.Fatalf("event payload failed: %v", err)
	}
	if p.BaseType != PayloadBaseTypeEvent {
		t.Errorf("expected event base type, got %s", p.BaseType)
	}
	if !strings.Contains(string(p.Body), `"label":"launch"`) {
		t.Errorf("event body missing label: %s", p.Body)
	}
	if PayloadNonce(p) == "" {
		t.Error("event payload missing nonce")
	}
}

func TestIsValidBaseType(t *testing.T) {
	for _, bt := range []PayloadBaseType{PayloadBaseTypeMessage, PayloadBaseTypeEvent, PayloadBaseTypeDevice, PayloadBaseTypePerson} {
		if !IsValidBaseType(bt) {
			t.Errorf("expected %s to be valid", bt)
		}
	}
	if IsValidBaseType("survey_response") {
		t.Error("unexpected base type accepted")
	}
}
