// Package models defines the core data structures for Courier.
//
// It includes the durable Payload envelope, the conversation Message entity,
// and attachment metadata, which are shared across modules.
package models

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// MessageState represents the delivery lifecycle state of a message.
type MessageState string

const (
	// MessageStateStored means the message has been written locally but not queued.
	MessageStateStored MessageState = "stored"
	// MessageStateSending means the message is queued for delivery.
	MessageStateSending MessageState = "sending"
	// MessageStateSaved means the message came back from the server message list.
	MessageStateSaved MessageState = "saved"
	// MessageStateSent means the server confirmed receipt of the message.
	MessageStateSent MessageState = "sent"
)

// MessageType discriminates the message content shape.
type MessageType string

const (
	// MessageTypeCompound is the unified message type: text plus zero or more attachments.
	MessageTypeCompound MessageType = "CompoundMessage"

	// Legacy types, rewritten to MessageTypeCompound by the schema migration.
	MessageTypeText      MessageType = "TextMessage"
	MessageTypeFile      MessageType = "FileMessage"
	MessageTypeAutomated MessageType = "AutomatedMessage"
)

// PayloadBaseType discriminates what kind of record a queued payload carries.
type PayloadBaseType string

const (
	PayloadBaseTypeMessage PayloadBaseType = "message"
	PayloadBaseTypeEvent   PayloadBaseType = "event"
	PayloadBaseTypeDevice  PayloadBaseType = "device"
	PayloadBaseTypePerson  PayloadBaseType = "person"
)

// PauseReason classifies why the send pipeline stopped, driving different
// resume triggers. A network pause can be resumed proactively when
// connectivity returns; a server pause waits for the backoff timer.
type PauseReason int

const (
	PauseReasonNone PauseReason = iota
	PauseReasonNetwork
	PauseReasonServer
)

func (r PauseReason) String() string {
	switch r {
	case PauseReasonNetwork:
		return "network"
	case PauseReasonServer:
		return "server"
	default:
		return "none"
	}
}

// FailedTimestamp is the sentinel ClientCreatedAt value marking a message whose
// send was permanently rejected.
const FailedTimestamp = math.SmallestNonzeroFloat64

// Error variables for validation and lookup failures.
var (
	ErrEmptyNonce      = errors.New("message nonce cannot be empty")
	ErrEmptyBody       = errors.New("message body cannot be empty for text-only messages")
	ErrInvalidBaseType = errors.New("invalid payload base type")
	ErrNotFound        = errors.New("record not found")
)

// IsValidBaseType checks if the given payload base type is supported.
func IsValidBaseType(bt PayloadBaseType) bool {
	switch bt {
	case PayloadBaseTypeMessage, PayloadBaseTypeEvent, PayloadBaseTypeDevice, PayloadBaseTypePerson:
		return true
	default:
		return false
	}
}

// Sender carries display metadata about the author of a received message.
type Sender struct {
	Name         string `json:"name,omitempty"`
	ProfilePhoto string `json:"profile_photo,omitempty"`
}

// Message represents one conversation entry. The Nonce is the client-generated
// idempotency key and is the only safe upsert key before a ServerID exists.
type Message struct {
	Nonce           string       `json:"nonce"`
	ServerID        string       `json:"id,omitempty"`
	ClientCreatedAt float64      `json:"client_created_at,omitempty"`
	CreatedAt       float64      `json:"created_at,omitempty"`
	Type            MessageType  `json:"type"`
	State           MessageState `json:"-"`
	Read            bool         `json:"-"`
	Hidden          bool         `json:"hidden,omitempty"`
	Outgoing        bool         `json:"outgoing,omitempty"`
	Automated       bool         `json:"automated,omitempty"`
	TextOnly        bool         `json:"text_only"`
	Body            string       `json:"body,omitempty"`
	Sender          *Sender      `json:"sender,omitempty"`

	// Attachments are stored in their own table keyed by Nonce, never inline.
	Attachments []StoredFile `json:"-"`
}

// NewOutgoingMessage builds a user-authored compound message ready to queue.
func NewOutgoingMessage(body string) *Message {
	return &Message{
		Nonce:           NewNonce(),
		ClientCreatedAt: Now(),
		Type:            MessageTypeCompound,
		State:           MessageStateStored,
		Read:            true,
		Outgoing:        true,
		TextOnly:        true,
		Body:            body,
	}
}

// Validate performs basic validation before a message is accepted for sending.
func (m *Message) Validate() error {
	if m.Nonce == "" {
		return ErrEmptyNonce
	}
	if m.TextOnly && m.Body == "" && len(m.Attachments) == 0 {
		return ErrEmptyBody
	}
	return nil
}

// SendFailed reports whether the message carries the permanent-failure sentinel.
func (m *Message) SendFailed() bool {
	return m.ClientCreatedAt == FailedTimestamp
}

// MarkSendFailed stamps the permanent-failure sentinel onto the message.
func (m *Message) MarkSendFailed() {
	m.ClientCreatedAt = FailedTimestamp
}

// StoredFile is attachment metadata associated with a message by nonce. Both
// sent and received files keep a local cached copy; RemoteURL is empty until
// the server has a copy, SourceURIOrPath is empty for received files.
type StoredFile struct {
	MessageNonce    string `json:"nonce"`
	MimeType        string `json:"mime_type"`
	LocalCachePath  string `json:"local_path"`
	SourceURIOrPath string `json:"source_uri,omitempty"`
	RemoteURL       string `json:"remote_url,omitempty"`
	CreationTime    int64  `json:"creation_time"`
}

// Payload is an opaque serialized envelope awaiting delivery. DatabaseID is
// assigned by the store on insert and defines send order.
type Payload struct {
	DatabaseID int64
	BaseType   PayloadBaseType
	Body       []byte
}

// NewNonce returns a fresh client-generated idempotency token.
func NewNonce() string {
	return uuid.NewString()
}

// Now returns the current time as epoch seconds with sub-second precision,
// the timestamp format used on the wire.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
