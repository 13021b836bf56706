// Package store provides storage backends for Courier.
//
// It defines the repository interfaces for the durable payload queue, the
// message table, and attachment metadata, with SQLite and PostgreSQL
// implementations. Any engine providing ordered insert, point delete, and
// range query can satisfy these interfaces.
package store

import (
	"strings"

	"github.com/feedbackkit/courier/internal/models"
)

// PayloadRepo is the durable, insertion-ordered queue of outbound records.
// IDs are assigned by the store and strictly increase, defining send order.
type PayloadRepo interface {
	// EnqueuePayload appends a payload and returns its assigned database id.
	EnqueuePayload(p models.Payload) (int64, error)

	// EnqueueMessage upserts the message row and appends its payload in a
	// single transaction, so a crash cannot accept a message without durably
	// queueing its send.
	EnqueueMessage(m *models.Message, p models.Payload) (int64, error)

	// PeekOldestPayload returns the payload with the lowest id, or nil if the
	// queue is empty.
	PeekOldestPayload() (*models.Payload, error)

	// DeletePayload removes a payload by id. Deleting a missing id is a no-op.
	DeletePayload(id int64) error

	// DeleteAllPayloads empties the queue.
	DeleteAllPayloads() error

	// CountPayloads returns the number of queued payloads.
	CountPayloads() (int, error)
}

// MessageRepo is the durable message table keyed by client nonce.
type MessageRepo interface {
	// UpsertMessage replaces the record with the same nonce in place, or
	// inserts a new one. Repeated upserts of the same nonce never create
	// duplicate rows.
	UpsertMessage(m *models.Message) error

	// GetMessage returns the message with the given nonce, or
	// models.ErrNotFound.
	GetMessage(nonce string) (*models.Message, error)

	// UpdateMessage rewrites an existing message row. Updating a missing
	// nonce is a no-op.
	UpdateMessage(m *models.Message) error

	// DeleteMessage removes the message with the given nonce.
	DeleteMessage(nonce string) error

	// DeleteAllMessages empties the message table.
	DeleteAllMessages() error

	// ListMessagesOrdered returns all messages sorted by server id ascending,
	// with unassigned server ids last in insertion order.
	ListMessagesOrdered() ([]models.Message, error)

	// UnreadMessageCount counts unread messages that have a server id.
	// Records without one are outgoing and never count as unread.
	UnreadMessageCount() (int, error)

	// LastReceivedServerID returns the highest server id among saved
	// messages, or empty if none.
	LastReceivedServerID() (string, error)
}

// FileRepo stores attachment metadata associated with messages by nonce.
type FileRepo interface {
	// ReplaceMessageFiles deletes any rows for the nonce and inserts the
	// given files in one transaction, so add and update both work.
	ReplaceMessageFiles(nonce string, files []models.StoredFile) error

	// GetMessageFiles returns all files associated with the nonce.
	GetMessageFiles(nonce string) ([]models.StoredFile, error)

	// DeleteMessageFiles removes all files associated with the nonce.
	DeleteMessageFiles(nonce string) error
}

// Store combines the three repositories backing the delivery core.
type Store interface {
	PayloadRepo
	MessageRepo
	FileRepo
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string (file path for SQLite).
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports which backend a DSN selects: "postgres" for
// PostgreSQL URLs and key=value connection strings, "sqlite3" for file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}
