// Package messagecenter owns the local conversation: queueing outgoing
// messages, reconciling the server's authoritative list into the local
// store, and tracking read state.
package messagecenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/feedbackkit/courier/internal/events"
	"github.com/feedbackkit/courier/internal/models"
	"github.com/feedbackkit/courier/internal/store"
	"github.com/feedbackkit/courier/internal/transport"
)

// Fetcher retrieves messages newer than afterID from the remote service.
type Fetcher interface {
	GetMessages(ctx context.Context, afterID string) *transport.RawResult
}

// Waker nudges the send worker to check the queue.
type Waker interface {
	Wake()
}

// Manager coordinates the message store, the payload queue and the remote
// list. It implements the send worker's outcome callbacks.
type Manager struct {
	store      store.Store
	client     Fetcher
	dispatcher *events.Dispatcher
	classifier transport.ClassifierConfig
	worker     Waker
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClassifier overrides the default response classification table.
func WithClassifier(cfg transport.ClassifierConfig) ManagerOption {
	return func(m *Manager) { m.classifier = cfg }
}

// NewManager creates a message center manager.
func NewManager(st store.Store, client Fetcher, dispatcher *events.Dispatcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      st,
		client:     client,
		dispatcher: dispatcher,
		classifier: transport.DefaultClassifierConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetWorker wires the send worker to wake after enqueues. The worker is
// constructed after the manager because it takes the manager as its outcome
// handler.
func (m *Manager) SetWorker(w Waker) {
	m.worker = w
}

// SendMessage stores the message and queues its payload in one transaction,
// then wakes the worker. A store failure is returned so the caller can fail
// the user action explicitly instead of silently losing it.
func (m *Manager) SendMessage(msg *models.Message) error {
	if msg.Nonce == "" {
		msg.Nonce = models.NewNonce()
	}
	if msg.ClientCreatedAt == 0 {
		msg.ClientCreatedAt = models.Now()
	}
	if msg.Type == "" {
		msg.Type = models.MessageTypeCompound
	}
	msg.TextOnly = len(msg.Attachments) == 0
	if err := msg.Validate(); err != nil {
		return err
	}
	msg.State = models.MessageStateSending
	msg.Read = true
	msg.Outgoing = true

	if len(msg.Attachments) > 0 {
		if err := m.store.ReplaceMessageFiles(msg.Nonce, msg.Attachments); err != nil {
			return fmt.Errorf("store attachments failed: %w", err)
		}
	}

	p, err := models.NewMessagePayload(msg)
	if err != nil {
		return err
	}
	if _, err := m.store.EnqueueMessage(msg, p); err != nil {
		return fmt.Errorf("enqueue message failed: %w", err)
	}
	slog.Debug("Manager.SendMessage: queued", "nonce", msg.Nonce, "hidden", msg.Hidden)

	if m.worker != nil {
		m.worker.Wake()
	}
	return nil
}

// HandleSent finalizes a message the server accepted: it takes the assigned
// server id and timestamp from the response and marks the message sent.
// Hidden messages are deleted together with their attachments instead of
// being kept in history.
func (m *Manager) HandleSent(nonce string, res *transport.RawResult) {
	msg, err := m.store.GetMessage(nonce)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// The message was deleted while its payload was in flight.
			slog.Debug("Manager.HandleSent: message gone", "nonce", nonce)
			return
		}
		slog.Error("Manager.HandleSent: lookup failed", "nonce", nonce, "error", err)
		return
	}

	if msg.Hidden {
		m.deleteMessageAndFiles(msg)
		return
	}

	msg.ServerID = jsoniter.Get([]byte(res.Body), "id").ToString()
	if createdAt := jsoniter.Get([]byte(res.Body), "created_at").ToFloat64(); createdAt != 0 {
		msg.CreatedAt = createdAt
	}
	msg.State = models.MessageStateSent
	if err := m.store.UpdateMessage(msg); err != nil {
		slog.Error("Manager.HandleSent: update failed", "nonce", nonce, "error", err)
		return
	}
	slog.Info("Manager.HandleSent: message sent", "nonce", nonce, "serverID", msg.ServerID)
	m.dispatcher.Publish(events.Event{Type: events.TypeMessageSent, Message: msg, Result: res})
}

// HandleRejected marks a terminally rejected message with the failed
// timestamp sentinel so the conversation can show the failure. The message
// stays in history unless hidden.
func (m *Manager) HandleRejected(nonce string, res *transport.RawResult) {
	msg, err := m.store.GetMessage(nonce)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			slog.Error("Manager.HandleRejected: lookup failed", "nonce", nonce, "error", err)
		}
		return
	}

	if msg.Hidden {
		m.deleteMessageAndFiles(msg)
		return
	}

	msg.MarkSendFailed()
	if err := m.store.UpdateMessage(msg); err != nil {
		slog.Error("Manager.HandleRejected: update failed", "nonce", nonce, "error", err)
		return
	}
	slog.Warn("Manager.HandleRejected: message permanently rejected", "nonce", nonce, "status", res.StatusCode)
	m.dispatcher.Publish(events.Event{Type: events.TypeMessageSent, Message: msg, Result: res})
}

func (m *Manager) deleteMessageAndFiles(msg *models.Message) {
	files, err := m.store.GetMessageFiles(msg.Nonce)
	if err != nil {
		slog.Error("Manager.deleteMessageAndFiles: file lookup failed", "nonce", msg.Nonce, "error", err)
	}
	for _, f := range files {
		if f.LocalCachePath == "" {
			continue
		}
		if err := os.Remove(f.LocalCachePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("Manager.deleteMessageAndFiles: cache removal failed", "path", f.LocalCachePath, "error", err)
		}
	}
	if err := m.store.DeleteMessageFiles(msg.Nonce); err != nil {
		slog.Error("Manager.deleteMessageAndFiles: delete files failed", "nonce", msg.Nonce, "error", err)
	}
	if err := m.store.DeleteMessage(msg.Nonce); err != nil {
		slog.Error("Manager.deleteMessageAndFiles: delete message failed", "nonce", msg.Nonce, "error", err)
	}
	slog.Debug("Manager.deleteMessageAndFiles: removed", "nonce", msg.Nonce, "files", len(files))
}

// FetchAndStoreMessages reconciles the remote list into the local store:
// it fetches everything newer than the last received id, marks outgoing
// echoes read, merges by nonce, and publishes the new unread total. Calling
// it twice over the same range yields the same store contents. It returns
// the number of incoming messages merged.
func (m *Manager) FetchAndStoreMessages(ctx context.Context) (int, error) {
	afterID, err := m.store.LastReceivedServerID()
	if err != nil {
		return 0, err
	}
	slog.Debug("Manager.FetchAndStoreMessages: fetching", "afterID", afterID)

	res := m.client.GetMessages(ctx, afterID)
	if class := m.classifier.Classify(res); class != transport.ClassSuccess {
		if res.Err != nil {
			return 0, fmt.Errorf("message fetch failed (%s): %w", class, res.Err)
		}
		return 0, fmt.Errorf("message fetch failed (%s): status %d", class, res.StatusCode)
	}

	msgs, err := parseMessageList(res.Body)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	incoming := 0
	var first *models.Message
	for _, msg := range msgs {
		// Server-returned records are saved before merging.
		msg.State = models.MessageStateSaved
		if msg.Outgoing {
			// The sender already knows its own content.
			msg.Read = true
		} else {
			incoming++
			if first == nil {
				first = msg
			}
		}
		if err := m.store.UpsertMessage(msg); err != nil {
			slog.Error("Manager.FetchAndStoreMessages: upsert failed", "nonce", msg.Nonce, "error", err)
		}
	}

	if first != nil {
		m.dispatcher.Publish(events.Event{Type: events.TypeNewIncomingMessage, Message: first})
	}
	m.publishUnreadCount()
	slog.Info("Manager.FetchAndStoreMessages: merged", "total", len(msgs), "incoming", incoming)
	return incoming, nil
}

// parseMessageList decodes a {"items":[...]} response body. A malformed item
// is logged and skipped rather than failing the batch.
func parseMessageList(body string) ([]*models.Message, error) {
	var root struct {
		Items []jsoniter.RawMessage `json:"items"`
	}
	if err := jsoniter.UnmarshalFromString(body, &root); err != nil {
		return nil, fmt.Errorf("parse message list failed: %w", err)
	}
	msgs := make([]*models.Message, 0, len(root.Items))
	for _, raw := range root.Items {
		msg, err := models.UnmarshalMessage(raw)
		if err != nil {
			slog.Warn("parseMessageList: skipping malformed item", "error", err)
			continue
		}
		if msg.Nonce == "" {
			slog.Warn("parseMessageList: skipping item without nonce")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ListVisible returns the conversation in display order, hidden entries
// excluded.
func (m *Manager) ListVisible() ([]models.Message, error) {
	all, err := m.store.ListMessagesOrdered()
	if err != nil {
		return nil, err
	}
	visible := make([]models.Message, 0, len(all))
	for _, msg := range all {
		if !msg.Hidden {
			visible = append(visible, msg)
		}
	}
	return visible, nil
}

// UnreadCount returns the number of unread server-confirmed messages.
func (m *Manager) UnreadCount() (int, error) {
	return m.store.UnreadMessageCount()
}

// MarkRead marks one message read and republishes the unread total.
func (m *Manager) MarkRead(nonce string) error {
	msg, err := m.store.GetMessage(nonce)
	if err != nil {
		return err
	}
	if msg.Read {
		return nil
	}
	msg.Read = true
	if err := m.store.UpdateMessage(msg); err != nil {
		return err
	}
	m.publishUnreadCount()
	return nil
}

// DeleteAllMessages empties the local conversation. Testing support.
func (m *Manager) DeleteAllMessages() error {
	return m.store.DeleteAllMessages()
}

func (m *Manager) publishUnreadCount() {
	unread, err := m.store.UnreadMessageCount()
	if err != nil {
		slog.Error("Manager.publishUnreadCount: count failed", "error", err)
		return
	}
	m.dispatcher.Publish(events.Event{Type: events.TypeUnreadCountChanged, UnreadCount: unread})
}
