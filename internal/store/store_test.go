package store

import (
	"errors"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/feedbackkit/courier/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(WithDSN(filepath.Join(t.TempDir(), "courier.db")))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustEnqueue(t *testing.T, s *SQLiteStore, body string) int64 {
	t.Helper()
	id, err := s.EnqueuePayload(models.Payload{BaseType: models.PayloadBaseTypeMessage, Body: []byte(body)})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	return id
}

func TestPayloadFIFO(t *testing.T) {
	s := newTestStore(t)
	id1 := mustEnqueue(t, s, `{"nonce":"a"}`)
	id2 := mustEnqueue(t, s, `{"nonce":"b"}`)
	id3 := mustEnqueue(t, s, `{"nonce":"c"}`)
	if !(id1 < id2 && id2 < id3) {
		t.Fatalf("ids not strictly increasing: %d %d %d", id1, id2, id3)
	}

	p, err := s.PeekOldestPayload()
	if err != nil || p == nil {
		t.Fatalf("peek failed: %v %v", p, err)
	}
	if p.DatabaseID != id1 {
		t.Errorf("expected oldest id %d, got %d", id1, p.DatabaseID)
	}

	if err := s.DeletePayload(id1); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	p, err = s.PeekOldestPayload()
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if p == nil || p.DatabaseID != id2 {
		t.Errorf("expected next oldest %d, got %+v", id2, p)
	}
}

func TestDeletePayloadIdempotent(t *testing.T) {
	s := newTestStore(t)
	id := mustEnqueue(t, s, `{"nonce":"a"}`)
	if err := s.DeletePayload(id); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	if err := s.DeletePayload(id); err != nil {
		t.Errorf("second delete should be a no-op, got: %v", err)
	}
	if err := s.DeletePayload(99999); err != nil {
		t.Errorf("deleting unknown id should be a no-op, got: %v", err)
	}
}

func TestPeekEmptyQueue(t *testing.T) {
	s := newTestStore(t)
	p, err := s.PeekOldestPayload()
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil payload on empty queue, got %+v", p)
	}
}

func TestDeleteAllPayloads(t *testing.T) {
	s := newTestStore(t)
	mustEnqueue(t, s, `{"nonce":"a"}`)
	mustEnqueue(t, s, `{"nonce":"b"}`)
	if err := s.DeleteAllPayloads(); err != nil {
		t.Fatalf("delete all failed: %v", err)
	}
	n, err := s.CountPayloads()
	if err != nil || n != 0 {
		t.Errorf("expected empty queue, got count=%d err=%v", n, err)
	}
}

func TestUpsertMessageNoDuplicates(t *testing.T) {
	s := newTestStore(t)
	m := models.NewOutgoingMessage("first")
	if err := s.UpsertMessage(m); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	m.Body = "edited"
	m.State = models.MessageStateSent
	if err := s.UpsertMessage(m); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	msgs, err := s.ListMessagesOrdered()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 row after repeated upserts, got %d", len(msgs))
	}
	if msgs[0].Body != "edited" || msgs[0].State != models.MessageStateSent {
		t.Errorf("mutable fields not replaced: %+v", msgs[0])
	}
}

func TestGetMessageNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetMessage("missing")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrderedNullServerIDsLast(t *testing.T) {
	s := newTestStore(t)

	pending1 := models.NewOutgoingMessage("pending one")
	pending2 := models.NewOutgoingMessage("pending two")
	confirmed := models.NewOutgoingMessage("confirmed")
	confirmed.ServerID = "100"
	confirmed.State = models.MessageStateSent

	for _, m := range []*models.Message{pending1, pending2, confirmed} {
		if err := s.UpsertMessage(m); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	msgs, err := s.ListMessagesOrdered()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Nonce != confirmed.Nonce {
		t.Errorf("confirmed message should sort first, got %s", msgs[0].Nonce)
	}
	if msgs[1].Nonce != pending1.Nonce || msgs[2].Nonce != pending2.Nonce {
		t.Errorf("pending messages should keep insertion order: %s, %s", msgs[1].Nonce, msgs[2].Nonce)
	}
}

func TestUnreadMessageCount(t *testing.T) {
	s := newTestStore(t)

	incoming := &models.Message{Nonce: models.NewNonce(), Type: models.MessageTypeCompound, ServerID: "10", State: models.MessageStateSaved, Body: "hi", TextOnly: true}
	outgoingUnconfirmed := models.NewOutgoingMessage("mine")
	outgoingUnconfirmed.Read = false // even unread, no server id means it never counts

	if err := s.UpsertMessage(incoming); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := s.UpsertMessage(outgoingUnconfirmed); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	n, err := s.UnreadMessageCount()
	if err != nil {
		t.Fatalf("unread count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 unread, got %d", n)
	}

	incoming.Read = true
	if err := s.UpdateMessage(incoming); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	n, _ = s.UnreadMessageCount()
	if n != 0 {
		t.Errorf("expected 0 unread after marking read, got %d", n)
	}
}

func TestLastReceivedServerID(t *testing.T) {
	s := newTestStore(t)
	id, err := s.LastReceivedServerID()
	if err != nil || id != "" {
		t.Fatalf("expected empty last id on empty store, got %q err=%v", id, err)
	}

	saved := &models.Message{Nonce: models.NewNonce(), Type: models.MessageTypeCompound, ServerID: "42", State: models.MessageStateSaved, Body: "x", TextOnly: true}
	sent := &models.Message{Nonce: models.NewNonce(), Type: models.MessageTypeCompound, ServerID: "99", State: models.MessageStateSent, Body: "y", TextOnly: true}
	if err := s.UpsertMessage(saved); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertMessage(sent); err != nil {
		t.Fatal(err)
	}

	id, err = s.LastReceivedServerID()
	if err != nil {
		t.Fatalf("last id failed: %v", err)
	}
	// Only saved messages count; "99" is merely sent.
	if id != "42" {
		t.Errorf("expected last received id 42, got %q", id)
	}
}

func TestEnqueueMessageAtomic(t *testing.T) {
	s := newTestStore(t)
	m := models.NewOutgoingMessage("atomic")
	m.State = models.MessageStateSending
	p, err := models.NewMessagePayload(m)
	if err != nil {
		t.Fatalf("payload build failed: %v", err)
	}
	id, err := s.EnqueueMessage(m, p)
	if err != nil {
		t.Fatalf("enqueue message failed: %v", err)
	}
	if id <= 0 {
		t.Errorf("expected positive payload id, got %d", id)
	}

	got, err := s.GetMessage(m.Nonce)
	if err != nil {
		t.Fatalf("message row missing after enqueue: %v", err)
	}
	if got.State != models.MessageStateSending {
		t.Errorf("expected sending state, got %s", got.State)
	}
	n, _ := s.CountPayloads()
	if n != 1 {
		t.Errorf("expected 1 queued payload, got %d", n)
	}
}

func TestReplaceMessageFiles(t *testing.T) {
	s := newTestStore(t)
	nonce := models.NewNonce()
	files := []models.StoredFile{
		{MessageNonce: nonce, MimeType: "image/png", LocalCachePath: "/tmp/a.png", CreationTime: 10},
		{MessageNonce: nonce, MimeType: "image/jpeg", LocalCachePath: "/tmp/b.jpg", CreationTime: 20},
	}
	if err := s.ReplaceMessageFiles(nonce, files); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	// Replacing again must not duplicate rows.
	if err := s.ReplaceMessageFiles(nonce, files[:1]); err != nil {
		t.Fatalf("second replace failed: %v", err)
	}
	got, err := s.GetMessageFiles(nonce)
	if err != nil {
		t.Fatalf("get files failed: %v", err)
	}
	if len(got) != 1 || got[0].MimeType != "image/png" {
		t.Errorf("unexpected files after replace: %+v", got)
	}

	if err := s.DeleteMessageFiles(nonce); err != nil {
		t.Fatalf("delete files failed: %v", err)
	}
	got, _ = s.GetMessageFiles(nonce)
	if len(got) != 0 {
		t.Errorf("expected no files after delete, got %d", len(got))
	}
}

func TestPostgresStoreSmoke(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for the connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pg, err := NewPostgresStore(WithDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pg.Close()
	pg.DeleteAllPayloads()
	pg.DeleteAllMessages()

	id, err := pg.EnqueuePayload(models.Payload{BaseType: models.PayloadBaseTypeEvent, Body: []byte(`{"nonce":"n"}`)})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	p, err := pg.PeekOldestPayload()
	if err != nil || p == nil || p.DatabaseID != id {
		t.Fatalf("peek mismatch: %+v err=%v", p, err)
	}
	if err := pg.DeletePayload(id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
