package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/feedbackkit/courier/internal/models"
)

// messageColumns is the select list matching scanMessage.
const messageColumns = `id, client_created_at, nonce, state, read, json`

// execer abstracts *sql.DB and *sql.Tx for shared write helpers.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func upsertMessageTx(e execer, m *models.Message) error {
	raw, err := models.MarshalMessage(m)
	if err != nil {
		return err
	}
	_, err = e.Exec(
		`INSERT INTO message (id, client_created_at, nonce, state, read, json) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(nonce) DO UPDATE SET
		   id = excluded.id, client_created_at = excluded.client_created_at,
		   state = excluded.state, read = excluded.read, json = excluded.json`,
		nilIfEmpty(m.ServerID), m.ClientCreatedAt, m.Nonce, string(m.State), m.Read, string(raw),
	)
	if err != nil {
		return fmt.Errorf("upsert message %s failed: %w", m.Nonce, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertMessage(m *models.Message) error {
	if err := upsertMessageTx(s.db, m); err != nil {
		return err
	}
	slog.Debug("SQLiteStore.UpsertMessage", "nonce", m.Nonce, "state", m.State)
	return nil
}

func (s *SQLiteStore) GetMessage(nonce string) (*models.Message, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM message WHERE nonce = ?`, nonce)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) UpdateMessage(m *models.Message) error {
	raw, err := models.MarshalMessage(m)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE message SET id = ?, client_created_at = ?, state = ?, read = ?, json = ? WHERE nonce = ?`,
		nilIfEmpty(m.ServerID), m.ClientCreatedAt, string(m.State), m.Read, string(raw), m.Nonce,
	)
	if err != nil {
		return fmt.Errorf("update message %s failed: %w", m.Nonce, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteMessage(nonce string) error {
	_, err := s.db.Exec(`DELETE FROM message WHERE nonce = ?`, nonce)
	if err != nil {
		return fmt.Errorf("delete message %s failed: %w", nonce, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAllMessages() error {
	_, err := s.db.Exec(`DELETE FROM message`)
	if err != nil {
		return fmt.Errorf("delete all messages failed: %w", err)
	}
	slog.Debug("SQLiteStore.DeleteAllMessages")
	return nil
}

func (s *SQLiteStore) ListMessagesOrdered() ([]models.Message, error) {
	// COALESCE forces rows with no server id to sort last; _id keeps the
	// unsent ones in insertion order among themselves.
	rows, err := s.db.Query(`SELECT ` + messageColumns + ` FROM message ORDER BY COALESCE(id, 'z') ASC, _id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages iteration failed: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) UnreadMessageCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM message WHERE read = 0 AND id IS NOT NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread message count failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) LastReceivedServerID() (string, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT id FROM message WHERE state = ? AND id IS NOT NULL ORDER BY id DESC LIMIT 1`,
		string(models.MessageStateSaved),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last received server id failed: %w", err)
	}
	return id, nil
}
