package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/feedbackkit/courier/internal/models"
)

func (s *SQLiteStore) EnqueuePayload(p models.Payload) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO payload (base_type, json) VALUES (?, ?)`,
		string(p.BaseType), string(p.Body),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue payload failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue payload id lookup failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueuePayload", "id", id, "baseType", p.BaseType)
	return id, nil
}

func (s *SQLiteStore) EnqueueMessage(m *models.Message, p models.Payload) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("enqueue message begin failed: %w", err)
	}
	defer tx.Rollback()

	if err := upsertMessageTx(tx, m); err != nil {
		return 0, err
	}
	res, err := tx.Exec(
		`INSERT INTO payload (base_type, json) VALUES (?, ?)`,
		string(p.BaseType), string(p.Body),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue message payload insert failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue message id lookup failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("enqueue message commit failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueMessage", "nonce", m.Nonce, "payloadID", id)
	return id, nil
}

func (s *SQLiteStore) PeekOldestPayload() (*models.Payload, error) {
	row := s.db.QueryRow(`SELECT _id, base_type, json FROM payload ORDER BY _id ASC LIMIT 1`)
	var p models.Payload
	var baseType, body string
	err := row.Scan(&p.DatabaseID, &baseType, &body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek oldest payload failed: %w", err)
	}
	p.BaseType = models.PayloadBaseType(baseType)
	p.Body = []byte(body)
	return &p, nil
}

func (s *SQLiteStore) DeletePayload(id int64) error {
	_, err := s.db.Exec(`DELETE FROM payload WHERE _id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete payload %d failed: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAllPayloads() error {
	_, err := s.db.Exec(`DELETE FROM payload`)
	if err != nil {
		return fmt.Errorf("delete all payloads failed: %w", err)
	}
	slog.Debug("SQLiteStore.DeleteAllPayloads")
	return nil
}

func (s *SQLiteStore) CountPayloads() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM payload`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count payloads failed: %w", err)
	}
	return n, nil
}
