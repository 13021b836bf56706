package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/feedbackkit/courier/internal/models"
)

func (s *PostgresStore) EnqueuePayload(p models.Payload) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO payload (base_type, json) VALUES ($1, $2) RETURNING _id`,
		string(p.BaseType), string(p.Body),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue payload failed: %w", err)
	}
	slog.Debug("PostgresStore.EnqueuePayload", "id", id, "baseType", p.BaseType)
	return id, nil
}

func (s *PostgresStore) EnqueueMessage(m *models.Message, p models.Payload) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("enqueue message begin failed: %w", err)
	}
	defer tx.Rollback()

	if err := upsertMessagePgTx(tx, m); err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRow(
		`INSERT INTO payload (base_type, json) VALUES ($1, $2) RETURNING _id`,
		string(p.BaseType), string(p.Body),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue message payload insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("enqueue message commit failed: %w", err)
	}
	slog.Debug("PostgresStore.EnqueueMessage", "nonce", m.Nonce, "payloadID", id)
	return id, nil
}

func (s *PostgresStore) PeekOldestPayload() (*models.Payload, error) {
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

func (s *PostgresStore) DeletePayload(id int64) error {
	_, err := s.db.Exec(`DELETE FROM payload WHERE _id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payload %d failed: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) DeleteAllPayloads() error {
	_, err := s.db.Exec(`DELETE FROM payload`)
	if err != nil {
		return fmt.Errorf("delete all payloads failed: %w", err)
	}
	slog.Debug("PostgresStore.DeleteAllPayloads")
	return nil
}

func (s *PostgresStore) CountPayloads() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM payload`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count payloads failed: %w", err)
	}
	return n, nil
}
