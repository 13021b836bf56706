package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/feedbackkit/courier/internal/models"
)

func upsertMessagePgTx(e execer, m *models.Message) error {
	raw, err := models.MarshalMessage(m)
	if err != nil {
		return err
	}
	_, err = e.Exec(
		`INSERT INTO message (id, client_created_at, nonce, state, read, json) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (nonce) DO UPDATE SET
		   id = excluded.id, client_created_at = excluded.client_created_at,
		   state = excluded.state, read = excluded.read, json = excluded.json`,
		nilIfEmpty(m.ServerID), m.ClientCreatedAt, m.Nonce, string(m.State), m.Read, string(raw),
	)
	if err != nil {
		return fmt.Errorf("upsert message %s failed: %w", m.Nonce, err)
	}
	return nil
}

func (s *PostgresStore) UpsertMessage(m *models.Message) error {
	if err := upsertMessagePgTx(s.db, m); err != nil {
		return err
	}
	slog.Debug("PostgresStore.UpsertMessage", "nonce", m.Nonce, "state", m.State)
	return nil
}

func (s *PostgresStore) GetMessage(nonce string) (*models.Message, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM message WHERE nonce = $1`, nonce)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) UpdateMessage(m *models.Message) error {
	raw, err := models.MarshalMessage(m)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE message SET id = $1, client_created_at = $2, state = $3, read = $4, json = $5 WHERE nonce = $6`,
		nilIfEmpty(m.ServerID), m.ClientCreatedAt, string(m.State), m.Read, string(raw), m.Nonce,
	)
	if err != nil {
		return fmt.Errorf("update message %s failed: %w", m.Nonce, err)
	}
	return nil
}

func (s *PostgresStore) DeleteMessage(nonce string) error {
	_, err := s.db.Exec(`DELETE FROM message WHERE nonce = $1`, nonce)
	if err != nil {
		return fmt.Errorf("delete message %s failed: %w", nonce, err)
	}
	return nil
}

func (s *PostgresStore) DeleteAllMessages() error {
	_, err := s.db.Exec(`DELETE FROM message`)
	if err != nil {
		return fmt.Errorf("delete all messages failed: %w", err)
	}
	slog.Debug("PostgresStore.DeleteAllMessages")
	return nil
}

func (s *PostgresStore) ListMessagesOrdered() ([]models.Message, error) {
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

func (s *PostgresStore) UnreadMessageCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM message WHERE read = FALSE AND id IS NOT NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread message count failed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) LastReceivedServerID() (string, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT id FROM message WHERE state = $1 AND id IS NOT NULL ORDER BY id DESC LIMIT 1`,
		string(models.MessageStateSaved),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last received server id failed: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ReplaceMessageFiles(nonce string, files []models.StoredFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace message files begin failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM message_file WHERE nonce = $1`, nonce); err != nil {
		return fmt.Errorf("replace message files delete failed: %w", err)
	}
	for _, f := range files {
		_, err := tx.Exec(
			`INSERT INTO message_file (nonce, local_path, mime_type, source_uri, remote_url, creation_time)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			nonce, nilIfEmpty(f.LocalCachePath), nilIfEmpty(f.MimeType),
			nilIfEmpty(f.SourceURIOrPath), nilIfEmpty(f.RemoteURL), f.CreationTime,
		)
		if err != nil {
			return fmt.Errorf("replace message files insert failed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace message files commit failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessageFiles(nonce string) ([]models.StoredFile, error) {
	rows, err := s.db.Query(`SELECT `+storedFileColumns+` FROM message_file WHERE nonce = $1 ORDER BY _id ASC`, nonce)
	if err != nil {
		return nil, fmt.Errorf("get message files failed: %w", err)
	}
	defer rows.Close()

	var files []models.StoredFile
	for rows.Next() {
		f, err := scanStoredFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get message files iteration failed: %w", err)
	}
	return files, nil
}

func (s *PostgresStore) DeleteMessageFiles(nonce string) error {
	_, err := s.db.Exec(`DELETE FROM message_file WHERE nonce = $1`, nonce)
	if err != nil {
		return fmt.Errorf("delete message files %s failed: %w", nonce, err)
	}
	return nil
}

// NormalizeLegacyRecords rewrites legacy-typed records in the message table
// and the pending payload queue. Malformed records are logged and skipped.
func (s *PostgresStore) NormalizeLegacyRecords() error {
	messages, err := collectRows(s.db, `SELECT _id, json FROM message ORDER BY _id ASC`)
	if err != nil {
		return err
	}
	updated := 0
	for _, r := range messages {
		out, changed, err := transformLegacyRecord(r.raw)
		if err != nil {
			slog.Warn("PostgresStore.NormalizeLegacyRecords: skipping malformed message record", "id", r.id, "error", err)
			continue
		}
		if !changed {
			continue
		}
		if _, err := s.db.Exec(`UPDATE message SET json = $1 WHERE _id = $2`, out, r.id); err != nil {
			return fmt.Errorf("normalize message %d failed: %w", r.id, err)
		}
		updated++
	}

	payloads, err := collectRows(s.db,
		`SELECT _id, json FROM payload WHERE base_type = $1 ORDER BY _id ASC`,
		string(models.PayloadBaseTypeMessage))
	if err != nil {
		return err
	}
	for _, r := range payloads {
		out, changed, err := transformLegacyRecord(r.raw)
		if err != nil {
			slog.Warn("PostgresStore.NormalizeLegacyRecords: skipping malformed payload record", "id", r.id, "error", err)
			continue
		}
		if !changed {
			continue
		}
		if _, err := s.db.Exec(`UPDATE payload SET json = $1 WHERE _id = $2`, out, r.id); err != nil {
			return fmt.Errorf("normalize payload %d failed: %w", r.id, err)
		}
		updated++
	}

	if updated > 0 {
		slog.Info("PostgresStore.NormalizeLegacyRecords: rewrote legacy records", "count", updated)
	}
	return nil
}
