package store

import (
	"fmt"
	"log/slog"

	"github.com/feedbackkit/courier/internal/models"
)

// storedFileColumns is the select list matching scanStoredFile.
const storedFileColumns = `nonce, local_path, mime_type, source_uri, remote_url, creation_time`

func (s *SQLiteStore) ReplaceMessageFiles(nonce string, files []models.StoredFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace message files begin failed: %w", err)
	}
	defer tx.Rollback()

	// Delete existing rows with the same nonce so add and update both work.
	if _, err := tx.Exec(`DELETE FROM message_file WHERE nonce = ?`, nonce); err != nil {
		return fmt.Errorf("replace message files delete failed: %w", err)
	}
	for _, f := range files {
		_, err := tx.Exec(
			`INSERT INTO message_file (nonce, local_path, mime_type, source_uri, remote_url, creation_time)
			 VALUES (?, ?, ?, ?, ?, ?)`,
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
	slog.Debug("SQLiteStore.ReplaceMessageFiles", "nonce", nonce, "count", len(files))
	return nil
}

func (s *SQLiteStore) GetMessageFiles(nonce string) ([]models.StoredFile, error) {
	rows, err := s.db.Query(`SELECT `+storedFileColumns+` FROM message_file WHERE nonce = ? ORDER BY _id ASC`, nonce)
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

func (s *SQLiteStore) DeleteMessageFiles(nonce string) error {
	_, err := s.db.Exec(`DELETE FROM message_file WHERE nonce = ?`, nonce)
	if err != nil {
		return fmt.Errorf("delete message files %s failed: %w", nonce, err)
	}
	return nil
}
