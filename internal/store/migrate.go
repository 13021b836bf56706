// Package store: legacy record normalization.
//
// Older schema versions stored messages under per-shape type discriminators
// (text, file, automated). Current code only understands the unified compound
// shape, so on upgrade every legacy record is rewritten in place, in both the
// message table and the still-pending payload queue, so in-flight sends use
// the same normalized shape as stored history.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	jsoniter "github.com/json-iterator/go"

	"github.com/feedbackkit/courier/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// transformLegacyRecord rewrites one legacy message JSON record to the
// compound shape. Returns the rewritten JSON and whether a rewrite applied.
func transformLegacyRecord(raw string) (string, bool, error) {
	var root map[string]interface{}
	if err := json.UnmarshalFromString(raw, &root); err != nil {
		return "", false, fmt.Errorf("parse legacy record failed: %w", err)
	}
	t, _ := root["type"].(string)
	switch models.MessageType(t) {
	case models.MessageTypeText:
		root["type"] = string(models.MessageTypeCompound)
		root["text_only"] = true
	case models.MessageTypeFile:
		root["type"] = string(models.MessageTypeCompound)
		root["text_only"] = false
	case models.MessageTypeAutomated:
		root["type"] = string(models.MessageTypeCompound)
		root["text_only"] = true
		root["automated"] = true
	default:
		return "", false, nil
	}
	out, err := json.MarshalToString(root)
	if err != nil {
		return "", false, fmt.Errorf("serialize normalized record failed: %w", err)
	}
	return out, true, nil
}

// legacyRow is a record pending normalization.
type legacyRow struct {
	id  int64
	raw string
}

// queryer abstracts *sql.DB for shared read helpers across backends.
type queryer interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// collectRows reads all (id, json) pairs up front so updates never run while
// a result set still holds the connection.
func collectRows(db queryer, query string, args ...interface{}) ([]legacyRow, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("normalize scan query failed: %w", err)
	}
	defer rows.Close()

	var out []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.raw); err != nil {
			return nil, fmt.Errorf("normalize scan row failed: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("normalize scan iteration failed: %w", err)
	}
	return out, nil
}

// NormalizeLegacyRecords rewrites legacy-typed records in the message table
// and the pending payload queue. Malformed records are logged and skipped,
// never aborting the rest of the migration.
func (s *SQLiteStore) NormalizeLegacyRecords() error {
	messages, err := collectRows(s.db, `SELECT _id, json FROM message ORDER BY _id ASC`)
	if err != nil {
		return err
	}
	updated := 0
	for _, r := range messages {
		out, changed, err := transformLegacyRecord(r.raw)
		if err != nil {
			slog.Warn("SQLiteStore.NormalizeLegacyRecords: skipping malformed message record", "id", r.id, "error", err)
			continue
		}
		if !changed {
			continue
		}
		if _, err := s.db.Exec(`UPDATE message SET json = ? WHERE _id = ?`, out, r.id); err != nil {
			return fmt.Errorf("normalize message %d failed: %w", r.id, err)
		}
		updated++
	}

	payloads, err := collectRows(s.db,
		`SELECT _id, json FROM payload WHERE base_type = ? ORDER BY _id ASC`,
		string(models.PayloadBaseTypeMessage))
	if err != nil {
		return err
	}
	for _, r := range payloads {
		out, changed, err := transformLegacyRecord(r.raw)
		if err != nil {
			slog.Warn("SQLiteStore.NormalizeLegacyRecords: skipping malformed payload record", "id", r.id, "error", err)
			continue
		}
		if !changed {
			continue
		}
		if _, err := s.db.Exec(`UPDATE payload SET json = ? WHERE _id = ?`, out, r.id); err != nil {
			return fmt.Errorf("normalize payload %d failed: %w", r.id, err)
		}
		updated++
	}

	if updated > 0 {
		slog.Info("SQLiteStore.NormalizeLegacyRecords: rewrote legacy records", "count", updated)
	}
	return nil
}
