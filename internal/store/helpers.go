package store

import (
	"database/sql"
	"fmt"

	"github.com/feedbackkit/courier/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMessage scans a message row and overlays the column values onto the
// decoded JSON record. Columns are authoritative for mutable fields.
func scanMessage(sc rowScanner) (*models.Message, error) {
	var serverID sql.NullString
	var clientCreatedAt sql.NullFloat64
	var nonce, state, raw string
	var read bool
	if err := sc.Scan(&serverID, &clientCreatedAt, &nonce, &state, &read, &raw); err != nil {
		return nil, fmt.Errorf("scan message failed: %w", err)
	}
	m, err := models.UnmarshalMessage([]byte(raw))
	if err != nil {
		return nil, err
	}
	m.Nonce = nonce
	m.ServerID = serverID.String
	if clientCreatedAt.Valid {
		m.ClientCreatedAt = clientCreatedAt.Float64
	}
	m.State = models.MessageState(state)
	m.Read = read
	return m, nil
}

// scanStoredFile scans one attachment metadata row.
func scanStoredFile(sc rowScanner) (models.StoredFile, error) {
	var f models.StoredFile
	var localPath, mimeType, sourceURI, remoteURL sql.NullString
	if err := sc.Scan(&f.MessageNonce, &localPath, &mimeType, &sourceURI, &remoteURL, &f.CreationTime); err != nil {
		return f, fmt.Errorf("scan stored file failed: %w", err)
	}
	f.LocalCachePath = localPath.String
	f.MimeType = mimeType.String
	f.SourceURIOrPath = sourceURI.String
	f.RemoteURL = remoteURL.String
	return f, nil
}
