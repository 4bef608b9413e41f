// This file contains database methods related to Attachment metadata. The
// object bytes themselves live in S3-compatible storage (internal/attachments);
// this is bookkeeping only.

package database

import (
	"database/sql"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

const attachmentColumns = `id, message_id, user_id, object_key, mime_type, size_bytes, created_at`

// InsertAttachment records a new Attachment row.
func (db *DB) InsertAttachment(a *models.Attachment) error {
	_, err := db.Exec(
		`INSERT INTO attachments (id, message_id, user_id, object_key, mime_type, size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.MessageID, a.UserID, a.ObjectKey, a.MimeType, a.SizeBytes, a.CreatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ServiceUnavailable, "failed to record attachment", err)
	}
	return nil
}

// GetAttachment fetches an attachment's metadata by ID.
func (db *DB) GetAttachment(attachmentID string) (*models.Attachment, error) {
	var a models.Attachment
	err := db.Reader().Get(&a, `SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, attachmentID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.NotFound, "attachment not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to get attachment", err)
	}
	return &a, nil
}

// AttachToMessage links a previously uploaded attachment to the message it
// was sent with.
func (db *DB) AttachToMessage(attachmentID, messageID string) error {
	_, err := db.Exec(`UPDATE attachments SET message_id = $1 WHERE id = $2`, messageID, attachmentID)
	if err != nil {
		return apperrors.Wrap(apperrors.ServiceUnavailable, "failed to link attachment to message", err)
	}
	return nil
}

// DeleteAttachment removes an attachment's metadata row.
func (db *DB) DeleteAttachment(attachmentID string) error {
	_, err := db.Exec(`DELETE FROM attachments WHERE id = $1`, attachmentID)
	if err != nil {
		return apperrors.Wrap(apperrors.ServiceUnavailable, "failed to delete attachment", err)
	}
	return nil
}
