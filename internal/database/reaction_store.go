// This file contains database methods related to message Reactions.

package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/google/uuid"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

// AddReaction records a (message, user, emoji) reaction. A user may react to
// the same message with the same emoji only once; a repeat call is
// idempotent and returns the existing row.
func (db *DB) AddReaction(messageID, userID, emoji string) (*models.Reaction, error) {
	reaction := models.Reaction{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO reactions (id, message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4, $5)`,
		reaction.ID, reaction.MessageID, reaction.UserID, reaction.Emoji, reaction.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			var existing models.Reaction
			getErr := db.Get(&existing,
				`SELECT id, message_id, user_id, emoji, created_at FROM reactions
				 WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
				messageID, userID, emoji)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load existing reaction: %w", getErr)
			}
			return &existing, nil
		}
		return nil, fmt.Errorf("failed to add reaction: %w", err)
	}

	return &reaction, nil
}

// RemoveReaction deletes a reaction, provided callerID owns it, and returns
// the removed row so callers can broadcast which reaction disappeared.
func (db *DB) RemoveReaction(messageID, userID, emoji string) (*models.Reaction, error) {
	var existing models.Reaction
	err := db.Get(&existing,
		`SELECT id, message_id, user_id, emoji, created_at FROM reactions
		 WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.NotFound, "reaction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reaction: %w", err)
	}

	if _, err := db.Exec(`DELETE FROM reactions WHERE id = $1`, existing.ID); err != nil {
		return nil, fmt.Errorf("failed to remove reaction: %w", err)
	}
	return &existing, nil
}

// ListReactions returns every reaction recorded against a message.
func (db *DB) ListReactions(messageID string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := db.Reader().Select(&reactions,
		`SELECT id, message_id, user_id, emoji, created_at FROM reactions WHERE message_id = $1 ORDER BY created_at ASC`,
		messageID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to list reactions", err)
	}
	return reactions, nil
}
