// This file contains database methods related to Messages, EditHistory, and
// the per-recipient DeliveryRecords created alongside a send. SendMessage is
// the transactional core described in SPEC_FULL.md §4.5: insert the message,
// snapshot the active participant set, and fan out a pending DeliveryRecord
// per recipient, all-or-nothing.

package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

const messageColumns = `id, chat_id, sender_id, content, content_type, metadata, reply_to_id,
	is_edited, edited_at, is_deleted, deleted_at, created_at`

// SendMessage persists a new Message and a pending DeliveryRecord for every
// active chat participant other than the sender, in a single transaction.
// It returns the stored message and the delivery fan-out. Callers
// (internal/coordinator) are responsible for enqueueing delivery and
// publishing only after this transaction commits.
func (db *DB) SendMessage(senderID, chatID, content string, contentType models.ContentType, metadata map[string]any, replyToID *string) (msg *models.Message, records []models.DeliveryRecord, err error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, apperrors.New(apperrors.Validation, "message content must not be empty")
	}
	if len(content) > models.MaxContentLength {
		return nil, nil, apperrors.New(apperrors.Validation, fmt.Sprintf("message content exceeds %d characters", models.MaxContentLength))
	}

	tx, err := db.Beginx()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	var participantIDs []string
	if err = tx.Select(&participantIDs,
		`SELECT user_id FROM participants WHERE chat_id = $1 AND left_at IS NULL`, chatID); err != nil {
		return nil, nil, fmt.Errorf("failed to snapshot active participants: %w", err)
	}

	senderIsActive := false
	for _, id := range participantIDs {
		if id == senderID {
			senderIsActive = true
			break
		}
	}
	if !senderIsActive {
		err = apperrors.New(apperrors.Forbidden, "sender is not an active participant of this chat")
		return nil, nil, err
	}

	now := time.Now().UTC()
	msg = &models.Message{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		SenderID:    &senderID,
		Content:     content,
		ContentType: contentType,
		Metadata:    metadata,
		ReplyToID:   replyToID,
		CreatedAt:   now,
	}
	if err = msg.MarshalMetadata(); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	if _, err = tx.Exec(
		`INSERT INTO messages (id, chat_id, sender_id, content, content_type, metadata, reply_to_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.ContentType, msg.MetadataRaw, msg.ReplyToID, msg.CreatedAt); err != nil {
		return nil, nil, fmt.Errorf("failed to insert message: %w", err)
	}

	for _, recipientID := range participantIDs {
		if recipientID == senderID {
			continue
		}
		rec := models.DeliveryRecord{
			ID:        uuid.NewString(),
			MessageID: msg.ID,
			UserID:    recipientID,
			Status:    models.DeliveryPending,
		}
		if _, err = tx.Exec(
			`INSERT INTO delivery_records (id, message_id, user_id, status) VALUES ($1, $2, $3, $4)`,
			rec.ID, rec.MessageID, rec.UserID, rec.Status); err != nil {
			return nil, nil, fmt.Errorf("failed to insert delivery record: %w", err)
		}
		records = append(records, rec)
	}

	if err = touchLastMessageAtTx(tx, chatID, now); err != nil {
		return nil, nil, fmt.Errorf("failed to update chat last_message_at: %w", err)
	}

	return msg, records, nil
}

// EditMessage overwrites a message's content, archiving the prior content to
// edit_history, provided callerID is the original sender and the message
// has not been deleted (SPEC_FULL.md §4.5).
func (db *DB) EditMessage(messageID, callerID, newContent string) (msg *models.Message, err error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, apperrors.New(apperrors.Validation, "message content must not be empty")
	}
	if len(newContent) > models.MaxContentLength {
		return nil, apperrors.New(apperrors.Validation, fmt.Sprintf("message content exceeds %d characters", models.MaxContentLength))
	}

	tx, err := db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	var existing models.Message
	if err = tx.Get(&existing, `SELECT `+messageColumns+` FROM messages WHERE id = $1 FOR UPDATE`, messageID); err != nil {
		if err == sql.ErrNoRows {
			err = apperrors.New(apperrors.NotFound, "message not found")
		} else {
			err = fmt.Errorf("failed to load message: %w", err)
		}
		return nil, err
	}
	if existing.IsDeleted {
		err = apperrors.New(apperrors.Conflict, "cannot edit a deleted message")
		return nil, err
	}
	if existing.SenderID == nil || *existing.SenderID != callerID {
		err = apperrors.New(apperrors.Forbidden, "only the sender may edit a message")
		return nil, err
	}

	if _, err = tx.Exec(
		`INSERT INTO edit_history (id, message_id, previous_content, edited_at) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), messageID, existing.Content, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to archive previous content: %w", err)
	}

	now := time.Now().UTC()
	if _, err = tx.Exec(
		`UPDATE messages SET content = $1, is_edited = true, edited_at = $2 WHERE id = $3`,
		newContent, now, messageID); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}

	existing.Content = newContent
	existing.IsEdited = true
	existing.EditedAt = &now
	msg = &existing
	return msg, nil
}

// DeleteMessage soft-deletes a message, replacing its content with the
// DeletedPlaceholder, provided callerID is the original sender.
func (db *DB) DeleteMessage(messageID, callerID string) (*models.Message, error) {
	var existing models.Message
	err := db.Get(&existing, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.NotFound, "message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if existing.SenderID == nil || *existing.SenderID != callerID {
		return nil, apperrors.New(apperrors.Forbidden, "only the sender may delete a message")
	}
	if existing.IsDeleted {
		return &existing, nil
	}

	now := time.Now().UTC()
	if _, err := db.Exec(
		`UPDATE messages SET is_deleted = true, deleted_at = $1, content = $2 WHERE id = $3`,
		now, models.DeletedPlaceholder, messageID); err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}

	existing.IsDeleted = true
	existing.DeletedAt = &now
	existing.Content = models.DeletedPlaceholder
	return &existing, nil
}

// GetMessage fetches a single message by ID.
func (db *DB) GetMessage(messageID string) (*models.Message, error) {
	var msg models.Message
	err := db.Reader().Get(&msg, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.NotFound, "message not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to get message", err)
	}
	if err := msg.UnmarshalMetadata(); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
	}
	return &msg, nil
}

// ListMessages returns up to limit messages of a chat older than cursor (or
// the newest page if cursor is nil), newest-first, capped at 100 per
// SPEC_FULL.md §6.
func (db *DB) ListMessages(chatID string, cursor *time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	var (
		msgs []models.Message
		err  error
	)
	if cursor == nil {
		err = db.Reader().Select(&msgs,
			`SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2`,
			chatID, limit)
	} else {
		err = db.Reader().Select(&msgs,
			`SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 AND created_at < $2 ORDER BY created_at DESC LIMIT $3`,
			chatID, *cursor, limit)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to list messages", err)
	}
	for i := range msgs {
		if err := msgs[i].UnmarshalMetadata(); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
	}
	return msgs, nil
}

// MarkDelivered transitions a DeliveryRecord to "delivered" for (messageID,
// userID), unless it is already at or past that state (CanTransition).
func (db *DB) MarkDelivered(messageID, userID string) error {
	return db.transitionDelivery(messageID, userID, models.DeliveryDelivered)
}

// MarkRead transitions a DeliveryRecord to "read" for (messageID, userID).
func (db *DB) MarkRead(messageID, userID string) error {
	return db.transitionDelivery(messageID, userID, models.DeliveryRead)
}

func (db *DB) transitionDelivery(messageID, userID string, to models.DeliveryStatus) error {
	var current models.DeliveryStatus
	err := db.Get(&current,
		`SELECT status FROM delivery_records WHERE message_id = $1 AND user_id = $2 FOR UPDATE`,
		messageID, userID)
	if err == sql.ErrNoRows {
		return apperrors.New(apperrors.NotFound, "delivery record not found")
	}
	if err != nil {
		return fmt.Errorf("failed to load delivery record: %w", err)
	}
	if current == to || !models.CanTransition(current, to) {
		return nil
	}

	now := time.Now().UTC()
	var query string
	switch to {
	case models.DeliveryDelivered:
		query = `UPDATE delivery_records SET status = $1, delivered_at = $2 WHERE message_id = $3 AND user_id = $4`
	case models.DeliveryRead:
		query = `UPDATE delivery_records SET status = $1, read_at = $2 WHERE message_id = $3 AND user_id = $4`
	}
	if _, err := db.Exec(query, to, now, messageID, userID); err != nil {
		return fmt.Errorf("failed to update delivery record: %w", err)
	}
	return nil
}

// MarkAllRead marks every not-yet-read DeliveryRecord of a chat for userID
// as read, used when a user opens a chat (SPEC_FULL.md §4.4).
func (db *DB) MarkAllRead(chatID, userID string) error {
	_, err := db.Exec(
		`UPDATE delivery_records dr SET status = 'read', read_at = $1
		 FROM messages m
		 WHERE dr.message_id = m.id AND m.chat_id = $2 AND dr.user_id = $3 AND dr.status <> 'read'`,
		time.Now().UTC(), chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark chat as read: %w", err)
	}
	return nil
}

// PendingForUser returns the DeliveryRecords still pending for a user,
// oldest first, for the reconnect delivery-queue flush described in
// SPEC_FULL.md §4.4.
func (db *DB) PendingForUser(userID string, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []models.DeliveryRecord
	err := db.Reader().Select(&records,
		`SELECT dr.id, dr.message_id, dr.user_id, dr.status, dr.delivered_at, dr.read_at
		 FROM delivery_records dr JOIN messages m ON m.id = dr.message_id
		 WHERE dr.user_id = $1 AND dr.status = 'pending'
		 ORDER BY m.created_at ASC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to list pending deliveries", err)
	}
	return records, nil
}
