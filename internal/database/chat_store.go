// This file contains database methods related to Chats and Participants.

package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

// CreateDirectChat creates a two-party chat and its two active participant
// rows in one transaction. Per SPEC_FULL.md §3, a direct chat always has
// exactly two participants.
func (db *DB) CreateDirectChat(userA, userB string) (chat *models.Chat, err error) {
	if userA == userB {
		return nil, apperrors.New(apperrors.BadRequest, "cannot create a direct chat with oneself")
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

	chat = &models.Chat{
		ID:        uuid.NewString(),
		Type:      models.ChatDirect,
		IsDeleted: false,
		CreatedAt: time.Now().UTC(),
	}
	if _, err = tx.Exec(`INSERT INTO chats (id, type, created_at) VALUES ($1, $2, $3)`,
		chat.ID, chat.Type, chat.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert direct chat: %w", err)
	}

	now := time.Now().UTC()
	for _, userID := range []string{userA, userB} {
		if _, err = tx.Exec(
			`INSERT INTO participants (id, chat_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), chat.ID, userID, models.RoleMember, now); err != nil {
			return nil, fmt.Errorf("failed to insert direct chat participant: %w", err)
		}
	}

	return chat, nil
}

// CreateGroupChat creates a group chat owned by ownerID with the given
// member IDs (1-300 members plus the owner, per SPEC_FULL.md §3).
func (db *DB) CreateGroupChat(name, ownerID string, memberIDs []string) (chat *models.Chat, err error) {
	if len(memberIDs) == 0 || len(memberIDs) > 300 {
		return nil, apperrors.New(apperrors.BadRequest, "group chat must have 1-300 members besides the owner")
	}
	if len(name) == 0 || len(name) > 100 {
		return nil, apperrors.New(apperrors.Validation, "group chat name must be 1-100 characters")
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

	chat = &models.Chat{
		ID:        uuid.NewString(),
		Type:      models.ChatGroup,
		Name:      &name,
		OwnerID:   &ownerID,
		CreatedAt: time.Now().UTC(),
	}
	if _, err = tx.Exec(`INSERT INTO chats (id, type, name, owner_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		chat.ID, chat.Type, chat.Name, chat.OwnerID, chat.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert group chat: %w", err)
	}

	now := time.Now().UTC()
	if _, err = tx.Exec(
		`INSERT INTO participants (id, chat_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), chat.ID, ownerID, models.RoleOwner, now); err != nil {
		return nil, fmt.Errorf("failed to insert group chat owner: %w", err)
	}
	for _, userID := range memberIDs {
		if userID == ownerID {
			continue
		}
		if _, err = tx.Exec(
			`INSERT INTO participants (id, chat_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), chat.ID, userID, models.RoleMember, now); err != nil {
			return nil, fmt.Errorf("failed to insert group chat member: %w", err)
		}
	}

	return chat, nil
}

// GetChat fetches a chat by ID.
func (db *DB) GetChat(chatID string) (*models.Chat, error) {
	var chat models.Chat
	err := db.Reader().Get(&chat, `SELECT id, type, name, slug, owner_id, last_message_at, is_deleted, created_at
		FROM chats WHERE id = $1`, chatID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.NotFound, "chat not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to get chat", err)
	}
	return &chat, nil
}

// IsActiveParticipant reports whether userID currently holds an active
// (LeftAt == nil) participant row in chatID.
func (db *DB) IsActiveParticipant(chatID, userID string) (bool, error) {
	var exists bool
	err := db.Reader().Get(&exists,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL)`,
		chatID, userID)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to check participant status", err)
	}
	return exists, nil
}

// ActiveParticipantIDs returns the user IDs of every active participant of
// a chat.
func (db *DB) ActiveParticipantIDs(chatID string) ([]string, error) {
	var ids []string
	err := db.Reader().Select(&ids,
		`SELECT user_id FROM participants WHERE chat_id = $1 AND left_at IS NULL`, chatID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to list active participants", err)
	}
	return ids, nil
}

// ActiveParticipantCount returns the number of active participants of a
// chat.
func (db *DB) ActiveParticipantCount(chatID string) (int, error) {
	var count int
	err := db.Reader().Get(&count,
		`SELECT COUNT(*) FROM participants WHERE chat_id = $1 AND left_at IS NULL`, chatID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to count active participants", err)
	}
	return count, nil
}

// ActiveChatIDsForUser returns every chat ID userID is currently an active
// participant of, used to subscribe a freshly-connected socket to the
// rooms it should receive fan-out on.
func (db *DB) ActiveChatIDsForUser(userID string) ([]string, error) {
	var ids []string
	err := db.Reader().Select(&ids,
		`SELECT chat_id FROM participants WHERE user_id = $1 AND left_at IS NULL`, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to list active chats for user", err)
	}
	return ids, nil
}

// touchLastMessageAtTx updates a chat's lastMessageAt. Intended for use
// inside the MessageCoordinator send transaction (message_store.go), not
// called standalone.
func touchLastMessageAtTx(execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}, chatID string, at time.Time) error {
	_, err := execer.Exec(`UPDATE chats SET last_message_at = $1 WHERE id = $2`, at, chatID)
	return err
}
