// This file contains database methods related to Session records
// (SPEC_FULL.md §4.2 SessionStore), grounded on the teacher's transactional
// idiom in db_sessions.go: named-return err, deferred rollback-or-commit.

package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

const sessionColumns = `id, user_id, session_token, device_id, device_type, device_name,
	ip_address, user_agent, socket_id, is_active, created_at, expires_at, last_activity`

// DeviceInfo carries the optional device metadata recorded with a Session.
type DeviceInfo struct {
	DeviceID   *string
	DeviceType *string
	DeviceName *string
	IPAddress  *string
	UserAgent  *string
}

// CreateSession inserts a new active Session row for userID, keyed by the
// caller-supplied opaque session token. At most one active record exists
// per token (SPEC_FULL.md §3 Session invariant).
func (db *DB) CreateSession(userID, token string, info DeviceInfo, expiresAt time.Time) (*models.Session, error) {
	session := models.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		SessionToken: token,
		DeviceID:     info.DeviceID,
		DeviceType:   info.DeviceType,
		DeviceName:   info.DeviceName,
		IPAddress:    info.IPAddress,
		UserAgent:    info.UserAgent,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    expiresAt,
		LastActivity: time.Now().UTC(),
	}

	query := `INSERT INTO sessions (id, user_id, session_token, device_id, device_type, device_name,
			ip_address, user_agent, is_active, created_at, expires_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, $10, $11)`
	_, err := db.Exec(query, session.ID, session.UserID, session.SessionToken, session.DeviceID,
		session.DeviceType, session.DeviceName, session.IPAddress, session.UserAgent,
		session.CreatedAt, session.ExpiresAt, session.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &session, nil
}

// FindSessionByToken returns the active, unexpired session for a token. Per
// SPEC_FULL.md §4.2, this never returns an expired or inactive session; an
// unknown, expired or inactive token all yield the same Unauthorized
// "InvalidSession" error, so callers cannot tell these cases apart.
func (db *DB) FindSessionByToken(token string) (*models.Session, error) {
	var session models.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_token = $1`
	err := db.Reader().Get(&session, query, token)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.Unauthorized, "InvalidSession")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to look up session", err)
	}
	if !session.IsActive || time.Now().After(session.ExpiresAt) {
		return nil, apperrors.New(apperrors.Unauthorized, "InvalidSession")
	}
	return &session, nil
}

// AttachSocket records the live socket a session is currently bound to.
func (db *DB) AttachSocket(sessionID, socketID string) error {
	_, err := db.Exec(`UPDATE sessions SET socket_id = $1, last_activity = $2 WHERE id = $3`,
		socketID, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to attach socket to session: %w", err)
	}
	return nil
}

// DetachSocket clears the live-socket reference, e.g. on disconnect.
func (db *DB) DetachSocket(sessionID string) error {
	_, err := db.Exec(`UPDATE sessions SET socket_id = NULL WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to detach socket from session: %w", err)
	}
	return nil
}

// Touch refreshes LastActivity for the session identified by token.
func (db *DB) Touch(token string) error {
	_, err := db.Exec(`UPDATE sessions SET last_activity = $1 WHERE session_token = $2 AND is_active`,
		time.Now().UTC(), token)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Invalidate deactivates a single session by token (logout).
func (db *DB) Invalidate(token string) error {
	_, err := db.Exec(`UPDATE sessions SET is_active = false, socket_id = NULL WHERE session_token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

// InvalidateAllForUser deactivates every session belonging to userID
// (logout-everywhere).
func (db *DB) InvalidateAllForUser(userID string) error {
	_, err := db.Exec(`UPDATE sessions SET is_active = false, socket_id = NULL WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to invalidate sessions for user: %w", err)
	}
	return nil
}
