// This file contains minimal database methods related to Users. Account
// creation and credential management are part of the out-of-scope REST
// surface (SPEC_FULL.md Non-goals); these reads are what the delivery core
// itself needs (resolving sender profiles, checking a user exists), plus a
// last-seen timestamp update.

package database

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

const userColumns = `id, username, display_name, avatar_ref, status, last_seen, created_at`

// GetUser fetches a user by ID.
func (db *DB) GetUser(userID string) (*models.User, error) {
	var user models.User
	err := db.Reader().Get(&user, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.NotFound, "user not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to get user", err)
	}
	return &user, nil
}

// GetUsers fetches multiple users by ID in one round trip, used to enrich a
// message batch with sender profiles without an N+1 query pattern.
func (db *DB) GetUsers(userIDs []string) (map[string]models.User, error) {
	result := make(map[string]models.User, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, userIDs)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "failed to build batch user query", err)
	}
	var users []models.User
	if err := db.Reader().Select(&users, db.Reader().Rebind(query), args...); err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to batch-get users", err)
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// SetLastSeen updates a user's last-seen timestamp. internal/presence does
// not call it; presence state lives in Redis only.
func (db *DB) SetLastSeen(userID string, lastSeen time.Time) error {
	_, err := db.Exec(`UPDATE users SET last_seen = $1 WHERE id = $2`, lastSeen, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.ServiceUnavailable, "failed to update last_seen", err)
	}
	return nil
}
