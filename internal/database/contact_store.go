// This file contains database methods related to Contacts (the
// add/accept/block relationship between two users). The REST surface that
// would drive these is out of scope, but the store itself backs the
// Contact entity named in SPEC_FULL.md §3 and the contact-request rate
// limit bucket in §4.8.

package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

// RequestContact creates a pending Contact relationship from requesterID to
// targetID. The relationship is symmetric in storage (a single row keyed by
// the unordered pair would complicate the requestedBy bookkeeping), so
// RequestContact guards against the pair already existing in either
// direction.
func (db *DB) RequestContact(requesterID, targetID string) (*models.Contact, error) {
	if requesterID == targetID {
		return nil, apperrors.New(apperrors.BadRequest, "cannot add oneself as a contact")
	}

	var count int
	if err := db.Get(&count,
		`SELECT COUNT(*) FROM contacts WHERE (user_id = $1 AND contact_id = $2) OR (user_id = $2 AND contact_id = $1)`,
		requesterID, targetID); err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to check existing contact", err)
	}
	if count > 0 {
		return nil, apperrors.New(apperrors.Conflict, "contact relationship already exists")
	}

	contact := models.Contact{
		ID:          uuid.NewString(),
		UserID:      requesterID,
		ContactID:   targetID,
		Status:      models.ContactPending,
		RequestedBy: requesterID,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO contacts (id, user_id, contact_id, status, requested_by, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		contact.ID, contact.UserID, contact.ContactID, contact.Status, contact.RequestedBy, contact.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact request: %w", err)
	}
	return &contact, nil
}

// RespondToContact accepts or blocks a pending contact request. callerID
// must be the non-requesting party.
func (db *DB) RespondToContact(contactID, callerID string, accept bool) (*models.Contact, error) {
	var contact models.Contact
	err := db.Get(&contact,
		`SELECT id, user_id, contact_id, status, requested_by, created_at, accepted_at FROM contacts WHERE id = $1`,
		contactID)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.NotFound, "contact request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contact request: %w", err)
	}
	if contact.RequestedBy == callerID {
		return nil, apperrors.New(apperrors.Forbidden, "requester cannot respond to their own request")
	}
	if callerID != contact.UserID && callerID != contact.ContactID {
		return nil, apperrors.New(apperrors.Forbidden, "caller is not a party to this contact request")
	}

	newStatus := models.ContactBlocked
	if accept {
		newStatus = models.ContactAccepted
	}

	now := time.Now().UTC()
	var acceptedAt *time.Time
	if accept {
		acceptedAt = &now
	}
	if _, err := db.Exec(`UPDATE contacts SET status = $1, accepted_at = $2 WHERE id = $3`,
		newStatus, acceptedAt, contactID); err != nil {
		return nil, fmt.Errorf("failed to update contact request: %w", err)
	}

	contact.Status = newStatus
	contact.AcceptedAt = acceptedAt
	return &contact, nil
}

// ListContacts returns every accepted contact relationship userID holds.
func (db *DB) ListContacts(userID string) ([]models.Contact, error) {
	var contacts []models.Contact
	err := db.Reader().Select(&contacts,
		`SELECT id, user_id, contact_id, status, requested_by, created_at, accepted_at FROM contacts
		 WHERE (user_id = $1 OR contact_id = $1) AND status = 'accepted'`, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to list contacts", err)
	}
	return contacts, nil
}

// ContactsOf returns the user IDs of every accepted contact userID holds,
// collapsing the relationship's two possible storage directions into a
// single list of "the other party".
func (db *DB) ContactsOf(userID string) ([]string, error) {
	var ids []string
	err := db.Reader().Select(&ids,
		`SELECT CASE WHEN user_id = $1 THEN contact_id ELSE user_id END
		 FROM contacts WHERE (user_id = $1 OR contact_id = $1) AND status = 'accepted'`, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to list contact ids", err)
	}
	return ids, nil
}

// AreContacts reports whether two users hold an accepted contact
// relationship.
func (db *DB) AreContacts(userA, userB string) (bool, error) {
	var exists bool
	err := db.Reader().Get(&exists,
		`SELECT EXISTS(SELECT 1 FROM contacts WHERE status = 'accepted' AND
			((user_id = $1 AND contact_id = $2) OR (user_id = $2 AND contact_id = $1)))`,
		userA, userB)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ServiceUnavailable, "failed to check contact relationship", err)
	}
	return exists, nil
}
