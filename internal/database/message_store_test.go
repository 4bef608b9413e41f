package database

import (
	"strings"
	"testing"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

// SendMessage and EditMessage validate trimmed content length before ever
// touching the database, so a zero-value *DB is safe here: these cases
// return before Beginx() is called.

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	db := &DB{}
	_, _, err := db.SendMessage("user-1", "chat-1", "   ", models.ContentText, nil, nil)
	if err == nil {
		t.Fatal("expected an error for blank content, got nil")
	}
	if apperrors.KindOf(err) != apperrors.Validation {
		t.Errorf("KindOf(err) = %v, want Validation", apperrors.KindOf(err))
	}
}

func TestSendMessageRejectsOversizedContent(t *testing.T) {
	db := &DB{}
	content := strings.Repeat("a", models.MaxContentLength+1)
	_, _, err := db.SendMessage("user-1", "chat-1", content, models.ContentText, nil, nil)
	if err == nil {
		t.Fatal("expected an error for oversized content, got nil")
	}
	if apperrors.KindOf(err) != apperrors.Validation {
		t.Errorf("KindOf(err) = %v, want Validation", apperrors.KindOf(err))
	}
}

func TestEditMessageRejectsEmptyContent(t *testing.T) {
	db := &DB{}
	_, err := db.EditMessage("msg-1", "user-1", "")
	if apperrors.KindOf(err) != apperrors.Validation {
		t.Errorf("KindOf(err) = %v, want Validation", apperrors.KindOf(err))
	}
}

func TestEditMessageRejectsOversizedContent(t *testing.T) {
	db := &DB{}
	content := strings.Repeat("b", models.MaxContentLength+1)
	_, err := db.EditMessage("msg-1", "user-1", content)
	if apperrors.KindOf(err) != apperrors.Validation {
		t.Errorf("KindOf(err) = %v, want Validation", apperrors.KindOf(err))
	}
}
