// Package models defines the core data structures used throughout the
// delivery core, representing database entities, event payloads, and
// internal data contracts.
package models

import (
	"encoding/json"
	"time"
)

// --- Enumerations (SPEC_FULL.md §3) ---

// UserStatus is the derived presence status of a user.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusAway    UserStatus = "away"
	StatusOffline UserStatus = "offline"
)

// ChatType distinguishes two-party chats from many-party chats.
type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// ParticipantRole is a user's role within a chat.
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// ContentType is the kind of content a Message carries.
type ContentType string

const (
	ContentText   ContentType = "text"
	ContentImage  ContentType = "image"
	ContentSystem ContentType = "system"
)

// DeliveryStatus is the per-recipient delivery state of a Message.
// Transitions are monotonic: Pending -> Delivered -> Read.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

// deliveryRank orders DeliveryStatus values so transitions can be checked
// for monotonicity without a cascade of string comparisons.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliveryDelivered: 1,
	DeliveryRead:      2,
}

// CanTransition reports whether moving a DeliveryRecord from "from" to "to"
// is a legal (non-downgrading) transition.
func CanTransition(from, to DeliveryStatus) bool {
	return deliveryRank[to] >= deliveryRank[from]
}

// ContactStatus is the state of a Contact relationship.
type ContactStatus string

const (
	ContactPending  ContactStatus = "pending"
	ContactAccepted ContactStatus = "accepted"
	ContactBlocked  ContactStatus = "blocked"
)

// --- Database entities ---

// User represents a row in the 'users' table.
type User struct {
	ID          string     `db:"id" json:"id"`
	Username    string     `db:"username" json:"username"`
	DisplayName string     `db:"display_name" json:"displayName"`
	AvatarRef   *string    `db:"avatar_ref" json:"avatarRef,omitempty"`
	Status      UserStatus `db:"status" json:"status"`
	LastSeen    time.Time  `db:"last_seen" json:"lastSeen"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// Session represents a row in the 'sessions' table. A Session is owned by
// its User and weakly references a live socket: SocketID's lifetime never
// outlives the socket it names.
type Session struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"userId"`
	SessionToken  string    `db:"session_token" json:"-"`
	DeviceID      *string   `db:"device_id" json:"deviceId,omitempty"`
	DeviceType    *string   `db:"device_type" json:"deviceType,omitempty"`
	DeviceName    *string   `db:"device_name" json:"deviceName,omitempty"`
	IPAddress     *string   `db:"ip_address" json:"-"`
	UserAgent     *string   `db:"user_agent" json:"-"`
	SocketID      *string   `db:"socket_id" json:"socketId,omitempty"`
	IsActive      bool      `db:"is_active" json:"isActive"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	ExpiresAt     time.Time `db:"expires_at" json:"expiresAt"`
	LastActivity  time.Time `db:"last_activity" json:"lastActivity"`
}

// Chat represents a row in the 'chats' table.
type Chat struct {
	ID            string     `db:"id" json:"id"`
	Type          ChatType   `db:"type" json:"type"`
	Name          *string    `db:"name" json:"name,omitempty"`
	Slug          *string    `db:"slug" json:"slug,omitempty"`
	OwnerID       *string    `db:"owner_id" json:"ownerId,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	IsDeleted     bool       `db:"is_deleted" json:"isDeleted"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

// Participant represents a row in the 'participants' table. A participant
// with LeftAt == nil is "active"; a user cannot hold two active rows for
// the same chat.
type Participant struct {
	ID       string          `db:"id" json:"id"`
	ChatID   string          `db:"chat_id" json:"chatId"`
	UserID   string          `db:"user_id" json:"userId"`
	Role     ParticipantRole `db:"role" json:"role"`
	JoinedAt time.Time       `db:"joined_at" json:"joinedAt"`
	LeftAt   *time.Time      `db:"left_at" json:"leftAt,omitempty"`
}

// IsActive reports whether the participant has not left the chat.
func (p Participant) IsActive() bool { return p.LeftAt == nil }

// Message represents a row in the 'messages' table.
type Message struct {
	ID          string            `db:"id" json:"id"`
	ChatID      string            `db:"chat_id" json:"chatId"`
	SenderID    *string           `db:"sender_id" json:"senderId,omitempty"`
	Content     string            `db:"content" json:"content"`
	ContentType ContentType       `db:"content_type" json:"contentType"`
	Metadata    map[string]any    `db:"-" json:"metadata,omitempty"`
	MetadataRaw []byte            `db:"metadata" json:"-"`
	ReplyToID   *string           `db:"reply_to_id" json:"replyToId,omitempty"`
	IsEdited    bool              `db:"is_edited" json:"isEdited"`
	EditedAt    *time.Time        `db:"edited_at" json:"editedAt,omitempty"`
	IsDeleted   bool              `db:"is_deleted" json:"isDeleted"`
	DeletedAt   *time.Time        `db:"deleted_at" json:"deletedAt,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"createdAt"`
}

// DeletedPlaceholder is the literal content a deleted message is replaced
// with, per SPEC_FULL.md §4.5.
const DeletedPlaceholder = "[Deleted]"

// MaxContentLength is the upper bound on trimmed message content, per
// SPEC_FULL.md §4.5 step 1 (DESIGN.md's resolved Open Question: 10,000
// chars, not the unrelated 10MB image ceiling).
const MaxContentLength = 10_000

// EditHistory represents a row in the 'edit_history' table, preserving the
// content a Message held before an edit overwrote it.
type EditHistory struct {
	ID              string    `db:"id" json:"id"`
	MessageID       string    `db:"message_id" json:"messageId"`
	PreviousContent string    `db:"previous_content" json:"previousContent"`
	EditedAt        time.Time `db:"edited_at" json:"editedAt"`
}

// DeliveryRecord represents a row in the 'delivery_records' table: the
// per-(message, recipient) delivery and read state.
type DeliveryRecord struct {
	ID          string         `db:"id" json:"id"`
	MessageID   string         `db:"message_id" json:"messageId"`
	UserID      string         `db:"user_id" json:"userId"`
	Status      DeliveryStatus `db:"status" json:"status"`
	DeliveredAt *time.Time     `db:"delivered_at" json:"deliveredAt,omitempty"`
	ReadAt      *time.Time     `db:"read_at" json:"readAt,omitempty"`
}

// Reaction represents a row in the 'reactions' table.
type Reaction struct {
	ID        string    `db:"id" json:"id"`
	MessageID string    `db:"message_id" json:"messageId"`
	UserID    string    `db:"user_id" json:"userId"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Contact represents a row in the 'contacts' table.
type Contact struct {
	ID          string        `db:"id" json:"id"`
	UserID      string        `db:"user_id" json:"userId"`
	ContactID   string        `db:"contact_id" json:"contactId"`
	Status      ContactStatus `db:"status" json:"status"`
	RequestedBy string        `db:"requested_by" json:"requestedBy"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	AcceptedAt  *time.Time    `db:"accepted_at" json:"acceptedAt,omitempty"`
}

// Attachment represents a row in the 'attachments' table: metadata for an
// object stored out-of-band in S3-compatible storage. Resizing and upload
// validation are out of scope (SPEC_FULL.md Non-goals); this is metadata
// bookkeeping only.
type Attachment struct {
	ID        string    `db:"id" json:"id"`
	MessageID *string   `db:"message_id" json:"messageId,omitempty"`
	UserID    string    `db:"user_id" json:"userId"`
	ObjectKey string    `db:"object_key" json:"objectKey"`
	MimeType  string    `db:"mime_type" json:"mimeType"`
	SizeBytes int64     `db:"size_bytes" json:"sizeBytes"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// --- Volatile / KV-resident models ---

// PresenceSnapshot is the fleet-visible view of a user's presence.
type PresenceSnapshot struct {
	UserID       string     `json:"userId"`
	Status       UserStatus `json:"status"`
	LastActivity time.Time  `json:"lastActivity"`
	SocketCount  int        `json:"socketCount"`
}

// DeliveryUnit is a queued work item describing a message that must be
// pushed to a recipient set.
type DeliveryUnit struct {
	MessageID  string    `json:"messageId"`
	ChatID     string    `json:"chatId"`
	Recipients []string  `json:"recipients"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// --- Sender DTOs ---

// MessageWithSender is a Message enriched with the sender's public profile,
// as delivered in the message:new event payload.
type MessageWithSender struct {
	Message
	Sender *UserResponse `json:"sender,omitempty"`
}

// UserResponse is the safe, public representation of a User.
type UserResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	AvatarRef   *string    `json:"avatarRef,omitempty"`
	Status      UserStatus `json:"status"`
}

// ToUserResponse converts a User to its public representation.
func ToUserResponse(u *User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarRef:   u.AvatarRef,
		Status:      u.Status,
	}
}

// MarshalMetadata encodes Metadata into MetadataRaw for persistence.
func (m *Message) MarshalMetadata() error {
	if m.Metadata == nil {
		m.MetadataRaw = nil
		return nil
	}
	raw, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}
	m.MetadataRaw = raw
	return nil
}

// UnmarshalMetadata decodes MetadataRaw into Metadata after a DB read.
func (m *Message) UnmarshalMetadata() error {
	if len(m.MetadataRaw) == 0 {
		m.Metadata = nil
		return nil
	}
	return json.Unmarshal(m.MetadataRaw, &m.Metadata)
}
