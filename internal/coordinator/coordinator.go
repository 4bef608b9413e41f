// Package coordinator implements the MessageCoordinator described in
// SPEC_FULL.md §4.5: the transactional core of sending, editing, deleting,
// and reacting to messages, and the fan-out that follows a successful
// commit. It depends on internal/realtime and internal/pubsub only through
// narrow interfaces (Broadcaster, Publisher, Enqueuer) so the Hub never has
// to import this package back — the cyclic dependency a naive "hub calls
// coordinator calls hub" design would create.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"chatcore/internal/apperrors"
	"chatcore/internal/attachments"
	"chatcore/internal/database"
	"chatcore/internal/metrics"
	"chatcore/internal/models"
	"chatcore/internal/ratelimit"
	"chatcore/internal/realtime"
	"chatcore/internal/typing"
)

// Broadcaster delivers an event to local sockets on this node, either by
// user (direct receipts, errors) or by chat room (message fan-out).
// Satisfied by *realtime.Hub.
type Broadcaster interface {
	DeliverToUser(userID string, envelope realtime.Envelope)
	DeliverToRoom(chatID string, envelope realtime.Envelope, excludeUserID string)
}

// Publisher fans an event out to every other node in the fleet. Satisfied
// by *pubsub.Bridge.
type Publisher interface {
	PublishMessage(ctx context.Context, chatID, eventType string, data json.RawMessage, recipients []string) error
}

// Enqueuer hands a delivery off to the durable retry queue. Satisfied by
// *delivery.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, unit models.DeliveryUnit) error
}

// PresenceChecker reports whether a user currently has a socket open
// anywhere in the fleet, and serves the client-requested presence
// mutations routed through the Coordinator (`presence:update`,
// `presence:heartbeat`). Satisfied by *presence.Registry.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
	SetStatus(userID string, status models.UserStatus) error
	Heartbeat(userID, socketID string) error
}

// Coordinator wires the store, rate limiter, and fan-out paths together.
type Coordinator struct {
	db          *database.DB
	hub         Broadcaster
	bridge      Publisher
	queue       Enqueuer
	limiter     *ratelimit.Limiter
	presence    PresenceChecker
	callTimeout time.Duration
	typing      *typing.Tracker
	attachments *attachments.Service
}

// WithAttachments attaches the attachment metadata service so the
// Coordinator can serve "attachment:upload" socket events. Returns the
// receiver for chaining at wiring time.
func (c *Coordinator) WithAttachments(svc *attachments.Service) *Coordinator {
	c.attachments = svc
	return c
}

// contentTypeOf converts a wire string into a models.ContentType, defaulting
// unrecognized values to text rather than rejecting the message outright —
// the validator tag on sendRequest already constrains acceptable values.
func contentTypeOf(s string) models.ContentType {
	switch models.ContentType(s) {
	case models.ContentImage:
		return models.ContentImage
	case models.ContentSystem:
		return models.ContentSystem
	default:
		return models.ContentText
	}
}

// New constructs a Coordinator.
func New(db *database.DB, hub Broadcaster, bridge Publisher, queue Enqueuer, limiter *ratelimit.Limiter, presenceChecker PresenceChecker, callTimeout time.Duration) *Coordinator {
	return &Coordinator{
		db:          db,
		hub:         hub,
		bridge:      bridge,
		queue:       queue,
		limiter:     limiter,
		presence:    presenceChecker,
		callTimeout: callTimeout,
	}
}

// Send persists a new message and fans it out to every other active
// participant: immediately to local sockets and other nodes, and durably
// via the delivery queue so a recipient who is offline right now still
// gets it once their client flushes pending deliveries on reconnect.
func (c *Coordinator) Send(senderID, chatID, content string, contentType models.ContentType, metadata map[string]any, replyToID *string) (*models.MessageWithSender, error) {
	if err := c.limiter.Allow(ratelimit.BucketMessage, senderID); err != nil {
		return nil, err
	}

	msg, records, err := c.db.SendMessage(senderID, chatID, content, contentType, metadata, replyToID)
	if err != nil {
		return nil, err
	}

	sender, err := c.db.GetUser(senderID)
	if err != nil {
		return nil, err
	}
	senderResp := models.ToUserResponse(sender)
	enriched := models.MessageWithSender{Message: *msg, Sender: &senderResp}

	recipients := make([]string, 0, len(records))
	for _, r := range records {
		recipients = append(recipients, r.UserID)
	}

	c.fanOut(chatID, "message:new", enriched, recipients, msg.ID)
	metrics.MessagesSentTotal.Inc()
	return &enriched, nil
}

// Edit overwrites a message's content and fans out the update.
func (c *Coordinator) Edit(callerID, messageID, newContent string) (*models.Message, error) {
	msg, err := c.db.EditMessage(messageID, callerID, newContent)
	if err != nil {
		return nil, err
	}
	recipients, err := c.db.ActiveParticipantIDs(msg.ChatID)
	if err != nil {
		return nil, err
	}
	c.fanOut(msg.ChatID, "message:edited", msg, withoutSelf(recipients, callerID), msg.ID)
	return msg, nil
}

// Delete soft-deletes a message and fans out the tombstone.
func (c *Coordinator) Delete(callerID, messageID string) (*models.Message, error) {
	msg, err := c.db.DeleteMessage(messageID, callerID)
	if err != nil {
		return nil, err
	}
	recipients, err := c.db.ActiveParticipantIDs(msg.ChatID)
	if err != nil {
		return nil, err
	}
	c.fanOut(msg.ChatID, "message:deleted", msg, withoutSelf(recipients, callerID), msg.ID)
	return msg, nil
}

// AddReaction records a reaction and fans out the addition.
func (c *Coordinator) AddReaction(callerID, messageID, emoji string) (*models.Reaction, error) {
	reaction, err := c.db.AddReaction(messageID, callerID, emoji)
	if err != nil {
		return nil, err
	}
	chatID, recipients, err := c.chatAndRecipients(messageID)
	if err != nil {
		return nil, err
	}
	c.fanOut(chatID, "reaction:added", reaction, withoutSelf(recipients, callerID), messageID)
	return reaction, nil
}

// RemoveReaction deletes a reaction and fans out the removal.
func (c *Coordinator) RemoveReaction(callerID, messageID, emoji string) (*models.Reaction, error) {
	reaction, err := c.db.RemoveReaction(messageID, callerID, emoji)
	if err != nil {
		return nil, err
	}
	chatID, recipients, err := c.chatAndRecipients(messageID)
	if err != nil {
		return nil, err
	}
	c.fanOut(chatID, "reaction:removed", reaction, withoutSelf(recipients, callerID), messageID)
	return reaction, nil
}

// MarkDelivered transitions a DeliveryRecord to "delivered" and notifies
// the sender so their client can show a delivered checkmark.
func (c *Coordinator) MarkDelivered(userID, messageID string) error {
	if err := c.db.MarkDelivered(messageID, userID); err != nil {
		return err
	}
	return c.notifyDelivered(messageID, userID, time.Now().UTC())
}

// MarkRead transitions a DeliveryRecord to "read" and notifies the sender.
func (c *Coordinator) MarkRead(userID, messageID string) error {
	if err := c.db.MarkRead(messageID, userID); err != nil {
		return err
	}
	return c.notifyRead(messageID, userID, time.Now().UTC())
}

// MarkChatRead marks every pending/delivered record of a chat as read for
// userID, used when a user opens a chat rather than acking one message at
// a time.
func (c *Coordinator) MarkChatRead(userID, chatID string) error {
	return c.db.MarkAllRead(chatID, userID)
}

// FlushPending emits a user's still-pending messages, oldest first, and
// marks each delivered in the same pass, for the reconnect flush
// SPEC_FULL.md §4.6 calls for.
func (c *Coordinator) FlushPending(userID string) error {
	records, err := c.db.PendingForUser(userID, 0)
	if err != nil {
		return err
	}
	for _, record := range records {
		msg, err := c.db.GetMessage(record.MessageID)
		if err != nil {
			log.Printf("[coordinator] failed to load pending message %s for user %s: %v", record.MessageID, userID, err)
			continue
		}
		enriched := models.MessageWithSender{Message: *msg}
		if msg.SenderID != nil {
			if sender, err := c.db.GetUser(*msg.SenderID); err == nil {
				senderResp := models.ToUserResponse(sender)
				enriched.Sender = &senderResp
			}
		}
		c.hub.DeliverToUser(userID, realtime.Envelope{Type: "message:new", Data: enriched})

		if err := c.db.MarkDelivered(record.MessageID, userID); err != nil {
			log.Printf("[coordinator] failed to mark message %s delivered for user %s: %v", record.MessageID, userID, err)
			continue
		}
		if err := c.notifyDelivered(record.MessageID, userID, time.Now().UTC()); err != nil {
			log.Printf("[coordinator] failed to notify sender of delivery for message %s: %v", record.MessageID, err)
		}
	}
	return nil
}

func (c *Coordinator) notifyDelivered(messageID, userID string, at time.Time) error {
	msg, err := c.db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == nil {
		return nil
	}
	payload := map[string]any{"messageId": messageID, "userId": userID, "deliveredAt": at}
	c.hub.DeliverToUser(*msg.SenderID, realtime.Envelope{Type: "message:delivered", Data: payload})
	return nil
}

func (c *Coordinator) notifyRead(messageID, userID string, at time.Time) error {
	msg, err := c.db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == nil {
		return nil
	}
	payload := map[string]any{"messageId": messageID, "chatId": msg.ChatID, "readBy": userID, "readAt": at}
	c.hub.DeliverToUser(*msg.SenderID, realtime.Envelope{Type: "message:read", Data: payload})
	return nil
}

func (c *Coordinator) chatAndRecipients(messageID string) (string, []string, error) {
	msg, err := c.db.GetMessage(messageID)
	if err != nil {
		return "", nil, err
	}
	recipients, err := c.db.ActiveParticipantIDs(msg.ChatID)
	if err != nil {
		return "", nil, err
	}
	return msg.ChatID, recipients, nil
}

// fanOut delivers an event to local sockets, relays it to other nodes, and
// enqueues it on the durable delivery queue, in that order: local delivery
// is attempted first because it is nearly free when the recipient is on
// this node, and the durable queue is the fallback path, not the primary
// one.
func (c *Coordinator) fanOut(chatID, eventType string, data any, recipients []string, messageID string) {
	envelope := realtime.Envelope{Type: eventType, Data: data}
	c.hub.DeliverToRoom(chatID, envelope, "")

	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()

	rawData, err := json.Marshal(data)
	if err == nil {
		if err := c.bridge.PublishMessage(ctx, chatID, eventType, rawData, recipients); err != nil {
			// Cross-node relay failed; local sockets on this node still
			// received the event above, and the durable queue below is
			// the safety net for everyone else.
		}
	}

	if err := c.queue.Enqueue(ctx, models.DeliveryUnit{
		MessageID:  messageID,
		ChatID:     chatID,
		Recipients: recipients,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("[coordinator] failed to enqueue delivery unit for message %s: %v", messageID, err)
	}
}

// DeliverTyping implements internal/pubsub's TypingSink: relays a typing
// transition that originated on another node to this node's local sockets
// for the chat room. Typing events are transient, so they go straight to
// the room rather than through the durable delivery queue.
func (c *Coordinator) DeliverTyping(chatID, userID string, isTyping bool) {
	eventType := "typing:stop"
	if isTyping {
		eventType = "typing:start"
	}
	payload := map[string]string{"chatId": chatID, "userId": userID}
	c.hub.DeliverToRoom(chatID, realtime.Envelope{Type: eventType, Data: payload}, userID)
}

// DeliverPresence implements internal/pubsub's PresenceSink: relays a
// presence transition that originated on another node to every local
// contact of the affected user, so a contact's roster updates without
// that contact needing to share an open chat room with them.
func (c *Coordinator) DeliverPresence(snapshot models.PresenceSnapshot) {
	contacts, err := c.db.ContactsOf(snapshot.UserID)
	if err != nil {
		return
	}
	envelope := realtime.Envelope{Type: "presence:update", Data: snapshot}
	for _, contactID := range contacts {
		c.hub.DeliverToUser(contactID, envelope)
	}
}

func withoutSelf(ids []string, self string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

// Deliver implements internal/delivery's Deliverer interface: a best-effort
// redelivery attempt for a queued DeliveryUnit. It re-reads the message and
// its sender from the database, re-emits message:new to the chat's local
// room and re-publishes it to the fleet, so a node that was briefly
// partitioned from Redis still catches up. It does not check whether
// recipients are reachable and does not mark delivery records delivered.
func (c *Coordinator) Deliver(ctx context.Context, unit models.DeliveryUnit) error {
	msg, err := c.db.GetMessage(unit.MessageID)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.NotFound {
			return nil // message was deleted before redelivery; nothing to retry.
		}
		return err
	}

	enriched := models.MessageWithSender{Message: *msg}
	if msg.SenderID != nil {
		sender, err := c.db.GetUser(*msg.SenderID)
		if err != nil {
			return err
		}
		senderResp := models.ToUserResponse(sender)
		enriched.Sender = &senderResp
	}

	envelope := realtime.Envelope{Type: "message:new", Data: enriched}
	c.hub.DeliverToRoom(unit.ChatID, envelope, "")

	rawData, err := json.Marshal(enriched)
	if err != nil {
		return fmt.Errorf("failed to marshal redelivery payload: %w", err)
	}
	return c.bridge.PublishMessage(ctx, unit.ChatID, "message:new", rawData, unit.Recipients)
}
