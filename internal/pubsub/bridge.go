// Package pubsub implements the PubSubBridge described in SPEC_FULL.md
// §4.7: every node subscribes to the per-chat and presence Redis Pub/Sub
// channels so an event produced on one node reaches sockets held open on
// another. Each message carries the originating node's ID so a node can
// suppress re-delivering an event to the socket that (indirectly) caused
// it, without needing a second round trip.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"chatcore/internal/cache"
	"chatcore/internal/models"
)

// EventKind distinguishes the payload shapes relayed over the bridge.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventPresence EventKind = "presence"
	EventTyping   EventKind = "typing"
)

// envelope is the wire format published to Redis; Payload is re-marshaled
// by the receiving node into the concrete type Kind names.
type envelope struct {
	OriginNode string          `json:"originNode"`
	Kind       EventKind       `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
}

// TypingPayload is the Payload shape for EventTyping.
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// MessagePayload is the Payload shape for EventMessage: an already-rendered
// realtime.Envelope-compatible blob plus the recipient set, so the
// receiving node doesn't need to re-query chat membership.
type MessagePayload struct {
	ChatID     string          `json:"chatId"`
	Recipients []string        `json:"recipients"`
	EventType  string          `json:"eventType"`
	Data       json.RawMessage `json:"data"`
}

// LocalDeliverer is the narrow slice of internal/realtime's Hub the bridge
// needs to hand a relayed event to local sockets.
type LocalDeliverer interface {
	DeliverRaw(userID string, payload []byte, eventType string)
}

// TypingSink receives relayed typing events for local dispatch (distinct
// from LocalDeliverer because typing fan-out needs the chat/user pair, not
// a pre-rendered payload).
type TypingSink interface {
	DeliverTyping(chatID, userID string, isTyping bool)
}

// PresenceSink receives relayed presence transitions for local dispatch.
type PresenceSink interface {
	DeliverPresence(snapshot models.PresenceSnapshot)
}

// Bridge publishes and subscribes to the Redis channels that fan an event
// out across every node in the fleet.
type Bridge struct {
	cache      *cache.Cache
	nodeID     string
	deliverer  LocalDeliverer
	typingSink TypingSink
	presence   PresenceSink
}

// New constructs a Bridge. nodeID should be stable for this process's
// lifetime (e.g. hostname+pid) so self-echo suppression works.
func New(c *cache.Cache, nodeID string, deliverer LocalDeliverer, typingSink TypingSink, presenceSink PresenceSink) *Bridge {
	return &Bridge{cache: c, nodeID: nodeID, deliverer: deliverer, typingSink: typingSink, presence: presenceSink}
}

// PublishMessage fans a new/edited/deleted message event out to a chat's
// channel for every other node to relay to its local sockets.
func (b *Bridge) PublishMessage(ctx context.Context, chatID, eventType string, data json.RawMessage, recipients []string) error {
	payload, err := json.Marshal(MessagePayload{ChatID: chatID, Recipients: recipients, EventType: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}
	return b.publish(ctx, cache.PubSubChannel(chatID), EventMessage, payload)
}

// PublishTyping fans a typing transition out to a chat's channel.
func (b *Bridge) PublishTyping(ctx context.Context, chatID, userID string, isTyping bool) error {
	payload, err := json.Marshal(TypingPayload{ChatID: chatID, UserID: userID, IsTyping: isTyping})
	if err != nil {
		return fmt.Errorf("failed to marshal typing payload: %w", err)
	}
	return b.publish(ctx, cache.PubSubChannel(chatID), EventTyping, payload)
}

// PublishPresence fans a presence transition out fleet-wide.
func (b *Bridge) PublishPresence(ctx context.Context, snapshot models.PresenceSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal presence snapshot: %w", err)
	}
	return b.publish(ctx, cache.PresenceChannel, EventPresence, payload)
}

func (b *Bridge) publish(ctx context.Context, channel string, kind EventKind, payload json.RawMessage) error {
	env := envelope{OriginNode: b.nodeID, Kind: kind, Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal pubsub envelope: %w", err)
	}
	if err := b.cache.Client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// SubscribePattern subscribes to every channel matching pattern and relays inbound events to
// local sockets until ctx is canceled. Run as a goroutine per chat a local
// socket is actively part of, or once globally via a pattern subscription
// depending on deployment scale (SPEC_FULL.md §5 leaves fan-out topology to
// the operator; the pattern form is used by cmd/server).
func (b *Bridge) SubscribePattern(ctx context.Context, pattern string) {
	sub := b.cache.Client.PSubscribe(ctx, pattern)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(msg)
		}
	}
}

// SubscribePresence subscribes to the fleet-wide presence channel and
// relays transitions to the local presence sink until ctx is canceled.
func (b *Bridge) SubscribePresence(ctx context.Context) {
	sub := b.cache.Client.Subscribe(ctx, cache.PresenceChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(msg)
		}
	}
}

func (b *Bridge) handle(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Printf("[pubsub] failed to decode envelope on channel %s: %v", msg.Channel, err)
		return
	}
	if env.OriginNode == b.nodeID && env.Kind != EventPresence {
		// Self-echo: message and typing events were already delivered locally
		// before publishing. Presence transitions are only published, so they
		// are relayed to this node's sockets like any other node's.
		return
	}

	switch env.Kind {
	case EventMessage:
		var payload MessagePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			log.Printf("[pubsub] failed to decode message payload: %v", err)
			return
		}
		for _, userID := range payload.Recipients {
			b.deliverer.DeliverRaw(userID, payload.Data, payload.EventType)
		}
	case EventTyping:
		var payload TypingPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			log.Printf("[pubsub] failed to decode typing payload: %v", err)
			return
		}
		b.typingSink.DeliverTyping(payload.ChatID, payload.UserID, payload.IsTyping)
	case EventPresence:
		var snapshot models.PresenceSnapshot
		if err := json.Unmarshal(env.Payload, &snapshot); err != nil {
			log.Printf("[pubsub] failed to decode presence snapshot: %v", err)
			return
		}
		b.presence.DeliverPresence(snapshot)
	default:
		log.Printf("[pubsub] unknown event kind %q on channel %s", env.Kind, msg.Channel)
	}
}
