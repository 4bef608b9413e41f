// Package presence implements the fleet-wide PresenceRegistry described in
// SPEC_FULL.md §4.3: a local map[userID]map[socketID]struct{} tracks this
// node's own sockets (generalized from the teacher's Hub pattern of
// map[uint]map[*Client]bool), backed by a fleet-wide Redis set of online
// user IDs and a per-(user,socket) TTL heartbeat key. A user only flips
// offline once every node's sockets for them have been gone — and the
// grace window has elapsed without a reconnect — so a page refresh or a
// brief network blip never produces a flicker.
package presence

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"chatcore/internal/cache"
	"chatcore/internal/models"
)

// socketTTL is how long a presence socket key lives without a heartbeat
// refresh before it is considered stale.
const socketTTL = 60 * time.Second

// Publisher is the subset of internal/pubsub's Bridge the registry needs,
// kept narrow so tests can supply a fake.
type Publisher interface {
	PublishPresence(ctx context.Context, snapshot models.PresenceSnapshot) error
}

// Registry tracks presence both locally (this node's sockets) and
// fleet-wide (the Redis online set), publishing an online/offline
// transition exactly once per debounce cycle.
type Registry struct {
	cache       *cache.Cache
	publisher   Publisher
	graceWindow time.Duration
	callTimeout time.Duration

	mu      sync.Mutex
	local   map[string]map[string]struct{} // userID -> socketID -> {}
	offline map[string]*time.Timer         // userID -> pending-offline debounce timer
}

// New constructs a Registry.
func New(c *cache.Cache, publisher Publisher, graceWindow, callTimeout time.Duration) *Registry {
	return &Registry{
		cache:       c,
		publisher:   publisher,
		graceWindow: graceWindow,
		callTimeout: callTimeout,
		local:       make(map[string]map[string]struct{}),
		offline:     make(map[string]*time.Timer),
	}
}

// Connect records a new local socket for userID, cancels any pending
// offline debounce, and — if this is the user's first socket anywhere in
// the fleet — marks them online and publishes the transition.
func (r *Registry) Connect(userID, socketID string) error {
	r.mu.Lock()
	if _, ok := r.local[userID]; !ok {
		r.local[userID] = make(map[string]struct{})
	}
	r.local[userID][socketID] = struct{}{}
	if timer, ok := r.offline[userID]; ok {
		timer.Stop()
		delete(r.offline, userID)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()

	if err := r.cache.Client.Set(ctx, cache.PresenceSocketKey(userID, socketID), time.Now().UTC().Unix(), socketTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence socket key: %w", err)
	}

	added, err := r.cache.Client.SAdd(ctx, cache.OnlineSetKey, userID).Result()
	if err != nil {
		return fmt.Errorf("failed to add user to online set: %w", err)
	}
	if added > 0 {
		r.publish(userID, models.StatusOnline)
	}
	return nil
}

// Heartbeat refreshes a socket's TTL key, called every 30s per connected
// socket (§4.3).
func (r *Registry) Heartbeat(userID, socketID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()
	if err := r.cache.Client.Expire(ctx, cache.PresenceSocketKey(userID, socketID), socketTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence socket key: %w", err)
	}
	return nil
}

// SetStatus publishes a client-requested status override (e.g. "away"),
// honored while at least one socket is connected on this node (§4.3). It
// does not touch the online-set membership Connect/Disconnect own.
func (r *Registry) SetStatus(userID string, status models.UserStatus) error {
	r.mu.Lock()
	_, hasLocal := r.local[userID]
	r.mu.Unlock()
	if !hasLocal {
		return nil
	}
	r.publish(userID, status)
	return nil
}

// Disconnect removes a local socket for userID. If it was the user's last
// local socket, a grace-window timer starts; only once the timer fires
// with no reconnect (locally or on another node) does the user flip
// offline.
func (r *Registry) Disconnect(userID, socketID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()
	if err := r.cache.Client.Del(ctx, cache.PresenceSocketKey(userID, socketID)).Err(); err != nil {
		log.Printf("[presence] failed to clear presence socket key for user %s: %v", userID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sockets, ok := r.local[userID]
	if ok {
		delete(sockets, socketID)
		if len(sockets) == 0 {
			delete(r.local, userID)
		}
	}
	if len(r.local[userID]) > 0 {
		return
	}

	if timer, ok := r.offline[userID]; ok {
		timer.Stop()
	}
	r.offline[userID] = time.AfterFunc(r.graceWindow, func() {
		r.finalizeOffline(userID)
	})
}

func (r *Registry) finalizeOffline(userID string) {
	r.mu.Lock()
	delete(r.offline, userID)
	_, stillLocal := r.local[userID]
	r.mu.Unlock()
	if stillLocal {
		// A new socket reconnected on this node during the grace window.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()

	keys, err := r.cache.Client.Keys(ctx, cache.PresenceSocketPattern(userID)).Result()
	if err != nil {
		log.Printf("[presence] failed to scan presence sockets for user %s: %v", userID, err)
		return
	}
	if len(keys) > 0 {
		// Another node still has a live socket for this user.
		return
	}

	if err := r.cache.Client.SRem(ctx, cache.OnlineSetKey, userID).Err(); err != nil {
		log.Printf("[presence] failed to remove user %s from online set: %v", userID, err)
		return
	}
	r.publish(userID, models.StatusOffline)
}

func (r *Registry) publish(userID string, status models.UserStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()
	snapshot := models.PresenceSnapshot{
		UserID:       userID,
		Status:       status,
		LastActivity: time.Now().UTC(),
	}
	if err := r.publisher.PublishPresence(ctx, snapshot); err != nil {
		log.Printf("[presence] failed to publish presence for user %s: %v", userID, err)
	}
}

// IsOnline reports whether userID is a member of the fleet-wide online set.
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	ok, err := r.cache.Client.SIsMember(ctx, cache.OnlineSetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check online set membership: %w", err)
	}
	return ok, nil
}

// OnlineUsers returns every user ID currently marked online fleet-wide,
// used to seed a freshly-started node's view and for diagnostics.
func (r *Registry) OnlineUsers(ctx context.Context) ([]string, error) {
	ids, err := r.cache.Client.SMembers(ctx, cache.OnlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}
	return ids, nil
}

// LocalSocketCount returns how many sockets userID holds on this node.
func (r *Registry) LocalSocketCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.local[userID])
}
