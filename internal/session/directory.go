// Package session tracks live device channels. Every other component routes
// realtime traffic through the Directory instead of touching connections
// directly.
package session

import (
	"log/slog"
	"strings"
	"sync"
)

// Sender abstracts the connection write side so the Directory can be tested
// without a real websocket.
type Sender interface {
	Send(event string, payload any) error
	Close() error
}

type entry struct {
	userID   string
	deviceID string
	sender   Sender
	ready    bool
}

type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	pending  *PendingQueue
}

func NewDirectory(pending *PendingQueue) *Directory {
	return &Directory{
		sessions: make(map[string]*entry),
		pending:  pending,
	}
}

// Key builds the device key used across the registries.
func Key(userID, deviceID string) string {
	return userID + ":" + deviceID
}

// SplitKey is the inverse of Key.
func SplitKey(deviceKey string) (userID, deviceID string) {
	i := strings.LastIndex(deviceKey, ":")
	if i < 0 {
		return deviceKey, ""
	}
	return deviceKey[:i], deviceKey[i+1:]
}

// Register installs the connection as the live session for (user, device).
// A new connection silently supersedes a stale one; this is expected on
// reconnect or page refresh, so it is logged, not treated as an error.
func (d *Directory) Register(userID, deviceID string, sender Sender) {
	key := Key(userID, deviceID)

	d.mu.Lock()
	old := d.sessions[key]
	d.sessions[key] = &entry{userID: userID, deviceID: deviceID, sender: sender}
	d.mu.Unlock()

	if old != nil {
		slog.Info("device session superseded", "user_id", userID, "device_id", deviceID)
		_ = old.sender.Close()
	}
}

// Unregister removes the session only when sender still owns it, so a
// lingering close from a superseded connection cannot evict its replacement.
func (d *Directory) Unregister(userID, deviceID string, sender Sender) {
	key := Key(userID, deviceID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.sessions[key]; ok && cur.sender == sender {
		delete(d.sessions, key)
	}
}

// MarkReady flips readiness and flushes everything buffered for the device,
// in enqueue order.
func (d *Directory) MarkReady(userID, deviceID string) {
	key := Key(userID, deviceID)

	d.mu.Lock()
	cur, ok := d.sessions[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	cur.ready = true
	sender := cur.sender
	events := d.pending.Drain(key)
	d.mu.Unlock()

	for _, ev := range events {
		if err := sender.Send(ev.Event, ev.Payload); err != nil {
			slog.Warn("pending flush send failed", "user_id", userID, "device_id", deviceID, "event", ev.Event, "error", err)
			return
		}
	}
	if len(events) > 0 {
		slog.Debug("flushed pending events", "user_id", userID, "device_id", deviceID, "count", len(events))
	}
}

func (d *Directory) IsReady(userID, deviceID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cur, ok := d.sessions[Key(userID, deviceID)]
	return ok && cur.ready
}

// RouteIfReady delivers the event when the device session is live and ready.
// A registered-but-not-ready session gets the event buffered instead of
// dropped; an absent session returns false and leaves durability to the
// store-and-forward path.
func (d *Directory) RouteIfReady(userID, deviceID, event string, payload any) bool {
	key := Key(userID, deviceID)

	d.mu.RLock()
	cur, ok := d.sessions[key]
	var sender Sender
	ready := false
	if ok {
		sender = cur.sender
		ready = cur.ready
	}
	d.mu.RUnlock()

	if !ok {
		return false
	}
	if !ready {
		d.pending.Enqueue(key, event, payload)
		return false
	}
	if err := sender.Send(event, payload); err != nil {
		slog.Warn("route send failed", "user_id", userID, "device_id", deviceID, "event", event, "error", err)
		return false
	}
	return true
}

// BroadcastToUser sends to every ready session of the user and returns how
// many deliveries succeeded.
func (d *Directory) BroadcastToUser(userID, event string, payload any) int {
	prefix := userID + ":"

	d.mu.RLock()
	targets := make([]Sender, 0, 2)
	for key, cur := range d.sessions {
		if strings.HasPrefix(key, prefix) && cur.ready {
			targets = append(targets, cur.sender)
		}
	}
	d.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(event, payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// DeviceKeys returns the keys of all registered sessions for the user,
// ready or not.
func (d *Directory) DeviceKeys(userID string) []string {
	prefix := userID + ":"

	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, 2)
	for key := range d.sessions {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}
