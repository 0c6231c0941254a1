package session

import (
	"log/slog"
	"sync"
	"time"

	"relaycore/internal/observability/metrics"
)

// PendingEvent is an event buffered for a session that existed but had not
// signaled readiness yet. Buffering closes the race between connecting and
// becoming ready: nothing routed in that window is silently dropped.
type PendingEvent struct {
	Event      string
	Payload    any
	EnqueuedAt time.Time
}

type PendingQueue struct {
	mu      sync.Mutex
	buf     map[string][]PendingEvent
	softCap int
	now     func() time.Time
}

// NewPendingQueue keeps per-device FIFO buffers. softCap only triggers a
// warning when exceeded; entries are never dropped.
func NewPendingQueue(softCap int) *PendingQueue {
	return &PendingQueue{
		buf:     make(map[string][]PendingEvent),
		softCap: softCap,
		now:     time.Now,
	}
}

func (p *PendingQueue) Enqueue(deviceKey, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf[deviceKey] = append(p.buf[deviceKey], PendingEvent{
		Event:      event,
		Payload:    payload,
		EnqueuedAt: p.now(),
	})
	metrics.PendingEventsQueuedTotal.WithLabelValues().Inc()

	if p.softCap > 0 && len(p.buf[deviceKey]) > p.softCap {
		slog.Warn("pending delivery buffer above soft cap",
			"device_key", deviceKey,
			"buffered", len(p.buf[deviceKey]),
			"soft_cap", p.softCap,
		)
	}
}

// Drain removes and returns all buffered events for the device in enqueue order.
func (p *PendingQueue) Drain(deviceKey string) []PendingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := p.buf[deviceKey]
	delete(p.buf, deviceKey)
	return events
}

func (p *PendingQueue) Len(deviceKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf[deviceKey])
}
