// Package realtime fans progress snapshots out to SSE subscribers.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

const (
	subscriberBuffer         = 64
	DefaultHeartbeatInterval = 15 * time.Second
)

// =============================================================================
// Progress Hub - ProgressNotifier / ProgressSubscriber
// =============================================================================

// ProgressHub delivers "session changed" events to the readers of one
// session. Slow readers lose events; they can always poll.
type ProgressHub struct {
	clients map[string]map[chan *domain.ProgressEvent]struct{} // sessionID -> channels
	mu      sync.RWMutex
	log     zerolog.Logger
	now     func() time.Time

	messagesSent    atomic.Int64
	messagesDropped atomic.Int64
	seqCounter      atomic.Int64

	heartbeatInterval time.Duration
}

func NewProgressHub(log zerolog.Logger) *ProgressHub {
	return &ProgressHub{
		clients:           make(map[string]map[chan *domain.ProgressEvent]struct{}),
		log:               log.With().Str("component", "progress_hub").Logger(),
		now:               time.Now,
		heartbeatInterval: DefaultHeartbeatInterval,
	}
}

// Subscribe creates a subscription channel for a session.
func (h *ProgressHub) Subscribe(sessionID string) <-chan *domain.ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan *domain.ProgressEvent, subscriberBuffer)
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[chan *domain.ProgressEvent]struct{})
	}
	h.clients[sessionID][ch] = struct{}{}

	h.log.Debug().
		Str("session_id", sessionID).
		Int("subscribers", len(h.clients[sessionID])).
		Msg("client subscribed")
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (h *ProgressHub) Unsubscribe(sessionID string, ch <-chan *domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channels, ok := h.clients[sessionID]
	if !ok {
		return
	}
	for c := range channels {
		if c == ch {
			delete(channels, c)
			close(c)
			break
		}
	}
	if len(channels) == 0 {
		delete(h.clients, sessionID)
	}
}

// Notify implements out.ProgressNotifier.
func (h *ProgressHub) Notify(_ context.Context, session *domain.ProgressSession) error {
	event := &domain.ProgressEvent{
		Seq:       h.seqCounter.Add(1),
		SessionID: session.SessionID,
		UserID:    session.UserID,
		Session:   session.Clone(),
		Timestamp: h.now(),
	}

	// sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients[session.SessionID] {
		select {
		case ch <- event:
			h.messagesSent.Add(1)
		default:
			h.messagesDropped.Add(1)
			h.log.Warn().
				Str("session_id", session.SessionID).
				Int64("seq", event.Seq).
				Msg("dropped progress event due to full buffer")
		}
	}
	return nil
}

// Close closes every subscription, ending all open streams.
func (h *ProgressHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, channels := range h.clients {
		for ch := range channels {
			close(ch)
		}
		delete(h.clients, id)
	}
}

// HeartbeatInterval returns how often idle streams send a comment line.
func (h *ProgressHub) HeartbeatInterval() time.Duration {
	return h.heartbeatInterval
}

// HubMetrics holds hub counters.
type HubMetrics struct {
	Sessions         int   `json:"sessions"`
	TotalConnections int   `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesDropped  int64 `json:"messages_dropped"`
}

// Metrics returns current counters.
func (h *ProgressHub) Metrics() HubMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, channels := range h.clients {
		total += len(channels)
	}
	return HubMetrics{
		Sessions:         len(h.clients),
		TotalConnections: total,
		MessagesSent:     h.messagesSent.Load(),
		MessagesDropped:  h.messagesDropped.Load(),
	}
}

// =============================================================================
// Event Serialization
// =============================================================================

// FormatEvent renders an event as one SSE frame.
func FormatEvent(event *domain.ProgressEvent) ([]byte, error) {
	data, err := json.Marshal(event.Session)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: progress\ndata: %s\n\n", event.Seq, data)), nil
}

var (
	_ out.ProgressNotifier   = (*ProgressHub)(nil)
	_ out.ProgressSubscriber = (*ProgressHub)(nil)
)
