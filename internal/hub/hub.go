// Package hub distributes status events to connected clients. Producers
// (executor, scheduler, pollers) only see the domain.Notifier capability;
// transport details stay here.
package hub

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/averlard/custos/internal/domain"
	"github.com/averlard/custos/internal/usecase/health"
)

// Transport is one live delivery channel to a connected user.
type Transport interface {
	Send(event domain.Event) error
	Close() error
}

// SnapshotSource provides the payloads for the background pollers. The
// health service implements it.
type SnapshotSource interface {
	System() health.SystemSnapshot
	Engine() health.EngineHealth
}

// Hub holds at most one live transport per user and runs the background
// pollers. It owns the connection map; all mutation goes through its methods.
type Hub struct {
	mu    sync.Mutex
	conns map[string]Transport

	source       SnapshotSource
	log          *log.Logger
	pollInterval time.Duration
	nowFn        func() time.Time

	bgMu    sync.Mutex
	bgStop  chan struct{}
	bgGroup sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithPollInterval overrides the background poller interval.
func WithPollInterval(d time.Duration) Option {
	return func(h *Hub) { h.pollInterval = d }
}

// New creates a hub. Background pollers do not run until
// StartBackgroundTasks is called.
func New(source SnapshotSource, logger *log.Logger, opts ...Option) *Hub {
	h := &Hub{
		conns:        make(map[string]Transport),
		source:       source,
		log:          logger,
		pollInterval: time.Minute,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers a transport for a user. An existing connection for the
// same user is closed first; a user has at most one live connection.
func (h *Hub) Connect(userID string, t Transport) {
	h.mu.Lock()
	old := h.conns[userID]
	h.conns[userID] = t
	h.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			h.log.Debug("Closing superseded connection failed", "user_id", userID, "error", err)
		}
		h.log.Info("Superseded existing connection", "user_id", userID)
	}
	h.log.Info("Client connected", "user_id", userID)
}

// Disconnect removes a user's connection, but only if it is still the given
// transport; a newer connection that superseded it is left alone.
func (h *Hub) Disconnect(userID string, t Transport) {
	h.mu.Lock()
	current, ok := h.conns[userID]
	if ok && current == t {
		delete(h.conns, userID)
	}
	h.mu.Unlock()

	if ok && current == t {
		h.log.Info("Client disconnected", "user_id", userID)
	}
}

// Send delivers an event to one user. Events for users without a live
// connection are dropped; this is fire-and-forget notification, not
// guaranteed delivery.
func (h *Hub) Send(userID string, event domain.Event) {
	h.mu.Lock()
	t, ok := h.conns[userID]
	h.mu.Unlock()
	if !ok {
		return
	}
	h.deliver(userID, t, event)
}

// Broadcast delivers an event to every connected user.
func (h *Hub) Broadcast(event domain.Event) {
	h.mu.Lock()
	targets := make(map[string]Transport, len(h.conns))
	for userID, t := range h.conns {
		targets[userID] = t
	}
	h.mu.Unlock()

	for userID, t := range targets {
		h.deliver(userID, t, event)
	}
}

// deliver writes one event; a transport that errors is dropped so a dead
// client cannot block request handling.
func (h *Hub) deliver(userID string, t Transport, event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = h.nowFn()
	}
	if err := t.Send(event); err != nil {
		h.log.Warn("Dropping dead connection", "user_id", userID, "error", err)
		h.Disconnect(userID, t)
		_ = t.Close()
	}
}

// ConnectedUsers returns the ids of users with a live connection.
func (h *Hub) ConnectedUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	users := make([]string, 0, len(h.conns))
	for userID := range h.conns {
		users = append(users, userID)
	}
	return users
}

// StartBackgroundTasks launches the periodic system and engine-health
// pollers. Calling it while pollers are running is a no-op, so timers never
// duplicate.
func (h *Hub) StartBackgroundTasks() {
	h.bgMu.Lock()
	defer h.bgMu.Unlock()
	if h.bgStop != nil {
		h.log.Debug("Background tasks already running")
		return
	}
	h.bgStop = make(chan struct{})
	h.bgGroup.Add(1)
	go h.pollLoop(h.bgStop)
	h.log.Info("Background tasks started", "interval", h.pollInterval)
}

// StopBackgroundTasks halts the pollers. Safe to call repeatedly.
func (h *Hub) StopBackgroundTasks() {
	h.bgMu.Lock()
	stop := h.bgStop
	h.bgStop = nil
	h.bgMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	h.bgGroup.Wait()
	h.log.Info("Background tasks stopped")
}

// Cleanup stops all timers and force-closes every live connection. It is
// safe to call from a process-termination handler.
func (h *Hub) Cleanup() {
	h.StopBackgroundTasks()

	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]Transport)
	h.mu.Unlock()

	for userID, t := range conns {
		if err := t.Close(); err != nil {
			h.log.Debug("Closing connection during cleanup failed", "user_id", userID, "error", err)
		}
	}
	h.log.Info("Hub cleaned up", "closed_connections", len(conns))
}

func (h *Hub) pollLoop(stop chan struct{}) {
	defer h.bgGroup.Done()
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := h.nowFn()
			h.Broadcast(domain.Event{
				Type:      domain.EventSystemStatus,
				Data:      h.source.System(),
				Timestamp: now,
			})
			h.Broadcast(domain.Event{
				Type:      domain.EventHealthUpdate,
				Data:      h.source.Engine(),
				Timestamp: now,
			})
		}
	}
}
