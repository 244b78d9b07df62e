package domain

import "time"

// EventType identifies the kind of status event pushed to clients.
type EventType string

const (
	EventBackupProgress  EventType = "backup_progress"
	EventSystemStatus    EventType = "system_status"
	EventHealthUpdate    EventType = "health_update"
	EventNotification    EventType = "notification"
	EventBackupLifecycle EventType = "backup_lifecycle"
	EventLogUpdate       EventType = "log_update"
)

// Event is the unit of status distribution to connected clients.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notifier is the capability producers use to push status events. The hub
// implements it; the executor and scheduler depend only on this interface.
type Notifier interface {
	// Send delivers an event to one user if connected; it is fire-and-forget.
	Send(userID string, event Event)
	// Broadcast delivers an event to every connected user.
	Broadcast(event Event)
}

// NopNotifier discards all events. Useful in tests and for wiring services
// before the hub exists.
type NopNotifier struct{}

func (NopNotifier) Send(string, Event) {}
func (NopNotifier) Broadcast(Event)    {}
