package session

import (
	"realtime-chat/backend/internal/models"
)

// EventType names a view update
type EventType string

const (
	EventHistory        EventType = "history"
	EventMessage        EventType = "message"
	EventCleared        EventType = "cleared"
	EventSending        EventType = "sending"
	EventInputCleared   EventType = "input_cleared"
	EventAlert          EventType = "alert"
	EventResponseSource EventType = "response_source"
)

// FeedLostAlert is raised when the change-feed ends under an open session
const FeedLostAlert = "Live updates stopped. Reload to see new messages."

// Event is one update pushed to the view. Only the fields relevant to
// Type are set.
type Event struct {
	Type       EventType
	Messages   []models.Message
	Message    *models.Message
	LoadFailed bool
	Sending    bool
	Alert      string
	Source     models.Source
}

// Notifier receives session events in order. Notify is called with the
// session lock held; it must not block or call back into the session.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// NopNotifier drops every event
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}
