package session

// Event is one ordered state notification.
// Name identifies what changed; State is the full snapshot after the change.
type Event struct {
	Seq    uint64
	Name   string
	ChatID int64
	Fields map[string]any
	State  Snapshot
}

// Event names published by State.
const (
	EventChatSelected      = "chat_selected"
	EventChatUpdated       = "chat_updated"
	EventLoadState         = "load_state"
	EventSelectionRequired = "selection_required"
	EventPhase             = "phase"
	EventGenerating        = "generating"
	EventFragment          = "fragment"
	EventPartialReset      = "partial_reset"
	EventMetrics           = "metrics"
	EventRecoverableError  = "recoverable_error"
	EventErrorDismissed    = "error_dismissed"
	EventVisibility        = "visibility"
)

// EventPublisher receives events from State. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// multiPublisher fans an event out to several publishers in order.
type multiPublisher []EventPublisher

func (m multiPublisher) Publish(e Event) {
	for _, p := range m {
		p.Publish(e)
	}
}
