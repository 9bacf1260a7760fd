package boxes

import "time"

// EventKind names the mutation that changed a box.
type EventKind string

const (
	EventApplied           EventKind = "applied"
	EventHeld              EventKind = "held"
	EventLeft              EventKind = "left"
	EventWithdrawn         EventKind = "withdrawn"
	EventAccepted          EventKind = "accepted"
	EventRejected          EventKind = "rejected"
	EventAssigned          EventKind = "assigned"
	EventRemoved           EventKind = "removed"
	EventConditionsUpdated EventKind = "conditions_updated"
)

// BoxEvent is published after a mutation commits.
type BoxEvent struct {
	BoxID uint      `json:"boxId"`
	Kind  EventKind `json:"kind"`
	At    time.Time `json:"at"`
}

// Notifier receives box events. Implementations must not block.
type Notifier interface {
	Publish(event BoxEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(BoxEvent)

// Publish calls f(event).
func (f NotifierFunc) Publish(event BoxEvent) {
	f(event)
}

// MultiNotifier fans an event out to several notifiers in order.
type MultiNotifier []Notifier

// Publish forwards the event to every non-nil notifier.
func (m MultiNotifier) Publish(event BoxEvent) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Publish(event)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Publish(BoxEvent) {}
