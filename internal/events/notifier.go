// Package events provides the subscriber-list notifier the engines publish
// their lifecycle and signal events through. Delivery is best-effort: a
// subscriber that falls behind loses events rather than blocking the
// publishing engine.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rmonteiro-dev/tapeflow/pkg/metrics"
)

// Type is the kind of an emitted event.
type Type string

const (
	TypePatternDetected  Type = "pattern-detected"
	TypeFalseOrders      Type = "false-orders"
	TypePositionOpened   Type = "position-opened"
	TypePositionClosed   Type = "position-closed"
	TypePositionUpdated  Type = "position-updated"
	TypeSnapshotCreated  Type = "snapshot-created"
	TypeEmergencyClose   Type = "emergency-close-all"
)

// Event is a single published payload with its type tag.
type Event struct {
	Type    Type
	Payload interface{}
}

const defaultBuffer = 64

// Notifier fans events out to registered subscribers. The zero value is not
// usable; construct with NewNotifier.
type Notifier struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

type subscription struct {
	id    string
	types map[Type]struct{}
	ch    chan Event
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]*subscription)}
}

// Subscribe registers interest in the given event types (all types when none
// are given) and returns a subscription id plus the delivery channel. The
// channel is closed on Unsubscribe.
func (n *Notifier) Subscribe(types ...Type) (string, <-chan Event) {
	sub := &subscription{
		id: uuid.NewString(),
		ch: make(chan Event, defaultBuffer),
	}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	n.mu.Lock()
	n.subs[sub.id] = sub
	n.mu.Unlock()

	return sub.id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown ids are
// ignored.
func (n *Notifier) Unsubscribe(id string) {
	n.mu.Lock()
	sub, ok := n.subs[id]
	if ok {
		delete(n.subs, id)
	}
	n.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Publish delivers the event to every matching subscriber without blocking.
// Events dropped on full buffers are counted, not retried.
func (n *Notifier) Publish(t Type, payload interface{}) {
	evt := Event{Type: t, Payload: payload}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, sub := range n.subs {
		if sub.types != nil {
			if _, want := sub.types[t]; !want {
				continue
			}
		}
		select {
		case sub.ch <- evt:
		default:
			metrics.EventsDropped.WithLabelValues(string(t)).Inc()
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
