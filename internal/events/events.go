// Package events delivers delivery-core notifications to subscribers.
//
// It replaces lifecycle-bound listener registries with an explicit
// subscribe/unsubscribe API: the core holds no references to its consumers
// beyond the subscription a consumer can close itself. Events are published
// on each subscription's channel in the order they occurred.
package events

import (
	"log/slog"
	"sync"

	"github.com/feedbackkit/courier/internal/models"
	"github.com/feedbackkit/courier/internal/transport"
)

// Type names a delivery-core notification.
type Type string

const (
	// TypeMessageSent fires after a send attempt concluded, successfully or
	// terminally; Result carries the server response.
	TypeMessageSent Type = "message_sent"
	// TypeSendPaused fires when the pipeline stops on a transient failure.
	TypeSendPaused Type = "send_paused"
	// TypeSendResumed fires when the pipeline starts draining again.
	TypeSendResumed Type = "send_resumed"
	// TypeUnreadCountChanged fires when the unread total changes.
	TypeUnreadCountChanged Type = "unread_count_changed"
	// TypeNewIncomingMessage fires for a received message not authored locally.
	TypeNewIncomingMessage Type = "new_incoming_message"
)

// Event is one notification. Only the fields relevant to Type are set.
type Event struct {
	Type        Type
	Message     *models.Message
	Result      *transport.RawResult
	Reason      models.PauseReason
	UnreadCount int
}

// subscriptionBuffer bounds how far a slow consumer may lag before events
// are dropped for it.
const subscriptionBuffer = 64

// Subscription is a handle on the event stream. Close it to unsubscribe.
type Subscription struct {
	// C receives events in occurrence order.
	C <-chan Event

	ch   chan Event
	d    *Dispatcher
	once sync.Once
}

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.d.remove(s)
		close(s.ch)
	})
}

// Dispatcher fans events out to subscribers in publish order.
type Dispatcher struct {
	mu   sync.Mutex
	subs []*Subscription
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a new consumer and returns its subscription handle.
func (d *Dispatcher) Subscribe() *Subscription {
	s := &Subscription{ch: make(chan Event, subscriptionBuffer), d: d}
	s.C = s.ch
	d.mu.Lock()
	d.subs = append(d.subs, s)
	d.mu.Unlock()
	return s
}

// Publish delivers the event to every subscriber. Publishing never blocks
// the send pipeline; a subscriber that has fallen subscriptionBuffer events
// behind loses this one.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs {
		select {
		case s.ch <- ev:
		default:
			slog.Warn("Dispatcher.Publish: dropping event for slow subscriber", "type", ev.Type)
		}
	}
}

func (d *Dispatcher) remove(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s == sub {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}
