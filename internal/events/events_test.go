package events

import (
	"testing"

	"github.com/feedbackkit/courier/internal/models"
)

func TestPublishOrderPreserved(t *testing.T) {
	d := NewDispatcher()
	sub := d.Subscribe()
	defer sub.Close()

	d.Publish(Event{Type: TypeSendPaused, Reason: models.PauseReasonServer})
	d.Publish(Event{Type: TypeSendResumed})
	d.Publish(Event{Type: TypeUnreadCountChanged, UnreadCount: 3})

	want := []Type{TypeSendPaused, TypeSendResumed, TypeUnreadCountChanged}
	for i, w := range want {
		got := <-sub.C
		if got.Type != w {
			t.Fatalf("event %d: got %s, want %s", i, got.Type, w)
		}
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	d := NewDispatcher()
	sub := d.Subscribe()
	sub.Close()

	// Publishing after close must not panic or deliver.
	d.Publish(Event{Type: TypeSendResumed})
	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel after Close")
	}

	// Closing twice is safe.
	sub.Close()
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	d := NewDispatcher()
	sub := d.Subscribe()
	defer sub.Close()

	// Fill well past the buffer; Publish must never block.
	for i := 0; i < subscriptionBuffer*2; i++ {
		d.Publish(Event{Type: TypeUnreadCountChanged, UnreadCount: i})
	}

	got := 0
	for {
		select {
		case <-sub.C:
			got++
			continue
		default:
		}
		break
	}
	if got != subscriptionBuffer {
		t.Errorf("expected %d buffered events, got %d", subscriptionBuffer, got)
	}
}

func TestMultipleSubscribers(t *testing.T) {
	d := NewDispatcher()
	a := d.Subscribe()
	b := d.Subscribe()
	defer a.Close()
	defer b.Close()

	d.Publish(Event{Type: TypeSendResumed})
	if ev := <-a.C; ev.Type != TypeSendResumed {
		t.Errorf("subscriber a: got %s", ev.Type)
	}
	if ev := <-b.C; ev.Type != TypeSendResumed {
		t.Errorf("subscriber b: got %s", ev.Type)
	}
}
