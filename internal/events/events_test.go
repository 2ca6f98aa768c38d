package events

import (
	"strings"
	"testing"
)

func TestPublishStampsIDAndDelivers(t *testing.T) {
	bus := NewBus()
	var got []Event
	bus.Subscribe(ObserverFunc(func(e Event) { got = append(got, e) }))

	sent := bus.Publish(Event{Kind: TaskCreated, Tag: "main", TaskID: "1"})
	if sent.ID == "" || sent.At.IsZero() {
		t.Fatalf("expected id and timestamp to be stamped, got %#v", sent)
	}
	if !strings.HasPrefix(sent.ID, "evt_") {
		t.Fatalf("expected evt_ id prefix, got %q", sent.ID)
	}
	if len(got) != 1 || got[0].Kind != TaskCreated || got[0].TaskID != "1" {
		t.Fatalf("observer received %#v", got)
	}
}

func TestPublishWithoutObserversIsNoop(t *testing.T) {
	bus := NewBus()
	e := bus.Publish(Event{Kind: TagChanged, Tag: "main"})
	if e.Kind != TagChanged {
		t.Fatalf("unexpected event %#v", e)
	}
}

func TestMultipleObserversInOrder(t *testing.T) {
	bus := NewBus()
	var order []string
	bus.Subscribe(ObserverFunc(func(Event) { order = append(order, "a") }))
	bus.Subscribe(ObserverFunc(func(Event) { order = append(order, "b") }))
	bus.Publish(Event{Kind: TaskDeleted})
	if strings.Join(order, "") != "ab" {
		t.Fatalf("expected subscription order delivery, got %v", order)
	}
}
