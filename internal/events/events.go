// Package events is the lifecycle notification side channel. Mutations
// in the store publish structured events to observers that opted in;
// delivery is best-effort and never part of the transactional contract.
package events

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type randReader struct{}

func (randReader) Read(p []byte) (int, error) { return rand.Read(p) }

var timeNow = func() time.Time { return time.Now().UTC() }

type Kind string

const (
	TaskCreated       Kind = "task.created"
	TaskUpdated       Kind = "task.updated"
	TaskDeleted       Kind = "task.deleted"
	TagCreated        Kind = "tag.created"
	TagDeleted        Kind = "tag.deleted"
	TagChanged        Kind = "tag.changed"
	DependencyAdded   Kind = "dependency.added"
	DependencyRemoved Kind = "dependency.removed"
)

// Event describes one lifecycle notification.
type Event struct {
	ID     string    `json:"id"`
	Kind   Kind      `json:"kind"`
	Tag    string    `json:"tag,omitempty"`
	TaskID string    `json:"taskId,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Observer receives lifecycle events. Implementations must not block;
// publishing happens inside store mutations.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// Bus fans events out to subscribed observers.
type Bus struct {
	mu        sync.Mutex
	observers []Observer
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe(o Observer) {
	if o == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Publish stamps the event with an ID and timestamp and delivers it to
// every observer in subscription order.
func (b *Bus) Publish(e Event) Event {
	if e.ID == "" {
		e.ID = newEventID()
	}
	if e.At.IsZero() {
		e.At = timeNow()
	}
	b.mu.Lock()
	observers := append([]Observer(nil), b.observers...)
	b.mu.Unlock()
	for _, o := range observers {
		o.Notify(e)
	}
	return e
}

func newEventID() string {
	t := ulid.Timestamp(timeNow())
	entropy := ulid.Monotonic(randReader{}, 0)
	id, err := ulid.New(t, entropy)
	if err != nil {
		return fmt.Sprintf("%d", timeNow().UnixNano())
	}
	return "evt_" + id.String()
}
