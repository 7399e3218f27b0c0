// Package events is the typed notification channel between the accessor,
// the sync engine and cache consumers.
package events

import (
	"sync"

	"github.com/erauner12/garagesync/internal/models"
	"github.com/rs/zerolog/log"
)

// Event is one of EntityAdded, EntityUpdated, EntityDeleted or SyncCompleted.
type Event interface {
	isEvent()
}

// EntityAdded is published after a record is written under a new id.
type EntityAdded struct {
	Collection string
	Entity     models.Record
}

// EntityUpdated is published after a record changes. PreviousID is set when
// the id itself changed (local id translated to a server id).
type EntityUpdated struct {
	Collection string
	Entity     models.Record
	PreviousID int64
}

// EntityDeleted is published after a local row is removed.
type EntityDeleted struct {
	Collection string
	ID         int64
}

// SyncCompleted summarizes a drain pass that replayed at least one operation.
type SyncCompleted struct {
	Success     int
	Failed      int
	Abandoned   int
	Collections []string
}

func (EntityAdded) isEvent()   {}
func (EntityUpdated) isEvent() {}
func (EntityDeleted) isEvent() {}
func (SyncCompleted) isEvent() {}

// Handler receives published events.
type Handler func(Event)

// Bus fans events out to subscribers synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	fn Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every subscriber. A panicking subscriber is logged
// and does not affect the publisher or other subscribers.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s.fn, ev)
	}
}

func deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", Name(ev)).Msg("event subscriber panicked")
		}
	}()
	fn(ev)
}

// Name returns a short label for logging.
func Name(ev Event) string {
	switch ev.(type) {
	case EntityAdded:
		return "entity_added"
	case EntityUpdated:
		return "entity_updated"
	case EntityDeleted:
		return "entity_deleted"
	case SyncCompleted:
		return "sync_completed"
	}
	return "unknown"
}
