// Package connectivity tracks whether the remote API is reachable and
// notifies listeners when connectivity is regained.
package connectivity

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Signal is the network reachability predicate plus a "connectivity
// regained" subscription.
type Signal interface {
	Online() bool
	// Subscribe returns a channel that receives a value on every
	// offline to online transition. Slow receivers miss notifications
	// rather than block the sender.
	Subscribe() (<-chan struct{}, func())
}

// Manual is a Signal whose state is set explicitly.
type Manual struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]chan struct{}
}

// NewManual returns a signal in the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: make(map[int]chan struct{})}
}

// Online reports the current state.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the state, notifying subscribers when it flips to online.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	regained := online && !m.online
	if online != m.online {
		log.Info().Bool("online", online).Msg("connectivity changed")
	}
	m.online = online
	if !regained {
		return
	}
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a listener for connectivity regained.
func (m *Manual) Subscribe() (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	ch := make(chan struct{}, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
