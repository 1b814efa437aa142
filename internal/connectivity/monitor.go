// Package connectivity tracks whether the remote ledger is reachable.
package connectivity

import (
	"sync"

	"bizledger/internal/metrics"

	"github.com/rs/zerolog"
)

// Monitor holds the current online state. It starts offline: without a
// signal the safe assumption is that sales must be queued.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan struct{}
	nextID int
	logger zerolog.Logger
}

func NewMonitor(logger zerolog.Logger) *Monitor {
	return &Monitor{
		subs:   make(map[int]chan struct{}),
		logger: logger.With().Str("component", "connectivity").Logger(),
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the latest signal and reports whether it was an
// offline→online transition. Each transition wakes every subscriber once;
// transitions that arrive before a subscriber reads are coalesced.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}
	m.online = online
	if online {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}

	if !online {
		m.logger.Warn().Msg("ledger unreachable, sales will be queued")
		return false
	}

	m.logger.Info().Int("subscribers", len(m.subs)).Msg("ledger reachable again")
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return true
}

// BecameOnline subscribes to offline→online transitions. Call the returned
// func to unsubscribe.
func (m *Monitor) BecameOnline() (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan struct{}, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
