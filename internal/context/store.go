// Package context implements the Sovereign Context Store: a merged
// dotted-key map contributed to by any Sentinel and broadcast back to
// all READY Sentinels on every update. The store is mission-scoped,
// not durable.
package context

import (
	"sync"

	"github.com/starlight-protocol/starlight/internal/registry"
	"github.com/starlight-protocol/starlight/internal/wire"
)

// Broadcaster is the subset of the registry the Store needs to reach
// every READY Sentinel; kept narrow so tests can fake it.
type Broadcaster interface {
	Ready() []*registry.Sentinel
}

// Store is the single-writer merged key-value map.
type Store struct {
	mu   sync.Mutex
	data map[string]any
	reg  Broadcaster
}

func New(reg Broadcaster) *Store {
	return &Store{data: make(map[string]any), reg: reg}
}

// Update merges updates into the store (key-level overwrite) and
// broadcasts the full resulting snapshot to every READY Sentinel.
// Updates serialize on the store's lock so broadcasts are totally
// ordered and observers see a consistent view.
func (s *Store) Update(from string, updates map[string]any) map[string]any {
	s.mu.Lock()
	for k, v := range updates {
		s.data[k] = v
	}
	snapshot := make(map[string]any, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.broadcast(from, snapshot)
	s.mu.Unlock()

	return snapshot
}

// Snapshot returns the current merged map without mutating it.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

func (s *Store) broadcast(from string, snapshot map[string]any) {
	frame, err := wire.NewNotification(wire.MethodSovereignUpdate, wire.SovereignUpdateParams{
		From:    from,
		Context: snapshot,
	})
	if err != nil {
		return
	}
	for _, sent := range s.reg.Ready() {
		_ = sent.Send(frame)
	}
}
