// Package registry owns the Sentinel record table - the
// many-reader/single-writer map the Orchestrator fans pre-checks out
// over and the Supervisor ages out on missed heartbeats. Registration
// is a two-phase handshake: token check, then challenge echo.
package registry

import (
	"crypto/subtle"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/starlight-protocol/starlight/internal/idgen"
	"github.com/starlight-protocol/starlight/internal/wire"
)

// State is a Sentinel's lifecycle state.
type State int

const (
	Connecting State = iota
	Challenged
	Ready
	Degraded
	Gone
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Challenged:
		return "CHALLENGED"
	case Ready:
		return "READY"
	case Degraded:
		return "DEGRADED"
	case Gone:
		return "GONE"
	default:
		return "UNKNOWN"
	}
}

// Conn is the minimal send/close surface the registry needs from a
// live connection, so this package does not depend on the transport's
// websocket details.
type Conn interface {
	Send(*wire.Frame) error
	Close(reason string) error
}

// Sentinel is one registered agent.
type Sentinel struct {
	AssignedID   string
	Layer        string
	Priority     int
	Capabilities []string
	Selectors    []string

	mu            sync.RWMutex
	state         State
	conn          Conn
	challenge     string
	lastHeartbeat time.Time
	lastHealth    map[string]any
	lastEntropy   *bool
	connEpoch     uint64
	arrival       uint64

	// Learned memory is the Sentinel's own responsibility; the Hub
	// never reads or stores it.
}

func (s *Sentinel) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Sentinel) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Sentinel) Send(f *wire.Frame) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("sentinel %s has no live connection", s.AssignedID)
	}
	return conn.Send(f)
}

func (s *Sentinel) Touch(hb time.Time, health map[string]any, entropy *bool) {
	s.mu.Lock()
	s.lastHeartbeat = hb
	if health != nil {
		s.lastHealth = health
	}
	if entropy != nil {
		s.lastEntropy = entropy
	}
	if s.state == Degraded {
		s.state = Ready
	}
	s.mu.Unlock()
}

func (s *Sentinel) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}

func (s *Sentinel) LastEntropy() *bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastEntropy
}

// HasCapability reports whether the sentinel declared tag at
// registration. Capabilities are immutable after registration, so this
// never needs the lock beyond the read of the slice header.
func (s *Sentinel) HasCapability(tag string) bool {
	for _, c := range s.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Registry is the authoritative Sentinel table, many-reader with a
// single writer.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*Sentinel
	byLayer    map[string]*Sentinel
	authToken  string
	nextArrival uint64
}

func New(authToken string) *Registry {
	return &Registry{
		byID:      make(map[string]*Sentinel),
		byLayer:   make(map[string]*Sentinel),
		authToken: authToken,
	}
}

// VerifyToken compares the presented token in constant time; a secret
// compare must never branch early.
func (r *Registry) VerifyToken(presented string) bool {
	if r.authToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(r.authToken), []byte(presented)) == 1
}

// BeginRegistration allocates an assigned ID and challenge nonce for a
// freshly connecting Sentinel. The record is stored in CONNECTING
// state; FinishHandshake must be called with the matching response
// before it becomes eligible for anything.
func (r *Registry) BeginRegistration(params wire.RegistrationParams, conn Conn) (*Sentinel, string) {
	s := &Sentinel{
		AssignedID:   idgen.SentinelID(),
		Layer:        params.Layer,
		Priority:     params.Priority,
		Capabilities: append([]string(nil), params.Capabilities...),
		Selectors:    append([]string(nil), params.Selectors...),
		state:        Connecting,
		conn:         conn,
		challenge:    idgen.Challenge(),
	}

	r.mu.Lock()
	r.nextArrival++
	s.arrival = r.nextArrival
	r.byID[s.AssignedID] = s
	r.mu.Unlock()

	return s, s.challenge
}

// FinishHandshake verifies the challenge response and, on success,
// transitions the Sentinel to READY, replacing any existing READY
// Sentinel with the same layer name (the older one is dropped with
// reason "superseded").
func (r *Registry) FinishHandshake(assignedID, response string) (*Sentinel, error) {
	r.mu.Lock()
	s, ok := r.byID[assignedID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown assigned id %s", assignedID)
	}

	s.mu.Lock()
	match := s.challenge == response
	s.mu.Unlock()
	if !match {
		r.mu.Lock()
		delete(r.byID, assignedID)
		r.mu.Unlock()
		return nil, fmt.Errorf("challenge mismatch")
	}

	r.mu.Lock()
	if existing, dup := r.byLayer[s.Layer]; dup && existing != s {
		_ = existing.conn.Close("superseded")
		existing.setState(Gone)
		delete(r.byID, existing.AssignedID)
	}
	r.byLayer[s.Layer] = s
	r.mu.Unlock()

	s.setState(Ready)
	s.Touch(time.Now(), nil, nil)
	return s, nil
}

// Remove drops a Sentinel entirely (final disconnect or GONE transition).
func (r *Registry) Remove(assignedID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[assignedID]
	if !ok {
		return
	}
	delete(r.byID, assignedID)
	if r.byLayer[s.Layer] == s {
		delete(r.byLayer, s.Layer)
	}
}

// Ready returns a stable snapshot of every READY Sentinel, ordered by
// priority then (for ties) registration order - the order the
// Orchestrator uses for fan-out and hijack tie-break.
func (r *Registry) Ready() []*Sentinel {
	r.mu.RLock()
	out := make([]*Sentinel, 0, len(r.byID))
	for _, s := range r.byID {
		if s.State() == Ready {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].arrival < out[j].arrival
	})
	return out
}

// ByLayer looks up a Sentinel by its layer name, for the side-talk router.
func (r *Registry) ByLayer(layer string) (*Sentinel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byLayer[layer]
	return s, ok
}

// Layers lists every registered layer name, for sidetalk "undeliverable" replies.
func (r *Registry) Layers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byLayer))
	for l := range r.byLayer {
		out = append(out, l)
	}
	return out
}

// All returns every known Sentinel regardless of state, for the Supervisor.
func (r *Registry) All() []*Sentinel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Sentinel, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

func (s *Sentinel) MarkDegraded() { s.setState(Degraded) }
func (s *Sentinel) MarkGone()     { s.setState(Gone) }
