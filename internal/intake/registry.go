package intake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 2 * time.Hour

// gcEvery is the number of lookups between opportunistic sweeps.
const gcEvery = 1000

type entry struct {
	m        *Machine
	lastSeen time.Time
}

// Registry holds the live sessions of the process.
//
// Sessions idle for at least the TTL are evicted, either opportunistically
// during lookups or by Run. The registry is process-local.
type Registry struct {
	deps Deps
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	lookups  uint64
}

// NewRegistry returns an empty registry creating machines with deps.
func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	deps = deps.withDefaults()
	return &Registry{
		deps:     deps,
		ttl:      ttl,
		now:      deps.Now,
		sessions: make(map[string]*entry),
	}
}

// Create starts a new session on the landing screen.
func (r *Registry) Create() *Machine {
	m := NewMachine(uuid.NewString(), r.deps)

	r.mu.Lock()
	r.sessions[m.ID()] = &entry{m: m, lastSeen: r.now()}
	n := len(r.sessions)
	r.mu.Unlock()

	activeSessions.Set(float64(n))
	return m
}

// Get returns the session and refreshes its idle timer. Unknown and expired
// IDs yield ErrSessionNotFound.
func (r *Registry) Get(id string) (*Machine, error) {
	now := r.now()

	r.mu.Lock()
	r.lookups++
	if r.lookups >= gcEvery {
		r.sweepLocked(now)
		r.lookups = 0
	}
	e, ok := r.sessions[id]
	if ok && now.Sub(e.lastSeen) >= r.ttl {
		delete(r.sessions, id)
		ok = false
	}
	if ok {
		e.lastSeen = now
	}
	n := len(r.sessions)
	r.mu.Unlock()

	activeSessions.Set(float64(n))
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.m, nil
}

// Len returns the number of sessions held, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts idle sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	removed := r.sweepLocked(r.now())
	n := len(r.sessions)
	r.mu.Unlock()

	activeSessions.Set(float64(n))
	return removed
}

func (r *Registry) sweepLocked(now time.Time) int {
	removed := 0
	for id, e := range r.sessions {
		if now.Sub(e.lastSeen) >= r.ttl {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done. A non-positive interval uses
// a quarter of the TTL.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = r.ttl / 4
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				r.deps.Logger.Debug().Int("evicted", n).Msg("expired sessions swept")
			}
		}
	}
}
