// Package session tracks live orchestrators by session id and expires
// idle ones. The registry is per process; a session whose entries live in
// a shared store is adopted by whichever process is asked for it.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/agriplan/internal/logger"
	"github.com/rcliao/agriplan/internal/metrics"
	"github.com/rcliao/agriplan/internal/model"
	"github.com/rcliao/agriplan/internal/orchestrator"
)

// Factory builds the orchestrator for a new session id.
type Factory func(id string) *orchestrator.Orchestrator

// Session is one live pipeline run.
type Session struct {
	ID        string
	CreatedAt time.Time
	Orch      *orchestrator.Orchestrator

	mu         sync.Mutex
	lastActive time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Info is the listing view of a session.
type Info struct {
	ID         string              `json:"id"`
	State      orchestrator.State  `json:"state"`
	Status     orchestrator.Status `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	LastActive time.Time           `json:"last_active"`
}

func (s *Session) Info() Info {
	st := s.Orch.Status()
	return Info{ID: s.ID, State: st.State, Status: st, CreatedAt: s.CreatedAt, LastActive: s.LastActive()}
}

type Manager struct {
	factory Factory
	idleTTL time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// clearOnExpire makes Sweep end sessions, clearing their memory, rather
	// than only dropping them from the registry.
	clearOnExpire bool

	mu       sync.RWMutex
	sessions map[string]*Session
}

type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClearOnExpire makes idle expiry clear the session's memory. Use it
// when the store lives in this process and nothing else can adopt the
// session later.
func WithClearOnExpire() Option {
	return func(m *Manager) { m.clearOnExpire = true }
}

// NewManager returns a manager expiring sessions idle longer than idleTTL.
// A zero idleTTL disables expiry.
func NewManager(factory Factory, idleTTL time.Duration, opts ...Option) *Manager {
	m := &Manager{
		factory:  factory,
		idleTTL:  idleTTL,
		now:      time.Now,
		sessions: map[string]*Session{},
	}
	for _, o := range opts {
		o(m)
	}
	m.log = logger.Or(m.log).With("component", "session")
	return m
}

// Create starts a session with a fresh id.
func (m *Manager) Create() *Session {
	now := m.now().UTC()
	id := uuid.NewString()
	s := &Session{ID: id, CreatedAt: now, Orch: m.factory(id), lastActive: now}

	m.mu.Lock()
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetSessionsActive(n)
	m.log.Info("session created", "session", id)
	return s
}

// Get returns the session and marks it active. A session unknown here but
// with entries in the store, e.g. one created by another replica, is
// restored from those entries and registered.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		var err error
		if s, err = m.adopt(ctx, id); err != nil {
			return nil, err
		}
	}
	s.touch(m.now().UTC())
	return s, nil
}

func (m *Manager) adopt(ctx context.Context, id string) (*Session, error) {
	orch := m.factory(id)
	entries, err := orch.Memory(ctx)
	if err != nil {
		orch.Close()
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if len(entries) == 0 {
		orch.Close()
		return nil, model.ErrSessionNotFound
	}
	if err := orch.Restore(ctx); err != nil {
		orch.Close()
		return nil, err
	}
	created := entries[0].CreatedAt
	for _, e := range entries[1:] {
		if e.CreatedAt.Before(created) {
			created = e.CreatedAt
		}
	}
	now := m.now().UTC()
	s := &Session{ID: id, CreatedAt: created, Orch: orch, lastActive: now}

	m.mu.Lock()
	if cur, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		orch.Close()
		return cur, nil
	}
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetSessionsActive(n)
	m.log.Info("session restored", "session", id, "state", orch.State().String())
	return s, nil
}

// List returns all live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// End aborts the session's in-flight calls and clears its memory
// entries. A session known only to the store is ended too.
func (m *Manager) End(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	m.drop(id)
	return s.Orch.End(ctx)
}

func (m *Manager) drop(id string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		m.metrics.SetSessionsActive(n)
	}
	return s, ok
}

// Sweep drops every session idle for longer than the TTL at now and
// returns how many were dropped. Their memory is kept unless the manager
// clears on expiry.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}
	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if now.Sub(s.LastActive()) > m.idleTTL {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range expired {
		s, ok := m.drop(id)
		if !ok {
			continue
		}
		if m.clearOnExpire {
			if err := s.Orch.End(ctx); err != nil {
				m.log.Warn("expire session failed", "session", id, "error", err)
				continue
			}
		} else {
			s.Orch.Close()
		}
		m.log.Info("session expired", "session", id, "cleared", m.clearOnExpire)
		n++
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.idleTTL <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep(ctx, m.now())
		}
	}
}

// Close aborts in-flight runs of every session and empties the registry.
// Memory entries stay in the store for the next process to restore.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = map[string]*Session{}
	m.mu.Unlock()
	m.metrics.SetSessionsActive(0)

	for _, s := range all {
		s.Orch.Close()
	}
	m.log.Info("sessions closed", "count", len(all))
}
