package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/agriplan/internal/model"
)

type memKey struct {
	session string
	stage   model.Stage
}

// MemStore is a process-local Store. Contents are lost on exit.
type MemStore struct {
	mu      sync.RWMutex
	entries map[memKey]model.MemoryEntry
	ids     *idGen
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: map[memKey]model.MemoryEntry{}, ids: newIDGen()}
}

func (s *MemStore) Put(ctx context.Context, p PutParams) (*model.MemoryEntry, error) {
	if err := validatePut(p); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey{p.Session, p.Stage}
	e := model.MemoryEntry{
		ID:        s.ids.next(),
		Session:   p.Session,
		Stage:     p.Stage,
		Summary:   p.Summary,
		Raw:       p.Raw,
		Version:   s.entries[k].Version + 1,
		Grounding: copyGrounding(p.Grounding),
		CreatedAt: time.Now().UTC(),
	}
	s.entries[k] = e
	out := e
	out.Grounding = copyGrounding(e.Grounding)
	return &out, nil
}

func (s *MemStore) Get(ctx context.Context, p GetParams) (*model.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[memKey{p.Session, p.Stage}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, p.Session, p.Stage)
	}
	e.Grounding = copyGrounding(e.Grounding)
	return &e, nil
}

func (s *MemStore) List(ctx context.Context, p ListParams) ([]model.MemoryEntry, error) {
	s.mu.RLock()
	var out []model.MemoryEntry
	for k, e := range s.entries {
		if p.Session != "" && k.session != p.Session {
			continue
		}
		e.Grounding = copyGrounding(e.Grounding)
		out = append(out, e)
	}
	s.mu.RUnlock()

	sortEntries(out)
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

func (s *MemStore) Rm(ctx context.Context, p RmParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Stage == 0 {
		for k := range s.entries {
			if k.session == p.Session {
				delete(s.entries, k)
			}
		}
		return nil
	}
	k := memKey{p.Session, p.Stage}
	if _, ok := s.entries[k]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, p.Session, p.Stage)
	}
	delete(s.entries, k)
	return nil
}

func (s *MemStore) Close() error { return nil }

func sortEntries(es []model.MemoryEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Session != es[j].Session {
			return es[i].Session < es[j].Session
		}
		return es[i].Stage < es[j].Stage
	})
}
