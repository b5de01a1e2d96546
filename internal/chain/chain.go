// Package chain carries condensed stage results forward within a session.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rcliao/agriplan/internal/model"
	"github.com/rcliao/agriplan/internal/store"
)

// Chain is the memory of one session.
type Chain struct {
	store   store.Store
	session string
}

// New returns the chain for session backed by s.
func New(s store.Store, session string) *Chain {
	return &Chain{store: s, session: session}
}

// Session returns the session id.
func (c *Chain) Session() string { return c.session }

// Write stores the entry for stage, replacing the previous one. grounding
// lists the upstream versions the stage was composed from.
func (c *Chain) Write(ctx context.Context, stage model.Stage, summary, raw string, grounding map[model.Stage]int) (*model.MemoryEntry, error) {
	e, err := c.store.Put(ctx, store.PutParams{
		Session:   c.session,
		Stage:     stage,
		Summary:   summary,
		Raw:       raw,
		Grounding: grounding,
	})
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", stage, err)
	}
	return e, nil
}

// Latest returns the entry for stage, or nil when none exists.
func (c *Chain) Latest(ctx context.Context, stage model.Stage) (*model.MemoryEntry, error) {
	e, err := c.store.Get(ctx, store.GetParams{Session: c.session, Stage: stage})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", stage, err)
	}
	return e, nil
}

// Read returns the entries for the given stages in stage order. Stages
// without an entry are skipped.
func (c *Chain) Read(ctx context.Context, stages ...model.Stage) ([]model.MemoryEntry, error) {
	sorted := append([]model.Stage(nil), stages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out []model.MemoryEntry
	var last model.Stage
	for _, st := range sorted {
		if st == last {
			continue
		}
		last = st
		e, err := c.Latest(ctx, st)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

// All returns every entry of the session in stage order.
func (c *Chain) All(ctx context.Context) ([]model.MemoryEntry, error) {
	return c.store.List(ctx, store.ListParams{Session: c.session})
}

// Clear discards all entries of the session.
func (c *Chain) Clear(ctx context.Context) error {
	if err := c.store.Rm(ctx, store.RmParams{Session: c.session}); err != nil {
		return fmt.Errorf("clear %s: %w", c.session, err)
	}
	return nil
}

// Grounding maps each entry's stage to its version.
func Grounding(entries []model.MemoryEntry) map[model.Stage]int {
	if len(entries) == 0 {
		return nil
	}
	g := make(map[model.Stage]int, len(entries))
	for _, e := range entries {
		g[e.Stage] = e.Version
	}
	return g
}
