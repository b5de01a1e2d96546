package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rcliao/agriplan/internal/model"
)

// ExportEntry is the portable form of a MemoryEntry used by export and
// import. Grounding keys are stage names.
type ExportEntry struct {
	ID        string         `json:"id" yaml:"id"`
	Session   string         `json:"session" yaml:"session"`
	Stage     string         `json:"stage" yaml:"stage"`
	Summary   string         `json:"summary" yaml:"summary"`
	Raw       string         `json:"raw" yaml:"raw"`
	Version   int            `json:"version" yaml:"version"`
	Grounding map[string]int `json:"grounding,omitempty" yaml:"grounding,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
}

// ToExport converts entries to their portable form.
func ToExport(entries []model.MemoryEntry) []ExportEntry {
	out := make([]ExportEntry, 0, len(entries))
	for _, e := range entries {
		x := ExportEntry{
			ID:        e.ID,
			Session:   e.Session,
			Stage:     e.Stage.String(),
			Summary:   e.Summary,
			Raw:       e.Raw,
			Version:   e.Version,
			CreatedAt: e.CreatedAt,
		}
		if len(e.Grounding) > 0 {
			x.Grounding = make(map[string]int, len(e.Grounding))
			for st, v := range e.Grounding {
				x.Grounding[st.String()] = v
			}
		}
		out = append(out, x)
	}
	return out
}

// FromExport converts portable entries back, rejecting unknown stages.
func FromExport(in []ExportEntry) ([]model.MemoryEntry, error) {
	out := make([]model.MemoryEntry, 0, len(in))
	for i, x := range in {
		st, err := model.ParseStage(x.Stage)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		e := model.MemoryEntry{
			ID:        x.ID,
			Session:   x.Session,
			Stage:     st,
			Summary:   x.Summary,
			Raw:       x.Raw,
			Version:   x.Version,
			CreatedAt: x.CreatedAt,
		}
		if len(x.Grounding) > 0 {
			e.Grounding = make(map[model.Stage]int, len(x.Grounding))
			for k, v := range x.Grounding {
				gs, err := model.ParseStage(k)
				if err != nil {
					return nil, fmt.Errorf("entry %d grounding: %w", i, err)
				}
				e.Grounding[gs] = v
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// ExportAll returns all entries, optionally filtered by session.
func (s *SQLiteStore) ExportAll(ctx context.Context, session string) ([]model.MemoryEntry, error) {
	return s.List(ctx, ListParams{Session: session})
}

// Import restores exported entries. An entry replaces the stored one only
// when its version is newer, so re-importing the same export is a no-op.
// Returns the number of entries written.
func (s *SQLiteStore) Import(ctx context.Context, entries []model.MemoryEntry) (int, error) {
	sorted := make([]model.MemoryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Session != sorted[j].Session {
			return sorted[i].Session < sorted[j].Session
		}
		return sorted[i].Stage < sorted[j].Stage
	})

	imported := 0
	for _, e := range sorted {
		if err := validatePut(PutParams{Session: e.Session, Stage: e.Stage}); err != nil {
			return imported, fmt.Errorf("import %s: %w", e.ID, err)
		}
		if e.ID == "" {
			e.ID = s.ids.next()
		}
		if e.Version < 1 {
			e.Version = 1
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		grounding, err := encodeGrounding(e.Grounding)
		if err != nil {
			return imported, err
		}

		res, err := s.db.ExecContext(ctx,
			`INSERT INTO entries (id, session, stage, summary, raw, version, grounding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session, stage) DO UPDATE SET
			   id = excluded.id, summary = excluded.summary, raw = excluded.raw,
			   version = excluded.version, grounding = excluded.grounding, created_at = excluded.created_at
			 WHERE excluded.version > entries.version`,
			e.ID, e.Session, int(e.Stage), e.Summary, e.Raw, e.Version, grounding,
			e.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return imported, fmt.Errorf("import %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}
	return imported, nil
}
