package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rcliao/agriplan/internal/model"
)

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agriplan.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Put(ctx, PutParams{Session: "s1", Stage: model.Part1, Summary: "plan"})
	s.Put(ctx, PutParams{Session: "s1", Stage: model.Part2, Summary: "schedule",
		Grounding: map[model.Stage]int{model.Part1: 1}})
	s.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, GetParams{Session: "s1", Stage: model.Part2})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Summary != "schedule" {
		t.Errorf("expected 'schedule', got %q", got.Summary)
	}
	if got.Grounding[model.Part1] != 1 {
		t.Errorf("expected grounding part1=1, got %v", got.Grounding)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at to round-trip")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	s.Put(ctx, PutParams{Session: "a", Stage: model.Part1, Summary: "x"})
	s.Put(ctx, PutParams{Session: "a", Stage: model.Part2, Summary: "y"})
	s.Put(ctx, PutParams{Session: "b", Stage: model.Part1, Summary: "z"})

	st, err := s.Stats(ctx, path)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalEntries != 3 {
		t.Errorf("expected 3 entries, got %d", st.TotalEntries)
	}
	if st.TotalSessions != 2 {
		t.Errorf("expected 2 sessions, got %d", st.TotalSessions)
	}
	if st.DBSizeBytes == 0 {
		t.Error("expected non-zero db size")
	}
	counts := map[string]int{}
	for _, ss := range st.Sessions {
		counts[ss.Session] = ss.Entries
	}
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Errorf("unexpected per-session counts %v", counts)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	src.Put(ctx, PutParams{Session: "s1", Stage: model.Part1, Summary: "plan v1"})
	src.Put(ctx, PutParams{Session: "s1", Stage: model.Part1, Summary: "plan v2"})
	src.Put(ctx, PutParams{Session: "s1", Stage: model.Part2, Summary: "schedule",
		Grounding: map[model.Stage]int{model.Part1: 2}})

	entries, err := src.ExportAll(ctx, "s1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	back, err := FromExport(ToExport(entries))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	dst := newTestStore(t)
	n, err := dst.Import(ctx, back)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 imported, got %d", n)
	}

	got, _ := dst.Get(ctx, GetParams{Session: "s1", Stage: model.Part1})
	if got.Version != 2 || got.Summary != "plan v2" {
		t.Errorf("expected version 2 'plan v2', got v%d %q", got.Version, got.Summary)
	}
	p2, _ := dst.Get(ctx, GetParams{Session: "s1", Stage: model.Part2})
	if p2.Grounding[model.Part1] != 2 {
		t.Errorf("grounding lost on import: %v", p2.Grounding)
	}

	// Re-importing the same versions writes nothing.
	n, err = dst.Import(ctx, back)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 on re-import, got %d", n)
	}
}

func TestFromExportRejectsUnknownStage(t *testing.T) {
	_, err := FromExport([]ExportEntry{{Session: "s", Stage: "part9"}})
	if err == nil {
		t.Error("expected error for unknown stage")
	}
}
