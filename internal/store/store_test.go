package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/rcliao/agriplan/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends returns every Store available in this environment. Redis runs
// only when AGRIPLAN_TEST_REDIS_ADDR is set.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{
		"mem":    NewMemStore(),
		"sqlite": newTestStore(t),
	}
	if addr := os.Getenv("AGRIPLAN_TEST_REDIS_ADDR"); addr != "" {
		rs, err := NewRedisStore(context.Background(), RedisOptions{
			Addr:   addr,
			Prefix: "agriplan-test-" + uuid.NewString() + ":",
		})
		if err != nil {
			t.Fatalf("redis: %v", err)
		}
		t.Cleanup(func() { rs.Close() })
		out["redis"] = rs
	}
	return out
}

func TestStorePutAndGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e, err := s.Put(ctx, PutParams{Session: "s1", Stage: model.Part1, Summary: "plan", Raw: "full plan"})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if e.Version != 1 {
				t.Errorf("expected version 1, got %d", e.Version)
			}
			if e.ID == "" {
				t.Error("expected non-empty ID")
			}

			got, err := s.Get(ctx, GetParams{Session: "s1", Stage: model.Part1})
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Summary != "plan" || got.Raw != "full plan" {
				t.Errorf("unexpected entry %+v", got)
			}
			if got.Stage != model.Part1 || got.Session != "s1" {
				t.Errorf("unexpected key %s/%s", got.Session, got.Stage)
			}
		})
	}
}

func TestStoreOverwriteReplaces(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Put(ctx, PutParams{Session: "s1", Stage: model.Part1, Summary: "first"})
			e2, err := s.Put(ctx, PutParams{Session: "s1", Stage: model.Part1, Summary: "second"})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if e2.Version != 2 {
				t.Errorf("expected version 2, got %d", e2.Version)
			}

			got, _ := s.Get(ctx, GetParams{Session: "s1", Stage: model.Part1})
			if got.Summary != "second" {
				t.Errorf("expected 'second', got %q", got.Summary)
			}

			all, _ := s.List(ctx, ListParams{Session: "s1"})
			if len(all) != 1 {
				t.Fatalf("expected 1 entry after overwrite, got %d", len(all))
			}
		})
	}
}

func TestStoreStagesIndependent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Put(ctx, PutParams{Session: "s1", Stage: model.Part1, Summary: "plan"})
			s.Put(ctx, PutParams{Session: "s1", Stage: model.Part2, Summary: "schedule v1",
				Grounding: map[model.Stage]int{model.Part1: 1}})
			s.Put(ctx, PutParams{Session: "s1", Stage: model.Part2, Summary: "schedule v2",
				Grounding: map[model.Stage]int{model.Part1: 1}})
			s.Put(ctx, PutParams{Session: "s2", Stage: model.Part1, Summary: "other"})

			p1, err := s.Get(ctx, GetParams{Session: "s1", Stage: model.Part1})
			if err != nil {
				t.Fatalf("get part1: %v", err)
			}
			if p1.Version != 1 || p1.Summary != "plan" {
				t.Errorf("part1 changed by part2 writes: %+v", p1)
			}

			p2, _ := s.Get(ctx, GetParams{Session: "s1", Stage: model.Part2})
			if p2.Grounding[model.Part1] != 1 {
				t.Errorf("expected grounding part1=1, got %v", p2.Grounding)
			}

			list, _ := s.List(ctx, ListParams{Session: "s1"})
			if len(list) != 2 || list[0].Stage != model.Part1 || list[1].Stage != model.Part2 {
				t.Errorf("expected part1, part2 in order, got %+v", list)
			}
		})
	}
}

func TestStoreRm(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Put(ctx, PutParams{Session: "s1", Stage: model.Part1, Summary: "plan"})
			s.Put(ctx, PutParams{Session: "s1", Stage: model.Part2, Summary: "schedule"})
			s.Put(ctx, PutParams{Session: "s2", Stage: model.Part1, Summary: "keep"})

			if err := s.Rm(ctx, RmParams{Session: "s1", Stage: model.Part2}); err != nil {
				t.Fatalf("rm stage: %v", err)
			}
			if _, err := s.Get(ctx, GetParams{Session: "s1", Stage: model.Part2}); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			if err := s.Rm(ctx, RmParams{Session: "s1", Stage: model.Part2}); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound on second rm, got %v", err)
			}

			if err := s.Rm(ctx, RmParams{Session: "s1"}); err != nil {
				t.Fatalf("rm session: %v", err)
			}
			list, _ := s.List(ctx, ListParams{Session: "s1"})
			if len(list) != 0 {
				t.Errorf("expected empty session, got %d entries", len(list))
			}
			if _, err := s.Get(ctx, GetParams{Session: "s2", Stage: model.Part1}); err != nil {
				t.Errorf("other session affected: %v", err)
			}

			// Version restarts after the session is cleared.
			e, _ := s.Put(ctx, PutParams{Session: "s1", Stage: model.Part1, Summary: "again"})
			if e.Version != 1 {
				t.Errorf("expected version 1 after clear, got %d", e.Version)
			}
		})
	}
}

func TestStoreRejectsInvalidPut(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if _, err := s.Put(ctx, PutParams{Stage: model.Part1}); err == nil {
		t.Error("expected error for empty session")
	}
	if _, err := s.Put(ctx, PutParams{Session: "s", Stage: model.Stage(9)}); err == nil {
		t.Error("expected error for invalid stage")
	}
}
