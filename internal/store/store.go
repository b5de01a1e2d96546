// Package store provides stage memory storage with in-memory, SQLite and
// Redis implementations.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/agriplan/internal/model"
)

// ErrNotFound is returned when a session has no entry for a stage.
var ErrNotFound = errors.New("memory entry not found")

// PutParams holds parameters for storing a stage entry.
type PutParams struct {
	Session   string
	Stage     model.Stage
	Summary   string
	Raw       string
	Grounding map[model.Stage]int
}

// GetParams holds parameters for retrieving a stage entry.
type GetParams struct {
	Session string
	Stage   model.Stage
}

// ListParams holds parameters for listing entries. An empty Session lists
// every session.
type ListParams struct {
	Session string
	Limit   int
}

// RmParams holds parameters for deleting entries. A zero Stage removes
// every entry of the session.
type RmParams struct {
	Session string
	Stage   model.Stage
}

// Store defines the stage memory interface. Each (session, stage) pair has
// at most one retrievable entry.
type Store interface {
	// Put stores the entry for a stage, replacing any previous one and
	// bumping its version. Entries of other stages are untouched.
	Put(ctx context.Context, p PutParams) (*model.MemoryEntry, error)

	// Get returns the current entry or ErrNotFound.
	Get(ctx context.Context, p GetParams) (*model.MemoryEntry, error)

	// List returns entries ordered by session then stage.
	List(ctx context.Context, p ListParams) ([]model.MemoryEntry, error)

	// Rm deletes entries. Removed entries cannot be recovered.
	Rm(ctx context.Context, p RmParams) error

	// Close closes the store.
	Close() error
}

func validatePut(p PutParams) error {
	if p.Session == "" {
		return errors.New("session is required")
	}
	if p.Stage < model.Part1 || p.Stage > model.Part3 {
		return errors.New("invalid stage")
	}
	return nil
}

func copyGrounding(g map[model.Stage]int) map[model.Stage]int {
	if len(g) == 0 {
		return nil
	}
	out := make(map[model.Stage]int, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}
