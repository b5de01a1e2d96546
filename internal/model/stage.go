package model

import (
	"fmt"
	"strings"
	"time"
)

// Stage is one of the planning phases.
type Stage int

const (
	Part1 Stage = iota + 1
	Part2
	Part3
)

// Stages returns all stages in causal order.
func Stages() []Stage { return []Stage{Part1, Part2, Part3} }

func (s Stage) String() string {
	switch s {
	case Part1:
		return "part1"
	case Part2:
		return "part2"
	case Part3:
		return "part3"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Title is the human readable stage name.
func (s Stage) Title() string {
	switch s {
	case Part1:
		return "Strategic Plan"
	case Part2:
		return "Daily Schedule"
	case Part3:
		return "Q&A"
	}
	return s.String()
}

// ParseStage accepts "part1", "1", "plan", "schedule", "ask" and similar.
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "part1", "1", "plan", "strategic":
		return Part1, nil
	case "part2", "2", "schedule", "daily":
		return Part2, nil
	case "part3", "3", "ask", "qa":
		return Part3, nil
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	p, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = p
	return nil
}

// MemoryEntry is the condensed carry-over of a completed stage.
type MemoryEntry struct {
	ID        string        `json:"id" yaml:"id"`
	Session   string        `json:"session" yaml:"session"`
	Stage     Stage         `json:"stage" yaml:"stage"`
	Summary   string        `json:"summary" yaml:"summary"`
	Raw       string        `json:"raw" yaml:"raw"`
	Version   int           `json:"version" yaml:"version"`
	Grounding map[Stage]int `json:"grounding,omitempty" yaml:"grounding,omitempty"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
}

// Query is the farmer question asked in Part3.
type Query struct {
	Date     string `json:"date"`
	Question string `json:"question"`
}

// PromptRequest is built fresh for every invocation and never persisted.
type PromptRequest struct {
	Stage  Stage
	Bundle ContextBundle
	Memory []MemoryEntry
	Query  *Query
}
