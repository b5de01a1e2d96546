// Package prompt renders a stage, a context bundle and prior-stage memory
// into prompt text.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/agriplan/internal/model"
)

// ErrNoQuestion is returned when a Part3 request carries no question.
var ErrNoQuestion = errors.New("part3 requires a question")

// Truncation records a value shortened to the field budget.
type Truncation struct {
	Stage    model.Stage `json:"stage"`
	Field    string      `json:"field"`
	Original int         `json:"original"`
	Budget   int         `json:"budget"`
}

// Prompt is the composed model input.
type Prompt struct {
	Stage       model.Stage  `json:"stage"`
	System      string       `json:"system"`
	Text        string       `json:"text"`
	Truncations []Truncation `json:"truncations,omitempty"`
}

// Composer renders PromptRequests. It holds no state besides its settings,
// so equal requests always yield identical prompts.
type Composer struct {
	FieldBudget int
	System      string
}

// NewComposer returns a composer with the given per-field rune budget.
func NewComposer(fieldBudget int) *Composer {
	if fieldBudget < MinBudget {
		fieldBudget = MinBudget
	}
	return &Composer{FieldBudget: fieldBudget, System: DefaultSystem}
}

// Compose renders the request.
func (c *Composer) Compose(req model.PromptRequest) (Prompt, error) {
	st, ok := stageTexts[req.Stage]
	if !ok {
		return Prompt{}, fmt.Errorf("compose: unknown stage %s", req.Stage)
	}
	if req.Stage == model.Part3 && (req.Query == nil || strings.TrimSpace(req.Query.Question) == "") {
		return Prompt{}, ErrNoQuestion
	}

	r := &renderer{stage: req.Stage, budget: c.FieldBudget}
	r.line(st.preamble)

	r.memory(req.Memory)
	for _, v := range model.Variants() {
		r.variant(req.Bundle.Slot(v))
	}
	if req.Stage == model.Part3 {
		r.blank()
		r.line("## Farmer Question")
		date := req.Query.Date
		if strings.TrimSpace(date) == "" {
			date = "(not provided)"
		}
		r.field("Current date", date, "query.date")
		r.field("Question", req.Query.Question, "query.question")
	}

	r.blank()
	r.line("## Output Requirements")
	r.line(st.requirements)

	if len(r.truncations) > 0 {
		parts := make([]string, len(r.truncations))
		for i, t := range r.truncations {
			parts[i] = fmt.Sprintf("%s (%d -> %d)", t.Field, t.Original, t.Budget)
		}
		r.blank()
		r.line("[audit] truncated fields: " + strings.Join(parts, ", "))
	}

	system := c.System
	if system == "" {
		system = DefaultSystem
	}
	return Prompt{
		Stage:       req.Stage,
		System:      system,
		Text:        strings.TrimRight(r.sb.String(), "\n"),
		Truncations: r.truncations,
	}, nil
}

type renderer struct {
	sb          strings.Builder
	stage       model.Stage
	budget      int
	truncations []Truncation
}

func (r *renderer) line(s string) {
	r.sb.WriteString(s)
	r.sb.WriteByte('\n')
}

func (r *renderer) blank() { r.sb.WriteByte('\n') }

func (r *renderer) clip(value, field string) string {
	out, cut := Truncate(value, r.budget)
	if cut {
		r.truncations = append(r.truncations, Truncation{
			Stage:    r.stage,
			Field:    field,
			Original: len([]rune(value)),
			Budget:   r.budget,
		})
	}
	return out
}

func (r *renderer) field(labelText, value, qualified string) {
	value = r.clip(value, qualified)
	if strings.Contains(value, "\n") {
		r.line("- " + labelText + ":")
		for _, l := range strings.Split(value, "\n") {
			r.line("  " + l)
		}
		return
	}
	r.line("- " + labelText + ": " + value)
}

// list renders a value of one item per line. Each item is clipped on its
// own, so a long forecast keeps every day.
func (r *renderer) list(labelText, value, qualified string) {
	items := strings.Split(value, "\n")
	if len(items) == 1 {
		r.field(labelText, value, qualified)
		return
	}
	r.line("- " + labelText + ":")
	for i, it := range items {
		r.line("  " + r.clip(it, fmt.Sprintf("%s[%d]", qualified, i)))
	}
}

func (r *renderer) memory(entries []model.MemoryEntry) {
	if len(entries) == 0 {
		return
	}
	sorted := make([]model.MemoryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Stage < sorted[j].Stage })

	r.blank()
	r.line("## Prior Stage Results")
	for _, e := range sorted {
		r.line(fmt.Sprintf("### %s (%s, v%d)", e.Stage.Title(), e.Stage, e.Version))
		r.line(r.clip(strings.TrimSpace(e.Summary), "memory."+e.Stage.String()))
	}
}

func (r *renderer) variant(s model.Slot) {
	sec := sections[s.Variant]
	r.blank()
	r.line("## " + sec.header)

	if s.Record == nil {
		if s.Absence != nil && s.Absence.Reason == model.Unavailable {
			cause := s.Absence.Cause
			if cause == "" {
				cause = "source unavailable"
			}
			r.line("(unknown: " + cause + ")")
			return
		}
		r.line("(not provided)")
		return
	}

	rec := *s.Record
	known := map[string]bool{}
	for _, l := range sec.fields {
		known[l.field] = true
		v, ok := rec.Field(l.field)
		if !ok {
			continue
		}
		q := s.Variant.String() + "." + l.field
		if listFields[q] {
			r.list(l.text, v.Text(), q)
		} else {
			r.field(l.text, v.Text(), q)
		}
	}
	for _, name := range rec.FieldNames() {
		if known[name] {
			continue
		}
		v, _ := rec.Field(name)
		r.field(name, v.Text(), s.Variant.String()+"."+name)
	}
}
