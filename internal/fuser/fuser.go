// Package fuser merges collector output into an ordered ContextBundle.
package fuser

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/agriplan/internal/model"
)

var (
	ErrDuplicateVariant   = errors.New("duplicate context variant")
	ErrUnsupportedVariant = errors.New("unsupported context variant")
)

// MissingContextError lists the mandatory variants a stage could not get.
type MissingContextError struct {
	Stage    model.Stage
	Variants []model.Variant
	// Causes holds the collector failure for variants that were unavailable.
	Causes map[model.Variant]string
}

func (e *MissingContextError) Error() string {
	names := make([]string, len(e.Variants))
	for i, v := range e.Variants {
		names[i] = v.String()
		if c, ok := e.Causes[v]; ok {
			names[i] += " (" + c + ")"
		}
	}
	return fmt.Sprintf("%s: %s requires %s", model.ErrMissingRequiredContext, e.Stage, strings.Join(names, ", "))
}

// Is matches ErrMissingRequiredContext, and ErrContextUnavailable when any
// missing variant failed at its source.
func (e *MissingContextError) Is(target error) bool {
	switch target {
	case model.ErrMissingRequiredContext:
		return true
	case model.ErrContextUnavailable:
		return len(e.Causes) > 0
	}
	return false
}

// Remediation returns one instruction per missing variant.
func (e *MissingContextError) Remediation() []string {
	out := make([]string, 0, len(e.Variants))
	for _, v := range e.Variants {
		hint := remediation[v]
		if _, unavailable := e.Causes[v]; unavailable {
			hint += " (the source was unreachable; retry later or check the service configuration)"
		}
		out = append(out, hint)
	}
	return out
}

var remediation = map[model.Variant]string{
	model.Geographic:    "provide the plot location (name or latitude/longitude) and planted area",
	model.Environmental: "provide plot coordinates so the weather forecast can be fetched",
	model.Crop:          "provide the crop type",
	model.Visual:        "upload a crop photo (jpeg, png or gif)",
	model.Goal:          "provide the planting goal (dates, seed, fertilizer, irrigation or target yield)",
}

// Input is what the fuser consumes: collected records plus the variants
// whose collector failed.
type Input struct {
	Records     []model.ContextRecord
	Unavailable map[model.Variant]string
}

// Fuse orders records into a bundle and enforces the stage's mandatory variants.
func Fuse(stage model.Stage, in Input, required []model.Variant) (model.ContextBundle, error) {
	var b model.ContextBundle
	for _, v := range model.Variants() {
		b.Slots[v] = model.Slot{Variant: v}
	}

	for i := range in.Records {
		r := in.Records[i]
		v := r.Variant()
		if !v.Fusable() {
			return model.ContextBundle{}, fmt.Errorf("%w: %s", ErrUnsupportedVariant, v)
		}
		if b.Slots[v].Record != nil {
			return model.ContextBundle{}, fmt.Errorf("%w: %s", ErrDuplicateVariant, v)
		}
		b.Slots[v].Record = &r
	}

	for _, v := range model.Variants() {
		if b.Slots[v].Record != nil {
			continue
		}
		if cause, ok := in.Unavailable[v]; ok {
			b.Slots[v].Absence = &model.Absence{Reason: model.Unavailable, Cause: cause}
		} else {
			b.Slots[v].Absence = &model.Absence{Reason: model.NotProvided}
		}
	}

	b.Provenance = provenance(b)

	if missing := b.Missing(required); len(missing) > 0 {
		err := &MissingContextError{Stage: stage, Variants: missing}
		for _, v := range missing {
			if a := b.Slots[v].Absence; a != nil && a.Reason == model.Unavailable {
				if err.Causes == nil {
					err.Causes = map[model.Variant]string{}
				}
				err.Causes[v] = a.Cause
			}
		}
		return b, err
	}
	return b, nil
}

// provenance qualifies every field with its variant and flags names that
// more than one record supplies.
func provenance(b model.ContextBundle) []model.FieldOrigin {
	owners := map[string]int{}
	for _, s := range b.Slots {
		if s.Record == nil {
			continue
		}
		for _, f := range s.Record.FieldNames() {
			owners[f]++
		}
	}

	var out []model.FieldOrigin
	for _, s := range b.Slots {
		if s.Record == nil {
			continue
		}
		for _, f := range s.Record.FieldNames() {
			out = append(out, model.FieldOrigin{
				Qualified: s.Variant.String() + "." + f,
				Field:     f,
				Variant:   s.Variant,
				Source:    s.Record.Source(),
				Collision: owners[f] > 1,
			})
		}
	}
	return out
}

// Collisions returns the bare field names supplied by more than one record.
func Collisions(b model.ContextBundle) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range b.Provenance {
		if p.Collision && !seen[p.Field] {
			seen[p.Field] = true
			out = append(out, p.Field)
		}
	}
	sort.Strings(out)
	return out
}
