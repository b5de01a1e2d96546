// Package model defines the core planning data types.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Variant is a category of context injected into a prompt.
type Variant int

const (
	Geographic Variant = iota
	Environmental
	Crop
	Visual
	Goal
	// Knowledge is reserved for a retrieval collector and is not fused.
	Knowledge
)

// VariantCount is the number of fusable variants.
const VariantCount = 5

var variantNames = [...]string{"geographic", "environmental", "crop", "visual", "goal", "knowledge"}

// Variants returns the fusable variants in bundle order.
func Variants() []Variant {
	return []Variant{Geographic, Environmental, Crop, Visual, Goal}
}

func (v Variant) String() string {
	if v < 0 || int(v) >= len(variantNames) {
		return fmt.Sprintf("variant(%d)", int(v))
	}
	return variantNames[v]
}

// Fusable reports whether the variant has a slot in a ContextBundle.
func (v Variant) Fusable() bool {
	return v >= Geographic && v <= Goal
}

// ParseVariant maps a lower-case name to a Variant.
func ParseVariant(s string) (Variant, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range variantNames {
		if n == s {
			return Variant(i), nil
		}
	}
	return 0, fmt.Errorf("unknown variant %q", s)
}

func (v Variant) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Variant) UnmarshalText(b []byte) error {
	p, err := ParseVariant(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// ValueKind tags the payload held by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindImage
)

// ImageRef points at an encoded raster image.
type ImageRef struct {
	MIME   string `json:"mime"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  []byte `json:"-"`
}

// Value is a context field value: a string, a number or an image reference.
type Value struct {
	Kind  ValueKind
	Str   string
	Num   float64
	Image *ImageRef
}

func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Number(f float64) Value     { return Value{Kind: KindNumber, Num: f} }
func Image(ref *ImageRef) Value { return Value{Kind: KindImage, Image: ref} }

// Text renders the value for a prompt. Image bytes are never inlined.
func (v Value) Text() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindImage:
		if v.Image == nil {
			return "[image]"
		}
		return fmt.Sprintf("[image %s %dx%d, %d bytes]", v.Image.MIME, v.Image.Width, v.Image.Height, len(v.Image.Bytes))
	default:
		return v.Str
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindImage:
		return json.Marshal(map[string]any{"image": v.Image})
	default:
		return json.Marshal(v.Str)
	}
}

// ContextRecord is one collector's normalized output. It is immutable:
// accessors return copies and With returns a new record.
type ContextRecord struct {
	variant     Variant
	fields      map[string]Value
	source      string
	collectedAt time.Time
}

// NewRecord builds a record, copying fields.
func NewRecord(variant Variant, source string, at time.Time, fields map[string]Value) ContextRecord {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return ContextRecord{variant: variant, fields: cp, source: source, collectedAt: at}
}

func (r ContextRecord) Variant() Variant       { return r.variant }
func (r ContextRecord) Source() string         { return r.source }
func (r ContextRecord) CollectedAt() time.Time { return r.collectedAt }
func (r ContextRecord) Len() int               { return len(r.fields) }

// Field returns a single field value.
func (r ContextRecord) Field(name string) (Value, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// FieldNames returns field names in sorted order.
func (r ContextRecord) FieldNames() []string {
	names := make([]string, 0, len(r.fields))
	for k := range r.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Fields returns a copy of the field map.
func (r ContextRecord) Fields() map[string]Value {
	cp := make(map[string]Value, len(r.fields))
	for k, v := range r.fields {
		cp[k] = v
	}
	return cp
}

// With returns a copy of the record with one field set.
func (r ContextRecord) With(name string, v Value) ContextRecord {
	fields := r.Fields()
	fields[name] = v
	return ContextRecord{variant: r.variant, fields: fields, source: r.source, collectedAt: r.collectedAt}
}

// AbsenceReason explains why a bundle slot holds no record.
type AbsenceReason int

const (
	NotProvided AbsenceReason = iota
	Unavailable
)

func (a AbsenceReason) String() string {
	if a == Unavailable {
		return "unavailable"
	}
	return "not_provided"
}

// Absence is the explicit marker for a missing variant.
type Absence struct {
	Reason AbsenceReason `json:"reason"`
	Cause  string        `json:"cause,omitempty"`
}

// Slot is one position of a ContextBundle. Exactly one of Record or Absence is set.
type Slot struct {
	Variant Variant
	Record  *ContextRecord
	Absence *Absence
}

// Present reports whether the slot holds a record.
func (s Slot) Present() bool { return s.Record != nil }

// FieldOrigin annotates which collector supplied a field.
type FieldOrigin struct {
	Qualified string  `json:"qualified"`
	Field     string  `json:"field"`
	Variant   Variant `json:"variant"`
	Source    string  `json:"source"`
	Collision bool    `json:"collision,omitempty"`
}

// ContextBundle holds one slot per fusable variant in fixed order.
type ContextBundle struct {
	Slots      [VariantCount]Slot
	Provenance []FieldOrigin
}

// Slot returns the slot for a fusable variant.
func (b ContextBundle) Slot(v Variant) Slot {
	if !v.Fusable() {
		return Slot{Variant: v, Absence: &Absence{Reason: NotProvided}}
	}
	return b.Slots[v]
}

// Record returns the record for a variant if present.
func (b ContextBundle) Record(v Variant) (ContextRecord, bool) {
	s := b.Slot(v)
	if s.Record == nil {
		return ContextRecord{}, false
	}
	return *s.Record, true
}

// Missing lists the required variants that are absent.
func (b ContextBundle) Missing(required []Variant) []Variant {
	var out []Variant
	for _, v := range required {
		if !b.Slot(v).Present() {
			out = append(out, v)
		}
	}
	return out
}
