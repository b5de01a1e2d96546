package fuser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agriplan/internal/model"
)

var at = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

func rec(v model.Variant, fields map[string]model.Value) model.ContextRecord {
	return model.NewRecord(v, "test/"+v.String(), at, fields)
}

func TestFuseOrdersByVariant(t *testing.T) {
	in := Input{Records: []model.ContextRecord{
		rec(model.Goal, map[string]model.Value{"target_yield": model.String("max yield")}),
		rec(model.Geographic, map[string]model.Value{"name": model.String("field A")}),
		rec(model.Crop, map[string]model.Value{"crop_type": model.String("tobacco")}),
	}}

	b, err := Fuse(model.Part3, in, nil)
	require.NoError(t, err)

	for i, v := range model.Variants() {
		assert.Equal(t, v, b.Slots[i].Variant)
	}
	assert.True(t, b.Slot(model.Geographic).Present())
	assert.True(t, b.Slot(model.Crop).Present())
	assert.True(t, b.Slot(model.Goal).Present())

	env := b.Slot(model.Environmental)
	require.NotNil(t, env.Absence)
	assert.Equal(t, model.NotProvided, env.Absence.Reason)
	require.NotNil(t, b.Slot(model.Visual).Absence)
}

func TestFuseIndependentOfInputOrder(t *testing.T) {
	a := rec(model.Geographic, map[string]model.Value{"name": model.String("field A")})
	c := rec(model.Crop, map[string]model.Value{"crop_type": model.String("rice")})

	b1, err := Fuse(model.Part3, Input{Records: []model.ContextRecord{a, c}}, nil)
	require.NoError(t, err)
	b2, err := Fuse(model.Part3, Input{Records: []model.ContextRecord{c, a}}, nil)
	require.NoError(t, err)

	assert.Equal(t, b1.Provenance, b2.Provenance)
	for _, v := range model.Variants() {
		assert.Equal(t, b1.Slot(v).Present(), b2.Slot(v).Present())
	}
}

func TestFuseMissingEnvironmentalForPart1(t *testing.T) {
	in := Input{Records: []model.ContextRecord{
		rec(model.Geographic, map[string]model.Value{
			"name": model.String("field A"),
			"lat":  model.Number(30.1),
			"lon":  model.Number(102.3),
		}),
		rec(model.Crop, map[string]model.Value{"crop_type": model.String("tobacco")}),
		rec(model.Goal, map[string]model.Value{"target_yield": model.String("max yield")}),
	}}

	_, err := Fuse(model.Part1, in, []model.Variant{model.Environmental, model.Crop, model.Goal})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrMissingRequiredContext))
	assert.False(t, errors.Is(err, model.ErrContextUnavailable))

	var mce *MissingContextError
	require.True(t, errors.As(err, &mce))
	assert.Equal(t, []model.Variant{model.Environmental}, mce.Variants)
	require.Len(t, mce.Remediation(), 1)
	assert.Contains(t, mce.Remediation()[0], "coordinates")
}

func TestFuseUnavailableVariant(t *testing.T) {
	in := Input{
		Records:     []model.ContextRecord{rec(model.Crop, map[string]model.Value{"crop_type": model.String("rice")})},
		Unavailable: map[model.Variant]string{model.Environmental: "weather api returned 503"},
	}

	b, err := Fuse(model.Part3, in, nil)
	require.NoError(t, err)
	env := b.Slot(model.Environmental)
	require.NotNil(t, env.Absence)
	assert.Equal(t, model.Unavailable, env.Absence.Reason)
	assert.Equal(t, "weather api returned 503", env.Absence.Cause)

	_, err = Fuse(model.Part2, in, []model.Variant{model.Environmental})
	assert.True(t, errors.Is(err, model.ErrMissingRequiredContext))
	assert.True(t, errors.Is(err, model.ErrContextUnavailable))
	assert.Contains(t, err.Error(), "503")
}

func TestFuseDuplicateVariant(t *testing.T) {
	in := Input{Records: []model.ContextRecord{
		rec(model.Crop, map[string]model.Value{"crop_type": model.String("rice")}),
		rec(model.Crop, map[string]model.Value{"crop_type": model.String("wheat")}),
	}}
	_, err := Fuse(model.Part1, in, nil)
	assert.ErrorIs(t, err, ErrDuplicateVariant)
}

func TestFuseRejectsKnowledge(t *testing.T) {
	in := Input{Records: []model.ContextRecord{rec(model.Knowledge, nil)}}
	_, err := Fuse(model.Part1, in, nil)
	assert.ErrorIs(t, err, ErrUnsupportedVariant)
}

func TestFuseProvenanceCollisions(t *testing.T) {
	in := Input{Records: []model.ContextRecord{
		rec(model.Environmental, map[string]model.Value{"notes": model.String("dry week")}),
		rec(model.Goal, map[string]model.Value{"notes": model.String("organic only"), "seed_type": model.String("K326")}),
	}}

	b, err := Fuse(model.Part3, in, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes"}, Collisions(b))

	var qualified []string
	for _, p := range b.Provenance {
		qualified = append(qualified, p.Qualified)
		if p.Field == "seed_type" {
			assert.False(t, p.Collision)
			assert.Equal(t, "test/goal", p.Source)
		}
	}
	assert.Equal(t, []string{"environmental.notes", "goal.notes", "goal.seed_type"}, qualified)
}
