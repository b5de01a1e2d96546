package prompt

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agriplan/internal/fuser"
	"github.com/rcliao/agriplan/internal/model"
)

func bundle(t *testing.T, recs ...model.ContextRecord) model.ContextBundle {
	t.Helper()
	b, err := fuser.Fuse(model.Part1, fuser.Input{Records: recs}, nil)
	require.NoError(t, err)
	return b
}

func fullRecords() []model.ContextRecord {
	at := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	return []model.ContextRecord{
		model.NewRecord(model.Geographic, "input", at, map[string]model.Value{
			"name": model.String("field A"), "lat": model.Number(30.1), "lon": model.Number(102.3), "area_mu": model.Number(12.5),
		}),
		model.NewRecord(model.Environmental, "qweather", at, map[string]model.Value{
			"horizon_days": model.Number(7),
			"forecast":     model.String("2025-07-01: Sunny 21-30C\n2025-07-02: Rain 19-25C"),
			"alerts":       model.String("none"),
		}),
		model.NewRecord(model.Crop, "input", at, map[string]model.Value{"crop_type": model.String("tobacco")}),
		model.NewRecord(model.Goal, "input", at, map[string]model.Value{"target_yield": model.String("max yield"), "zz_extra": model.String("x")}),
	}
}

func TestComposeDeterministic(t *testing.T) {
	c := NewComposer(1200)
	req := model.PromptRequest{Stage: model.Part1, Bundle: bundle(t, fullRecords()...)}

	p1, err := c.Compose(req)
	require.NoError(t, err)
	p2, err := c.Compose(req)
	require.NoError(t, err)
	assert.Equal(t, p1.Text, p2.Text)

	// Same records in another order fuse to the same bundle and prompt.
	recs := fullRecords()
	reversed := []model.ContextRecord{recs[3], recs[2], recs[1], recs[0]}
	p3, err := c.Compose(model.PromptRequest{Stage: model.Part1, Bundle: bundle(t, reversed...)})
	require.NoError(t, err)
	assert.Equal(t, p1.Text, p3.Text)
}

func TestComposeSectionsAndPlaceholders(t *testing.T) {
	c := NewComposer(1200)
	p, err := c.Compose(model.PromptRequest{Stage: model.Part1, Bundle: bundle(t, fullRecords()...)})
	require.NoError(t, err)

	order := []string{"## Plot & Soil", "## Weather", "## Crop", "## Crop Image", "## Planting Goal", "## Output Requirements"}
	last := -1
	for _, h := range order {
		idx := strings.Index(p.Text, h+"\n")
		require.GreaterOrEqual(t, idx, 0, "missing %s", h)
		assert.Greater(t, idx, last, "%s out of order", h)
		last = idx
	}

	assert.Contains(t, p.Text, "## Crop Image\n(not provided)")
	assert.Contains(t, p.Text, "- Latitude: 30.1")
	assert.Contains(t, p.Text, "- Planted area (mu): 12.5")
	assert.Contains(t, p.Text, "- Forecast:\n  2025-07-01: Sunny 21-30C\n  2025-07-02: Rain 19-25C")
	// Unknown fields follow the known ones.
	assert.Less(t, strings.Index(p.Text, "Target yield"), strings.Index(p.Text, "zz_extra"))
	assert.Equal(t, DefaultSystem, p.System)
	assert.Empty(t, p.Truncations)
}

func TestComposeUnavailablePlaceholder(t *testing.T) {
	b, err := fuser.Fuse(model.Part3, fuser.Input{
		Unavailable: map[model.Variant]string{model.Environmental: "weather api returned 502"},
	}, nil)
	require.NoError(t, err)

	p, err := NewComposer(1200).Compose(model.PromptRequest{
		Stage: model.Part3, Bundle: b, Query: &model.Query{Question: "Should I irrigate?"},
	})
	require.NoError(t, err)
	assert.Contains(t, p.Text, "## Weather\n(unknown: weather api returned 502)")
}

func TestComposeMemoryBeforeContext(t *testing.T) {
	mem := []model.MemoryEntry{
		{Stage: model.Part2, Summary: "daily plan summary", Version: 1},
		{Stage: model.Part1, Summary: "strategic summary", Version: 3},
	}
	p, err := NewComposer(1200).Compose(model.PromptRequest{
		Stage:  model.Part3,
		Bundle: bundle(t, fullRecords()...),
		Memory: mem,
		Query:  &model.Query{Date: "2025-07-03", Question: "Leaves are yellowing, why?"},
	})
	require.NoError(t, err)

	i1 := strings.Index(p.Text, "strategic summary")
	i2 := strings.Index(p.Text, "daily plan summary")
	ic := strings.Index(p.Text, "## Plot & Soil")
	iq := strings.Index(p.Text, "## Farmer Question")
	assert.True(t, i1 >= 0 && i1 < i2 && i2 < ic && ic < iq)
	assert.Contains(t, p.Text, "### Strategic Plan (part1, v3)")
	assert.Contains(t, p.Text, "- Current date: 2025-07-03")
}

func TestComposePart3RequiresQuestion(t *testing.T) {
	_, err := NewComposer(1200).Compose(model.PromptRequest{Stage: model.Part3, Bundle: bundle(t)})
	assert.ErrorIs(t, err, ErrNoQuestion)
}

func TestComposeTruncatesOversizedField(t *testing.T) {
	at := time.Now()
	long := strings.Repeat("a", 100) + strings.Repeat("b", 100)
	b := bundle(t, model.NewRecord(model.Goal, "input", at, map[string]model.Value{"notes": model.String(long)}))

	p, err := NewComposer(MinBudget).Compose(model.PromptRequest{Stage: model.Part1, Bundle: b})
	require.NoError(t, err)
	require.Len(t, p.Truncations, 1)
	assert.Equal(t, Truncation{Stage: model.Part1, Field: "goal.notes", Original: 200, Budget: MinBudget}, p.Truncations[0])
	assert.Contains(t, p.Text, Marker)
	assert.Contains(t, p.Text, "[audit] truncated fields: goal.notes (200 -> 64)")
}

func TestComposeKeepsEveryForecastDay(t *testing.T) {
	at := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	days := make([]string, 30)
	for i := range days {
		d := at.AddDate(0, 0, i).Format("2006-01-02")
		days[i] = d + ": Moderate rain, 19-27°C, precip 12.4mm, humidity 86%, wind Southeast"
	}
	forecast := strings.Join(days, "\n")
	require.Greater(t, utf8.RuneCountInString(forecast), DefaultFieldBudget)

	b, err := fuser.Fuse(model.Part2, fuser.Input{Records: []model.ContextRecord{
		model.NewRecord(model.Environmental, "qweather", at, map[string]model.Value{
			"horizon_days": model.Number(30),
			"forecast":     model.String(forecast),
		}),
	}}, nil)
	require.NoError(t, err)

	p, err := NewComposer(DefaultFieldBudget).Compose(model.PromptRequest{Stage: model.Part2, Bundle: b})
	require.NoError(t, err)
	assert.Empty(t, p.Truncations)
	for _, d := range days {
		assert.Contains(t, p.Text, "  "+d+"\n")
	}
}

func TestComposeClipsLongForecastLine(t *testing.T) {
	at := time.Now()
	long := "2025-07-02: " + strings.Repeat("storm ", 30)
	b := bundle(t, model.NewRecord(model.Environmental, "qweather", at, map[string]model.Value{
		"forecast": model.String("2025-07-01: Sunny\n" + long),
	}))

	p, err := NewComposer(MinBudget).Compose(model.PromptRequest{Stage: model.Part1, Bundle: b})
	require.NoError(t, err)
	require.Len(t, p.Truncations, 1)
	assert.Equal(t, "environmental.forecast[1]", p.Truncations[0].Field)
	assert.Contains(t, p.Text, "  2025-07-01: Sunny\n")
}

func TestTruncateBoundaries(t *testing.T) {
	const budget = 100
	markerLen := utf8.RuneCountInString(Marker)

	under := strings.Repeat("x", budget-1)
	out, cut := Truncate(under, budget)
	assert.False(t, cut)
	assert.Equal(t, under, out)

	exact := strings.Repeat("x", budget)
	out, cut = Truncate(exact, budget)
	assert.False(t, cut)
	assert.Equal(t, exact, out)

	over := strings.Repeat("h", 50) + strings.Repeat("t", 51)
	out, cut = Truncate(over, budget)
	assert.True(t, cut)
	assert.Equal(t, budget, utf8.RuneCountInString(out))
	keep := budget - markerLen
	assert.Equal(t, strings.Repeat("h", (keep+1)/2)+Marker+strings.Repeat("t", keep/2), out)
}

func TestTruncateMultibyte(t *testing.T) {
	s := strings.Repeat("水稻", 60)
	out, cut := Truncate(s, 80)
	assert.True(t, cut)
	assert.Equal(t, 80, utf8.RuneCountInString(out))
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, "水稻"))
}

func TestTruncateTinyBudget(t *testing.T) {
	out, cut := Truncate(strings.Repeat("z", 40), 10)
	assert.True(t, cut)
	assert.Equal(t, strings.Repeat("z", 10), out)
}
