package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agriplan/internal/fuser"
	"github.com/rcliao/agriplan/internal/llm"
	"github.com/rcliao/agriplan/internal/model"
)

type fakeInvoker struct {
	mu      sync.Mutex
	prompts []string
	fail    bool
}

func (f *fakeInvoker) Invoke(ctx context.Context, req llm.Request) model.ModelResponse {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	if f.fail || req.Modality != model.ModalityImage || req.Image == nil {
		return model.ModelResponse{Status: model.Failed, Err: fmt.Errorf("%w: boom", model.ErrModelInvocationFailed)}
	}
	switch {
	case strings.Contains(req.Prompt, "growth status"):
		return model.ModelResponse{Status: model.Succeeded, Text: " vigorous "}
	case strings.Contains(req.Prompt, "disease"):
		return model.ModelResponse{Status: model.Succeeded, Text: "no visible disease"}
	default:
		return model.ModelResponse{Status: model.Succeeded, Text: "healthy tobacco"}
	}
}

var img = &model.ImageRef{MIME: "image/jpeg", Width: 10, Height: 10, Bytes: []byte{0xff, 0xd8}}

func TestAnalyze(t *testing.T) {
	inv := &fakeInvoker{}
	an, err := NewAnalyzer(inv, "", nil).Analyze(context.Background(), "tobacco", img)
	require.NoError(t, err)
	assert.Equal(t, Analysis{Growth: "vigorous", Disease: "no visible disease", Summary: "healthy tobacco"}, an)
	require.Len(t, inv.prompts, 3)
	for _, p := range inv.prompts {
		assert.Contains(t, p, "tobacco")
	}
}

func TestAnalyzeFailure(t *testing.T) {
	_, err := NewAnalyzer(&fakeInvoker{fail: true}, "", nil).Analyze(context.Background(), "rice", img)
	assert.True(t, errors.Is(err, model.ErrModelInvocationFailed))
}

func TestEnrich(t *testing.T) {
	at := time.Now()
	in := fuser.Input{Records: []model.ContextRecord{
		model.NewRecord(model.Crop, "input", at, map[string]model.Value{"crop_type": model.String("tobacco")}),
		model.NewRecord(model.Visual, "input", at, map[string]model.Value{"image": model.Image(img)}),
	}}
	original := in.Records[1]

	out := NewAnalyzer(&fakeInvoker{}, "", nil).Enrich(context.Background(), in, "tobacco")
	v := out.Records[1]
	s, ok := v.Field("image_summary")
	require.True(t, ok)
	assert.Equal(t, "healthy tobacco", s.Text())
	_, ok = v.Field("growth_analysis")
	assert.True(t, ok)

	// The source record is immutable.
	_, ok = original.Field("image_summary")
	assert.False(t, ok)
	_, ok = in.Records[1].Field("image_summary")
	assert.False(t, ok)
}

func TestEnrichFailureKeepsRecord(t *testing.T) {
	rec := model.NewRecord(model.Visual, "input", time.Now(), map[string]model.Value{"image": model.Image(img)})
	in := fuser.Input{Records: []model.ContextRecord{rec}}
	out := NewAnalyzer(&fakeInvoker{fail: true}, "", nil).Enrich(context.Background(), in, "rice")
	assert.Equal(t, 1, out.Records[0].Len())
}
