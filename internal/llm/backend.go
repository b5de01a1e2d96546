// Package llm invokes chat models with explicit retry, timeout and failure
// classification.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/agriplan/internal/model"
)

// Request is one model call.
type Request struct {
	Stage       model.Stage
	Modality    model.Modality
	System      string
	Prompt      string
	Image       *model.ImageRef
	Model       string
	Temperature *float64
	MaxTokens   int

	// OnDelta, when set, asks for a streamed completion and receives each
	// text fragment as it arrives. The Completion still carries the full
	// text.
	OnDelta func(delta string)
}

// Completion is a backend's successful answer.
type Completion struct {
	ID    string
	Model string
	Text  string
	Usage model.Usage
}

// Backend performs a single model call. Errors should carry a verdict from
// Retryable or Permanent; errors without one are retried.
type Backend interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Temperature returns a pointer for Request.Temperature.
func Temperature(t float64) *float64 { return &t }

// Router dispatches by modality.
type Router struct {
	Text  Backend
	Image Backend
}

func (r Router) Complete(ctx context.Context, req Request) (Completion, error) {
	switch req.Modality {
	case model.ModalityImage:
		if r.Image == nil {
			return Completion{}, Permanent(errors.New("no vision backend configured"))
		}
		return r.Image.Complete(ctx, req)
	case model.ModalityText, "":
		if r.Text == nil {
			return Completion{}, Permanent(errors.New("no text backend configured"))
		}
		return r.Text.Complete(ctx, req)
	}
	return Completion{}, Permanent(fmt.Errorf("unknown modality %q", req.Modality))
}
