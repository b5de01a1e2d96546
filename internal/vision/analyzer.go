// Package vision runs image pre-analysis prompts on an uploaded crop photo.
package vision

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agriplan/internal/fuser"
	"github.com/rcliao/agriplan/internal/llm"
	"github.com/rcliao/agriplan/internal/logger"
	"github.com/rcliao/agriplan/internal/model"
)

// Invoker is the model call used by the analyzer.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) model.ModelResponse
}

// Analysis holds the three pre-analysis answers.
type Analysis struct {
	Growth  string `json:"growth_analysis"`
	Disease string `json:"disease_detection"`
	Summary string `json:"image_summary"`
}

type Analyzer struct {
	invoker Invoker
	model   string
	log     *logger.Logger
}

// NewAnalyzer returns an analyzer. modelName may be empty to use the
// backend default.
func NewAnalyzer(inv Invoker, modelName string, log *logger.Logger) *Analyzer {
	return &Analyzer{invoker: inv, model: modelName, log: logger.Or(log).With("component", "vision")}
}

func prompts(crop string) (growth, disease, summary string) {
	growth = fmt.Sprintf("Please evaluate the current growth status of the %s shown in the image. "+
		"Assess based on leaf color, morphology, and overall vigor. "+
		"Use professional agronomic terminology and provide a concise, objective explanation. "+
		"Avoid assumptions not visible in the image.", crop)
	disease = fmt.Sprintf("Please determine whether there are any visible signs of disease, pest infestation, or nutrient deficiency "+
		"on the %s in the image. Explain your judgment based on observable symptoms only (e.g., spots, discoloration, deformation). "+
		"Do not provide treatments unless explicitly requested.", crop)
	summary = fmt.Sprintf("Please summarize the key observation from this %s image in 1-2 professional sentences, "+
		"focusing on growth condition and potential agricultural implications.", crop)
	return growth, disease, summary
}

// Analyze runs the growth, disease and summary prompts concurrently. Any
// failed prompt fails the analysis.
func (a *Analyzer) Analyze(ctx context.Context, crop string, img *model.ImageRef) (Analysis, error) {
	if strings.TrimSpace(crop) == "" {
		crop = "crop"
	}
	growth, disease, summary := prompts(crop)

	var out Analysis
	g, gctx := errgroup.WithContext(ctx)
	ask := func(prompt string, dst *string) func() error {
		return func() error {
			resp := a.invoker.Invoke(gctx, llm.Request{
				Stage:    model.Part3,
				Modality: model.ModalityImage,
				Prompt:   prompt,
				Image:    img,
				Model:    a.model,
			})
			if !resp.OK() {
				return resp.Err
			}
			*dst = strings.TrimSpace(resp.Text)
			return nil
		}
	}
	g.Go(ask(growth, &out.Growth))
	g.Go(ask(disease, &out.Disease))
	g.Go(ask(summary, &out.Summary))
	if err := g.Wait(); err != nil {
		return Analysis{}, fmt.Errorf("vision analysis: %w", err)
	}
	return out, nil
}

// Enrich adds the analysis fields to the Visual record of in. Failures are
// logged and the input is returned as-is.
func (a *Analyzer) Enrich(ctx context.Context, in fuser.Input, crop string) fuser.Input {
	for i, rec := range in.Records {
		if rec.Variant() != model.Visual {
			continue
		}
		v, ok := rec.Field("image")
		if !ok || v.Kind != model.KindImage {
			return in
		}
		an, err := a.Analyze(ctx, crop, v.Image)
		if err != nil {
			a.log.Warn("image pre-analysis failed", "error", err)
			return in
		}
		records := append([]model.ContextRecord(nil), in.Records...)
		records[i] = rec.
			With("growth_analysis", model.String(an.Growth)).
			With("disease_detection", model.String(an.Disease)).
			With("image_summary", model.String(an.Summary))
		in.Records = records
		return in
	}
	return in
}
