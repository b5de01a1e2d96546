// Package orchestrator drives one session through the three prompt stages:
// strategic planning, execution scheduling and daily Q&A.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcliao/agriplan/internal/chain"
	"github.com/rcliao/agriplan/internal/collector"
	"github.com/rcliao/agriplan/internal/condense"
	"github.com/rcliao/agriplan/internal/fuser"
	"github.com/rcliao/agriplan/internal/llm"
	"github.com/rcliao/agriplan/internal/logger"
	"github.com/rcliao/agriplan/internal/metrics"
	"github.com/rcliao/agriplan/internal/model"
	"github.com/rcliao/agriplan/internal/prompt"
)

// Invoker performs a model call with retries. It never returns an error;
// failures are reported in the response.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) model.ModelResponse
}

// Gatherer collects context records for a stage.
type Gatherer interface {
	Gather(ctx context.Context, in collector.Input) (fuser.Input, error)
}

// Enricher adds derived fields to gathered records, e.g. vision
// pre-analysis of the crop photo.
type Enricher interface {
	Enrich(ctx context.Context, in fuser.Input, crop string) fuser.Input
}

// Deps are the collaborators of an Orchestrator. Chain, Gatherer and
// Invoker are required.
type Deps struct {
	Chain    *chain.Chain
	Gatherer Gatherer
	Composer *prompt.Composer
	Invoker  Invoker
	Vision   Enricher
	Policy   Policy
	Log      *logger.Logger
	Metrics  *metrics.Metrics
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Session     string       `json:"session"`
	State       State        `json:"state"`
	FailedStage *model.Stage `json:"failed_stage,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Orchestrator owns the state machine of one session. Part1 and Part2
// runs are exclusive; Part3 runs may overlap each other but never a
// Part1/Part2 re-run.
type Orchestrator struct {
	deps   Deps
	log    *logger.Logger
	tracer trace.Tracer

	runMu sync.RWMutex

	mu          sync.Mutex
	state       State
	failedStage *model.Stage
	lastErr     error
	updatedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func New(d Deps) *Orchestrator {
	if d.Composer == nil {
		d.Composer = prompt.NewComposer(prompt.DefaultFieldBudget)
	}
	if d.Policy.Stages == nil {
		d.Policy = DefaultPolicy()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:      d,
		log:       logger.Or(d.Log).With("session", d.Chain.Session()),
		tracer:    otel.Tracer("agriplan/orchestrator"),
		state:     Idle,
		updatedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (o *Orchestrator) Session() string { return o.deps.Chain.Session() }

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{Session: o.Session(), State: o.state, FailedStage: o.failedStage, UpdatedAt: o.updatedAt}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	return st
}

// Memory returns the session's current entries in stage order.
func (o *Orchestrator) Memory(ctx context.Context) ([]model.MemoryEntry, error) {
	return o.deps.Chain.All(ctx)
}

// Restore derives the state from the stored entries of the session. It is
// used when a session is reopened from a persistent store.
func (o *Orchestrator) Restore(ctx context.Context) error {
	entries, err := o.deps.Chain.All(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	next := Idle
	for _, e := range entries {
		if s := doneState(e.Stage); s > next {
			next = s
		}
	}
	o.mu.Lock()
	o.state = next
	o.failedStage = nil
	o.lastErr = nil
	o.updatedAt = time.Now().UTC()
	o.mu.Unlock()
	return nil
}

// RunPlan executes Part1, the strategic plan. Once a schedule has been
// built on the plan, the plan is locked and RunPlan returns ErrStageLocked.
func (o *Orchestrator) RunPlan(ctx context.Context, in collector.Input) (model.ModelResponse, error) {
	return o.run(ctx, model.Part1, in, nil, nil)
}

// RunSchedule executes Part2. It requires a Part1 entry.
func (o *Orchestrator) RunSchedule(ctx context.Context, in collector.Input) (model.ModelResponse, error) {
	return o.run(ctx, model.Part2, in, nil, nil)
}

// Ask executes one Part3 question. It requires Part1 and Part2 entries.
func (o *Orchestrator) Ask(ctx context.Context, in collector.Input, q model.Query) (model.ModelResponse, error) {
	return o.run(ctx, model.Part3, in, &q, nil)
}

// Run dispatches to the stage's operation.
func (o *Orchestrator) Run(ctx context.Context, stage model.Stage, in collector.Input, q *model.Query) (model.ModelResponse, error) {
	return o.run(ctx, stage, in, q, nil)
}

// Stream is Run with the answer streamed: onDelta receives each text
// fragment as the model produces it. The returned response carries the
// full text as with Run.
func (o *Orchestrator) Stream(ctx context.Context, stage model.Stage, in collector.Input, q *model.Query, onDelta func(string)) (model.ModelResponse, error) {
	return o.run(ctx, stage, in, q, onDelta)
}

// Preview gathers, fuses and composes a stage's prompt without calling
// the model or changing state. Memory entries that exist are included.
// Vision pre-analysis is skipped since it calls the model.
func (o *Orchestrator) Preview(ctx context.Context, stage model.Stage, in collector.Input, q *model.Query) (prompt.Prompt, error) {
	mem, err := o.deps.Chain.Read(ctx, upstream(stage)...)
	if err != nil {
		return prompt.Prompt{}, err
	}
	bundle, err := o.bundle(ctx, stage, in, false)
	if err != nil {
		return prompt.Prompt{}, err
	}
	return o.deps.Composer.Compose(model.PromptRequest{Stage: stage, Bundle: bundle, Memory: mem, Query: q})
}

// End aborts in-flight calls, clears the session's memory and moves to
// Complete. Every later run fails with ErrSessionComplete.
func (o *Orchestrator) End(ctx context.Context) error {
	o.cancel()
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.transition(Complete)
	if err := o.deps.Chain.Clear(ctx); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	o.log.Info("session ended")
	return nil
}

// Close aborts in-flight calls and waits for them to settle. Unlike End it
// leaves the session's memory in place, so another orchestrator can
// restore the session from the same store. No further runs are accepted.
func (o *Orchestrator) Close() {
	o.cancel()
	o.runMu.Lock()
	defer o.runMu.Unlock()
	o.log.Debug("session closed")
}

// run returns an error only when the stage cannot start. Failures after
// the start are reported in the response and move the state to Failed.
func (o *Orchestrator) run(ctx context.Context, stage model.Stage, in collector.Input, q *model.Query, onDelta func(string)) (model.ModelResponse, error) {
	if stage == model.Part3 {
		o.runMu.RLock()
		defer o.runMu.RUnlock()
	} else {
		o.runMu.Lock()
		defer o.runMu.Unlock()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.ctx, cancel)
	defer stop()

	ctx, span := o.tracer.Start(ctx, "stage."+stage.String(), trace.WithAttributes(
		attribute.String("session", o.Session()),
		attribute.String("stage", stage.String()),
	))
	defer span.End()

	mem, err := o.ready(ctx, stage, q)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.ModelResponse{}, err
	}

	o.transition(runningState(stage))
	log := o.log.With("stage", stage.String())
	sp := o.deps.Policy.stage(stage)

	bundle, err := o.bundle(ctx, stage, in, true)
	if err != nil {
		return o.fail(span, stage, model.ModelResponse{}, err), nil
	}

	p, err := o.deps.Composer.Compose(model.PromptRequest{Stage: stage, Bundle: bundle, Memory: mem, Query: q})
	if err != nil {
		return o.fail(span, stage, model.ModelResponse{}, err), nil
	}
	if n := len(p.Truncations); n > 0 {
		o.deps.Metrics.AddTruncations(stage.String(), n)
		for _, t := range p.Truncations {
			log.Info("prompt field truncated", "field", t.Field, "original", t.Original, "budget", t.Budget)
		}
	}

	req := llm.Request{
		Stage:       stage,
		Modality:    model.ModalityText,
		System:      p.System,
		Prompt:      p.Text,
		Temperature: llm.Temperature(sp.Temperature),
		MaxTokens:   sp.MaxTokens,
		OnDelta:     onDelta,
	}
	if stage == model.Part3 && o.deps.Policy.SendImage {
		if img := photo(bundle); img != nil {
			req.Modality = model.ModalityImage
			req.Image = img
		}
	}
	if sp.Reason && req.Modality == model.ModalityText {
		req.Model = o.deps.Policy.ReasonModel
	}

	resp := o.deps.Invoker.Invoke(ctx, req)
	span.SetAttributes(
		attribute.String("request_id", resp.RequestID),
		attribute.Int("attempts", resp.Attempts),
	)
	if !resp.OK() {
		return o.fail(span, stage, resp, resp.Err), nil
	}
	if err := ctx.Err(); err != nil {
		return o.fail(span, stage, resp, err), nil
	}

	summary := condense.Summarize(resp.Text, o.deps.Policy.Summary)
	entry, err := o.deps.Chain.Write(ctx, stage, summary, resp.Text, chain.Grounding(mem))
	if err != nil {
		return o.fail(span, stage, resp, fmt.Errorf("write memory: %w", err)), nil
	}
	o.transition(doneState(stage))
	log.Info("stage complete",
		"request_id", resp.RequestID,
		"entry", entry.ID,
		"version", entry.Version,
		"attempts", resp.Attempts,
	)
	return resp, nil
}

// ready checks the start preconditions and returns the upstream entries:
// the session is open, upstream entries exist, Part3 carries a question
// and Part1 has not yet grounded a schedule.
func (o *Orchestrator) ready(ctx context.Context, stage model.Stage, q *model.Query) ([]model.MemoryEntry, error) {
	if o.State() == Complete || o.ctx.Err() != nil {
		return nil, model.ErrSessionComplete
	}
	if stage == model.Part3 && (q == nil || strings.TrimSpace(q.Question) == "") {
		return nil, prompt.ErrNoQuestion
	}
	mem, err := o.deps.Chain.Read(ctx, upstream(stage)...)
	if err != nil {
		return nil, err
	}
	have := chain.Grounding(mem)
	var missing []string
	for _, up := range upstream(stage) {
		if _, ok := have[up]; !ok {
			missing = append(missing, up.String())
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s requires %s", model.ErrStageNotReady, stage, strings.Join(missing, ", "))
	}
	if stage == model.Part1 {
		sched, err := o.deps.Chain.Latest(ctx, model.Part2)
		if err != nil {
			return nil, err
		}
		if sched != nil {
			return nil, fmt.Errorf("%w: part2 v%d was built on the current plan; end the session to re-plan",
				model.ErrStageLocked, sched.Version)
		}
	}
	return mem, nil
}

func (o *Orchestrator) bundle(ctx context.Context, stage model.Stage, in collector.Input, enrich bool) (model.ContextBundle, error) {
	if in.HorizonDays == 0 {
		in.HorizonDays = o.deps.Policy.stage(stage).HorizonDays
	}
	gathered, err := o.deps.Gatherer.Gather(ctx, in)
	if err != nil {
		return model.ContextBundle{}, err
	}
	if enrich && stage == model.Part3 && o.deps.Vision != nil && in.Image != nil {
		gathered = o.deps.Vision.Enrich(ctx, gathered, in.CropType)
	}
	return fuser.Fuse(stage, gathered, o.deps.Policy.stage(stage).Required)
}

func (o *Orchestrator) fail(span trace.Span, stage model.Stage, resp model.ModelResponse, cause error) model.ModelResponse {
	if resp.RequestID == "" {
		resp.RequestID = uuid.NewString()
	}
	resp.Stage = stage
	resp.Status = model.Failed
	resp.Text = ""
	resp.Err = cause

	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	o.mu.Lock()
	from := o.state
	if from != Complete {
		o.state = Failed
		s := stage
		o.failedStage = &s
		o.lastErr = cause
		o.updatedAt = time.Now().UTC()
	}
	o.mu.Unlock()
	if from != Complete {
		o.deps.Metrics.IncTransition(from.String(), Failed.String())
	}

	lvl := o.log.Warn
	if errors.Is(cause, context.Canceled) {
		lvl = o.log.Info
	}
	lvl("stage failed", "stage", stage.String(), "request_id", resp.RequestID, "error", cause)
	return resp
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	if from == Complete {
		o.mu.Unlock()
		return
	}
	o.state = to
	if to != Failed {
		o.failedStage = nil
		o.lastErr = nil
	}
	o.updatedAt = time.Now().UTC()
	o.mu.Unlock()

	if from != to {
		o.deps.Metrics.IncTransition(from.String(), to.String())
		o.log.Debug("state transition", "from", from.String(), "to", to.String())
	}
}

func photo(b model.ContextBundle) *model.ImageRef {
	rec, ok := b.Record(model.Visual)
	if !ok {
		return nil
	}
	v, ok := rec.Field("image")
	if !ok || v.Kind != model.KindImage || v.Image == nil || len(v.Image.Bytes) == 0 {
		return nil
	}
	return v.Image
}
