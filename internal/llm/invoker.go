package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/agriplan/internal/logger"
	"github.com/rcliao/agriplan/internal/metrics"
	"github.com/rcliao/agriplan/internal/model"
)

// Invoker runs requests against a Backend with retries.
type Invoker struct {
	backend Backend
	retry   RetryConfig
	sleep   SleepFunc
	log     *logger.Logger
	metrics *metrics.Metrics
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithRetryConfig sets the retry policy.
func WithRetryConfig(cfg RetryConfig) InvokerOption {
	return func(iv *Invoker) {
		iv.retry = cfg
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn SleepFunc) InvokerOption {
	return func(iv *Invoker) {
		iv.sleep = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) InvokerOption {
	return func(iv *Invoker) {
		iv.log = l
	}
}

// WithMetrics records invocations.
func WithMetrics(m *metrics.Metrics) InvokerOption {
	return func(iv *Invoker) {
		iv.metrics = m
	}
}

// NewInvoker creates an invoker for backend.
func NewInvoker(backend Backend, opts ...InvokerOption) *Invoker {
	iv := &Invoker{
		backend: backend,
		retry:   DefaultRetryConfig(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(iv)
	}
	if iv.retry.MaxAttempts < 1 {
		iv.retry.MaxAttempts = 1
	}
	iv.log = logger.Or(iv.log).With("component", "llm")
	return iv
}

// Invoke never returns an error: failures come back as a Failed response
// whose Err wraps model.ErrModelInvocationFailed and the last cause. A
// streamed request is retried only until its first delta is delivered.
func (iv *Invoker) Invoke(ctx context.Context, req Request) model.ModelResponse {
	if req.Modality == "" {
		req.Modality = model.ModalityText
	}
	start := time.Now()
	resp := model.ModelResponse{
		Stage:     req.Stage,
		RequestID: uuid.NewString(),
		Model:     req.Model,
		Modality:  req.Modality,
	}
	log := iv.log.With("stage", req.Stage.String(), "request_id", resp.RequestID, "modality", string(req.Modality))

	if req.Modality == model.ModalityImage && (req.Image == nil || len(req.Image.Bytes) == 0) {
		return iv.fail(resp, start, log, Permanent(errors.New("image modality without image data")))
	}

	var lastErr error
	for attempt := 1; attempt <= iv.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		resp.Attempts = attempt

		out, streamed, err := iv.attempt(ctx, req)
		if err == nil {
			resp.Status = model.Succeeded
			resp.Text = out.Text
			resp.Usage = out.Usage
			if out.Model != "" {
				resp.Model = out.Model
			}
			resp.Retries = attempt - 1
			iv.observe(resp, start)
			log.Info("model invocation succeeded", "attempts", attempt, "total_tokens", out.Usage.TotalTokens)
			return resp
		}

		lastErr = err
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		retry, ra := verdict(err)
		if streamed {
			// The caller already holds part of this answer.
			lastErr = Permanent(fmt.Errorf("stream interrupted: %w", err))
			break
		}
		if !retry || attempt == iv.retry.MaxAttempts {
			break
		}

		wait := iv.retry.Backoff(attempt)
		if ra > wait {
			wait = ra
			if iv.retry.MaxBackoff > 0 && wait > iv.retry.MaxBackoff {
				wait = iv.retry.MaxBackoff
			}
		}
		log.Debug("model request failed, retrying",
			"attempt", attempt,
			"max_attempts", iv.retry.MaxAttempts,
			"backoff", wait,
			"error", err)
		if err := iv.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	return iv.fail(resp, start, log, lastErr)
}

func (iv *Invoker) fail(resp model.ModelResponse, start time.Time, log *logger.Logger, cause error) model.ModelResponse {
	resp.Status = model.Failed
	if resp.Attempts > 0 {
		resp.Retries = resp.Attempts - 1
	}
	resp.Err = fmt.Errorf("%w: %w", model.ErrModelInvocationFailed, cause)
	iv.observe(resp, start)
	log.Warn("model invocation failed", "attempts", resp.Attempts, "error", cause)
	return resp
}

// attempt runs one backend call under the per-attempt timeout. A timeout
// while the caller is still waiting is retryable. streamed reports whether
// any delta reached the caller.
func (iv *Invoker) attempt(ctx context.Context, req Request) (out Completion, streamed bool, err error) {
	actx := ctx
	if iv.retry.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, iv.retry.AttemptTimeout)
		defer cancel()
	}
	if sink := req.OnDelta; sink != nil {
		req.OnDelta = func(d string) {
			streamed = true
			sink(d)
		}
	}
	out, err = iv.backend.Complete(actx, req)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = Retryable(fmt.Errorf("attempt timed out after %s: %w", iv.retry.AttemptTimeout, err))
	}
	return out, streamed, err
}

func (iv *Invoker) observe(resp model.ModelResponse, start time.Time) {
	iv.metrics.ObserveInvocation(resp.Stage.String(), string(resp.Modality), string(resp.Status), resp.Attempts, time.Since(start))
}
