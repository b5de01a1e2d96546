package model

import "errors"

var (
	// ErrMissingRequiredContext means a stage's mandatory variant is absent.
	ErrMissingRequiredContext = errors.New("missing required context")
	// ErrContextUnavailable means a collector's external source failed.
	ErrContextUnavailable = errors.New("context unavailable")
	// ErrModelInvocationFailed means the model call failed after retries.
	ErrModelInvocationFailed = errors.New("model invocation failed")
	// ErrStageNotReady means upstream memory entries are missing.
	ErrStageNotReady = errors.New("stage not ready")
	// ErrStageLocked means a stage's entry is already grounding a
	// downstream stage and may not be replaced.
	ErrStageLocked = errors.New("stage locked")
	// ErrSessionComplete means the session has ended.
	ErrSessionComplete = errors.New("session complete")
	// ErrSessionNotFound means no session has the requested id.
	ErrSessionNotFound = errors.New("session not found")
)

// Modality selects text-only or text+image model input.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// Status is the outcome of a model invocation.
type Status string

const (
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
)

// Usage is token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" yaml:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" yaml:"total_tokens"`
}

// ModelResponse is the result of one Invoke. Err is set only when Status is Failed.
type ModelResponse struct {
	Stage     Stage    `json:"stage" yaml:"stage"`
	RequestID string   `json:"request_id" yaml:"request_id"`
	Model     string   `json:"model,omitempty" yaml:"model,omitempty"`
	Modality  Modality `json:"modality" yaml:"modality"`
	Text      string   `json:"text,omitempty" yaml:"text,omitempty"`
	Usage     Usage    `json:"usage" yaml:"usage"`
	Status    Status   `json:"status" yaml:"status"`
	Attempts  int      `json:"attempts" yaml:"attempts"`
	Retries   int      `json:"retries" yaml:"retries"`
	Err       error    `json:"-" yaml:"-"`
}

// OK reports whether the invocation succeeded.
func (r ModelResponse) OK() bool { return r.Status == Succeeded }

// ErrText returns the failure cause as text, or "".
func (r ModelResponse) ErrText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
