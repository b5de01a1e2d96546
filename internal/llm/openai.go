package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rcliao/agriplan/internal/model"
)

const maxResponseSize = 4 << 20

// OpenAIBackend speaks the OpenAI-compatible /chat/completions API
// (DeepSeek, SiliconFlow and similar).
type OpenAIBackend struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	client    *http.Client
}

// NewOpenAIBackend returns a backend for baseURL. model is used when a
// request does not name one.
func NewOpenAIBackend(baseURL, apiKey, model string) *OpenAIBackend {
	return &OpenAIBackend{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		client:  &http.Client{},
	}
}

// WithHTTPClient replaces the HTTP client.
func (b *OpenAIBackend) WithHTTPClient(c *http.Client) *OpenAIBackend {
	b.client = c
	return b
}

func (b *OpenAIBackend) url() string {
	base := strings.TrimSuffix(b.BaseURL, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage model.Usage `json:"usage"`
}

// chatChunk is one streamed event. Usage arrives on the last chunk when
// the server honours include_usage.
type chatChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *model.Usage `json:"usage"`
}

func (b *OpenAIBackend) buildBody(req Request) ([]byte, error) {
	m := req.Model
	if m == "" {
		m = b.Model
	}
	if m == "" {
		return nil, errors.New("no model configured")
	}

	var msgs []chatMessage
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	switch req.Modality {
	case model.ModalityImage:
		if req.Image == nil || len(req.Image.Bytes) == 0 {
			return nil, errors.New("image modality without image data")
		}
		mime := req.Image.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image.Bytes)
		msgs = append(msgs, chatMessage{Role: "user", Content: []contentPart{
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			{Type: "text", Text: req.Prompt},
		}})
	default:
		msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = b.MaxTokens
	}
	cr := chatRequest{
		Model:       m,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}
	if req.OnDelta != nil {
		cr.Stream = true
		cr.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return json.Marshal(cr)
}

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (Completion, error) {
	body, err := b.buildBody(req)
	if err != nil {
		return Completion{}, Permanent(fmt.Errorf("build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url(), bytes.NewReader(body))
	if err != nil {
		return Completion{}, Permanent(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.OnDelta != nil {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if b.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return Completion{}, Retryable(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
		return Completion{}, statusError(httpResp, respBody, time.Now())
	}
	if req.OnDelta != nil {
		return readStream(httpResp.Body, req.OnDelta)
	}

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return Completion{}, Retryable(fmt.Errorf("read response body: %w", err))
	}
	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return Completion{}, Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(cr.Choices) == 0 {
		return Completion{}, Permanent(errors.New("malformed response: no choices"))
	}
	return Completion{
		ID:    cr.ID,
		Model: cr.Model,
		Text:  cr.Choices[0].Message.Content,
		Usage: cr.Usage,
	}, nil
}

// readStream consumes a chat completion event stream, handing each content
// fragment to onDelta and returning the joined text.
func readStream(r io.Reader, onDelta func(string)) (Completion, error) {
	var (
		out  Completion
		text strings.Builder
		done bool
	)
	err := scanEvents(io.LimitReader(r, maxResponseSize), func(data string) error {
		if data == "[DONE]" {
			done = true
			return nil
		}
		var ch chatChunk
		if err := json.Unmarshal([]byte(data), &ch); err != nil {
			return Permanent(fmt.Errorf("decode stream chunk: %w", err))
		}
		if out.ID == "" {
			out.ID = ch.ID
		}
		if ch.Model != "" {
			out.Model = ch.Model
		}
		if ch.Usage != nil {
			out.Usage = *ch.Usage
		}
		for _, c := range ch.Choices {
			if c.Delta.Content == "" {
				continue
			}
			text.WriteString(c.Delta.Content)
			onDelta(c.Delta.Content)
		}
		return nil
	})
	if err != nil {
		var ae *AttemptError
		if errors.As(err, &ae) {
			return Completion{}, err
		}
		return Completion{}, Retryable(fmt.Errorf("read stream: %w", err))
	}
	if !done {
		return Completion{}, Retryable(errors.New("stream ended before [DONE]"))
	}
	out.Text = text.String()
	return out, nil
}

// scanEvents calls fn with the data of each server-sent event. Comment
// lines and event names are skipped; multi-line data is joined with "\n".
func scanEvents(r io.Reader, fn func(data string) error) error {
	br := bufio.NewReader(r)
	var data []string
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		d := strings.Join(data, "\n")
		data = nil
		return fn(strings.TrimSpace(d))
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if ferr := flush(); ferr != nil {
				return ferr
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		if errors.Is(err, io.EOF) {
			return flush()
		}
	}
}
