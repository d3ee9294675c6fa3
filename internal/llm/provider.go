// Package llm abstracts the external language-model provider and builds the
// guarded copilot prompt.
package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall bounds every upstream call.
const TimeoutLLMCall = 60 * time.Second

// Upstream failure taxonomy. None of these are retried here; callers get
// Retryable to decide.
var (
	ErrTimeout     = errors.New("upstream timeout")
	ErrRateLimited = errors.New("upstream rate limited")
	ErrMalformed   = errors.New("upstream response malformed")
)

// Retryable reports whether the upstream failure is worth retrying by an
// outer layer. The gateway itself never retries.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string
	// Generate sends a completion request to the LLM and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request represents an LLM generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Response represents an LLM generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}

// TotalTokens is the usage charged against the subject for this response.
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}
