package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porticohq/portico/internal/assembler"
)

// capturingProvider records the request it receives and returns a canned response.
type capturingProvider struct {
	req  *Request
	resp *Response
	err  error
}

func (c *capturingProvider) Name() string { return "capture" }

func (c *capturingProvider) Generate(_ context.Context, req *Request) (*Response, error) {
	c.req = req
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func TestRespond_PromptShape(t *testing.T) {
	p := &capturingProvider{resp: &Response{Content: "ok", FinishReason: "stop"}}
	g := NewGenerator(p)

	docs := []assembler.Document{
		{Source: "Project: Website Redesign", Text: "Full redesign", Kind: assembler.KindContainer, Score: 1.0},
		{Source: "Task: Homepage wireframes", Text: "waiting on review (status: open)", Kind: assembler.KindTask, Score: 0.8},
	}
	turns := []Message{
		{Role: "user", Content: "what's the status?"},
	}

	_, err := g.Respond(context.Background(), turns, docs, GenerationConfig{
		Model: "gpt-4o-mini", MaxTokens: 512, Temperature: 0.7,
	})
	require.NoError(t, err)

	require.Len(t, p.req.Messages, 2)
	system := p.req.Messages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "ONLY the project context")
	assert.Contains(t, system.Content, "[1] Project: Website Redesign")
	assert.Contains(t, system.Content, "[2] Task: Homepage wireframes")
	assert.Equal(t, turns[0], p.req.Messages[1])
	assert.Equal(t, "gpt-4o-mini", p.req.Model)
	assert.Equal(t, 512, p.req.MaxTokens)
}

func TestRespond_NoContext(t *testing.T) {
	p := &capturingProvider{resp: &Response{Content: "ok"}}
	g := NewGenerator(p)

	_, err := g.Respond(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, GenerationConfig{Model: "m"})
	require.NoError(t, err)
	assert.Contains(t, p.req.Messages[0].Content, "No project context is available")
}

func TestRespond_PropagatesUpstreamError(t *testing.T) {
	p := &capturingProvider{err: errors.New("wire cut")}
	g := NewGenerator(p)

	_, err := g.Respond(context.Background(), nil, nil, GenerationConfig{Model: "m"})
	assert.Error(t, err)
}
