// Package copilot orchestrates one portal copilot request end to end:
// quota pre-check, scope resolution, context assembly, LLM call, and the
// unconditional usage write.
//
// Responses are all-or-nothing: no partial context or partial model output
// ever reaches the caller. The usage write happens on every path, success or
// not, because failure patterns are
// themselves a monitored signal and the ledger counts from these rows.
package copilot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/porticohq/portico/internal/assembler"
	"github.com/porticohq/portico/internal/llm"
	porticootel "github.com/porticohq/portico/internal/otel"
	"github.com/porticohq/portico/internal/quota"
	"github.com/porticohq/portico/internal/requestctx"
	"github.com/porticohq/portico/internal/scope"
	"github.com/porticohq/portico/internal/usage"
)

var tracer = porticootel.Tracer("github.com/porticohq/portico/internal/copilot")

const defaultTemperature = 0.7

// ChatOptions are caller-supplied generation overrides, clamped to tier
// ceilings before use.
type ChatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}

// ChatRequest is one copilot turn from the portal client.
type ChatRequest struct {
	Messages  []llm.Message `json:"messages"`
	ProjectID string        `json:"projectId,omitempty"`
	Options   ChatOptions   `json:"options"`
}

// ContextInfo describes one context document in the response envelope.
type ContextInfo struct {
	Source    string         `json:"source"`
	Relevance float64        `json:"relevance"`
	Type      assembler.Kind `json:"type"`
}

// ChatResult is the successful outcome of a chat request.
type ChatResult struct {
	Message    string
	Model      string
	TokensUsed int
	Context    []ContextInfo
	RateLimit  *quota.Decision
}

// Service wires the copilot pipeline.
type Service struct {
	ledger *quota.Ledger
	scopes *scope.Resolver
	asm    *assembler.Assembler
	gen    *llm.Generator
	usage  *usage.Store
}

// NewService creates the copilot service.
func NewService(ledger *quota.Ledger, scopes *scope.Resolver, asm *assembler.Assembler, gen *llm.Generator, usageStore *usage.Store) *Service {
	return &Service{ledger: ledger, scopes: scopes, asm: asm, gen: gen, usage: usageStore}
}

// Chat processes one copilot request for the resolved principal.
func (s *Service) Chat(ctx context.Context, principal requestctx.Principal, req *ChatRequest) (*ChatResult, error) {
	ctx, span := tracer.Start(ctx, "copilot.chat")
	defer span.End()

	projectID := ""
	if req != nil {
		projectID = req.ProjectID
	}

	if err := validate(req); err != nil {
		s.record(ctx, principal, projectID, nil, nil, usage.ErrorKindValidation)
		return nil, err
	}

	decision, err := s.ledger.CheckAndReserve(ctx, principal.SubjectID)
	if err != nil {
		s.record(ctx, principal, projectID, nil, nil, ledgerErrorKind(err))
		return nil, err
	}
	if !decision.Allowed {
		s.record(ctx, principal, req.ProjectID, nil, nil, usage.ErrorKindQuota)
		return nil, &QuotaExhaustedError{Decision: decision}
	}

	sc, err := s.scopes.Resolve(ctx, principal.SubjectID, req.ProjectID)
	if err != nil {
		s.record(ctx, principal, req.ProjectID, nil, nil, usage.ErrorKindInternal)
		return nil, err
	}
	if !sc.HasAnyGrant {
		s.record(ctx, principal, req.ProjectID, nil, nil, usage.ErrorKindScope)
		return nil, ErrNoAccessibleScope
	}

	// A granted subject asking about a project outside its scope proceeds
	// with an empty context set; the guardrailed prompt then answers "I
	// don't know", which is indistinguishable from a project that has no
	// content. That is the anti-probing behavior, not an error.
	docs, err := s.asm.Build(ctx, principal.SubjectID, lastUserMessage(req.Messages), sc.IDs, sc.Grants)
	if err != nil {
		s.record(ctx, principal, req.ProjectID, nil, nil, usage.ErrorKindInternal)
		return nil, err
	}

	// The client disconnecting must not cancel the upstream call or the
	// usage write: partial LLM spend is still accounted.
	detached := context.WithoutCancel(ctx)
	resp, err := s.gen.Respond(detached, req.Messages, docs, s.generationConfig(decision, req.Options))
	if err != nil {
		s.record(detached, principal, req.ProjectID, nil, docs, usage.ErrorKindUpstream)
		return nil, err
	}

	s.record(detached, principal, req.ProjectID, resp, docs, "")

	return &ChatResult{
		Message:    resp.Content,
		Model:      resp.Model,
		TokensUsed: resp.TotalTokens(),
		Context:    contextInfos(docs),
		RateLimit:  debit(decision),
	}, nil
}

// UsageReport is the read-only usage summary for the usage endpoint.
type UsageReport struct {
	Tier    quota.Tier       `json:"tier"`
	Usage   usage.Totals     `json:"usage"`
	Limits  quota.TierConfig `json:"limits"`
	ResetAt time.Time        `json:"resetAt"`
}

// Usage returns the subject's current window totals and limits.
func (s *Service) Usage(ctx context.Context, principal requestctx.Principal) (*UsageReport, error) {
	decision, err := s.ledger.Status(ctx, principal.SubjectID)
	if err != nil {
		return nil, err
	}
	totals, err := s.usage.TotalsSince(ctx, principal.SubjectID, time.Now().UTC().Add(-quota.Window))
	if err != nil {
		return nil, err
	}
	return &UsageReport{
		Tier:    decision.Tier,
		Usage:   *totals,
		Limits:  decision.Config,
		ResetAt: decision.ResetAt,
	}, nil
}

// ContextPreview is the transparency endpoint's payload: what the assembler
// would feed the model for this project, without calling the model.
type ContextPreview struct {
	ProjectID    string         `json:"projectId"`
	SourceCounts map[string]int `json:"sourceCounts"`
	Documents    []PreviewDoc   `json:"documents"`
}

// PreviewDoc is a truncated context document for inspection.
type PreviewDoc struct {
	Source    string         `json:"source"`
	Relevance float64        `json:"relevance"`
	Type      assembler.Kind `json:"type"`
	Preview   string         `json:"preview"`
}

// Preview assembles context for a single project without invoking the LLM or
// debiting quota. An inaccessible or unknown project yields empty counts,
// never an error.
func (s *Service) Preview(ctx context.Context, principal requestctx.Principal, projectID, query string) (*ContextPreview, error) {
	sc, err := s.scopes.Resolve(ctx, principal.SubjectID, projectID)
	if err != nil {
		return nil, err
	}
	docs, err := s.asm.Build(ctx, principal.SubjectID, query, sc.IDs, sc.Grants)
	if err != nil {
		return nil, err
	}

	preview := &ContextPreview{
		ProjectID:    projectID,
		SourceCounts: map[string]int{},
		Documents:    make([]PreviewDoc, 0, len(docs)),
	}
	for _, d := range docs {
		preview.SourceCounts[string(d.Kind)]++
		preview.Documents = append(preview.Documents, PreviewDoc{
			Source:    d.Source,
			Relevance: d.Score,
			Type:      d.Kind,
			Preview:   truncate(d.Text, 200),
		})
	}
	return preview, nil
}

// record writes the audit row for this request. Failures are logged, never
// swallowed silently, but do not turn an otherwise-answered request into an
// error for the caller.
func (s *Service) record(ctx context.Context, principal requestctx.Principal, projectID string, resp *llm.Response, docs []assembler.Document, errorKind string) {
	rec := &usage.Record{
		ID:        uuid.NewString(),
		SubjectID: principal.SubjectID,
		TenantID:  principal.TenantID,
		ProjectID: projectID,
		Success:   errorKind == "",
		ErrorKind: errorKind,
		Sources:   sourceKinds(docs),
		Timestamp: time.Now().UTC(),
	}
	if resp != nil {
		rec.Tokens = resp.TotalTokens()
		rec.Model = resp.Model
		rec.Credits = 1
	}
	if err := s.usage.Append(ctx, rec); err != nil {
		log.Error().Err(err).
			Str("subject_id", principal.SubjectID).
			Func(porticootel.LogTraceFields(ctx)).
			Msg("usage_record_write_failed")
	}
}

func (s *Service) generationConfig(decision *quota.Decision, opts ChatOptions) llm.GenerationConfig {
	cfg := llm.GenerationConfig{
		Model:       decision.Config.Model,
		MaxTokens:   decision.Config.MaxTokensPerRequest,
		Temperature: defaultTemperature,
	}
	if opts.MaxTokens > 0 && opts.MaxTokens < cfg.MaxTokens {
		cfg.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		cfg.Temperature = *opts.Temperature
	}
	return cfg
}

func validate(req *ChatRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return &ValidationError{Reason: "messages is required"}
	}
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			return &ValidationError{Reason: "message content must not be empty"}
		}
		switch m.Role {
		case "user", "assistant":
		default:
			return &ValidationError{Reason: "message role must be user or assistant"}
		}
	}
	return nil
}

func lastUserMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func contextInfos(docs []assembler.Document) []ContextInfo {
	infos := make([]ContextInfo, len(docs))
	for i, d := range docs {
		infos[i] = ContextInfo{Source: d.Source, Relevance: d.Score, Type: d.Kind}
	}
	return infos
}

func sourceKinds(docs []assembler.Document) []string {
	seen := make(map[string]bool)
	var kinds []string
	for _, d := range docs {
		k := string(d.Kind)
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// debit folds this request into the decision reported to the caller, so the
// envelope reflects the state after the usage write lands.
func debit(d *quota.Decision) *quota.Decision {
	out := *d
	out.Used++
	if out.Remaining > 0 {
		out.Remaining--
	}
	return &out
}

// ledgerErrorKind maps pre-check failures onto the audit taxonomy. Burst
// denials land under the quota kind so they stay excluded from the window
// count, like daily-limit denials.
func ledgerErrorKind(err error) string {
	switch {
	case errors.Is(err, quota.ErrBurstExceeded):
		return usage.ErrorKindQuota
	case errors.Is(err, quota.ErrSubjectNotFound):
		return usage.ErrorKindScope
	default:
		return usage.ErrorKindInternal
	}
}

// IsUpstream reports whether err belongs to the LLM failure taxonomy.
func IsUpstream(err error) bool {
	return errors.Is(err, llm.ErrTimeout) || errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrMalformed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
