package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/porticohq/portico/internal/copilot"
	"github.com/porticohq/portico/internal/llm"
	"github.com/porticohq/portico/internal/otel"
	"github.com/porticohq/portico/internal/quota"
	"github.com/porticohq/portico/internal/requestctx"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if s.version != "" {
		resp["version"] = s.version
	}
	if r.URL.Query().Get("detail") == "true" {
		copilotState := "ok"
		if !s.copilotEnabled {
			copilotState = "disabled"
		}
		resp["components"] = map[string]string{"copilot": copilotState}
	}
	writeJSON(w, http.StatusOK, resp)
}

type rateLimitPayload struct {
	Tier       quota.Tier `json:"tier"`
	Used       int        `json:"used"`
	DailyLimit int        `json:"dailyLimit"`
	Remaining  int        `json:"remaining"`
	ResetAt    time.Time  `json:"resetAt"`
}

func rateLimit(d *quota.Decision) *rateLimitPayload {
	if d == nil {
		return nil
	}
	return &rateLimitPayload{
		Tier:       d.Tier,
		Used:       d.Used,
		DailyLimit: d.Limit,
		Remaining:  d.Remaining,
		ResetAt:    d.ResetAt,
	}
}

type chatResponse struct {
	Success   bool                   `json:"success"`
	Data      chatData               `json:"data"`
	Context   []copilot.ContextInfo  `json:"context"`
	RateLimit *rateLimitPayload      `json:"rateLimit"`
}

type chatData struct {
	Message    string `json:"message"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokensUsed"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	principal, ok := requestctx.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing credential")
		return
	}

	var req copilot.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	result, err := s.copilot.Chat(r.Context(), principal, &req)
	if err != nil {
		s.writeChatError(w, r, principal, err)
		return
	}

	writeJSON(w, http.StatusOK, &chatResponse{
		Success: true,
		Data: chatData{
			Message:    result.Message,
			Model:      result.Model,
			TokensUsed: result.TokensUsed,
		},
		Context:   result.Context,
		RateLimit: rateLimit(result.RateLimit),
	})
}

// writeChatError maps the pipeline error taxonomy onto HTTP statuses. Authz
// failures never reveal whether a project exists; credential failures were
// already handled by the middleware.
func (s *Server) writeChatError(w http.ResponseWriter, r *http.Request, principal requestctx.Principal, err error) {
	var verr *copilot.ValidationError
	var qerr *copilot.QuotaExhaustedError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_request", verr.Reason)

	case errors.As(err, &qerr):
		s.writeQuotaExceeded(w, qerr.Decision)

	case errors.Is(err, copilot.ErrNoAccessibleScope):
		writeError(w, http.StatusForbidden, "forbidden", "No accessible projects for this account")

	case errors.Is(err, quota.ErrBurstExceeded):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, slow down")

	case errors.Is(err, quota.ErrSubjectNotFound):
		writeError(w, http.StatusForbidden, "forbidden", "No accessible projects for this account")

	case copilot.IsUpstream(err):
		status := http.StatusInternalServerError
		if llm.Retryable(err) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"error":     "upstream_failure",
			"message":   "The assistant is temporarily unavailable",
			"retryable": llm.Retryable(err),
		})

	default:
		log.Error().Err(err).
			Str("subject_id", principal.SubjectID).
			Func(otel.LogTraceFields(r.Context())).
			Msg("chat_error")
		writeError(w, http.StatusInternalServerError, "internal", "Internal error")
	}
}

// writeQuotaExceeded returns 429 with rate-limit headers and an upgrade
// prompt. blockedUntil mirrors rateLimit.resetAt for callers that only read
// the top-level field.
func (s *Server) writeQuotaExceeded(w http.ResponseWriter, d *quota.Decision) {
	retryAfter := int(time.Until(d.ResetAt).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

	message := "Daily request limit reached. Your quota resets at " +
		d.ResetAt.Format(time.RFC3339) + "."
	if d.Tier != quota.TierUnlimited {
		message += " Upgrade your plan for a higher daily limit."
	}
	writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error":        "quota_exhausted",
		"message":      message,
		"blockedUntil": d.ResetAt,
		"rateLimit":    rateLimit(d),
	})
}

type usageResponse struct {
	Tier    quota.Tier    `json:"tier"`
	Usage   usageCounters `json:"usage"`
	Limits  usageLimits   `json:"limits"`
	ResetAt time.Time     `json:"resetAt"`
}

type usageCounters struct {
	RequestsToday int `json:"requestsToday"`
	TokensToday   int `json:"tokensToday"`
	ErrorCount    int `json:"errorCount"`
}

type usageLimits struct {
	RequestsPerDay      int    `json:"requestsPerDay"`
	MaxTokensPerRequest int    `json:"maxTokensPerRequest"`
	Model               string `json:"model"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	principal, ok := requestctx.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing credential")
		return
	}

	report, err := s.copilot.Usage(r.Context(), principal)
	if err != nil {
		if errors.Is(err, quota.ErrSubjectNotFound) {
			writeError(w, http.StatusForbidden, "forbidden", "No accessible projects for this account")
			return
		}
		log.Error().Err(err).Str("subject_id", principal.SubjectID).Msg("usage_report_error")
		writeError(w, http.StatusInternalServerError, "internal", "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, &usageResponse{
		Tier: report.Tier,
		Usage: usageCounters{
			RequestsToday: report.Usage.Requests,
			TokensToday:   report.Usage.Tokens,
			ErrorCount:    report.Usage.ErrorCount,
		},
		Limits: usageLimits{
			RequestsPerDay:      report.Limits.RequestsPerDay,
			MaxTokensPerRequest: report.Limits.MaxTokensPerRequest,
			Model:               report.Limits.Model,
		},
		ResetAt: report.ResetAt,
	})
}

func (s *Server) handleContextPreview(w http.ResponseWriter, r *http.Request) {
	principal, ok := requestctx.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing credential")
		return
	}

	projectID := chi.URLParam(r, "projectID")
	preview, err := s.copilot.Preview(r.Context(), principal, projectID, r.URL.Query().Get("q"))
	if err != nil {
		log.Error().Err(err).Str("subject_id", principal.SubjectID).Msg("context_preview_error")
		writeError(w, http.StatusInternalServerError, "internal", "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
