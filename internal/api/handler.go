package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/eugenenazirov/csrfguard/internal/csrf"
)

const maxEchoBody = 1 << 20

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler wires the csrf protector into HTTP handlers.
type Handler struct {
	protector *csrf.Protector

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(protector *csrf.Protector, opts ...HandlerOption) *Handler {
	h := &Handler{
		protector: protector,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	token, expiresAt, err := h.protector.IssueToken(w, r)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := tokenResponse{CSRFToken: token}
	if !expiresAt.IsZero() {
		resp.ExpiresAt = &expiresAt
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	_ = r
	policy := h.protector.Policy()
	resp := policyResponse{
		Enabled:          policy.Enabled(),
		ExemptOrigins:    policy.ExemptOrigins(),
		TimeLimitSeconds: int64(policy.TimeLimit() / time.Second),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEchoBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to read request body")
		return
	}
	if len(body) > maxEchoBody {
		writeError(w, http.StatusRequestEntityTooLarge, "Invalid request", "request body exceeds 1 MiB")
		return
	}

	var payload json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	writeJSON(w, http.StatusOK, echoResponse{
		Received:  payload,
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	h.protector.EndSession(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// WriteCSRFError answers requests the protector rejected. It is meant to be
// passed to csrf.WithErrorHandler so rejections share the API error envelope.
func WriteCSRFError(w http.ResponseWriter, _ *http.Request, err error) {
	suggestion := "fetch a fresh token from GET /api/csrf and send it in the X-CSRFToken header"
	if errors.Is(err, csrf.ErrReferrerMissing) || errors.Is(err, csrf.ErrReferrerMismatch) {
		suggestion = "send a same-origin Referer header on HTTPS requests"
	}
	writeError(w, http.StatusBadRequest, "CSRF validation failed", err.Error(), suggestion)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type tokenResponse struct {
	CSRFToken string     `json:"csrfToken"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type policyResponse struct {
	Enabled          bool     `json:"enabled"`
	ExemptOrigins    []string `json:"exemptOrigins"`
	TimeLimitSeconds int64    `json:"timeLimitSeconds"`
}

type echoResponse struct {
	Received  json.RawMessage `json:"received"`
	RequestID string          `json:"requestId,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
