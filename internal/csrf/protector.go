package csrf

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Validation outcomes reported to the Recorder.
const (
	OutcomePassed   = "passed"
	OutcomeExempt   = "exempt"
	OutcomeRejected = "rejected"
)

const (
	defaultFieldName     = "csrf_token"
	defaultSessionCookie = "session"
)

var (
	defaultMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	defaultHeaders = []string{"X-CSRFToken", "X-CSRF-Token"}
)

// SessionStore keeps the per-session secrets tokens are bound to.
type SessionStore interface {
	Get(sessionID string) (string, bool)
	Put(sessionID, secret string) error
	Delete(sessionID string)
}

// Recorder receives issuance and validation events, typically for metrics.
type Recorder interface {
	TokenIssued()
	ObserveValidation(outcome, reason string)
}

// ErrorHandler writes the response for a request that failed validation.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Protector enforces a Policy on incoming requests and issues tokens.
type Protector struct {
	policy   Policy
	issuer   *Issuer
	sessions SessionStore

	methods       map[string]struct{}
	headers       []string
	fieldName     string
	sessionCookie string
	sslStrict     bool

	logger   *zap.Logger
	recorder Recorder
	onError  ErrorHandler
	clock    func() time.Time
}

// ProtectorOption configures Protector behaviour.
type ProtectorOption func(*Protector)

// WithMethods sets the HTTP methods that require a token. Empty input keeps the defaults.
func WithMethods(methods ...string) ProtectorOption {
	return func(p *Protector) {
		if len(methods) == 0 {
			return
		}
		p.methods = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			p.methods[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
		}
	}
}

// WithHeaderNames sets the request headers searched for a token, in order.
func WithHeaderNames(headers ...string) ProtectorOption {
	return func(p *Protector) {
		if len(headers) > 0 {
			p.headers = cloneStrings(headers)
		}
	}
}

// WithFieldName sets the form field searched for a token.
func WithFieldName(name string) ProtectorOption {
	return func(p *Protector) {
		if name != "" {
			p.fieldName = name
		}
	}
}

// WithSessionCookie sets the name of the cookie holding the session ID.
func WithSessionCookie(name string) ProtectorOption {
	return func(p *Protector) {
		if name != "" {
			p.sessionCookie = name
		}
	}
}

// WithSSLStrict requires a same-origin Referer on HTTPS requests.
func WithSSLStrict(enabled bool) ProtectorOption {
	return func(p *Protector) {
		p.sslStrict = enabled
	}
}

// WithLogger sets the logger used for validation events.
func WithLogger(logger *zap.Logger) ProtectorOption {
	return func(p *Protector) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecorder sets the sink for issuance and validation events.
func WithRecorder(recorder Recorder) ProtectorOption {
	return func(p *Protector) {
		if recorder != nil {
			p.recorder = recorder
		}
	}
}

// WithErrorHandler overrides how rejected requests are answered.
func WithErrorHandler(h ErrorHandler) ProtectorOption {
	return func(p *Protector) {
		if h != nil {
			p.onError = h
		}
	}
}

// NewProtector creates a Protector enforcing policy with tokens from issuer.
func NewProtector(policy Policy, issuer *Issuer, sessions SessionStore, opts ...ProtectorOption) *Protector {
	p := &Protector{
		policy:        policy,
		issuer:        issuer,
		sessions:      sessions,
		headers:       cloneStrings(defaultHeaders),
		fieldName:     defaultFieldName,
		sessionCookie: defaultSessionCookie,
		sslStrict:     true,
		logger:        zap.NewNop(),
		recorder:      nopRecorder{},
		onError:       writeValidationError,
		clock:         time.Now,
	}
	WithMethods(defaultMethods...)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the policy being enforced.
func (p *Protector) Policy() Policy {
	return p.policy
}

// Protect wraps next so that protected methods require a valid token.
func (p *Protector) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.policy.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := p.methods[r.Method]; !ok {
			next.ServeHTTP(w, r)
			return
		}

		if host := originHost(r); host != "" && p.policy.IsExempt(host) {
			p.recorder.ObserveValidation(OutcomeExempt, "")
			p.logger.Debug("csrf validation skipped for exempt origin",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("origin", host),
			)
			next.ServeHTTP(w, r)
			return
		}

		if err := p.Validate(r); err != nil {
			reason := Reason(err)
			p.recorder.ObserveValidation(OutcomeRejected, reason)
			p.logger.Info("csrf validation failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("origin", originHost(r)),
				zap.String("reason", reason),
			)
			p.onError(w, r, err)
			return
		}

		p.recorder.ObserveValidation(OutcomePassed, "")
		next.ServeHTTP(w, r)
	})
}

// Validate checks the token submitted with r against the session secret.
func (p *Protector) Validate(r *http.Request) error {
	token := p.submittedToken(r)
	if token == "" {
		return ErrTokenMissing
	}

	secret, ok := p.sessionSecret(r)
	if !ok {
		return ErrSessionTokenMissing
	}

	if err := p.issuer.Validate(token, secret); err != nil {
		return err
	}
	return p.checkReferrer(r)
}

// IssueToken makes sure the caller has a session, then signs a token for it.
// The session secret and cookie are rewritten on every call so the session
// outlives each token issued for it.
func (p *Protector) IssueToken(w http.ResponseWriter, r *http.Request) (string, time.Time, error) {
	sessionID, secret, ok := p.session(r)
	if !ok {
		var err error
		secret, err = NewSecret()
		if err != nil {
			return "", time.Time{}, err
		}
		sessionID = uuid.NewString()
	}
	if err := p.sessions.Put(sessionID, secret); err != nil {
		return "", time.Time{}, fmt.Errorf("store session secret: %w", err)
	}
	p.setSessionCookie(w, r, sessionID)

	token, expiresAt, err := p.issuer.Issue(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	p.recorder.TokenIssued()
	return token, expiresAt, nil
}

// EndSession drops the server-side secret and expires the session cookie.
func (p *Protector) EndSession(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(p.sessionCookie); err == nil && c.Value != "" {
		p.sessions.Delete(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     p.sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func (p *Protector) sessionSecret(r *http.Request) (string, bool) {
	_, secret, ok := p.session(r)
	return secret, ok
}

// session returns the session ID from the cookie and its stored secret.
func (p *Protector) session(r *http.Request) (string, string, bool) {
	c, err := r.Cookie(p.sessionCookie)
	if err != nil || c.Value == "" {
		return "", "", false
	}
	secret, ok := p.sessions.Get(c.Value)
	if !ok || secret == "" {
		return "", "", false
	}
	return c.Value, secret, true
}

func (p *Protector) setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	cookie := &http.Cookie{
		Name:     p.sessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	}
	if limit := p.policy.TimeLimit(); limit > 0 {
		cookie.MaxAge = int(limit / time.Second)
		cookie.Expires = p.clock().Add(limit).UTC()
	}
	http.SetCookie(w, cookie)
}

func (p *Protector) submittedToken(r *http.Request) string {
	for _, name := range p.headers {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.PostFormValue(p.fieldName))
}

func (p *Protector) checkReferrer(r *http.Request) error {
	if !p.sslStrict || !isHTTPS(r) {
		return nil
	}

	raw := strings.TrimSpace(r.Header.Get("Referer"))
	if raw == "" {
		return ErrReferrerMissing
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.Scheme != "https" || !strings.EqualFold(ref.Host, r.Host) {
		return ErrReferrerMismatch
	}
	return nil
}

// originHost returns the hostname from Origin, falling back to Referer.
func originHost(r *http.Request) string {
	for _, header := range []string{"Origin", "Referer"} {
		raw := strings.TrimSpace(r.Header.Get(header))
		if raw == "" || raw == "null" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		return u.Hostname()
	}
	return ""
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func writeValidationError(w http.ResponseWriter, _ *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "CSRF validation failed",
		"details": err.Error(),
	})
}

type nopRecorder struct{}

func (nopRecorder) TokenIssued()                     {}
func (nopRecorder) ObserveValidation(string, string) {}
