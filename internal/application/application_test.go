package application

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/csrfguard/internal/config"
	"github.com/eugenenazirov/csrfguard/internal/csrf"
)

func TestNewInitializesDependencies(t *testing.T) {
	t.Parallel()

	cfg := baseTestConfig(":8085")
	logger := zaptest.NewLogger(t)

	app, err := New(cfg, logger)
	require.NoError(t, err)

	assert.True(t, app.policy.Enabled())
	assert.Equal(t, csrf.DefaultPolicy().ExemptOrigins(), app.policy.ExemptOrigins())
	assert.Equal(t, csrf.DefaultTimeLimit, app.policy.TimeLimit())
	assert.NotNil(t, app.server)
	assert.NotNil(t, app.router)
	assert.NotNil(t, app.handler)
	assert.NotNil(t, app.protector)
	assert.Same(t, app.server, app.Server())
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	cfg := baseTestConfig(":0")
	cfg.CSRF.ExemptList = []string{"https://not-a-hostname"}

	_, err := New(cfg, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, csrf.ErrInvalidPolicy)
}

func TestNewServerAppliesConfig(t *testing.T) {
	t.Parallel()

	cfg := baseTestConfig("9090")
	handler := http.NewServeMux()

	server := NewServer(cfg, handler)
	assert.Equal(t, ":9090", server.Addr)
	assert.Equal(t, http.Handler(handler), server.Handler)
	assert.Equal(t, cfg.ReadHeaderTimeout, server.ReadHeaderTimeout)
	assert.Equal(t, cfg.WriteTimeout, server.WriteTimeout)
	assert.Equal(t, cfg.IdleTimeout, server.IdleTimeout)
}

func TestStartServesAndShutsDown(t *testing.T) {
	t.Parallel()

	cfg := baseTestConfig("127.0.0.1:0")
	app, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, app.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, app.Server().Shutdown(ctx))
}

func TestStartReturnsBindError(t *testing.T) {
	t.Parallel()

	app, err := New(baseTestConfig("127.0.0.1:-1"), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Error(t, app.Start())
}

// TestCSRFFlow drives the full stack through a real HTTP client with a cookie jar.
func TestCSRFFlow(t *testing.T) {
	t.Parallel()

	cfg := baseTestConfig(":0")
	cfg.CSRF.SecretKey = "integration-secret"
	app, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	post := func(token, origin string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/echo", strings.NewReader(`{"n":1}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("X-CSRFToken", token)
		}
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := client.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := post("", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/api/csrf")
	require.NoError(t, err)
	var token struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&token))
	_ = resp.Body.Close()
	require.NotEmpty(t, token.CSRFToken)
	assert.Equal(t, 1, app.sessions.Len())

	resp = post(token.CSRFToken, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post("", "https://main.d6f1ho9rhq11e.amplifyapp.com")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post("", "https://attacker.example.com")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "csrf_tokens_issued_total 1")
	assert.Contains(t, string(body), `csrf_validations_total{outcome="rejected",reason="token_missing"} 2`)
	assert.Contains(t, string(body), `csrf_validations_total{outcome="exempt",reason=""} 1`)
	assert.Contains(t, string(body), `csrf_validations_total{outcome="passed",reason=""} 1`)

	families, err := app.registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "csrf_tokens_issued_total")
	assert.Contains(t, names, "go_goroutines")
}

func TestTokensSurviveRestartWithConfiguredKey(t *testing.T) {
	t.Parallel()

	cfg := baseTestConfig(":0")
	cfg.CSRF.SecretKey = "stable-secret"

	first, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	second, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	secret, err := csrf.NewSecret()
	require.NoError(t, err)
	issuer, err := csrf.NewIssuer([]byte("stable-secret"), first.policy.TimeLimit())
	require.NoError(t, err)
	token, _, err := issuer.Issue(secret)
	require.NoError(t, err)

	require.NoError(t, second.sessions.Put("sid", secret))
	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(`{}`))
	req.Header.Set("X-CSRFToken", token)
	req.AddCookie(&http.Cookie{Name: "session", Value: "sid"})

	assert.NoError(t, second.protector.Validate(req))
}

func baseTestConfig(port string) config.Config {
	return config.Config{
		Port:                 port,
		ShutdownGracePeriod:  50 * time.Millisecond,
		ReadHeaderTimeout:    time.Second,
		WriteTimeout:         time.Second,
		IdleTimeout:          time.Second,
		EnableRequestLogging: false,
		RateLimitRPS:         0,
		RateLimitBurst:       0,
		LogLevel:             "info",
		CSRF: config.CSRFConfig{
			Enabled:       true,
			ExemptList:    csrf.DefaultPolicy().ExemptOrigins(),
			TimeLimit:     int64(csrf.DefaultTimeLimit / time.Second),
			SSLStrict:     true,
			Methods:       []string{"POST", "PUT", "PATCH", "DELETE"},
			Headers:       []string{"X-CSRFToken", "X-CSRF-Token"},
			FieldName:     "csrf_token",
			SessionCookie: "session",
		},
	}
}
