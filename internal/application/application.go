package application

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eugenenazirov/csrfguard/internal/api"
	"github.com/eugenenazirov/csrfguard/internal/config"
	"github.com/eugenenazirov/csrfguard/internal/csrf"
	"github.com/eugenenazirov/csrfguard/internal/metrics"
	"github.com/eugenenazirov/csrfguard/internal/storage"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	policy    csrf.Policy
	sessions  storage.Store
	protector *csrf.Protector
	handler   *api.Handler
	router    http.Handler
	registry  *prometheus.Registry
	logger    *zap.Logger
	server    *http.Server
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	policy, err := cfg.CSRF.Policy()
	if err != nil {
		return nil, fmt.Errorf("failed to build csrf policy: %w", err)
	}

	signingKey := cfg.CSRF.SecretKey
	if signingKey == "" {
		signingKey, err = csrf.NewSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate csrf signing key: %w", err)
		}
		logger.Warn("no csrf secret key configured; using an ephemeral key, tokens will not survive a restart")
	}

	issuer, err := csrf.NewIssuer([]byte(signingKey), policy.TimeLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to create csrf token issuer: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	sessions := storage.NewMemoryStore(policy.TimeLimit())
	protector := csrf.NewProtector(policy, issuer, sessions,
		csrf.WithMethods(cfg.CSRF.Methods...),
		csrf.WithHeaderNames(cfg.CSRF.Headers...),
		csrf.WithFieldName(cfg.CSRF.FieldName),
		csrf.WithSessionCookie(cfg.CSRF.SessionCookie),
		csrf.WithSSLStrict(cfg.CSRF.SSLStrict),
		csrf.WithLogger(logger.Named("csrf")),
		csrf.WithRecorder(recorder),
		csrf.WithErrorHandler(api.WriteCSRFError),
	)

	handler := api.NewHandler(protector)
	router := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)

	logger.Info("csrf policy loaded",
		zap.Bool("enabled", policy.Enabled()),
		zap.Strings("exempt_origins", policy.ExemptOrigins()),
		zap.Duration("time_limit", policy.TimeLimit()),
	)

	return &App{
		policy:    policy,
		sessions:  sessions,
		protector: protector,
		handler:   handler,
		router:    router,
		registry:  registry,
		logger:    logger,
		server:    NewServer(cfg, router),
	}, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start binds the listen address and serves HTTP in a goroutine. Bind errors
// are returned; errors after that are logged.
func (a *App) Start() error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}

	a.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Handler returns the fully wrapped root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}
