package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/csrfguard/internal/application"
	"github.com/eugenenazirov/csrfguard/internal/config"
	"github.com/eugenenazirov/csrfguard/internal/logging"
)

var signalNotify = signal.Notify

type cli struct {
	app *kingpin.Application

	serve  *kingpin.CmdClause
	policy *kingpin.CmdClause

	configFile     *string
	envFile        *string
	port           *string
	rateLimitRPS   *float64
	rateLimitBurst *int
	logLevel       *string
	csrfEnabled    *bool
	csrfExempt     *[]string
	csrfTimeLimit  *int64
	format         *string

	rateLimitRPSSet   bool
	rateLimitBurstSet bool
	csrfEnabledSet    bool
	csrfTimeLimitSet  bool
}

func newCLI() *cli {
	c := &cli{app: kingpin.New("csrfguard", "CSRF Guard - issues and enforces CSRF tokens for browser clients")}

	c.configFile = c.app.Flag("config", "Path to YAML or TOML configuration file").String()
	c.envFile = c.app.Flag("env-file", "Path to a dotenv file loaded before reading the environment").String()
	c.port = c.app.Flag("port", "HTTP port exposed by the service").String()
	c.rateLimitRPS = c.app.Flag("rate-limit-rps", "Requests per second allowed per client (set 0 to disable)").IsSetByUser(&c.rateLimitRPSSet).Float64()
	c.rateLimitBurst = c.app.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").IsSetByUser(&c.rateLimitBurstSet).Int()
	c.logLevel = c.app.Flag("log-level", "Log level (debug, info, warn, error)").String()
	c.csrfEnabled = c.app.Flag("csrf-enabled", "Enforce CSRF tokens on mutating requests").IsSetByUser(&c.csrfEnabledSet).Bool()
	c.csrfExempt = c.app.Flag("csrf-exempt", "Hostname exempt from CSRF validation (repeatable)").Strings()
	c.csrfTimeLimit = c.app.Flag("csrf-time-limit", "Token validity in seconds (0 disables expiry)").IsSetByUser(&c.csrfTimeLimitSet).Int64()

	c.serve = c.app.Command("serve", "Run the HTTP server").Default()
	c.policy = c.app.Command("policy", "Print the effective CSRF policy and exit")
	c.format = c.policy.Flag("format", "Output format (yaml or toml)").Default("yaml").Enum("yaml", "yml", "toml")

	return c
}

// overrides converts parsed flags into config overrides, leaving unset flags nil.
func (c *cli) overrides() *config.CLIOverrides {
	o := &config.CLIOverrides{
		ConfigFile:     *c.configFile,
		EnvFile:        *c.envFile,
		CSRFExemptList: *c.csrfExempt,
	}
	if *c.port != "" {
		o.Port = c.port
	}
	if *c.logLevel != "" {
		o.LogLevel = c.logLevel
	}
	if c.rateLimitRPSSet {
		o.RateLimitRPS = c.rateLimitRPS
	}
	if c.rateLimitBurstSet {
		o.RateLimitBurst = c.rateLimitBurst
	}
	if c.csrfEnabledSet {
		o.CSRFEnabled = c.csrfEnabled
	}
	if c.csrfTimeLimitSet {
		o.CSRFTimeLimit = c.csrfTimeLimit
	}
	return o
}

func main() {
	c := newCLI()
	command := kingpin.MustParse(c.app.Parse(os.Args[1:]))

	cfg, err := config.Load(c.overrides())
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	if command == c.policy.FullCommand() {
		if err := printPolicy(os.Stdout, cfg, *c.format); err != nil {
			fmt.Fprintf(os.Stderr, "failed to print policy: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
}

func printPolicy(w io.Writer, cfg config.Config, formatName string) error {
	format, err := config.ParseFormat(formatName)
	if err != nil {
		return err
	}
	policy, err := cfg.CSRF.Policy()
	if err != nil {
		return err
	}
	data, err := config.EncodePolicy(policy, format)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
