package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenenazirov/csrfguard/internal/config"
	"github.com/eugenenazirov/csrfguard/internal/csrf"
)

func TestCLIOverridesLeaveUnsetFlagsNil(t *testing.T) {
	t.Parallel()

	c := newCLI()
	command, err := c.app.Parse([]string{})
	require.NoError(t, err)
	assert.Equal(t, "serve", command)

	o := c.overrides()
	assert.Nil(t, o.Port)
	assert.Nil(t, o.RateLimitRPS)
	assert.Nil(t, o.RateLimitBurst)
	assert.Nil(t, o.CSRFEnabled)
	assert.Nil(t, o.CSRFTimeLimit)
	assert.Empty(t, o.CSRFExemptList)
}

func TestCLIOverridesFromFlags(t *testing.T) {
	t.Parallel()

	c := newCLI()
	_, err := c.app.Parse([]string{
		"--port", "9000",
		"--rate-limit-rps", "0",
		"--no-csrf-enabled",
		"--csrf-exempt", "a.example.com",
		"--csrf-exempt", "b.example.com",
		"--csrf-time-limit", "60",
		"--config", "config.yaml",
		"serve",
	})
	require.NoError(t, err)

	o := c.overrides()
	require.NotNil(t, o.Port)
	assert.Equal(t, "9000", *o.Port)
	require.NotNil(t, o.RateLimitRPS)
	assert.Zero(t, *o.RateLimitRPS)
	require.NotNil(t, o.CSRFEnabled)
	assert.False(t, *o.CSRFEnabled)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, o.CSRFExemptList)
	require.NotNil(t, o.CSRFTimeLimit)
	assert.Equal(t, int64(60), *o.CSRFTimeLimit)
	assert.Equal(t, "config.yaml", o.ConfigFile)
}

func TestPolicyCommand(t *testing.T) {
	t.Parallel()

	c := newCLI()
	command, err := c.app.Parse([]string{"policy", "--format", "toml"})
	require.NoError(t, err)
	assert.Equal(t, c.policy.FullCommand(), command)
	assert.Equal(t, "toml", *c.format)
}

func TestPrintPolicy(t *testing.T) {
	t.Parallel()

	settings := csrf.DefaultPolicy().Settings()
	cfg := config.Config{CSRF: config.CSRFConfig{
		Enabled:    settings.Enabled,
		ExemptList: settings.ExemptOrigins,
		TimeLimit:  settings.TimeLimit,
	}}

	var buf bytes.Buffer
	require.NoError(t, printPolicy(&buf, cfg, "toml"))

	policy, err := config.DecodePolicy(buf.Bytes(), config.FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, csrf.DefaultPolicy().ExemptOrigins(), policy.ExemptOrigins())
	assert.Equal(t, csrf.DefaultTimeLimit, policy.TimeLimit())
	assert.True(t, policy.Enabled())

	assert.Error(t, printPolicy(&buf, cfg, "ini"))
}
