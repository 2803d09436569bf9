// Package config loads runtime configuration from multiple sources (YAML or
// TOML files, dotenv files, environment variables, CLI flags) with precedence:
// CLI flags > Environment variables > Config file > Defaults. The csrf section
// is validated into an immutable csrf.Policy before the service starts.
package config
