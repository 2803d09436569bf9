package config

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/csrfguard/internal/csrf"
)

// Format names a settings serialization format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ErrUnknownFormat is returned for settings formats other than YAML and TOML.
var ErrUnknownFormat = errors.New("unknown settings format")

// ParseFormat converts a user supplied format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// FormatFromPath picks the settings format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnknownFormat, path)
	}
	return ParseFormat(strings.TrimPrefix(ext, "."))
}

// EncodePolicy serializes the policy in the given format.
func EncodePolicy(p csrf.Policy, f Format) ([]byte, error) {
	settings := p.Settings()
	switch f {
	case FormatYAML:
		return yaml.Marshal(settings)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(settings); err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// DecodePolicy parses a policy previously written by EncodePolicy.
func DecodePolicy(data []byte, f Format) (csrf.Policy, error) {
	var settings csrf.Settings
	switch f {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return csrf.Policy{}, fmt.Errorf("parse YAML: %w", err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &settings); err != nil {
			return csrf.Policy{}, fmt.Errorf("parse TOML: %w", err)
		}
	default:
		return csrf.Policy{}, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	return settings.Policy()
}
