package csrf

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultTimeLimit is the validity window of an issued token: one year.
const DefaultTimeLimit = 60 * 60 * 24 * 365 * time.Second

var defaultExemptOrigins = []string{
	"main.d6f1ho9rhq11e.amplifyapp.com",
	"d6f1ho9rhq11e.amplifyapp.com",
}

// Policy is the immutable csrf configuration shared by the middleware, the
// token issuer and the session store. The zero value is a disabled policy.
type Policy struct {
	enabled       bool
	exemptOrigins []string
	timeLimit     time.Duration
}

// DefaultPolicy returns the policy the service runs with when nothing overrides it.
func DefaultPolicy() Policy {
	return Policy{
		enabled:       true,
		exemptOrigins: cloneStrings(defaultExemptOrigins),
		timeLimit:     DefaultTimeLimit,
	}
}

// NewPolicy validates the provided values and returns a Policy holding copies of them.
// A zero timeLimit means issued tokens never expire.
func NewPolicy(enabled bool, exemptOrigins []string, timeLimit time.Duration) (Policy, error) {
	if timeLimit < 0 {
		return Policy{}, fmt.Errorf("%w: time limit must be >= 0, got %s", ErrInvalidPolicy, timeLimit)
	}
	if timeLimit%time.Second != 0 {
		return Policy{}, fmt.Errorf("%w: time limit must be a whole number of seconds, got %s", ErrInvalidPolicy, timeLimit)
	}

	origins := make([]string, 0, len(exemptOrigins))
	for _, origin := range exemptOrigins {
		origin = strings.TrimSpace(origin)
		if !validHostname(origin) {
			return Policy{}, fmt.Errorf("%w: exempt origin %q is not a valid hostname", ErrInvalidPolicy, origin)
		}
		origins = append(origins, origin)
	}

	return Policy{
		enabled:       enabled,
		exemptOrigins: origins,
		timeLimit:     timeLimit,
	}, nil
}

// Enabled reports whether mutating requests must carry a valid token.
func (p Policy) Enabled() bool {
	return p.enabled
}

// ExemptOrigins returns a copy of the exempt hostnames in configuration order.
func (p Policy) ExemptOrigins() []string {
	return cloneStrings(p.exemptOrigins)
}

// TimeLimit returns how long an issued token stays valid. Zero means no expiry.
func (p Policy) TimeLimit() time.Duration {
	return p.timeLimit
}

// IsExempt reports whether requests originating from host skip validation.
// Matching is exact and case-insensitive; a port or trailing dot on host is
// ignored. Parent or sibling domains of an exempt entry do not match.
func (p Policy) IsExempt(host string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	for _, origin := range p.exemptOrigins {
		if strings.EqualFold(origin, host) {
			return true
		}
	}
	return false
}

// Settings is the flat, serializable form of a Policy. TimeLimit is in seconds.
type Settings struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	ExemptOrigins []string `yaml:"exempt_list" toml:"exempt_list"`
	TimeLimit     int64    `yaml:"time_limit" toml:"time_limit"`
}

// Settings returns the serializable form of the policy.
func (p Policy) Settings() Settings {
	return Settings{
		Enabled:       p.enabled,
		ExemptOrigins: cloneStrings(p.exemptOrigins),
		TimeLimit:     int64(p.timeLimit / time.Second),
	}
}

// Policy validates the settings and converts them back into a Policy.
func (s Settings) Policy() (Policy, error) {
	if s.TimeLimit < 0 || s.TimeLimit > maxTimeLimitSeconds {
		return Policy{}, fmt.Errorf("%w: time limit out of range, got %d seconds", ErrInvalidPolicy, s.TimeLimit)
	}
	return NewPolicy(s.Enabled, s.ExemptOrigins, time.Duration(s.TimeLimit)*time.Second)
}

const maxTimeLimitSeconds = int64(1<<63-1) / int64(time.Second)

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

// validHostname checks RFC 1123 label syntax.
func validHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	return true
}

func cloneStrings(src []string) []string {
	out := make([]string, len(src))
	copy(out, src)
	return out
}
