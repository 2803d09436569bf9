package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const secretBytes = 32

// ErrEmptySigningKey is returned by NewIssuer when no signing key is supplied.
var ErrEmptySigningKey = errors.New("csrf signing key must not be empty")

type tokenClaims struct {
	Secret string `json:"csrf"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies csrf tokens bound to a session secret.
type Issuer struct {
	key       []byte
	timeLimit time.Duration
	clock     func() time.Time
}

// IssuerOption configures Issuer behaviour.
type IssuerOption func(*Issuer)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.clock = clock
	}
}

// NewIssuer creates an Issuer signing with key. Tokens expire after timeLimit
// unless it is zero.
func NewIssuer(key []byte, timeLimit time.Duration, opts ...IssuerOption) (*Issuer, error) {
	if len(key) == 0 {
		return nil, ErrEmptySigningKey
	}
	if timeLimit < 0 {
		return nil, fmt.Errorf("%w: time limit must be >= 0", ErrInvalidPolicy)
	}

	i := &Issuer{
		key:       append([]byte(nil), key...),
		timeLimit: timeLimit,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// NewSecret returns a fresh random session secret encoded as hex.
func NewSecret() (string, error) {
	var b [secretBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Issue returns a signed token for secret and the instant it stops being valid.
// The returned time is zero when tokens do not expire.
func (i *Issuer) Issue(secret string) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, ErrSessionTokenMissing
	}

	now := i.clock().UTC().Truncate(time.Second)
	claims := tokenClaims{
		Secret: secret,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}

	var expiresAt time.Time
	if i.timeLimit > 0 {
		expiresAt = now.Add(i.timeLimit)
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign csrf token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate checks the token signature and expiry and that it was issued for secret.
func (i *Issuer) Validate(token, secret string) error {
	if token == "" {
		return ErrTokenMissing
	}
	if secret == "" {
		return ErrSessionTokenMissing
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock),
		jwt.WithIssuedAt(),
	}
	if i.timeLimit > 0 {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case err != nil:
		return ErrTokenInvalid
	}

	if subtle.ConstantTimeCompare([]byte(claims.Secret), []byte(secret)) != 1 {
		return ErrTokensMismatch
	}
	return nil
}
