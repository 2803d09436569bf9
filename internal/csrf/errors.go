package csrf

import "errors"

var (
	// ErrInvalidPolicy is returned when policy values violate validation rules.
	ErrInvalidPolicy = errors.New("invalid csrf policy")
	// ErrTokenMissing is returned when the request carries no csrf token.
	ErrTokenMissing = errors.New("csrf token is missing")
	// ErrSessionTokenMissing is returned when no session secret exists for the request.
	ErrSessionTokenMissing = errors.New("csrf session token is missing")
	// ErrTokenInvalid is returned when the token is malformed or its signature does not verify.
	ErrTokenInvalid = errors.New("csrf token is invalid")
	// ErrTokenExpired is returned when the token is older than the policy time limit.
	ErrTokenExpired = errors.New("csrf token has expired")
	// ErrTokensMismatch is returned when the token was issued for a different session.
	ErrTokensMismatch = errors.New("csrf tokens do not match")
	// ErrReferrerMissing is returned by strict HTTPS checks when no Referer header is present.
	ErrReferrerMissing = errors.New("referrer header is missing")
	// ErrReferrerMismatch is returned by strict HTTPS checks when the Referer is not same-origin.
	ErrReferrerMismatch = errors.New("referrer does not match the host")
)

// Reason maps a validation error to a short, stable label used in logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenMissing):
		return "token_missing"
	case errors.Is(err, ErrSessionTokenMissing):
		return "session_missing"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokensMismatch):
		return "token_mismatch"
	case errors.Is(err, ErrReferrerMissing):
		return "referrer_missing"
	case errors.Is(err, ErrReferrerMismatch):
		return "referrer_mismatch"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	default:
		return "unknown"
	}
}
