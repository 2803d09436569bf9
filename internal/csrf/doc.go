// Package csrf holds the cross-site request forgery policy of the service and
// the middleware that enforces it.
//
// A Policy is built once at startup and never changes afterwards: it carries
// whether protection is enabled, the hostnames whose requests skip validation,
// and how long an issued token stays valid. The Protector reads the policy on
// every mutating request. Tokens are HS256-signed JWTs bound to a random
// per-session secret kept server side (synchronizer token pattern).
package csrf
