// Package application provides application initialization and dependency wiring.
// It turns the loaded configuration into the csrf policy, token issuer, session
// store, metrics registry, router and HTTP server, keeping the main package
// focused on CLI parsing and orchestration.
package application
