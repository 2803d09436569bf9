// Package logging builds the zap logger shared by the service.
package logging
