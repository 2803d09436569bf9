// Package storage holds server-side session state for csrf protection.
package storage
