package storage

import (
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const cleanupInterval = time.Minute

var (
	// ErrInvalidSession indicates an empty session ID or secret was supplied.
	ErrInvalidSession = errors.New("session id and secret must not be empty")
)

// Store keeps the csrf secret bound to each browser session.
type Store interface {
	Get(sessionID string) (string, bool)
	Put(sessionID, secret string) error
	Delete(sessionID string)
	Len() int
}

// MemoryStore keeps session secrets in-process and evicts them after a TTL.
type MemoryStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates a store whose entries live for ttl after their last
// write. A zero ttl keeps entries until they are deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		return &MemoryStore{cache: gocache.New(gocache.NoExpiration, 0), ttl: gocache.NoExpiration}
	}
	return &MemoryStore{cache: gocache.New(ttl, cleanupInterval), ttl: ttl}
}

// Get returns the secret stored for sessionID.
func (s *MemoryStore) Get(sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	v, ok := s.cache.Get(sessionID)
	if !ok {
		return "", false
	}
	secret, ok := v.(string)
	return secret, ok
}

// Put stores secret for sessionID, replacing any previous value and resetting its TTL.
func (s *MemoryStore) Put(sessionID, secret string) error {
	if sessionID == "" || secret == "" {
		return ErrInvalidSession
	}
	s.cache.Set(sessionID, secret, s.ttl)
	return nil
}

// Delete removes the secret for sessionID. Missing IDs are ignored.
func (s *MemoryStore) Delete(sessionID string) {
	s.cache.Delete(sessionID)
}

// Len returns the number of stored sessions, including expired entries not yet evicted.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
