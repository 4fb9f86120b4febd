// Package oauth2 implements the provider handshake and credential lifecycle
// for linked mail accounts: CSRF state tokens, the authorization-code
// exchange, and access-token refresh with per-account serialization.
package oauth2

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	apperrors "crm-mailer/internal/common/errors"
)

const stateTTL = 10 * time.Minute

type stateRecord struct {
	ownerID   string
	createdAt time.Time
}

// StateStore issues and validates single-use handshake tokens. Each token
// binds the caller's identity server-side so the unauthenticated callback
// can recover who initiated the connect. Tokens expire after ten minutes
// and are invalidated on first validation, whatever the outcome of the
// rest of the callback.
type StateStore struct {
	mu     sync.Mutex
	states map[string]stateRecord
	now    func() time.Time
}

func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]stateRecord),
		now:    time.Now,
	}
}

// Generate creates an opaque token bound to ownerID.
func (s *StateStore) Generate(ownerID string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", apperrors.InternalError("failed to generate state token", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	s.states[token] = stateRecord{ownerID: ownerID, createdAt: s.now()}
	s.mu.Unlock()

	return token, nil
}

// Validate consumes a token and returns the owner it was issued to. The
// token is deleted before the TTL check, so a second call with the same
// token always fails.
func (s *StateStore) Validate(token string) (string, error) {
	s.mu.Lock()
	record, ok := s.states[token]
	if ok {
		delete(s.states, token)
	}
	s.mu.Unlock()

	if !ok {
		return "", apperrors.InvalidState("unknown or already used state token")
	}
	if s.now().Sub(record.createdAt) > stateTTL {
		return "", apperrors.InvalidState("state token expired")
	}

	return record.ownerID, nil
}

// Cleanup removes expired tokens. Intended to run periodically so abandoned
// handshakes do not accumulate.
func (s *StateStore) Cleanup() int {
	cutoff := s.now().Add(-stateTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, record := range s.states {
		if record.createdAt.Before(cutoff) {
			delete(s.states, token)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup on an interval until stop is closed.
func (s *StateStore) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}
