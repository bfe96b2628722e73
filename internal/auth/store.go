// Package auth verifies client credentials against a pluggable store.
package auth

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Method selects how clients present credentials. Both methods validate
// against the same store; they differ only in response semantics.
type Method string

const (
	MethodToken  Method = "token"
	MethodAPIKey Method = "api_key"
)

// ParseMethod validates a configured auth method string.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(s)) {
	case MethodToken:
		return MethodToken, nil
	case MethodAPIKey:
		return MethodAPIKey, nil
	}
	return "", fmt.Errorf("unknown auth method %q", s)
}

// Store maps client_id to a bcrypt hash of the client's token. Comparison via
// bcrypt is constant-time with respect to the token.
type Store struct {
	mu     sync.RWMutex
	hashes map[string][]byte
	method Method
	logger *slog.Logger
}

// NewStore creates a credential store. entries are "client_id:token" pairs as
// they appear under auth.api_keys in the configuration; malformed entries are
// skipped with a warning.
func NewStore(method Method, entries []string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		hashes: make(map[string][]byte, len(entries)),
		method: method,
		logger: logger.With("component", "auth"),
	}
	for _, e := range entries {
		clientID, token, ok := strings.Cut(e, ":")
		if !ok || clientID == "" || token == "" {
			s.logger.Warn("skipping malformed credential entry", "entry_prefix", clientID)
			continue
		}
		if err := s.Add(clientID, token); err != nil {
			return nil, fmt.Errorf("add credential for %s: %w", clientID, err)
		}
	}
	return s, nil
}

// Method returns the configured authentication method.
func (s *Store) Method() Method {
	return s.method
}

// Authenticate reports whether (clientID, token) matches the store.
func (s *Store) Authenticate(clientID, token string) bool {
	s.mu.RLock()
	hash, ok := s.hashes[clientID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("unknown client", "client_id", clientID)
		return false
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
		s.logger.Warn("invalid token", "client_id", clientID)
		return false
	}
	return true
}

// Add installs or replaces the credential for clientID.
func (s *Store) Add(clientID, token string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	s.mu.Lock()
	s.hashes[clientID] = hash
	s.mu.Unlock()
	return nil
}

// Remove deletes the credential for clientID.
func (s *Store) Remove(clientID string) {
	s.mu.Lock()
	delete(s.hashes, clientID)
	s.mu.Unlock()
}

// Len returns the number of stored credentials.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes)
}
