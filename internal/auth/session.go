// Package auth holds the session identity that drives the socket lifecycle,
// the synchronous access-token store, and HS256 token issue/validation.
package auth

import "sync"

// Session is the authenticated identity. A nil *Session means logged out.
type Session struct {
	UserID string
	Email  string
	Role   string
}

// TokenStore hands out the current access token. It must answer without
// blocking; callers never wait for a token to become available.
type TokenStore interface {
	AccessToken() (string, bool)
}

// MemoryTokenStore is a TokenStore backed by a mutex-guarded string.
type MemoryTokenStore struct {
	mu        sync.RWMutex
	token     string
	listeners []func(token string)
}

// NewMemoryTokenStore returns a store seeded with token (may be empty).
func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

// AccessToken returns the stored token and whether one is present.
func (s *MemoryTokenStore) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Set replaces the token and notifies listeners when it changed.
func (s *MemoryTokenStore) Set(token string) {
	s.mu.Lock()
	if s.token == token {
		s.mu.Unlock()
		return
	}
	s.token = token
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(token)
	}
}

// Clear removes the token.
func (s *MemoryTokenStore) Clear() {
	s.Set("")
}

// OnChange registers fn to run after every token change. Listeners run on the
// goroutine that called Set, outside the store lock.
func (s *MemoryTokenStore) OnChange(fn func(token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
