// Package auth holds the authenticated session and the identity service:
// signup, login, Google federated login and JWT credential handling.
package auth

import (
	"sync"

	"spendtrack/internal/core"
)

type EventType int

const (
	EventLogin EventType = iota
	EventLogout
)

// Event is delivered to session listeners on login and logout so
// dependent components can resubscribe or reset.
type Event struct {
	Type EventType
	User *core.User
}

// Session holds the current identity and bearer credential. A session is
// authenticated exactly when both the user and the token are set.
type Session struct {
	mu        sync.RWMutex
	user      *core.User
	token     string
	listeners map[int]func(Event)
	nextID    int
}

func NewSession() *Session {
	return &Session{listeners: map[int]func(Event){}}
}

// NewAuthenticated returns a session already populated with an identity,
// as built per-request from a validated bearer token.
func NewAuthenticated(user core.User, token string) *Session {
	s := NewSession()
	s.user = &user
	s.token = token
	return s
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.token != ""
}

func (s *Session) CurrentUser() *core.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Login populates the session and notifies listeners.
func (s *Session) Login(user core.User, token string) {
	s.mu.Lock()
	s.user = &user
	s.token = token
	fns := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(Event{Type: EventLogin, User: &user})
	}
}

// Logout clears identity and credential and notifies listeners. Listeners
// run after the session is already cleared, so a store reacting to the
// event observes an unauthenticated session.
func (s *Session) Logout() {
	s.mu.Lock()
	user := s.user
	s.user = nil
	s.token = ""
	fns := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(Event{Type: EventLogout, User: user})
	}
}

// OnChange registers a listener for login/logout events and returns a
// removal func.
func (s *Session) OnChange(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) snapshotListeners() []func(Event) {
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}
