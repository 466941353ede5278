package session

import "sync"

// Session is the credential holder shared by the gateway and the presence channel.
//
// Readers may call its getters from any goroutine. Only Manager writes it, and
// every write replaces credential and user id together.
type Session struct {
	mu         sync.RWMutex
	credential string
	userID     int64
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{}
}

// Credential returns the current bearer credential.
func (s *Session) Credential() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, s.credential != ""
}

// UserID returns the authenticated user id, when known.
func (s *Session) UserID() (int64, bool) {
	if s == nil {
		return 0, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != 0
}

// HasCredential reports whether a credential is held.
func (s *Session) HasCredential() bool {
	_, ok := s.Credential()
	return ok
}

func (s *Session) set(credential string, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = credential
	if userID != 0 {
		s.userID = userID
	}
}

func (s *Session) setUserID(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = ""
	s.userID = 0
}
