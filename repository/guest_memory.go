package repository

import (
	"context"
	"sync"
	"time"

	domainGuest "github.com/wafleet/wafleet/domains/guest"
)

// MemoryGuestStore is the process-local guest session store. Outstanding
// OTPs are invalidated by a restart; that trade-off is accepted until the
// tenancy runs more than one request-handling process.
type MemoryGuestStore struct {
	mu       sync.RWMutex
	sessions map[string]domainGuest.Session
}

func NewMemoryGuestStore() *MemoryGuestStore {
	s := &MemoryGuestStore{sessions: make(map[string]domainGuest.Session)}
	go s.reapLoop()
	return s
}

func (s *MemoryGuestStore) Put(_ context.Context, sess domainGuest.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Overwriting invalidates any previously issued OTP for this phone.
	s.sessions[sess.PhoneNumber] = sess
	return nil
}

func (s *MemoryGuestStore) Get(_ context.Context, phone string) (*domainGuest.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[phone]
	if !ok {
		return nil, nil
	}
	if time.Now().After(sess.OTPExpiresAt) {
		return nil, nil
	}
	return &sess, nil
}

func (s *MemoryGuestStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, phone)
	return nil
}

func (s *MemoryGuestStore) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		s.mu.Lock()
		for phone, sess := range s.sessions {
			if now.After(sess.OTPExpiresAt) {
				delete(s.sessions, phone)
			}
		}
		s.mu.Unlock()
	}
}
