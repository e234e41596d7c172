package app

import (
	"context"
	"sync"

	"go.aimuz.me/voxbridge/internal/types"
	"go.aimuz.me/voxbridge/livetranslate"
)

// LiveAdapter guards the live session with proper synchronization.
type LiveAdapter struct {
	mu      sync.RWMutex
	session *livetranslate.Session
}

// Attach replaces the session, closing any previous one.
func (la *LiveAdapter) Attach(s *livetranslate.Session) {
	la.mu.Lock()
	old := la.session
	la.session = s
	la.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Session returns the current session, or nil.
func (la *LiveAdapter) Session() *livetranslate.Session {
	la.mu.RLock()
	defer la.mu.RUnlock()
	return la.session
}

// ToggleMic starts or stops recording.
func (la *LiveAdapter) ToggleMic(ctx context.Context) error {
	s := la.Session()
	if s == nil {
		return livetranslate.ErrNotReady
	}
	return s.ToggleMic(ctx)
}

// Status returns the current status, safe for concurrent access.
func (la *LiveAdapter) Status() types.LiveStatus {
	s := la.Session()
	if s == nil {
		return types.LiveStatus{}
	}
	return s.Status()
}

// Close closes the session.
func (la *LiveAdapter) Close() {
	la.mu.Lock()
	s := la.session
	la.session = nil
	la.mu.Unlock()

	if s != nil {
		s.Close()
	}
}
