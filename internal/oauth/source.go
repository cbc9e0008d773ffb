package oauth

import (
	"context"
	"sync"
)

// Source hands out bearer tokens for one entry. Concurrent callers are
// serialized so an expired token is refreshed once, not once per caller.
type Source struct {
	mgr   *Manager
	store TokenStore
	mu    sync.Mutex
}

// NewSource binds mgr to the token owned by store.
func NewSource(mgr *Manager, store TokenStore) *Source {
	return &Source{mgr: mgr, store: store}
}

// Token returns a valid access token, refreshing and persisting if needed.
// When the store is a TokenLocker the check, refresh and save run under its
// lock, so other processes see either the old pair or the rotated one.
func (s *Source) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.store.(TokenLocker); ok {
		unlock, err := l.LockToken(ctx)
		if err != nil {
			return "", err
		}
		defer unlock()
	}

	return s.mgr.EnsureValid(ctx, s.store)
}
