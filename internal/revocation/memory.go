package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryList is the single-process revocation list used when no Redis
// address is configured.
type MemoryList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryList() *MemoryList {
	return &MemoryList{entries: map[string]time.Time{}, now: time.Now}
}

func (l *MemoryList) Revoke(_ context.Context, tokenID string, until time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	if _, ok := l.entries[tokenID]; ok {
		return false, nil
	}
	if !until.After(now) {
		return true, nil
	}
	l.entries[tokenID] = until
	return true, nil
}

func (l *MemoryList) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !until.After(l.now()) {
		delete(l.entries, tokenID)
		return false, nil
	}
	return true, nil
}

func (l *MemoryList) sweep(now time.Time) {
	for id, until := range l.entries {
		if !until.After(now) {
			delete(l.entries, id)
		}
	}
}
