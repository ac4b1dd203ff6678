// Package session keeps a client's credentials fresh: one rotation per burst
// of expired-access failures, shared by every waiter.
package session

import "sync"

// Tokens is the credential pair a client holds.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Jar stores the client's current credentials.
type Jar interface {
	Tokens() (Tokens, bool)
	Store(Tokens)
	Clear()
}

type MemoryJar struct {
	mu     sync.RWMutex
	tokens Tokens
	set    bool
}

func NewMemoryJar(initial Tokens) *MemoryJar {
	jar := &MemoryJar{}
	if initial.AccessToken != "" || initial.RefreshToken != "" {
		jar.Store(initial)
	}
	return jar
}

func (j *MemoryJar) Tokens() (Tokens, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.tokens, j.set
}

func (j *MemoryJar) Store(tokens Tokens) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tokens = tokens
	j.set = true
}

func (j *MemoryJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tokens = Tokens{}
	j.set = false
}
