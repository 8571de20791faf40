package usecase

import "sync/atomic"

// SessionGuard is the monotonic token that invalidates stale async completions.
//
// Every interruption and every fresh narration attempt advances the token.
// Async actions capture the value at launch and act only while it is still live.
type SessionGuard struct {
	token atomic.Int64
}

// Next advances the token and returns the new live value.
func (g *SessionGuard) Next() int64 {
	return g.token.Add(1)
}

// Current returns the live token without advancing it.
func (g *SessionGuard) Current() int64 {
	return g.token.Load()
}

// IsCurrent reports whether a captured token is still live.
func (g *SessionGuard) IsCurrent(token int64) bool {
	return g.token.Load() == token
}
