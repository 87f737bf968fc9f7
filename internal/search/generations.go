// Package search discards results of search requests that a newer request from
// the same session has superseded.
package search

import (
	"context"
	"sync"
)

// Token identifies one issued request. Generations are unique across sessions
// so a token never becomes current again. Its context is cancelled once a newer
// request is issued for the same session.
type Token struct {
	Session    string
	Generation uint64
	ctx        context.Context
}

// Context returns the token's context.
func (t Token) Context() context.Context { return t.ctx }

type session struct {
	gen    uint64
	cancel context.CancelFunc
}

// Generations tracks the latest request per session.
type Generations struct {
	mu       sync.Mutex
	next     uint64
	sessions map[string]*session
}

// NewGenerations returns an empty tracker.
func NewGenerations() *Generations {
	return &Generations{sessions: make(map[string]*session)}
}

// Issue starts a new generation for sess, derived from parent, and cancels the
// previous one. The caller must call Release when the request finishes.
func (g *Generations) Issue(parent context.Context, sess string) Token {
	ctx, cancel := context.WithCancel(parent)

	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sess]
	if !ok {
		s = &session{}
		g.sessions[sess] = s
	} else if s.cancel != nil {
		s.cancel()
	}
	g.next++
	s.gen = g.next
	s.cancel = cancel
	return Token{Session: sess, Generation: s.gen, ctx: ctx}
}

// Current reports whether t is still the latest generation of its session.
func (g *Generations) Current(t Token) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[t.Session]
	return ok && s.gen == t.Generation
}

// Release cancels t's context. When t is still current the session is forgotten.
func (g *Generations) Release(t Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[t.Session]
	if !ok || s.gen != t.Generation {
		return
	}
	s.cancel()
	delete(g.sessions, t.Session)
}

// Sessions returns the number of sessions with a request in flight.
func (g *Generations) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}
