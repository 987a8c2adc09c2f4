// Package identity tracks whether the client is signed in and gates
// persistence and export on it.
package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// State is the resolution state of the current identity.
type State string

const (
	StateUnresolved State = "unresolved"
	StateAnonymous  State = "anonymous"
	StateIdentified State = "identified"
)

// Identity is a snapshot of who the client is acting as.
type Identity struct {
	State State  `json:"state"`
	Label string `json:"label,omitempty"`
}

// Identified reports whether persistence may reach the remote store.
// Unresolved behaves as anonymous.
func (i Identity) Identified() bool {
	return i.State == StateIdentified
}

// Resolver talks to the remote session endpoint.
type Resolver interface {
	// Me returns the signed-in label (email), or "" when anonymous.
	Me(ctx context.Context) (string, error)
	// Logout asks the remote side to invalidate the session.
	Logout(ctx context.Context) error
}

// Gate is the shared identity context handed to the orchestrator and the
// history cache. Only the gate mutates identity; everyone else reads it or
// subscribes to changes.
type Gate struct {
	resolver Resolver
	loginURL string
	log      *logrus.Logger

	// notifyMu orders each state change with its callbacks so watchers
	// observe transitions in the order they were applied.
	notifyMu sync.Mutex

	mu       sync.RWMutex
	current  Identity
	seq      uint64
	watchers []func(Identity)
}

// NewGate creates an unresolved gate.
func NewGate(resolver Resolver, loginURL string, log *logrus.Logger) *Gate {
	return &Gate{
		resolver: resolver,
		loginURL: loginURL,
		log:      log,
		current:  Identity{State: StateUnresolved},
	}
}

// Current returns the current identity.
func (g *Gate) Current() Identity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// Identified reports whether the current identity is resolved and identified.
func (g *Gate) Identified() bool {
	return g.Current().Identified()
}

// LoginURL is the external authorization flow. The gate hands off to it and
// does not observe its completion; identity is re-resolved on the next Resolve.
func (g *Gate) LoginURL() string {
	return g.loginURL
}

// Subscribe registers fn to be called after every identity transition.
// Callbacks run synchronously on the goroutine that made the transition.
func (g *Gate) Subscribe(fn func(Identity)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.watchers = append(g.watchers, fn)
}

// Resolve queries the remote session endpoint. Any failure resolves to
// anonymous. A resolve that completes after a later Resolve or Logout started
// is discarded.
func (g *Gate) Resolve(ctx context.Context) Identity {
	g.mu.Lock()
	g.seq++
	token := g.seq
	g.mu.Unlock()

	next := Identity{State: StateAnonymous}
	label, err := g.resolver.Me(ctx)
	if err != nil {
		g.log.WithError(err).WithField("op", "resolve_identity").Warn("identity resolution failed; continuing anonymously")
	} else if label = strings.TrimSpace(label); label != "" {
		next = Identity{State: StateIdentified, Label: label}
	}

	if !g.transition(next, token) {
		g.log.WithField("op", "resolve_identity").Debug("discarding superseded identity resolution")
		return g.Current()
	}
	return next
}

// Logout requests remote invalidation, then transitions to anonymous no
// matter how the remote call went.
func (g *Gate) Logout(ctx context.Context) {
	g.mu.Lock()
	g.seq++
	g.mu.Unlock()

	if err := g.resolver.Logout(ctx); err != nil {
		g.log.WithError(err).WithField("op", "logout").Warn("remote logout failed; signing out locally")
	}
	g.transition(Identity{State: StateAnonymous}, 0)
}

// transition applies next unless token is non-zero and no longer the latest
// request. The check and the assignment happen under one lock; watchers run
// after it is released.
func (g *Gate) transition(next Identity, token uint64) bool {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	g.mu.Lock()
	if token != 0 && token != g.seq {
		g.mu.Unlock()
		return false
	}
	g.current = next
	watchers := make([]func(Identity), len(g.watchers))
	copy(watchers, g.watchers)
	g.mu.Unlock()

	g.log.WithFields(logrus.Fields{"op": "identity", "state": next.State}).Debug("identity changed")
	for _, fn := range watchers {
		fn(next)
	}
	return true
}
