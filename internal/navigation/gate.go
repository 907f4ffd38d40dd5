// Package navigation selects the active screen subtree from session state.
package navigation

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/healthbridge/portal-session/internal/core/domain"
	"github.com/healthbridge/portal-session/internal/core/ports"
)

// Route names a navigation subtree.
type Route string

const (
	RouteSplash          Route = "splash"
	RouteUnauthenticated Route = "unauthenticated"
	RoutePatient         Route = "patient"
	RouteDoctor          Route = "doctor"
)

// Select maps a session snapshot to its subtree. Authenticated users with an
// unrecognised role are sent back to sign-in.
func Select(s domain.Session) Route {
	if s.Status == domain.StatusInitializing {
		return RouteSplash
	}
	if !s.IsAuthenticated() {
		return RouteUnauthenticated
	}
	switch s.Role() {
	case domain.RolePatient:
		return RoutePatient
	case domain.RoleDoctor:
		return RouteDoctor
	default:
		return RouteUnauthenticated
	}
}

// Allows reports whether the session may enter a screen restricted to the
// given roles.
func Allows(s domain.Session, roles ...domain.Role) bool {
	if !s.IsAuthenticated() {
		return false
	}
	role := s.Role()
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Gate re-selects the route synchronously on every session notification and
// reports changes to onChange.
type Gate struct {
	source   ports.SessionSource
	onChange func(from, to Route)
	log      zerolog.Logger

	mu      sync.Mutex
	current Route
	cancel  func()
}

// NewGate returns a Gate over source. onChange may be nil.
func NewGate(source ports.SessionSource, onChange func(from, to Route), log zerolog.Logger) *Gate {
	return &Gate{
		source:   source,
		onChange: onChange,
		log:      log,
	}
}

// Start subscribes to the source and selects the initial route. The route is
// read after subscribing so a transition landing in between is not missed.
func (g *Gate) Start() Route {
	g.mu.Lock()
	started := g.cancel != nil
	cur := g.current
	g.mu.Unlock()
	if started {
		return cur
	}

	cancel := g.source.Subscribe(g.apply)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		// lost a race with a concurrent Start
		cancel()
		return g.current
	}
	g.cancel = cancel
	g.current = Select(g.source.Snapshot())
	return g.current
}

// Stop unsubscribes. The last selected route stays readable.
func (g *Gate) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Current returns the active route.
func (g *Gate) Current() Route {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *Gate) apply(s domain.Session) {
	next := Select(s)

	g.mu.Lock()
	prev := g.current
	g.current = next
	g.mu.Unlock()

	if prev == next {
		return
	}
	g.log.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("route changed")
	if g.onChange != nil {
		g.onChange(prev, next)
	}
}
