package identity

import (
	"fmt"
	"sync"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/marque-dev/marque/internal/logger"
)

// Change notifies subscribers that the resolved user transitioned.
// User is empty when the session ended (signed out).
type Change struct {
	User string
}

// Gate resolves and holds the current user identifier. It performs
// no storage calls; consumers react to its change notifications.
//
// Until Resolve has run, identity is "unknown" (distinct from
// "none") and callers must not render or reconcile.
type Gate struct {
	secret []byte
	log    logger.Logger

	mu       sync.RWMutex
	resolved bool
	user     string
	nextID   int
	subs     map[int]func(Change)
}

// NewGate creates a gate verifying session tokens with the given
// HS256 secret.
func NewGate(secret []byte, log logger.Logger) *Gate {
	return &Gate{
		secret: secret,
		log:    log,
		subs:   make(map[int]func(Change)),
	}
}

// Resolve completes the initial identity resolution. An empty or
// invalid bootstrap token resolves to "none"; a valid token
// resolves to that user. Either way the gate ends up resolved.
// Call once at startup.
func (g *Gate) Resolve(bootstrapToken string) error {
	var err error
	if bootstrapToken != "" {
		if err = g.SignIn(bootstrapToken); err == nil {
			return nil
		}
	}

	g.mu.Lock()
	g.resolved = true
	g.mu.Unlock()
	g.log.Info("identity resolved, no active user")
	return err
}

// Resolved reports whether initial resolution has completed.
func (g *Gate) Resolved() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.resolved
}

// Current returns the active user identifier, ok=false when signed
// out (or not yet resolved).
func (g *Gate) Current() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.user, g.user != ""
}

// SignIn verifies the token and makes its subject the active user.
// A Some(a)→Some(b) transition notifies like any other.
func (g *Gate) SignIn(token string) error {
	user, err := g.verify(token)
	if err != nil {
		g.log.Warn("sign-in rejected", logger.Error(err))
		return err
	}

	g.mu.Lock()
	g.resolved = true
	changed := g.user != user
	g.user = user
	g.mu.Unlock()

	if changed {
		g.log.Info("user signed in", logger.String("user", user))
		g.notify(Change{User: user})
	}
	return nil
}

// SignOut clears the active user.
func (g *Gate) SignOut() {
	g.mu.Lock()
	changed := g.user != ""
	user := g.user
	g.user = ""
	g.resolved = true
	g.mu.Unlock()

	if changed {
		g.log.Info("user signed out", logger.String("user", user))
		g.notify(Change{})
	}
}

// OnChange registers fn for every identity transition and returns
// an unsubscribe func. fn must return quickly; it runs on the
// caller of SignIn/SignOut.
func (g *Gate) OnChange(fn func(Change)) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.subs[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}

func (g *Gate) notify(c Change) {
	g.mu.RLock()
	fns := make([]func(Change), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// verify parses and validates the token, returning its subject.
func (g *Gate) verify(token string) (string, error) {
	parsed, err := gojwt.Parse(token, func(t *gojwt.Token) (interface{}, error) {
		return g.secret, nil
	}, gojwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("invalid session token: %w", err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("session token has no subject")
	}
	return sub, nil
}
