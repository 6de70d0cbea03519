// Package session caches authenticated backend clients per target address.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

// LoginFunc authenticates against the target at addr and returns a client
// bound to the issued token.
type LoginFunc[C any] func(ctx context.Context, addr string) (C, error)

// PoolConfig configures a Pool.
type PoolConfig struct {
	Name    string        // backend name used in logs and metrics
	TTL     time.Duration // token validity window
	Clock   clock.Clock
	OnLogin func(backend string, err error)
}

type entry[C any] struct {
	mu       sync.Mutex
	client   C
	acquired time.Time
	ready    bool
}

// Pool hands out clients keyed by target address, logging in again once
// a client's token is older than the TTL. The pool lock only guards the
// map lookup; logins for different targets proceed in parallel and
// concurrent callers for the same target share one login.
type Pool[C any] struct {
	cfg   PoolConfig
	login LoginFunc[C]

	mu      sync.Mutex
	entries map[string]*entry[C]
}

// NewPool creates an empty pool
func NewPool[C any](cfg PoolConfig, login LoginFunc[C]) *Pool[C] {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &Pool[C]{
		cfg:     cfg,
		login:   login,
		entries: make(map[string]*entry[C]),
	}
}

// Get returns a client for addr with a token that is still valid.
func (p *Pool[C]) Get(ctx context.Context, addr string) (C, error) {
	p.mu.Lock()
	e, ok := p.entries[addr]
	if !ok {
		e = &entry[C]{}
		p.entries[addr] = e
	}
	p.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := p.cfg.Clock.Now()
	if e.ready && now.Sub(e.acquired) < p.cfg.TTL {
		return e.client, nil
	}

	client, err := p.login(ctx, addr)
	if p.cfg.OnLogin != nil {
		p.cfg.OnLogin(p.cfg.Name, err)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{"backend": p.cfg.Name, "target": addr}).WithError(err).Error("login failed")
		var zero C
		return zero, err
	}

	e.client = client
	e.acquired = now
	e.ready = true
	return client, nil
}

// Invalidate drops the cached client for addr so the next Get logs in again.
func (p *Pool[C]) Invalidate(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, addr)
}

// Len returns the number of cached targets.
func (p *Pool[C]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
