// Package gateway resolves brokerage gateways per user from stored,
// sealed credentials.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"copytrading-core/pkg/brokerage"
	"copytrading-core/pkg/crypto"
	"copytrading-core/pkg/db"
)

var (
	ErrNoBrokerageLink = errors.New("gateway: no brokerage account linked")
	ErrLinkInvalid     = errors.New("gateway: brokerage credentials marked invalid")
)

// Factory builds a Gateway from unsealed credentials.
type Factory func(apiKey, apiSecret string, paper bool) brokerage.Gateway

// cached pairs a gateway with bookkeeping for idle eviction.
type cached struct {
	gw       brokerage.Gateway
	lastUsed time.Time
}

// Pool caches one gateway per user. Gateways are cheap but carry rate
// limiters, so reuse matters.
type Pool struct {
	mu       sync.Mutex
	byUser   map[string]*cached
	database *db.Database
	sealer   *crypto.Sealer
	factory  Factory

	// IdleTimeout evicts gateways unused for this long; zero disables eviction.
	IdleTimeout time.Duration
}

// NewPool creates a pool resolving credentials through the database.
func NewPool(database *db.Database, sealer *crypto.Sealer, factory Factory) *Pool {
	return &Pool{
		byUser:      make(map[string]*cached),
		database:    database,
		sealer:      sealer,
		factory:     factory,
		IdleTimeout: 30 * time.Minute,
	}
}

// GatewayFor returns (creating if needed) the user's gateway. A missing or
// invalidated brokerage link is an error; the lifecycle controller relies on
// this to fail bot starts fast.
func (p *Pool) GatewayFor(ctx context.Context, userID string) (brokerage.Gateway, error) {
	p.mu.Lock()
	if c, ok := p.byUser[userID]; ok {
		c.lastUsed = time.Now()
		gw := c.gw
		p.mu.Unlock()
		return gw, nil
	}
	p.mu.Unlock()

	account, err := p.database.GetBrokerageAccount(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoBrokerageLink
	}
	if err != nil {
		return nil, fmt.Errorf("load brokerage account: %w", err)
	}
	if !account.IsActive || !account.IsValid {
		return nil, ErrLinkInvalid
	}

	apiKey, err := p.sealer.Open(account.APIKeySealed)
	if err != nil {
		return nil, fmt.Errorf("unseal api key for user %s: %w", userID, err)
	}
	apiSecret, err := p.sealer.Open(account.APISecretSealed)
	if err != nil {
		return nil, fmt.Errorf("unseal api secret for user %s: %w", userID, err)
	}

	gw := p.factory(apiKey, apiSecret, account.AccountType == "paper")

	p.mu.Lock()
	p.byUser[userID] = &cached{gw: gw, lastUsed: time.Now()}
	p.mu.Unlock()
	return gw, nil
}

// Invalidate drops a cached gateway, forcing re-resolution on next use.
// Called after credential updates and on auth failures.
func (p *Pool) Invalidate(userID string) {
	p.mu.Lock()
	delete(p.byUser, userID)
	p.mu.Unlock()
}

// Start runs the idle eviction loop until ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	if p.IdleTimeout <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(p.IdleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.evictIdle()
			}
		}
	}()
}

func (p *Pool) evictIdle() {
	cutoff := time.Now().Add(-p.IdleTimeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	for userID, c := range p.byUser {
		if c.lastUsed.Before(cutoff) {
			delete(p.byUser, userID)
			log.Printf("gateway: evicted idle gateway for user %s", userID)
		}
	}
}
