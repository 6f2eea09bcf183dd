package oracle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vault-engine/internal/logging"
)

// Pool manages RPC endpoints with failover. Strategy: stick to the
// current endpoint until it fails, then rotate to the next one that is
// out of cooldown.
type Pool struct {
	endpoints    []string
	clients      []*ethclient.Client
	currentIndex int
	mu           sync.RWMutex
	cooldowns    map[int]time.Time
	cooldownTime time.Duration
}

// PoolConfig holds configuration for creating an RPC pool
type PoolConfig struct {
	// Endpoints is an ordered list of RPC URLs, primary first
	Endpoints []string
	// CooldownTime is how long a failed endpoint sits out before it is
	// eligible again. Default: 60 seconds.
	CooldownTime time.Duration
}

// NewPool creates a new RPC pool. Only the primary endpoint is dialed
// eagerly; the rest connect lazily on first failover.
func NewPool(cfg *PoolConfig) (*Pool, error) {
	if cfg == nil || len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}

	cooldownTime := cfg.CooldownTime
	if cooldownTime == 0 {
		cooldownTime = 60 * time.Second
	}

	pool := &Pool{
		endpoints:    cfg.Endpoints,
		clients:      make([]*ethclient.Client, len(cfg.Endpoints)),
		cooldowns:    make(map[int]time.Time),
		cooldownTime: cooldownTime,
	}

	client, err := ethclient.Dial(cfg.Endpoints[0])
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary RPC endpoint: %w", err)
	}
	pool.clients[0] = client

	logging.WithField("endpoints", len(cfg.Endpoints)).Info("RPC pool initialized")

	return pool, nil
}

// NewPoolFromURLs creates an RPC pool from a primary and an optional
// secondary URL. Empty URLs are skipped.
func NewPoolFromURLs(urls ...string) (*Pool, error) {
	var endpoints []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u != "" {
			endpoints = append(endpoints, u)
		}
	}
	return NewPool(&PoolConfig{Endpoints: endpoints})
}

// Client returns the currently active client
func (p *Pool) Client() *ethclient.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clients[p.currentIndex]
}

// CurrentURL returns the currently active RPC URL
func (p *Pool) CurrentURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endpoints[p.currentIndex]
}

// Failover marks the current endpoint failed and rotates to the next
// endpoint that is out of cooldown. Returns an error if every endpoint
// is cooling down.
func (p *Pool) Failover() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cooldowns[p.currentIndex] = time.Now()
	startIndex := p.currentIndex

	for i := 0; i < len(p.endpoints); i++ {
		nextIndex := (p.currentIndex + 1 + i) % len(p.endpoints)

		if markedAt, exists := p.cooldowns[nextIndex]; exists {
			if time.Since(markedAt) < p.cooldownTime {
				continue
			}
			delete(p.cooldowns, nextIndex)
		}

		if err := p.switchToEndpoint(nextIndex); err != nil {
			logging.WithError(err).Warnf("Failed to switch to RPC endpoint %d", nextIndex)
			continue
		}

		logging.Infof("Switched from RPC endpoint %d to endpoint %d", startIndex, nextIndex)
		return nil
	}

	return fmt.Errorf("all %d RPC endpoints are cooling down", len(p.endpoints))
}

// switchToEndpoint switches to a specific endpoint (caller holds the lock)
func (p *Pool) switchToEndpoint(index int) error {
	if p.clients[index] == nil {
		client, err := ethclient.Dial(p.endpoints[index])
		if err != nil {
			return fmt.Errorf("failed to connect to endpoint %d: %w", index, err)
		}
		p.clients[index] = client
	}
	p.currentIndex = index
	return nil
}

// TryResetToPrimary switches back to the primary endpoint if its
// cooldown has expired. Call periodically to prefer the primary.
func (p *Pool) TryResetToPrimary() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentIndex == 0 {
		return true
	}

	if markedAt, exists := p.cooldowns[0]; exists {
		if time.Since(markedAt) < p.cooldownTime {
			return false
		}
		delete(p.cooldowns, 0)
	}

	if err := p.switchToEndpoint(0); err != nil {
		return false
	}

	logging.Info("Reset to primary RPC endpoint")
	return true
}

// Close closes all client connections
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, client := range p.clients {
		if client != nil {
			client.Close()
			p.clients[i] = nil
		}
	}
}
