// Package gateconfig serves gate configuration snapshots to the attendance recorder.
package gateconfig

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/kozaktomas/gate-attendance/internal/logger"
	"github.com/patrickmn/go-cache"
)

const snapshotKey = "gate_configuration"

// DefaultTTL is how long a snapshot is reused before the store is read again.
const DefaultTTL = 30 * time.Second

// Provider caches the gate configuration for a short TTL. When the store cannot be read the
// last known snapshot keeps being served.
type Provider struct {
	store database.SettingsReader
	cache *cache.Cache
	log   *logger.Logger

	mu        sync.Mutex
	lastKnown *database.GateConfiguration
}

// NewProvider creates a provider over store. ttl <= 0 selects DefaultTTL.
func NewProvider(store database.SettingsReader, ttl time.Duration, log *logger.Logger) *Provider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Provider{
		store: store,
		// No cleanup interval: there is a single key and expiry is checked on read.
		cache: cache.New(ttl, 0),
		log:   log.With("component", "gateconfig"),
	}
}

// Snapshot returns the current configuration. The returned value is a copy and may be
// retained by the caller for the duration of one decision.
func (p *Provider) Snapshot(ctx context.Context) (database.GateConfiguration, error) {
	if v, ok := p.cache.Get(snapshotKey); ok {
		return v.(database.GateConfiguration), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if v, ok := p.cache.Get(snapshotKey); ok {
		return v.(database.GateConfiguration), nil
	}

	cfg, err := p.store.GetConfiguration(ctx)
	if err != nil || cfg == nil {
		if err == nil {
			err = fmt.Errorf("gate configuration not found")
		}
		if p.lastKnown != nil {
			p.log.Warn("failed to read gate configuration, using last known snapshot", "error", err)
			return *p.lastKnown, nil
		}
		return database.GateConfiguration{}, fmt.Errorf("read gate configuration: %w", err)
	}

	snapshot := *cfg
	if snapshot.Mode != database.GateModeOpen {
		snapshot.Mode = database.GateModeClosed
	}
	p.lastKnown = &snapshot
	p.cache.SetDefault(snapshotKey, snapshot)
	return snapshot, nil
}

// Invalidate drops the cached snapshot so the next call reads the store.
func (p *Provider) Invalidate() {
	p.cache.Delete(snapshotKey)
}
