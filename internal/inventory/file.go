package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultSnapshotCacheTTL = 2 * time.Second

	snapshotCacheKey = "snapshot"
)

type FileProviderConfig struct {
	Logger *slog.Logger

	// Path of the inventory JSON file.
	Path string

	// CacheTTL bounds how often the file is re-read; the manager asks for a
	// snapshot every tick.
	CacheTTL time.Duration
}

func (c *FileProviderConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Path == "" {
		return errors.New("inventory path is required")
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaultSnapshotCacheTTL
	}
	return nil
}

// FileProvider reads inventory snapshots from a JSON file, caching the
// parsed snapshot briefly so a 1 s tick cadence does not hit the disk every
// pass.
type FileProvider struct {
	log *slog.Logger
	cfg *FileProviderConfig

	mu    sync.Mutex
	cache *ttlcache.Cache[string, *Snapshot]
}

func NewFileProvider(cfg *FileProviderConfig) (*FileProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Snapshot](cfg.CacheTTL),
	)
	return &FileProvider{
		log:   cfg.Logger,
		cfg:   cfg,
		cache: cache,
	}, nil
}

func (p *FileProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached := p.cache.Get(snapshotCacheKey); cached != nil {
		return cached.Value(), nil
	}

	snap, err := p.load()
	if err != nil {
		return nil, err
	}
	p.cache.Set(snapshotCacheKey, snap, p.cfg.CacheTTL)
	return snap, nil
}

// Invalidate drops the cached snapshot so the next Snapshot call re-reads
// the file.
func (p *FileProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Delete(snapshotCacheKey)
}

func (p *FileProvider) load() (*Snapshot, error) {
	data, err := os.ReadFile(p.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("error reading inventory file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("error parsing inventory file: %w", err)
	}
	if len(snap.MetricDefinitions) == 0 {
		snap.MetricDefinitions = DefaultMetricDefinitions()
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}
	p.log.Debug("inventory: loaded snapshot",
		"groups", len(snap.Groups),
		"nodes", len(snap.Nodes),
		"bindings", len(snap.NodeMetrics),
	)
	return &snap, nil
}
