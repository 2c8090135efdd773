package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/models"
)

const resultCacheTTL = 30 * time.Second

// Manager owns the search index and caches query results. A Manager built
// with search disabled accepts index updates as no-ops and refuses queries.
type Manager struct {
	config config.SearchConfig
	logger *zap.Logger

	mu          sync.RWMutex
	index       *Index
	cache       *gocache.Cache
	lastRebuild time.Time
}

// NewManager opens the configured index.
func NewManager(cfg config.SearchConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		config: cfg,
		logger: logging.OrNop(logger),
		cache:  gocache.New(resultCacheTTL, 2*resultCacheTTL),
	}

	if cfg.Enabled {
		index, err := OpenIndex(cfg.IndexPath)
		if err != nil {
			return nil, errors.E(errors.Op("search.NewManager"), errors.KindSearch, err)
		}
		m.index = index
	}

	return m, nil
}

// NewMemManager returns an enabled manager over an in-memory index.
func NewMemManager(logger *zap.Logger) (*Manager, error) {
	return NewManager(config.SearchConfig{Enabled: true}, logger)
}

// Enabled reports whether the manager has an index.
func (m *Manager) Enabled() bool {
	return m.index != nil
}

// Search runs a query against the index.
func (m *Manager) Search(queryStr string, opts Options) (*Result, error) {
	const op errors.Op = "search.Manager.Search"

	if !m.Enabled() {
		return nil, errors.E(op, errors.KindSearch, "search is not enabled")
	}
	if opts.Limit <= 0 {
		opts.Limit = m.config.DefaultLimit
	}

	key := m.cacheKey(queryStr, opts)
	if !opts.NoCache {
		if cached, ok := m.cache.Get(key); ok {
			return cached.(*Result), nil
		}
	}

	result, err := m.index.Search(queryStr, opts)
	if err != nil {
		return nil, errors.E(op, errors.KindSearch, err)
	}

	if !opts.NoCache {
		m.cache.SetDefault(key, result)
	}
	return result, nil
}

// IndexProject adds or replaces a project.
func (m *Manager) IndexProject(p *models.Project) error {
	if !m.Enabled() {
		return nil
	}
	defer m.cache.Flush()
	return m.index.IndexProject(p)
}

// IndexSample adds or replaces a sample.
func (m *Manager) IndexSample(s *models.Sample) error {
	if !m.Enabled() {
		return nil
	}
	defer m.cache.Flush()
	return m.index.IndexSample(s)
}

// DeleteProject removes a project.
func (m *Manager) DeleteProject(id int64) error {
	if !m.Enabled() {
		return nil
	}
	defer m.cache.Flush()
	return m.index.DeleteProject(id)
}

// DeleteSample removes a sample.
func (m *Manager) DeleteSample(id int64) error {
	if !m.Enabled() {
		return nil
	}
	defer m.cache.Flush()
	return m.index.DeleteSample(id)
}

// RebuildIndex reindexes every project and sample in src.
func (m *Manager) RebuildIndex(ctx context.Context, src Source) (*RebuildStats, error) {
	const op errors.Op = "search.Manager.RebuildIndex"

	if !m.Enabled() {
		return nil, errors.E(op, errors.KindSearch, "search is not enabled")
	}
	defer m.cache.Flush()

	stats, err := Rebuild(ctx, m.index, src)
	if err != nil {
		return stats, errors.E(op, errors.KindSearch, err)
	}

	m.mu.Lock()
	m.lastRebuild = time.Now()
	m.mu.Unlock()

	m.logger.Info("search index rebuilt",
		zap.Int("projects", stats.Projects),
		zap.Int("samples", stats.Samples),
		zap.Duration("took", stats.Duration))
	return stats, nil
}

// GetStats returns search index statistics
func (m *Manager) GetStats() (*IndexStats, error) {
	if !m.Enabled() {
		return &IndexStats{}, nil
	}

	count, err := m.index.GetDocCount()
	if err != nil {
		return nil, errors.E(errors.Op("search.Manager.GetStats"), errors.KindSearch, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return &IndexStats{
		DocumentCount: count,
		Path:          m.index.Path(),
		LastRebuild:   m.lastRebuild,
		IsHealthy:     true,
	}, nil
}

// Close closes the index.
func (m *Manager) Close() error {
	if m.index != nil {
		return m.index.Close()
	}
	return nil
}

// cacheKey generates a cache key for a search query
func (m *Manager) cacheKey(query string, opts Options) string {
	return fmt.Sprintf("%s:%+v", query, opts)
}
