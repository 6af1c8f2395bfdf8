package results

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"certhub/internal/assets"
	"certhub/internal/metrics"
)

const loadConcurrency = 4

// Cache keeps the raw CSV bytes of the last good fetch per category.
type Cache interface {
	Get(ctx context.Context, categoryID string) ([]byte, error)
	Set(ctx context.Context, categoryID string, data []byte) error
}

// Loader fetches and parses every category table.
type Loader struct {
	fetcher assets.Fetcher
	cache   Cache
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewLoader creates a loader. cache, log and m may be nil.
func NewLoader(fetcher assets.Fetcher, cache Cache, log *zap.Logger, m *metrics.Metrics) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{fetcher: fetcher, cache: cache, log: log, metrics: m, now: time.Now}
}

// LoadAll loads the catalog concurrently. A failing category yields an empty
// table and an entry in Snapshot.Errors; the others are unaffected.
func (l *Loader) LoadAll(ctx context.Context, catalog Catalog) *Snapshot {
	snap := &Snapshot{
		Catalog:  catalog,
		Tables:   make(map[string][]Row, len(catalog)),
		Errors:   map[string]string{},
		LoadedAt: l.now(),
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(loadConcurrency)
	for _, cat := range catalog {
		cat := cat
		g.Go(func() error {
			rows, err := l.loadOne(ctx, cat)
			mu.Lock()
			defer mu.Unlock()
			if rows == nil {
				rows = []Row{}
			}
			snap.Tables[cat.ID] = rows
			if err != nil {
				snap.Errors[cat.ID] = err.Error()
			}
			l.metrics.ResultTable(cat.ID, len(rows), err)
			return nil
		})
	}
	_ = g.Wait()

	l.log.Info("result tables loaded",
		zap.Int("categories", len(catalog)),
		zap.Int("rows", snap.Total()),
		zap.Int("failed", len(snap.Errors)))
	return snap
}

func (l *Loader) loadOne(ctx context.Context, cat Category) ([]Row, error) {
	data, err := l.fetcher.Fetch(ctx, cat.Source)
	if err == nil {
		rows, perr := ParseCSV(cat, data)
		if perr == nil {
			l.store(ctx, cat.ID, data)
			return rows, nil
		}
		err = perr
	}

	l.log.Warn("result table unavailable", zap.String("category", cat.ID), zap.Error(err))
	if rows, ok := l.fromCache(ctx, cat); ok {
		return rows, nil
	}
	return nil, fmt.Errorf("load %s: %w", cat.ID, err)
}

func (l *Loader) store(ctx context.Context, id string, data []byte) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(ctx, id, data); err != nil {
		l.log.Debug("result cache write failed", zap.String("category", id), zap.Error(err))
	}
}

func (l *Loader) fromCache(ctx context.Context, cat Category) ([]Row, bool) {
	if l.cache == nil {
		return nil, false
	}
	data, err := l.cache.Get(ctx, cat.ID)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	rows, err := ParseCSV(cat, data)
	if err != nil {
		return nil, false
	}
	l.log.Info("result table served from cache", zap.String("category", cat.ID), zap.Int("rows", len(rows)))
	return rows, true
}

// RedisCache stores CSV bytes under <prefix><categoryID> with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "certhub:results:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, categoryID string) ([]byte, error) {
	return c.client.Get(ctx, c.prefix+categoryID).Bytes()
}

func (c *RedisCache) Set(ctx context.Context, categoryID string, data []byte) error {
	return c.client.Set(ctx, c.prefix+categoryID, data, c.ttl).Err()
}
