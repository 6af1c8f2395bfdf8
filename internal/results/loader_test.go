package results

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certhub/internal/assets"
	"certhub/internal/metrics"
)

type mapFetcher struct {
	mu    sync.Mutex
	files map[string]string
	calls int
}

func (f *mapFetcher) Fetch(_ context.Context, source string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	body, ok := f.files[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s returned 404 Not Found", assets.ErrUnavailable, source)
	}
	return []byte(body), nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) Get(_ context.Context, id string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[id]
	if !ok {
		return nil, errors.New("miss")
	}
	return b, nil
}

func (c *mapCache) Set(_ context.Context, id string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = data
	return nil
}

func catalogFiles(skip ...string) map[string]string {
	files := map[string]string{}
	for _, id := range DefaultCatalog("").IDs() {
		files["/"+id+".csv"] = "Team Name,Team Leader Name\n" + strings.ToLower(id) + " team,Lead " + id + "\n"
	}
	for _, id := range skip {
		delete(files, "/"+id+".csv")
	}
	return files
}

func TestLoadAll_IsolatesFailingCategory(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	f := &mapFetcher{files: catalogFiles("TH02")}
	l := NewLoader(f, nil, nil, m)

	snap := l.LoadAll(context.Background(), DefaultCatalog(""))

	for _, id := range []string{"TH01", "TH03", "TH04", "TH05"} {
		assert.Len(t, snap.Rows(id), 1, id)
	}
	rows, ok := snap.Tables["TH02"]
	require.True(t, ok)
	assert.Empty(t, rows)
	assert.Contains(t, snap.Errors["TH02"], "404")
	assert.Len(t, snap.Errors, 1)
	assert.Equal(t, 4, snap.Total())
	assert.Equal(t, 5, f.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultLoadErrs.WithLabelValues("TH02")))

	sum := snap.Summaries()
	require.Len(t, sum, 5)
	assert.Equal(t, Summary{ID: "TH02", Name: "HealthTech", Rows: 0, Error: snap.Errors["TH02"]}, sum[1])
}

func TestLoadAll_FallsBackToCache(t *testing.T) {
	cache := &mapCache{data: map[string][]byte{}}
	f := &mapFetcher{files: catalogFiles()}
	l := NewLoader(f, cache, nil, nil)

	first := l.LoadAll(context.Background(), DefaultCatalog(""))
	require.Empty(t, first.Errors)
	assert.Len(t, cache.data, 5)

	delete(f.files, "/TH04.csv")
	second := l.LoadAll(context.Background(), DefaultCatalog(""))
	assert.Empty(t, second.Errors)
	require.Len(t, second.Rows("TH04"), 1)
	assert.Equal(t, "th04 team", second.Rows("TH04")[0].TeamName)
}

func TestHolderReloadSwapsSnapshot(t *testing.T) {
	f := &mapFetcher{files: catalogFiles("TH01")}
	cat := DefaultCatalog("")
	l := NewLoader(f, nil, nil, nil)
	h := NewHolder(l, cat, l.LoadAll(context.Background(), cat))

	before := h.Current()
	assert.Empty(t, before.Rows("TH01"))

	f.files["/TH01.csv"] = "Team,Leader\nnew team,Someone\n"
	after := h.Reload(context.Background())

	assert.Same(t, after, h.Current())
	assert.Len(t, after.Rows("TH01"), 1)
	assert.Empty(t, before.Rows("TH01"), "old snapshot must stay unchanged")
}

func TestNewHolderWithoutInitial(t *testing.T) {
	h := NewHolder(NewLoader(&mapFetcher{}, nil, nil, nil), DefaultCatalog(""), nil)
	require.NotNil(t, h.Current())
	assert.Zero(t, h.Current().Total())
}
