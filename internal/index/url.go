package index

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/GriffinCanCode/dismantle/internal/fetch"
	"go.uber.org/zap"
)

// URL is a remote catalog mirrored into the cache directory.
type URL struct {
	base   *url.URL
	cache  *fetch.Cache
	logger *zap.Logger

	mu      sync.RWMutex
	catalog *Catalog
	updated bool
}

// NewURL fetches the catalog at rawURL.
func NewURL(ctx context.Context, rawURL string, opts ...Option) (*URL, error) {
	o := buildOptions(opts)
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}

	name := "index.json"
	if isYAML(base.Path) {
		name = "index.yaml"
	}
	cache := fetch.NewCache(o.client, rawURL, filepath.Join(o.cacheDir, name),
		fetch.WithKind("index"),
		fetch.WithMetrics(o.metrics),
		fetch.WithLogger(o.logger),
	)
	u := &URL{base: base, cache: cache, logger: o.logger}
	if err := u.Update(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

// CachePath returns the local mirror of the catalog.
func (u *URL) CachePath() string { return u.cache.Path }

// Updated reports whether the last Update downloaded a new catalog.
func (u *URL) Updated() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.updated
}

// Update refreshes the mirror and parses it.
func (u *URL) Update(ctx context.Context) error {
	updated, err := u.cache.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch index: %w", err)
	}
	data, err := os.ReadFile(u.cache.Path)
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	c, err := Parse(u.cache.Path, data)
	if err != nil {
		return fmt.Errorf("index %s: %w", u.cache.URL, err)
	}

	u.mu.Lock()
	u.catalog = c
	u.updated = updated
	u.mu.Unlock()
	u.logger.Debug("index loaded",
		zap.String("url", u.cache.URL),
		zap.Bool("updated", updated),
		zap.Int("packages", c.Len()),
	)
	return nil
}

// Outdated asks the server whether the mirror is stale.
func (u *URL) Outdated(ctx context.Context) (bool, error) {
	return u.cache.Outdated(ctx)
}

// Packages returns the entries of the last fetched catalog.
func (u *URL) Packages() []Entry {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.catalog.Packages()
}

// Lookup returns the entry for name.
func (u *URL) Lookup(name string) (Entry, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.catalog.Lookup(name)
}

// Find returns the names containing substr, ignoring case.
func (u *URL) Find(substr string) []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.catalog.Find(substr)
}

// Source resolves relative entry paths against the catalog URL.
func (u *URL) Source(e Entry) string {
	if isURL(e.Path) || filepath.IsAbs(e.Path) {
		return e.Path
	}
	ref, err := url.Parse(e.Path)
	if err != nil {
		return e.Path
	}
	return u.base.ResolveReference(ref).String()
}
