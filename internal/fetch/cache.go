package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GriffinCanCode/dismantle/internal/monitoring"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRemoteUnavailable matches every RemoteUnavailableError.
var ErrRemoteUnavailable = errors.New("remote unavailable")

// RemoteUnavailableError reports a response that was neither 200 nor 304.
type RemoteUnavailableError struct {
	URL  string
	Code int
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote unavailable: %s answered %d", e.URL, e.Code)
}

// Is matches ErrRemoteUnavailable.
func (e *RemoteUnavailableError) Is(target error) bool {
	return target == ErrRemoteUnavailable
}

// Cache is a remote resource mirrored into one local file. Fetch and
// Outdated calls on the same Cache are serialized.
type Cache struct {
	URL  string
	Path string

	mu      sync.Mutex
	kind    string
	client  *Client
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithKind sets the metrics label, "package" by default.
func WithKind(kind string) CacheOption {
	return func(c *Cache) { c.kind = kind }
}

// WithMetrics records every fetch.
func WithMetrics(m *monitoring.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// NewCache pairs rawURL with the local file at path.
func NewCache(client *Client, rawURL, path string, opts ...CacheOption) *Cache {
	c := &Cache{
		URL:    rawURL,
		Path:   path,
		kind:   "package",
		client: client,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Digest returns the hex MD5 of the cached file. A missing file digests as
// empty content.
func (c *Cache) Digest() (string, error) {
	h := md5.New()
	f, err := os.Open(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return hex.EncodeToString(h.Sum(nil)), nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fetch refreshes the cache file and reports whether it was rewritten.
func (c *Cache) Fetch(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	updated, err := c.fetch(ctx)

	result := monitoring.ResultNotModified
	switch {
	case err != nil:
		result = monitoring.ResultError
	case updated:
		result = monitoring.ResultUpdated
	}
	c.metrics.RecordFetch(c.kind, result, time.Since(start))
	return updated, err
}

func (c *Cache) fetch(ctx context.Context) (bool, error) {
	digest, err := c.Digest()
	if err != nil {
		return false, fmt.Errorf("digest cache: %w", err)
	}

	resp, err := c.client.Get(ctx, c.URL, map[string]string{"If-None-Match": digest})
	if err != nil {
		return false, err
	}
	body := resp.RawBody()
	defer body.Close()

	switch resp.StatusCode() {
	case http.StatusNotModified:
		c.logger.Debug("cache current", zap.String("url", c.URL), zap.String("digest", digest))
		return false, nil
	case http.StatusOK:
		if err := c.replace(body); err != nil {
			return false, fmt.Errorf("write cache %s: %w", c.Path, err)
		}
		c.logger.Debug("cache updated", zap.String("url", c.URL), zap.String("path", c.Path))
		return true, nil
	default:
		return false, &RemoteUnavailableError{URL: c.URL, Code: resp.StatusCode()}
	}
}

// Outdated reports whether the remote resource differs from the cache.
func (c *Cache) Outdated(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	digest, err := c.Digest()
	if err != nil {
		return false, fmt.Errorf("digest cache: %w", err)
	}

	resp, err := c.client.Head(ctx, c.URL, map[string]string{"If-None-Match": digest})
	if err != nil {
		return false, err
	}
	resp.RawBody().Close()

	switch resp.StatusCode() {
	case http.StatusOK:
		return true, nil
	case http.StatusNotModified:
		return false, nil
	default:
		return false, &RemoteUnavailableError{URL: c.URL, Code: resp.StatusCode()}
	}
}

// replace streams r into a temp file next to the cache and renames it over
// the cache file.
func (c *Cache) replace(r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%s.tmp", c.Path, uuid.NewString())
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, c.Path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
