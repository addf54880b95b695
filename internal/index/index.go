package index

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/dismantle/internal/fetch"
	"github.com/GriffinCanCode/dismantle/internal/monitoring"
	"go.uber.org/zap"
)

var ErrUnsupportedSource = errors.New("unsupported index source")

// Index is a queryable package catalog.
type Index interface {
	// Packages returns every entry in catalog order.
	Packages() []Entry
	Lookup(name string) (Entry, bool)
	Find(substr string) []string
	// Source turns an entry path into something a package handler accepts.
	Source(e Entry) string
	Outdated(ctx context.Context) (bool, error)
	Update(ctx context.Context) error
}

// Option configures an index.
type Option func(*options)

type options struct {
	client   *fetch.Client
	cacheDir string
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// WithClient sets the HTTP client of remote catalogs.
func WithClient(c *fetch.Client) Option {
	return func(o *options) { o.client = c }
}

// WithCacheDir sets where remote catalogs are mirrored.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

// WithLogger sets the index logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records catalog fetches.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = fetch.NewClient(fetch.DefaultSettings())
	}
	if o.cacheDir == "" {
		o.cacheDir = filepath.Join(os.TempDir(), "dismantle")
	}
	return o
}

// Open picks the index kind from source: http(s) URLs are mirrored, anything
// else is read from disk.
func Open(ctx context.Context, source string, opts ...Option) (Index, error) {
	u, err := url.Parse(source)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return NewURL(ctx, source, opts...)
	}
	if err == nil && u.Scheme != "" && u.Scheme != "file" && len(u.Scheme) > 1 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, source)
	}
	return NewFile(source, opts...)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func isURL(path string) bool {
	u, err := url.Parse(path)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "file")
}
