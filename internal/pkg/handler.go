package pkg

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/GriffinCanCode/dismantle/internal/fetch"
	"github.com/GriffinCanCode/dismantle/internal/format"
	"github.com/GriffinCanCode/dismantle/internal/monitoring"
	"go.uber.org/zap"
)

// Handler is the lifecycle contract shared by Local and HTTP.
type Handler interface {
	Kind() string
	Name() string
	Source() string
	Path() string
	Installed() bool
	Version() string
	Meta(key string) (any, bool)
	Metadata() map[string]any

	// Install materializes the package at dest. An empty dest installs a
	// local package in place. A non-empty version becomes the known version.
	Install(ctx context.Context, dest, version string) error
	Uninstall()
	Verify(digest string) (bool, error)
	Adopt(dest string) error
	Outdated(ctx context.Context) (bool, error)
}

// Option configures a handler.
type Option func(*options)

type options struct {
	formats  []format.Format
	meta     map[string]any
	cacheDir string
	client   *fetch.Client
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// WithFormats sets the candidate formats, tried in order.
func WithFormats(formats ...format.Format) Option {
	return func(o *options) { o.formats = formats }
}

// WithMetadata seeds the metadata map, typically with the catalog entry.
func WithMetadata(meta map[string]any) Option {
	return func(o *options) { o.meta = meta }
}

// WithCacheDir sets the cache root of remote packages.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

// WithClient sets the transport of remote packages.
func WithClient(c *fetch.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records installs, uninstalls and fetches.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option, defaults ...format.Format) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.formats == nil {
		o.formats = defaults
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// GraspsHTTP reports whether src is an http or https URL.
func GraspsHTTP(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// GraspsLocal reports whether src exists on the local filesystem.
func GraspsLocal(src string) bool {
	if GraspsHTTP(src) {
		return false
	}
	_, err := os.Stat(format.StripScheme(src))
	return err == nil
}

// New picks the handler that grasps src.
func New(name, src string, opts ...Option) (Handler, error) {
	switch {
	case GraspsHTTP(src):
		return NewHTTP(name, src, opts...)
	case GraspsLocal(src):
		return NewLocal(name, src, opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrSourceFormatUnrecognized, src)
	}
}

// Local handles a package source on the local filesystem.
type Local struct {
	Package
	format format.Format
}

// NewLocal creates a local handler. It fails when no candidate format
// grasps src.
func NewLocal(name, src string, opts ...Option) (*Local, error) {
	o := buildOptions(opts, format.NewDirectory())
	src = format.StripScheme(src)

	f, err := format.Resolve(src, o.formats...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFormatUnrecognized, err)
	}
	p, err := newPackage(name, src, o)
	if err != nil {
		return nil, err
	}
	return &Local{Package: p, format: f}, nil
}

// Kind returns the handler kind
func (l *Local) Kind() string { return "local" }

// Install extracts the source into dest, or installs in place when dest is
// empty. Local packages carry no version control, so version is ignored.
func (l *Local) Install(ctx context.Context, dest, _ string) error {
	dest = format.StripScheme(dest)
	if dest == "" {
		dest = l.src
	}
	if err := l.install(ctx, dest); err != nil {
		l.metrics.RecordInstall(l.Kind(), monitoring.ResultError)
		return err
	}
	l.metrics.RecordInstall(l.Kind(), monitoring.ResultInstalled)
	return nil
}

func (l *Local) install(ctx context.Context, dest string) error {
	if err := l.format.Extract(ctx, l.src, dest); err != nil {
		return fmt.Errorf("install %s: %w", l.name, err)
	}
	meta, err := loadDescriptor(dest, l.name)
	if err != nil {
		return fmt.Errorf("install %s: %w", l.name, err)
	}
	l.commit(dest, meta)
	l.logger.Debug("installed", zap.String("path", dest), zap.String("format", l.format.Name()))
	return nil
}

// Outdated is always false, a local source is its own latest copy.
func (l *Local) Outdated(context.Context) (bool, error) {
	return false, nil
}

// HTTP handles a package served over http or https.
type HTTP struct {
	Package
	format  format.Format
	cache   *fetch.Cache
	updated bool
}

// NewHTTP creates a remote handler. The cache file is named after the
// package with the full suffix of the URL path, so a scoped name gets its
// own scope directory under the cache root.
func NewHTTP(name, src string, opts ...Option) (*HTTP, error) {
	o := buildOptions(opts, format.NewZip())
	if !GraspsHTTP(src) {
		return nil, fmt.Errorf("%w: %s is not an http url", ErrSourceFormatUnrecognized, src)
	}
	u, err := url.Parse(src)
	if err != nil {
		return nil, err
	}

	f, err := format.Resolve(u.Path, archiveFormats(o.formats)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFormatUnrecognized, err)
	}
	p, err := newPackage(name, src, o)
	if err != nil {
		return nil, err
	}

	cacheDir := o.cacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "dismantle")
	}
	client := o.client
	if client == nil {
		client = fetch.NewClient(fetch.DefaultSettings())
	}
	cachePath := filepath.Join(cacheDir, filepath.FromSlash(name)+format.FullSuffix(u.Path))

	return &HTTP{
		Package: p,
		format:  f,
		cache: fetch.NewCache(client, src, cachePath,
			fetch.WithKind("package"),
			fetch.WithMetrics(o.metrics),
			fetch.WithLogger(p.logger)),
	}, nil
}

// archiveFormats drops the directory format. A URL path is never a local
// directory, even when the same path exists on this machine.
func archiveFormats(formats []format.Format) []format.Format {
	out := make([]format.Format, 0, len(formats))
	for _, f := range formats {
		if _, dir := f.(*format.Directory); !dir {
			out = append(out, f)
		}
	}
	return out
}

// Kind returns the handler kind
func (h *HTTP) Kind() string { return "http" }

// CachePath returns the local mirror of the remote archive.
func (h *HTTP) CachePath() string { return h.cache.Path }

// Updated reports whether the last install rewrote the cache.
func (h *HTTP) Updated() bool { return h.updated }

// Install fetches and extracts the package into dest. When dest already
// holds the known version the network is not touched.
func (h *HTTP) Install(ctx context.Context, dest, version string) error {
	dest = format.StripScheme(dest)
	if dest == "" {
		return fmt.Errorf("install %s: destination required for remote packages", h.name)
	}
	if version != "" {
		h.meta["version"] = version
	}
	h.updated = false

	if meta, ok := h.current(dest); ok {
		h.commit(dest, meta)
		h.logger.Debug("version already installed, skipping fetch",
			zap.String("path", dest), zap.String("version", h.Version()))
		h.metrics.RecordInstall(h.Kind(), monitoring.ResultSkipped)
		return nil
	}

	if err := h.install(ctx, dest); err != nil {
		h.metrics.RecordInstall(h.Kind(), monitoring.ResultError)
		return err
	}
	h.metrics.RecordInstall(h.Kind(), monitoring.ResultInstalled)
	return nil
}

// current returns the descriptor at dest when it matches the known
// version. Any failure to read it means a fetch is needed.
func (h *HTTP) current(dest string) (map[string]any, bool) {
	known := h.Version()
	if known == "" {
		return nil, false
	}
	meta, err := loadDescriptor(dest, h.name)
	if err != nil {
		h.logger.Debug("existing install unusable", zap.String("path", dest), zap.Error(err))
		return nil, false
	}
	existing, _ := meta["version"].(string)
	if !SameVersion(existing, known) {
		return nil, false
	}
	return meta, true
}

func (h *HTTP) install(ctx context.Context, dest string) error {
	updated, err := h.cache.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("install %s: %w", h.name, err)
	}
	h.updated = updated

	if err := h.format.Extract(ctx, h.cache.Path, dest); err != nil {
		return fmt.Errorf("install %s: %w", h.name, err)
	}
	meta, err := loadDescriptor(dest, h.name)
	if err != nil {
		return fmt.Errorf("install %s: %w", h.name, err)
	}
	h.commit(dest, meta)
	h.logger.Debug("installed",
		zap.String("path", dest),
		zap.String("format", h.format.Name()),
		zap.Bool("updated", updated))
	return nil
}

// Outdated asks the server whether the cached archive is stale, without
// touching the cache.
func (h *HTTP) Outdated(ctx context.Context) (bool, error) {
	return h.cache.Outdated(ctx)
}
