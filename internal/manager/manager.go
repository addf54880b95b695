package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/GriffinCanCode/dismantle/internal/config"
	"github.com/GriffinCanCode/dismantle/internal/extension"
	"github.com/GriffinCanCode/dismantle/internal/fetch"
	"github.com/GriffinCanCode/dismantle/internal/format"
	"github.com/GriffinCanCode/dismantle/internal/hook"
	"github.com/GriffinCanCode/dismantle/internal/index"
	"github.com/GriffinCanCode/dismantle/internal/monitoring"
	"github.com/GriffinCanCode/dismantle/internal/pkg"
	"go.uber.org/zap"
)

// Operation names the manager registers.
const (
	OpInstall   = "install"
	OpUninstall = "uninstall"
	OpDiscover  = "discover"
)

// Namespace is handed to every extension registry the manager builds.
const Namespace = "dismantle"

var (
	ErrNoIndex        = errors.New("no index configured")
	ErrNoInstallDir   = errors.New("remote packages need an install directory")
	ErrNoCapabilities = errors.New("no capabilities configured")
)

// Manager installs catalog packages and discovers their extensions.
type Manager struct {
	cfg     config.Config
	index   index.Index
	hooks   *hook.Registry
	client  *fetch.Client
	formats []format.Format
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithIndex uses idx instead of opening the configured index source.
func WithIndex(idx index.Index) Option {
	return func(m *Manager) { m.index = idx }
}

// WithHooks registers the manager's operations in r.
func WithHooks(r *hook.Registry) Option {
	return func(m *Manager) { m.hooks = r }
}

// WithClient replaces the HTTP client built from the fetch settings.
func WithClient(c *fetch.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithLogger sets the logger passed down to handlers, the index and the registry.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records installs, fetches and discovery.
func WithMetrics(mt *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// New creates a manager. The configured index source is opened unless an
// index is injected; an empty source leaves the manager without one.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Manager, error) {
	m := &Manager{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}

	policy, err := format.ParsePolicy(cfg.Format.DestinationPolicy)
	if err != nil {
		return nil, err
	}
	m.formats = format.All(format.WithPolicy(policy))

	if m.client == nil {
		m.client = fetch.NewClient(fetch.Settings{
			Retries:          cfg.Fetch.Retries,
			RetryWaitMin:     cfg.Fetch.RetryWaitMin,
			RetryWaitMax:     cfg.Fetch.RetryWaitMax,
			Timeout:          cfg.Fetch.Timeout,
			Rate:             cfg.Fetch.Rate,
			UserAgent:        cfg.Fetch.UserAgent,
			BreakerThreshold: cfg.Fetch.BreakerThreshold,
			BreakerCooldown:  cfg.Fetch.BreakerCooldown,
			Logger:           m.logger,
		})
	}
	if m.hooks == nil {
		m.hooks = hook.NewRegistry(m.logger)
	}
	for name, fn := range map[string]hook.Func{
		OpInstall:   m.installOp,
		OpUninstall: m.uninstallOp,
		OpDiscover:  m.discoverOp,
	} {
		if err := m.hooks.Register(name, fn); err != nil {
			return nil, err
		}
	}

	if m.index == nil && cfg.Index.Source != "" {
		m.index, err = index.Open(ctx, cfg.Index.Source,
			index.WithClient(m.client),
			index.WithCacheDir(cfg.Cache.Dir),
			index.WithLogger(m.logger),
			index.WithMetrics(m.metrics),
		)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Index returns the catalog, nil when none is configured.
func (m *Manager) Index() index.Index { return m.index }

// Hooks returns the registry the operations run through.
func (m *Manager) Hooks() *hook.Registry { return m.hooks }

// Request is the input of the install operation.
type Request struct {
	Name    string
	Source  string
	Version string
	Meta    map[string]any
}

// Install installs catalog packages by name, stopping at the first failure.
func (m *Manager) Install(ctx context.Context, names ...string) ([]pkg.Handler, error) {
	installed := make([]pkg.Handler, 0, len(names))
	for _, name := range names {
		req, err := m.request(name)
		if err != nil {
			return installed, err
		}
		h, err := m.install(ctx, req)
		if err != nil {
			return installed, err
		}
		installed = append(installed, h)
	}
	return installed, nil
}

// InstallSource installs a package that is not in the catalog.
func (m *Manager) InstallSource(ctx context.Context, name, source string) (pkg.Handler, error) {
	return m.install(ctx, &Request{Name: name, Source: source})
}

func (m *Manager) install(ctx context.Context, req *Request) (pkg.Handler, error) {
	v, err := m.hooks.Call(ctx, OpInstall, req)
	if err != nil {
		return nil, err
	}
	h, ok := v.(pkg.Handler)
	if !ok {
		return nil, fmt.Errorf("install %s: hook returned %T", req.Name, v)
	}
	return h, nil
}

func (m *Manager) installOp(ctx context.Context, v any) (any, error) {
	req, ok := v.(*Request)
	if !ok {
		return nil, fmt.Errorf("install: unexpected input %T", v)
	}
	h, err := m.handler(req)
	if err != nil {
		return nil, err
	}
	dest, err := m.dest(h)
	if err != nil {
		return nil, err
	}
	if err := h.Install(ctx, dest, req.Version); err != nil {
		return nil, err
	}
	m.logger.Info("package installed",
		zap.String("package", h.Name()),
		zap.String("version", h.Version()),
		zap.String("path", h.Path()),
	)
	return h, nil
}

// Uninstall removes installed catalog packages.
func (m *Manager) Uninstall(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := m.hooks.Call(ctx, OpUninstall, name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) uninstallOp(_ context.Context, v any) (any, error) {
	name, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("uninstall: unexpected input %T", v)
	}
	h, err := m.adopt(name)
	if err != nil {
		return nil, err
	}
	h.Uninstall()
	m.logger.Info("package uninstalled", zap.String("package", name))
	return h, nil
}

// Installed returns the catalog packages present on disk, in catalog order.
// Packages whose installed tree is unusable are logged and left out.
func (m *Manager) Installed() ([]pkg.Handler, error) {
	if m.index == nil {
		return nil, ErrNoIndex
	}
	var out []pkg.Handler
	for _, e := range m.index.Packages() {
		h, err := m.adopt(e.Name)
		switch {
		case errors.Is(err, pkg.ErrNotInstalled):
			continue
		case err != nil:
			m.logger.Warn("ignoring broken install", zap.String("package", e.Name), zap.Error(err))
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// Search returns the catalog entries whose name contains term.
func (m *Manager) Search(term string) ([]index.Entry, error) {
	if m.index == nil {
		return nil, ErrNoIndex
	}
	names := m.index.Find(term)
	out := make([]index.Entry, 0, len(names))
	for _, name := range names {
		if e, ok := m.index.Lookup(name); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Status compares one installed package with the catalog.
type Status struct {
	Name      string
	Installed string
	Available string
	// Changed is set when the remote source differs from the cache.
	Changed  bool
	Outdated bool
}

// Report is the result of Outdated.
type Report struct {
	IndexOutdated bool
	Packages      []Status
}

// Outdated checks the catalog and every installed package.
func (m *Manager) Outdated(ctx context.Context) (*Report, error) {
	if m.index == nil {
		return nil, ErrNoIndex
	}
	stale, err := m.index.Outdated(ctx)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	installed, err := m.Installed()
	if err != nil {
		return nil, err
	}

	r := &Report{IndexOutdated: stale}
	for _, h := range installed {
		changed, err := h.Outdated(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", h.Name(), err)
		}
		st := Status{Name: h.Name(), Installed: h.Version(), Changed: changed}
		if e, ok := m.index.Lookup(h.Name()); ok {
			st.Available = e.Version
		}
		st.Outdated = changed || (st.Available != "" && !pkg.SameVersion(st.Installed, st.Available))
		r.Packages = append(r.Packages, st)
	}
	return r, nil
}

// Discover builds an extension registry over the installed packages. With
// no capabilities given the configured ones are used.
func (m *Manager) Discover(ctx context.Context, caps ...extension.Capability) (*extension.Registry, error) {
	if len(caps) == 0 {
		for _, c := range m.cfg.Capabilities {
			caps = append(caps, extension.Capability{Category: c.Category, Name: c.Name, Methods: c.Methods})
		}
	}
	if len(caps) == 0 {
		return nil, ErrNoCapabilities
	}
	installed, err := m.Installed()
	if err != nil {
		return nil, err
	}

	v, err := m.hooks.Call(ctx, OpDiscover, &Discovery{Capabilities: caps, Packages: installed})
	if err != nil {
		return nil, err
	}
	r, ok := v.(*extension.Registry)
	if !ok {
		return nil, fmt.Errorf("discover: hook returned %T", v)
	}
	return r, nil
}

// Discovery is the input of the discover operation.
type Discovery struct {
	Capabilities []extension.Capability
	Packages     []pkg.Handler
}

func (m *Manager) discoverOp(ctx context.Context, v any) (any, error) {
	d, ok := v.(*Discovery)
	if !ok {
		return nil, fmt.Errorf("discover: unexpected input %T", v)
	}
	policy, err := extension.ParseLoadPolicy(m.cfg.Extensions.LoadPolicy)
	if err != nil {
		return nil, err
	}

	pkgs := make([]extension.Installed, len(d.Packages))
	for i, h := range d.Packages {
		pkgs[i] = h
	}
	opts := []extension.Option{
		extension.WithLoadPolicy(policy),
		extension.WithLoadTimeout(m.cfg.Extensions.LoadTimeout),
		extension.WithLogger(m.logger),
		extension.WithMetrics(m.metrics),
	}
	if m.cfg.Extensions.Exclude != nil {
		opts = append(opts, extension.WithExclude(m.cfg.Extensions.Exclude...))
	}
	if len(m.cfg.Extensions.Suffixes) > 0 {
		opts = append(opts, extension.WithSuffixes(m.cfg.Extensions.Suffixes...))
	}
	return extension.New(ctx, d.Capabilities, pkgs, Namespace, opts...)
}

// request builds the install request of a catalog package.
func (m *Manager) request(name string) (*Request, error) {
	if m.index == nil {
		return nil, ErrNoIndex
	}
	e, ok := m.index.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", index.ErrUnknownPackage, name)
	}
	return &Request{
		Name:    e.Name,
		Source:  m.index.Source(e),
		Version: e.Version,
		Meta:    e.Fields,
	}, nil
}

func (m *Manager) handler(req *Request) (pkg.Handler, error) {
	return pkg.New(req.Name, req.Source,
		pkg.WithFormats(m.formats...),
		pkg.WithMetadata(req.Meta),
		pkg.WithCacheDir(m.cfg.Cache.Dir),
		pkg.WithClient(m.client),
		pkg.WithLogger(m.logger),
		pkg.WithMetrics(m.metrics),
	)
}

// dest returns where h installs. Without an install directory local
// packages stay in place.
func (m *Manager) dest(h pkg.Handler) (string, error) {
	if m.cfg.Install.Dir != "" {
		return filepath.Join(m.cfg.Install.Dir, filepath.FromSlash(h.Name())), nil
	}
	if h.Kind() == "http" {
		return "", fmt.Errorf("%w: %s", ErrNoInstallDir, h.Name())
	}
	return "", nil
}

// adopt returns the handler of an installed catalog package.
func (m *Manager) adopt(name string) (pkg.Handler, error) {
	req, err := m.request(name)
	if err != nil {
		return nil, err
	}
	h, err := m.handler(req)
	if err != nil {
		return nil, err
	}
	dest, err := m.dest(h)
	if errors.Is(err, ErrNoInstallDir) {
		return nil, fmt.Errorf("%w: %s", pkg.ErrNotInstalled, name)
	}
	if dest == "" {
		dest = h.Source()
	}
	if err := h.Adopt(dest); err != nil {
		if errors.Is(err, pkg.ErrDescriptorNotFound) {
			return nil, fmt.Errorf("%w: %s", pkg.ErrNotInstalled, name)
		}
		return nil, err
	}
	return h, nil
}
