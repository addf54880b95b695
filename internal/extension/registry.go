package extension

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/GriffinCanCode/dismantle/internal/monitoring"
	"go.uber.org/zap"
)

// Installed is a package discovery can scan.
type Installed interface {
	Name() string
	// Path is the installed root, empty when not installed.
	Path() string
}

// LoadPolicy decides what a failing unit does to discovery.
type LoadPolicy int

const (
	// AbortOnError stops discovery at the first failing unit.
	AbortOnError LoadPolicy = iota
	// SkipOnError logs the failure and carries on with the next unit.
	SkipOnError
)

func (p LoadPolicy) String() string {
	if p == SkipOnError {
		return "skip"
	}
	return "abort"
}

// ParseLoadPolicy accepts "abort" and "skip".
func ParseLoadPolicy(s string) (LoadPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return AbortOnError, nil
	case "skip":
		return SkipOnError, nil
	default:
		return AbortOnError, fmt.Errorf("unknown load policy %q", s)
	}
}

// Option configures discovery.
type Option func(*options)

type options struct {
	exclude  []string
	suffixes []string
	policy   LoadPolicy
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// WithExclude replaces the exclude patterns.
func WithExclude(patterns ...string) Option {
	return func(o *options) { o.exclude = patterns }
}

// WithSuffixes replaces the recognised source suffixes.
func WithSuffixes(suffixes ...string) Option {
	return func(o *options) { o.suffixes = suffixes }
}

// WithLoadPolicy chooses what happens when a unit fails to load.
func WithLoadPolicy(p LoadPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithLoadTimeout bounds every call into a unit. Zero disables the bound.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger units and discovery write to.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records unit loads and registered type counts.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// DefaultExclude are the directories never scanned for units.
var DefaultExclude = []string{"__pycache__", ".git", "node_modules"}

// TypeSet is the ordered set of types of one category.
type TypeSet struct {
	names  []string
	byName map[string]*Type
}

func newTypeSet() *TypeSet {
	return &TypeSet{byName: make(map[string]*Type)}
}

// Names returns the qualified names in registration order.
func (s *TypeSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Get returns the type registered under a qualified name.
func (s *TypeSet) Get(name string) (*Type, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Len returns the number of registered types.
func (s *TypeSet) Len() int { return len(s.names) }

// Types returns the types in registration order.
func (s *TypeSet) Types() []*Type {
	out := make([]*Type, len(s.names))
	for i, n := range s.names {
		out[i] = s.byName[n]
	}
	return out
}

func (s *TypeSet) add(t *Type) {
	if _, dup := s.byName[t.Name]; dup {
		return
	}
	s.names = append(s.names, t.Name)
	s.byName[t.Name] = t
}

// Registry holds the units and types found in a set of packages. It is not
// safe for concurrent discovery; queries on a built registry are read-only.
type Registry struct {
	namespace  string
	caps       []Capability
	categories map[string]*TypeSet
	units      []*Unit
	byPrefix   map[string]*Unit
	failed     []*LoadError

	opts   options
	logger *zap.Logger
}

// New validates caps, scans pkgs in order and registers every type
// implementing one of caps. namespace is kept for callers and not used in
// qualified names.
func New(ctx context.Context, caps []Capability, pkgs []Installed, namespace string, opts ...Option) (*Registry, error) {
	o := options{
		exclude:  DefaultExclude,
		suffixes: []string{".js"},
		timeout:  5 * time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := ValidateCapabilities(caps); err != nil {
		return nil, err
	}
	if err := validatePatterns(o.exclude); err != nil {
		return nil, err
	}

	r := &Registry{
		namespace:  namespace,
		caps:       append([]Capability(nil), caps...),
		categories: make(map[string]*TypeSet, len(caps)),
		byPrefix:   make(map[string]*Unit),
		opts:       o,
		logger:     o.logger,
	}
	for _, c := range caps {
		r.categories[c.Category] = newTypeSet()
	}

	if err := r.discover(ctx, pkgs); err != nil {
		return nil, err
	}
	if err := r.register(ctx); err != nil {
		return nil, err
	}
	for _, c := range r.caps {
		o.metrics.SetRegistered(c.Category, r.categories[c.Category].Len())
	}
	return r, nil
}

// discover loads every unit of pkgs.
func (r *Registry) discover(ctx context.Context, pkgs []Installed) error {
	s := scanner{exclude: r.opts.exclude, suffixes: r.opts.suffixes}
	l := &loader{caps: r.caps, timeout: r.opts.timeout, logger: r.logger}

	for _, pkg := range pkgs {
		if pkg.Path() == "" {
			r.logger.Debug("package not installed, skipping", zap.String("package", pkg.Name()))
			continue
		}
		candidates, err := s.scan(filepath.Join(pkg.Path(), Directory))
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			prefix := pkg.Name() + ".extension." + c.dotted

			var unit *Unit
			if _, dup := r.byPrefix[prefix]; dup {
				err = &LoadError{Prefix: prefix, Cause: fmt.Errorf("prefix already loaded, %s collides", c.source)}
			} else {
				unit, err = l.load(ctx, pkg.Name(), prefix, c.source)
			}
			if err != nil {
				r.opts.metrics.RecordUnitLoad(monitoring.ResultFailed)
				if r.opts.policy == AbortOnError || ctx.Err() != nil {
					return err
				}
				var le *LoadError
				errors.As(err, &le)
				r.failed = append(r.failed, le)
				r.logger.Warn("skipping extension unit", zap.String("unit", prefix), zap.Error(err))
				continue
			}

			r.opts.metrics.RecordUnitLoad(monitoring.ResultLoaded)
			r.units = append(r.units, unit)
			r.byPrefix[prefix] = unit
			r.logger.Debug("extension unit loaded",
				zap.String("unit", prefix),
				zap.String("source", c.source),
				zap.Strings("declared", unit.Declared()),
			)
		}
	}
	return nil
}

// register files the declarations of every unit, in load order.
func (r *Registry) register(ctx context.Context) error {
	for _, u := range r.units {
		found, err := u.matches(ctx, r.caps)
		if err != nil {
			return &LoadError{Prefix: u.Prefix, Cause: err}
		}
		for _, m := range found {
			t := &Type{
				Name:       u.Prefix + "." + m.decl.name,
				TypeName:   m.decl.name,
				Capability: m.capability,
				Unit:       u,
				ctor:       m.decl.value,
			}
			r.categories[m.capability.Category].add(t)
			r.logger.Debug("extension registered",
				zap.String("category", m.capability.Category),
				zap.String("type", t.Name),
			)
		}
	}
	return nil
}

// Namespace returns the namespace the registry was created with.
func (r *Registry) Namespace() string { return r.namespace }

// Capabilities returns the configured capabilities.
func (r *Registry) Capabilities() []Capability {
	return append([]Capability(nil), r.caps...)
}

// Categories returns the category tags in configuration order.
func (r *Registry) Categories() []string {
	out := make([]string, len(r.caps))
	for i, c := range r.caps {
		out[i] = c.Category
	}
	return out
}

// Category returns the types registered under tag.
func (r *Registry) Category(tag string) (*TypeSet, error) {
	s, ok := r.categories[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, tag)
	}
	return s, nil
}

// Units returns the loaded units in load order.
func (r *Registry) Units() []*Unit {
	return append([]*Unit(nil), r.units...)
}

// Prefixes returns the prefixes of the loaded units in load order.
func (r *Registry) Prefixes() []string {
	out := make([]string, len(r.units))
	for i, u := range r.units {
		out[i] = u.Prefix
	}
	return out
}

// Unit returns the loaded unit with the given prefix.
func (r *Registry) Unit(prefix string) (*Unit, bool) {
	u, ok := r.byPrefix[prefix]
	return u, ok
}

// Failed returns the units skipped under SkipOnError.
func (r *Registry) Failed() []*LoadError {
	return append([]*LoadError(nil), r.failed...)
}

// Lookup finds a type by qualified name, searching categories in
// configuration order.
func (r *Registry) Lookup(name string) (*Type, error) {
	for _, c := range r.caps {
		if t, ok := r.categories[c.Category].Get(name); ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
}
