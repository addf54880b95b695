package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/GriffinCanCode/dismantle/internal/format"
	"go.uber.org/zap"
)

// File is a catalog on the local filesystem.
type File struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	catalog *Catalog
}

// NewFile reads the catalog at path. A file:// prefix and a leading ~ are
// accepted.
func NewFile(path string, opts ...Option) (*File, error) {
	o := buildOptions(opts)
	resolved, err := expandHome(format.StripScheme(path))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	f := &File{path: resolved, logger: o.logger}
	if err := f.Update(context.Background()); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the catalog file.
func (f *File) Path() string { return f.path }

// Update re-reads the catalog file.
func (f *File) Update(context.Context) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	c, err := Parse(f.path, data)
	if err != nil {
		return fmt.Errorf("index %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.catalog = c
	f.mu.Unlock()
	f.logger.Debug("index loaded", zap.String("path", f.path), zap.Int("packages", c.Len()))
	return nil
}

// Outdated is always false, the file is read as is.
func (f *File) Outdated(context.Context) (bool, error) { return false, nil }

// Packages returns the catalog entries in catalog order.
func (f *File) Packages() []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.catalog.Packages()
}

// Lookup returns the entry for name.
func (f *File) Lookup(name string) (Entry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.catalog.Lookup(name)
}

// Find returns the names containing substr, ignoring case.
func (f *File) Find(substr string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.catalog.Find(substr)
}

// Source resolves relative entry paths against the catalog's directory.
func (f *File) Source(e Entry) string {
	if isURL(e.Path) || filepath.IsAbs(e.Path) {
		return e.Path
	}
	return filepath.Join(filepath.Dir(f.path), filepath.FromSlash(e.Path))
}
