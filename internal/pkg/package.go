package pkg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/dismantle/internal/format"
	"github.com/GriffinCanCode/dismantle/internal/monitoring"
	"github.com/Masterminds/semver/v3"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// DescriptorName is the metadata file at the root of every package.
const DescriptorName = "package.json"

// Package is the state shared by every handler.
type Package struct {
	name      string
	src       string
	path      string
	installed bool
	meta      map[string]any

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

func newPackage(name, src string, o options) (Package, error) {
	if err := validName(name); err != nil {
		return Package{}, err
	}
	meta := make(map[string]any, len(o.meta)+1)
	for k, v := range o.meta {
		meta[k] = v
	}
	meta["name"] = name
	return Package{
		name:    name,
		src:     src,
		meta:    meta,
		logger:  o.logger.With(zap.String("package", name)),
		metrics: o.metrics,
	}, nil
}

// Name returns the declared package name.
func (p *Package) Name() string { return p.name }

// Source returns the source the package was declared with.
func (p *Package) Source() string { return p.src }

// Path returns the install destination, empty until installed.
func (p *Package) Path() string { return p.path }

// Installed reports the install state.
func (p *Package) Installed() bool { return p.installed }

// Version returns the known version, empty when none is known yet.
func (p *Package) Version() string {
	v, _ := p.meta["version"].(string)
	return v
}

// Meta returns one metadata value.
func (p *Package) Meta(key string) (any, bool) {
	v, ok := p.meta[key]
	return v, ok
}

// Metadata returns a copy of the metadata map.
func (p *Package) Metadata() map[string]any {
	out := make(map[string]any, len(p.meta))
	for k, v := range p.meta {
		out[k] = v
	}
	return out
}

// Verify accepts an empty digest. Digest checking is not implemented.
func (p *Package) Verify(digest string) (bool, error) {
	if digest == "" {
		return true, nil
	}
	return false, ErrVerificationUnsupported
}

// Adopt marks an existing tree at dest as this package's installation
// after checking its descriptor. Nothing is copied or fetched.
func (p *Package) Adopt(dest string) error {
	dest = format.StripScheme(dest)
	meta, err := loadDescriptor(dest, p.name)
	if err != nil {
		return err
	}
	p.commit(dest, meta)
	return nil
}

// Uninstall removes the installed tree unless it is the package source, and
// resets the package to uninstalled. A removal failure is logged, never
// returned.
func (p *Package) Uninstall() {
	switch {
	case p.path == "":
	case samePath(p.path, p.src):
		p.logger.Debug("keeping in-place package", zap.String("path", p.path))
		p.metrics.RecordUninstall(monitoring.ResultKept)
	default:
		if err := os.RemoveAll(p.path); err != nil {
			p.logger.Warn("uninstall left files behind",
				zap.String("path", p.path),
				zap.Error(fmt.Errorf("%w: %v", ErrFileRemoval, err)))
			p.metrics.RecordUninstall(monitoring.ResultWarning)
		} else {
			p.metrics.RecordUninstall(monitoring.ResultRemoved)
		}
	}
	p.path = ""
	p.installed = false
}

// commit records a successful install. Descriptor values win over caller
// supplied metadata.
func (p *Package) commit(dest string, meta map[string]any) {
	for k, v := range meta {
		p.meta[k] = v
	}
	p.path = dest
	p.installed = true
}

// loadDescriptor reads and checks dir/package.json for the package name.
func loadDescriptor(dir, name string) (map[string]any, error) {
	path := filepath.Join(dir, DescriptorName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDescriptorNotFound, path)
		}
		return nil, err
	}

	var meta map[string]any
	if err := sonic.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMetadataParse, path, err)
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s is not an object", ErrMetadataParse, path)
	}

	declared, ok := meta["name"]
	if !ok {
		return nil, &MissingFieldError{Field: "name"}
	}
	if s, _ := declared.(string); s != name {
		return nil, fmt.Errorf("%w: want %q, descriptor has %v", ErrMetadataNameMismatch, name, declared)
	}
	version, ok := meta["version"]
	if !ok {
		return nil, &MissingFieldError{Field: "version"}
	}
	if _, ok := version.(string); !ok {
		return nil, fmt.Errorf("%w: %s: version must be a string", ErrMetadataParse, path)
	}
	return meta, nil
}

// SameVersion compares semantically when both sides are semver and
// literally otherwise.
func SameVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return va.Equal(vb)
}

// validName rejects names that could escape a directory when used as a
// relative path, such as "../x" or "/etc".
func validName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
