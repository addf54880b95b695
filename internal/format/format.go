package format

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFormat   = errors.New("unsupported package format")
	ErrInvalidArchive      = errors.New("invalid archive")
	ErrCorruptArchive      = errors.New("corrupt archive")
	ErrDestinationConflict = errors.New("destination already exists")
)

const fileScheme = "file://"

// Format recognizes and extracts one package source shape.
type Format interface {
	Name() string
	Grasps(src string) bool
	Extract(ctx context.Context, src, dest string) error
}

// Policy decides what Extract does with a pre-existing destination.
type Policy int

const (
	Overwrite Policy = iota
	Reject
)

// String returns the configuration spelling of the policy
func (p Policy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return Overwrite, nil
	case "reject":
		return Reject, nil
	default:
		return Overwrite, fmt.Errorf("unknown destination policy %q", s)
	}
}

// Option configures a format variant.
type Option func(*options)

type options struct {
	policy Policy
}

// WithPolicy sets the destination policy of a variant.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

func buildOptions(opts []Option) options {
	o := options{policy: Overwrite}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// StripScheme removes a leading file:// prefix.
func StripScheme(path string) string {
	return strings.TrimPrefix(path, fileScheme)
}

// Resolve returns the first candidate that grasps src.
func Resolve(src string, candidates ...Format) (Format, error) {
	for _, f := range candidates {
		if f.Grasps(src) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, src)
}

// All returns every variant configured with the same options, canonical
// variants first.
func All(opts ...Option) []Format {
	return []Format{
		NewDirectory(opts...),
		NewZip(opts...),
		NewTar(opts...),
		NewTgz(opts...),
		NewTarZst(opts...),
	}
}

// suffixes lists every dotted suffix of the final path component, so
// "pkg.tar.gz" yields [".tar", ".gz"]. Leading dots belong to the stem.
func suffixes(path string) []string {
	name := filepath.Base(StripScheme(path))
	if name == "." || name == string(filepath.Separator) || strings.HasSuffix(name, ".") {
		return nil
	}
	parts := strings.Split(strings.TrimLeft(name, "."), ".")
	out := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		out = append(out, "."+p)
	}
	return out
}

// FullSuffix joins all suffixes of the final path component.
func FullSuffix(path string) string {
	return strings.Join(suffixes(path), "")
}

func lastSuffix(path string) string {
	s := suffixes(path)
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// checkDestination applies the destination policy. It never mutates the
// filesystem.
func checkDestination(dest string, policy Policy) error {
	if dest == "" {
		return errors.New("destination path required")
	}
	if _, err := os.Lstat(dest); err == nil {
		if policy == Reject {
			return fmt.Errorf("%w: %s", ErrDestinationConflict, dest)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat destination: %w", err)
	}
	return nil
}

// securePath joins name under root and refuses anything that escapes it.
func securePath(root, name string) (string, error) {
	target := filepath.Join(root, name)
	cleanRoot := filepath.Clean(root)
	if target != cleanRoot && !strings.HasPrefix(target, cleanRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes destination", ErrCorruptArchive, name)
	}
	return target, nil
}
