package format

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charlievieth/fastwalk"
)

// Directory handles a package that is already an unpacked tree.
type Directory struct {
	opts options
}

// NewDirectory creates the directory variant.
func NewDirectory(opts ...Option) *Directory {
	return &Directory{opts: buildOptions(opts)}
}

// Name returns the variant name
func (d *Directory) Name() string { return "directory" }

// Grasps reports whether src is an existing directory.
func (d *Directory) Grasps(src string) bool {
	info, err := os.Stat(StripScheme(src))
	return err == nil && info.IsDir()
}

// Extract copies the tree at src into dest. Extracting a directory onto
// itself is a no-op.
func (d *Directory) Extract(ctx context.Context, src, dest string) error {
	src, dest = StripScheme(src), StripScheme(dest)
	if !d.Grasps(src) {
		return fmt.Errorf("%w: %s is not a directory", ErrUnsupportedFormat, src)
	}
	if samePath(src, dest) {
		return nil
	}
	if err := checkDestination(dest, d.opts.policy); err != nil {
		return err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	root := filepath.Clean(src)
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, root, func(p string, entry fs.DirEntry, err error) error {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case entry.IsDir():
			return os.MkdirAll(target, 0o755)
		case entry.Type()&fs.ModeSymlink != 0:
			return copySymlink(p, target)
		case entry.Type().IsRegular():
			info, err := entry.Info()
			if err != nil {
				return err
			}
			return copyFile(p, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

func copyFile(src, dest string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copySymlink(src, dest string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(link, dest)
}
