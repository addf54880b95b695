package format

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Zip handles .zip archives.
type Zip struct {
	opts options
}

// NewZip creates the zip variant.
func NewZip(opts ...Option) *Zip {
	return &Zip{opts: buildOptions(opts)}
}

// Name returns the variant name
func (z *Zip) Name() string { return "zip" }

// Grasps reports whether the final suffix of src is .zip.
func (z *Zip) Grasps(src string) bool {
	return lastSuffix(src) == ".zip"
}

// Extract unpacks the archive at src into dest.
func (z *Zip) Extract(ctx context.Context, src, dest string) error {
	src, dest = StripScheme(src), StripScheme(dest)
	if !z.Grasps(src) {
		return fmt.Errorf("%w: %s is not a zip file", ErrUnsupportedFormat, src)
	}
	if err := sniff(src, "application/zip"); err != nil {
		return err
	}

	reader, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer reader.Close()

	// Every entry is checked before the destination is touched
	for _, file := range reader.File {
		if _, err := securePath(dest, file.Name); err != nil {
			return err
		}
	}
	if err := checkDestination(dest, z.opts.policy); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	for _, file := range reader.File {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return fmt.Errorf("extraction cancelled: %w", ctx.Err())
		default:
		}

		target, _ := securePath(dest, file.Name)
		if err := checkParents(dest, target); err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := writeZipEntry(file, target); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(file *zip.File, target string) error {
	in, err := file.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptArchive, file.Name, err)
	}
	defer in.Close()

	if err := writeFile(in, target, file.Mode().Perm()); err != nil {
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) {
			return fmt.Errorf("%w: %s: %v", ErrCorruptArchive, file.Name, err)
		}
		return err
	}
	return nil
}

// tarball implements the tar family. Variants differ only in their
// suffixes, their outer content type and their decompressor.
type tarball struct {
	name       string
	suffixes   []string
	mime       string
	decompress func(io.Reader) (io.ReadCloser, error)
	opts       options
}

// Tar handles uncompressed .tar archives.
type Tar struct{ tarball }

// Tgz handles gzip compressed tar archives.
type Tgz struct{ tarball }

// TarZst handles zstd compressed tar archives.
type TarZst struct{ tarball }

// NewTar creates the tar variant.
func NewTar(opts ...Option) *Tar {
	return &Tar{tarball{
		name:     "tar",
		suffixes: []string{".tar"},
		mime:     "application/x-tar",
		decompress: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		},
		opts: buildOptions(opts),
	}}
}

// NewTgz creates the gzip compressed tar variant.
func NewTgz(opts ...Option) *Tgz {
	return &Tgz{tarball{
		name:     "tgz",
		suffixes: []string{".tgz", ".tar.gz"},
		mime:     "application/gzip",
		decompress: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
		opts: buildOptions(opts),
	}}
}

// NewTarZst creates the zstd compressed tar variant.
func NewTarZst(opts ...Option) *TarZst {
	return &TarZst{tarball{
		name:     "tar.zst",
		suffixes: []string{".tzst", ".tar.zst"},
		mime:     "application/zstd",
		decompress: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
		opts: buildOptions(opts),
	}}
}

// Name returns the variant name
func (t *tarball) Name() string { return t.name }

// Grasps reports whether the full suffix of src is one of the variant's.
func (t *tarball) Grasps(src string) bool {
	full := FullSuffix(src)
	for _, s := range t.suffixes {
		if full == s {
			return true
		}
	}
	return false
}

// Extract unpacks the archive at src into dest. The archive is read twice:
// once to validate every header, once to write.
func (t *tarball) Extract(ctx context.Context, src, dest string) error {
	src, dest = StripScheme(src), StripScheme(dest)
	if !t.Grasps(src) {
		return fmt.Errorf("%w: %s is not a %s file", ErrUnsupportedFormat, src, t.name)
	}
	if err := sniff(src, t.mime); err != nil {
		return err
	}
	guard := newTarGuard(dest)
	if err := t.walk(ctx, src, func(hdr *tar.Header, _ io.Reader) error {
		return guard.check(hdr)
	}); err != nil {
		return err
	}
	if err := checkDestination(dest, t.opts.policy); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	return t.walk(ctx, src, func(hdr *tar.Header, body io.Reader) error {
		target, _ := securePath(dest, hdr.Name)
		if err := checkParents(dest, target); err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			return writeFile(body, target, fs.FileMode(hdr.Mode).Perm())
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return err
			}
			return os.Symlink(hdr.Linkname, target)
		default:
			return nil
		}
	})
}

func (t *tarball) walk(ctx context.Context, src string, fn func(*tar.Header, io.Reader) error) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	stream, err := t.decompress(file)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer stream.Close()

	reader := tar.NewReader(stream)
	for {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return fmt.Errorf("extraction cancelled: %w", ctx.Err())
		default:
		}

		hdr, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		if err := fn(hdr, reader); err != nil {
			return err
		}
	}
}

// tarGuard validates headers in archive order. Links seen so far are
// remembered so that no later entry or link target can pass through one.
type tarGuard struct {
	dest  string
	links map[string]struct{}
}

func newTarGuard(dest string) *tarGuard {
	return &tarGuard{dest: filepath.Clean(dest), links: make(map[string]struct{})}
}

func (g *tarGuard) check(hdr *tar.Header) error {
	target, err := securePath(g.dest, hdr.Name)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(g.dest, target)
	if err != nil {
		return fmt.Errorf("%w: entry %q: %v", ErrCorruptArchive, hdr.Name, err)
	}
	for dir := filepath.Dir(rel); dir != "."; dir = filepath.Dir(dir) {
		if g.isLink(dir) {
			return fmt.Errorf("%w: entry %q passes through link %q", ErrCorruptArchive, hdr.Name, dir)
		}
	}
	if hdr.Typeflag != tar.TypeSymlink {
		return nil
	}

	link := hdr.Linkname
	start := filepath.Dir(rel)
	if filepath.IsAbs(link) {
		start = "."
		if link, err = filepath.Rel(g.dest, filepath.Clean(link)); err != nil {
			return fmt.Errorf("%w: link %q escapes destination", ErrCorruptArchive, hdr.Name)
		}
	}
	resolved := filepath.Join(g.dest, start, link)
	if !within(g.dest, resolved) {
		return fmt.Errorf("%w: link %q escapes destination", ErrCorruptArchive, hdr.Name)
	}
	if g.resolvesThroughLink(start, link) {
		return fmt.Errorf("%w: link %q resolves through another link", ErrCorruptArchive, hdr.Name)
	}
	g.links[rel] = struct{}{}
	return nil
}

func (g *tarGuard) isLink(rel string) bool {
	_, ok := g.links[rel]
	return ok
}

// resolvesThroughLink walks link one component at a time from start and
// reports whether any intermediate component is a known link.
func (g *tarGuard) resolvesThroughLink(start, link string) bool {
	cur := start
	parts := strings.Split(filepath.ToSlash(link), "/")
	for i, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
		default:
			cur = filepath.Join(cur, part)
		}
		if i < len(parts)-1 && g.isLink(cur) {
			return true
		}
	}
	return false
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// checkParents refuses to write target when a directory between dest and
// target is a symlink on disk. An existing link at target itself is removed
// so the write cannot follow it.
func checkParents(dest, target string) error {
	root := filepath.Clean(dest)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." {
		return nil
	}
	parts := strings.Split(rel, string(os.PathSeparator))
	cur := root
	for _, part := range parts[:len(parts)-1] {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s passes through link %s", ErrCorruptArchive, rel, cur)
		}
	}
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return os.Remove(target)
	}
	return nil
}

// sniff checks that src is a regular file whose content matches want.
func sniff(src, want string) error {
	info, err := os.Stat(src)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a file", ErrInvalidArchive, src)
	}
	detected, err := mimetype.DetectFile(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(want) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has content type %s", ErrInvalidArchive, src, detected.String())
}

func writeFile(r io.Reader, target string, perm fs.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
