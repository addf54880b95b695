// Package testutil provides fixture builders shared by package tests.
package testutil

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// Compression selects the stream wrapped around a tar archive.
type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
)

// WriteTree writes files (relative path to content) under root.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// Descriptor renders a package.json body.
func Descriptor(name, version string) string {
	if version == "" {
		return fmt.Sprintf(`{"name": %q}`, name)
	}
	if name == "" {
		return fmt.Sprintf(`{"version": %q}`, version)
	}
	return fmt.Sprintf(`{"name": %q, "version": %q, "description": "fixture package"}`, name, version)
}

// Package writes a package tree with a descriptor and the given extra files
// and returns its root.
func Package(t *testing.T, root, name, version string, files map[string]string) string {
	t.Helper()
	all := map[string]string{"package.json": Descriptor(name, version)}
	for k, v := range files {
		all[k] = v
	}
	WriteTree(t, root, all)
	return root
}

// entries lists every path under root in lexical order.
func entries(t *testing.T, root string) []string {
	t.Helper()
	var (
		mu    sync.Mutex
		paths []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == root {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		mu.Lock()
		paths = append(paths, rel)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	sort.Strings(paths)
	return paths
}

// ZipDir packs the tree at src into a zip file at dest.
func ZipDir(t *testing.T, src, dest string) string {
	t.Helper()
	out, err := os.Create(dest)
	require.NoError(t, err)
	defer out.Close()

	w := zip.NewWriter(out)
	for _, rel := range entries(t, src) {
		path := filepath.Join(src, rel)
		info, err := os.Stat(path)
		require.NoError(t, err)
		name := filepath.ToSlash(rel)
		if info.IsDir() {
			_, err := w.Create(name + "/")
			require.NoError(t, err)
			continue
		}
		fw, err := w.Create(name)
		require.NoError(t, err)
		copyInto(t, fw, path)
	}
	require.NoError(t, w.Close())
	return dest
}

// TarDir packs the tree at src into a tar file at dest.
func TarDir(t *testing.T, src, dest string, compression Compression) string {
	t.Helper()
	out, err := os.Create(dest)
	require.NoError(t, err)
	defer out.Close()

	var stream io.WriteCloser = nopWriteCloser{out}
	switch compression {
	case Gzip:
		stream = gzip.NewWriter(out)
	case Zstd:
		stream, err = zstd.NewWriter(out)
		require.NoError(t, err)
	}

	w := tar.NewWriter(stream)
	for _, rel := range entries(t, src) {
		path := filepath.Join(src, rel)
		info, err := os.Stat(path)
		require.NoError(t, err)
		hdr, err := tar.FileInfoHeader(info, "")
		require.NoError(t, err)
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		require.NoError(t, w.WriteHeader(hdr))
		if !info.IsDir() {
			copyInto(t, w, path)
		}
	}
	require.NoError(t, w.Close())
	require.NoError(t, stream.Close())
	return dest
}

// TarEntries writes a raw tar file holding the given regular entries in
// order, without any path cleaning.
func TarEntries(t *testing.T, dest string, files [][2]string) string {
	t.Helper()
	out, err := os.Create(dest)
	require.NoError(t, err)
	defer out.Close()

	w := tar.NewWriter(out)
	for _, f := range files {
		require.NoError(t, w.WriteHeader(&tar.Header{
			Name:     f[0],
			Mode:     0o644,
			Size:     int64(len(f[1])),
			Typeflag: tar.TypeReg,
		}))
		_, err := w.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return dest
}

func copyInto(t *testing.T, w io.Writer, path string) {
	t.Helper()
	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close()
	_, err = io.Copy(w, in)
	require.NoError(t, err)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
