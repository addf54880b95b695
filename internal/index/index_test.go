package index

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/GriffinCanCode/dismantle/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const populated = `{
	"@scope-one/package-one": {"name": "@scope-one/package-one", "version": "0.1.0", "path": "@scope-one/package-one"},
	"@scope-one/package-two": {"name": "@scope-one/package-two", "version": "0.1.0", "path": "@scope-one/package-two"},
	"@scope-one/package-three": {"name": "@scope-one/package-three", "version": "0.1.0", "path": "@scope-one/package-three"},
	"@scope-two/package-one": {"name": "@scope-two/package-one", "version": "0.2.0", "path": "@scope-two/package-one"},
	"@scope-two/package-two": {"name": "@scope-two/package-two", "version": "0.2.0", "path": "@scope-two/package-two", "description": "second"},
	"@scope-three/package-one": {"name": "@scope-three/package-one", "version": "1.0.0", "path": "https://example.com/package-one.zip"}
}`

const populatedYAML = `
"@scope-one/package-one":
  name: "@scope-one/package-one"
  version: "0.1.0"
  path: "@scope-one/package-one"
"@scope-two/package-one":
  name: "@scope-two/package-one"
  version: "0.2.0"
  path: /srv/packages/package-one
`

func writeCatalog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// catalogServer serves a catalog with its MD5 as entity tag.
func catalogServer(t *testing.T, status *atomic.Int32, body *atomic.Value) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := status.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		content := body.Load().(string)
		sum := md5.Sum([]byte(content))
		if r.Header.Get("If-None-Match") == hex.EncodeToString(sum[:]) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			gets.Add(1)
			_, _ = w.Write([]byte(content))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

func TestParseJSONKeepsOrder(t *testing.T) {
	c, err := ParseJSON([]byte(populated))
	require.NoError(t, err)
	require.Equal(t, 6, c.Len())

	names := make([]string, 0, c.Len())
	for _, e := range c.Packages() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{
		"@scope-one/package-one",
		"@scope-one/package-two",
		"@scope-one/package-three",
		"@scope-two/package-one",
		"@scope-two/package-two",
		"@scope-three/package-one",
	}, names)

	e, ok := c.Lookup("@scope-two/package-two")
	require.True(t, ok)
	assert.Equal(t, "0.2.0", e.Version)
	assert.Equal(t, "second", e.Fields["description"])

	_, ok = c.Lookup("@scope-nine/none")
	assert.False(t, ok)
}

func TestParseJSONList(t *testing.T) {
	c, err := ParseJSON([]byte(`[{"name": "a", "version": "1", "path": "a"}, {"name": "b", "version": "2", "path": "b"}]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.Find(""))
}

func TestParseJSONEmpty(t *testing.T) {
	c, err := ParseJSON([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Find("package"))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"blank", "", ErrCatalogParse},
		{"whitespace", "  \n", ErrCatalogParse},
		{"broken", `{"a": {"name": "a",`, ErrCatalogParse},
		{"scalar", `42`, ErrCatalogParse},
		{"missing version", `{"a": {"name": "a", "path": "a"}}`, ErrInvalidEntry},
		{"numeric version", `{"a": {"name": "a", "version": 1, "path": "a"}}`, ErrInvalidEntry},
		{"key mismatch", `{"a": {"name": "b", "version": "1", "path": "b"}}`, ErrInvalidEntry},
		{"duplicate", `[{"name": "a", "version": "1", "path": "a"}, {"name": "a", "version": "2", "path": "a"}]`, ErrInvalidEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseYAML(t *testing.T) {
	c, err := Parse("catalog.yaml", []byte(populatedYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"@scope-one/package-one", "@scope-two/package-one"}, c.Find("package-one"))

	c, err = ParseYAML([]byte("- name: a\n  version: \"1\"\n  path: a\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	_, err = ParseYAML([]byte(""))
	assert.ErrorIs(t, err, ErrCatalogParse)

	_, err = ParseYAML([]byte("a:\n  name: a\n  path: a\n"))
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestFind(t *testing.T) {
	c, err := ParseJSON([]byte(populated))
	require.NoError(t, err)

	tests := []struct {
		substr string
		want   int
	}{
		{"@scope-one/package-one", 1},
		{"package-one", 3},
		{"package-two", 2},
		{"package-three", 1},
		{"@scope-one", 3},
		{"@scope-two", 2},
		{"@scope-three", 1},
		{"@SCOPE-ONE", 3},
		{"nothing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.substr, func(t *testing.T) {
			assert.Len(t, c.Find(tt.substr), tt.want)
		})
	}
}

func TestFileIndex(t *testing.T) {
	path := writeCatalog(t, "index.json", populated)

	idx, err := NewFile("file://" + path)
	require.NoError(t, err)
	assert.Equal(t, path, idx.Path())
	assert.Len(t, idx.Packages(), 6)

	outdated, err := idx.Outdated(context.Background())
	require.NoError(t, err)
	assert.False(t, outdated)

	e, ok := idx.Lookup("@scope-one/package-one")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "@scope-one", "package-one"), idx.Source(e))

	remote, ok := idx.Lookup("@scope-three/package-one")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/package-one.zip", idx.Source(remote))

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	require.NoError(t, idx.Update(context.Background()))
	assert.Empty(t, idx.Packages())
}

func TestFileIndexErrors(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = NewFile(writeCatalog(t, "index.json", ""))
	assert.ErrorIs(t, err, ErrCatalogParse)
}

func TestFileIndexYAML(t *testing.T) {
	idx, err := NewFile(writeCatalog(t, "index.yml", populatedYAML))
	require.NoError(t, err)

	e, ok := idx.Lookup("@scope-two/package-one")
	require.True(t, ok)
	assert.Equal(t, "/srv/packages/package-one", idx.Source(e))
}

func TestURLIndex(t *testing.T) {
	var status atomic.Int32
	var body atomic.Value
	body.Store(populated)
	srv, gets := catalogServer(t, &status, &body)
	cacheDir := t.TempDir()
	ctx := context.Background()

	idx, err := NewURL(ctx, srv.URL+"/index.json", WithCacheDir(cacheDir))
	require.NoError(t, err)
	assert.True(t, idx.Updated())
	assert.Equal(t, filepath.Join(cacheDir, "index.json"), idx.CachePath())
	assert.FileExists(t, idx.CachePath())
	assert.Len(t, idx.Find("package-one"), 3)

	e, _ := idx.Lookup("@scope-one/package-one")
	assert.Equal(t, srv.URL+"/@scope-one/package-one", idx.Source(e))

	outdated, err := idx.Outdated(ctx)
	require.NoError(t, err)
	assert.False(t, outdated)

	require.NoError(t, idx.Update(ctx))
	assert.False(t, idx.Updated())
	assert.Equal(t, int32(1), gets.Load())

	body.Store(`{"a": {"name": "a", "version": "1", "path": "a.zip"}}`)
	outdated, err = idx.Outdated(ctx)
	require.NoError(t, err)
	assert.True(t, outdated)

	require.NoError(t, idx.Update(ctx))
	assert.True(t, idx.Updated())
	assert.Equal(t, []string{"a"}, idx.Find(""))

	// A second index over the same cache starts out current.
	again, err := NewURL(ctx, srv.URL+"/index.json", WithCacheDir(cacheDir))
	require.NoError(t, err)
	assert.False(t, again.Updated())
	assert.Equal(t, int32(2), gets.Load())
}

func TestURLIndexErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		var status atomic.Int32
		var body atomic.Value
		body.Store(populated)
		status.Store(http.StatusNotFound)
		srv, _ := catalogServer(t, &status, &body)

		_, err := NewURL(ctx, srv.URL+"/index.json", WithCacheDir(t.TempDir()))
		assert.ErrorIs(t, err, fetch.ErrRemoteUnavailable)
	})

	for name, content := range map[string]string{"blank": "", "broken": `{"a": `} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(content))
			}))
			t.Cleanup(srv.Close)

			_, err := NewURL(ctx, srv.URL+"/index.json", WithCacheDir(t.TempDir()))
			assert.Error(t, err)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	path := writeCatalog(t, "index.json", populated)

	idx, err := Open(ctx, path)
	require.NoError(t, err)
	assert.IsType(t, &File{}, idx)

	var status atomic.Int32
	var body atomic.Value
	body.Store(populated)
	srv, _ := catalogServer(t, &status, &body)

	idx, err = Open(ctx, srv.URL+"/index.json", WithCacheDir(t.TempDir()))
	require.NoError(t, err)
	assert.IsType(t, &URL{}, idx)

	_, err = Open(ctx, "ftp://example.com/index.json")
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}
