package manager

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/GriffinCanCode/dismantle/internal/config"
	"github.com/GriffinCanCode/dismantle/internal/extension"
	"github.com/GriffinCanCode/dismantle/internal/hook"
	"github.com/GriffinCanCode/dismantle/internal/index"
	"github.com/GriffinCanCode/dismantle/internal/pkg"
	"github.com/GriffinCanCode/dismantle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var capabilities = []extension.Capability{
	{Category: "color", Name: "ColorExtension", Methods: []string{"color"}},
	{Category: "greeting", Name: "GreetingExtension", Methods: []string{"greet"}},
}

var fixtures = []struct {
	name  string
	greet string
	color string
}{
	{"@scope-one/package-one", "hello", "green"},
	{"@scope-one/package-two", "afternoon", "red"},
	{"@scope-one/package-three", "goodbye", "blue"},
}

func title(s string) string { return strings.ToUpper(s[:1]) + s[1:] }

func unit(capability, method, value string) string {
	class := title(value) + capability
	return fmt.Sprintf(`class %s extends %s {
	%s() { return %q; }
}
register(%s);
`, class, capability, method, value, class)
}

// writePackages lays out the fixture packages under root and returns a
// catalog whose paths are relative to root.
func writePackages(t *testing.T, root string) string {
	t.Helper()
	var entries []string
	for _, f := range fixtures {
		testutil.Package(t, filepath.Join(root, filepath.FromSlash(f.name)), f.name, "0.1.0", map[string]string{
			"extensions/" + f.greet + ".js": unit("GreetingExtension", "greet", f.greet),
			"extensions/" + f.color + ".js": unit("ColorExtension", "color", f.color),
		})
		entries = append(entries, fmt.Sprintf(`%q: {"name": %q, "version": "0.1.0", "path": %q, "channel": "stable"}`,
			f.name, f.name, f.name))
	}
	return "{" + strings.Join(entries, ",") + "}"
}

func localSetup(t *testing.T, installDir string) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	catalog := filepath.Join(root, "index.json")
	require.NoError(t, os.WriteFile(catalog, []byte(writePackages(t, root)), 0o644))

	cfg := *config.Default()
	cfg.Index.Source = catalog
	cfg.Install.Dir = installDir
	cfg.Cache.Dir = t.TempDir()

	m, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return m, root
}

func names(handlers []pkg.Handler) []string {
	out := make([]string, len(handlers))
	for i, h := range handlers {
		out[i] = h.Name()
	}
	return out
}

func TestFullFlowInPlace(t *testing.T) {
	ctx := context.Background()
	m, root := localSetup(t, "")

	handlers, err := m.Install(ctx, "@scope-one/package-one", "@scope-one/package-two", "@scope-one/package-three")
	require.NoError(t, err)
	require.Len(t, handlers, 3)
	for _, h := range handlers {
		assert.True(t, h.Installed())
		assert.Equal(t, "local", h.Kind())
		channel, _ := h.Meta("channel")
		assert.Equal(t, "stable", channel)
	}
	assert.Equal(t, filepath.Join(root, "@scope-one", "package-one"), handlers[0].Path())

	r, err := m.Discover(ctx, capabilities...)
	require.NoError(t, err)
	assert.Equal(t, []string{"color", "greeting"}, r.Categories())

	colors, err := r.Category("color")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"@scope-one/package-one.extension.green.GreenColorExtension",
		"@scope-one/package-two.extension.red.RedColorExtension",
		"@scope-one/package-three.extension.blue.BlueColorExtension",
	}, colors.Names())
	assert.ElementsMatch(t, []string{
		"@scope-one/package-one.extension.hello",
		"@scope-one/package-one.extension.green",
		"@scope-one/package-two.extension.afternoon",
		"@scope-one/package-two.extension.red",
		"@scope-one/package-three.extension.goodbye",
		"@scope-one/package-three.extension.blue",
	}, r.Prefixes())
	assert.Equal(t, Namespace, r.Namespace())

	// Uninstalling an in-place package keeps its source.
	require.NoError(t, m.Uninstall(ctx, "@scope-one/package-two"))
	assert.DirExists(t, filepath.Join(root, "@scope-one", "package-two"))
}

func TestInstallDir(t *testing.T) {
	ctx := context.Background()
	installDir := t.TempDir()
	m, _ := localSetup(t, installDir)

	_, err := m.Install(ctx, "@scope-one/package-one", "@scope-one/package-two")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(installDir, "@scope-one", "package-one", "extensions", "green.js"))

	installed, err := m.Installed()
	require.NoError(t, err)
	assert.Equal(t, []string{"@scope-one/package-one", "@scope-one/package-two"}, names(installed))

	require.NoError(t, m.Uninstall(ctx, "@scope-one/package-one"))
	assert.NoDirExists(t, filepath.Join(installDir, "@scope-one", "package-one"))

	installed, err = m.Installed()
	require.NoError(t, err)
	assert.Equal(t, []string{"@scope-one/package-two"}, names(installed))

	err = m.Uninstall(ctx, "@scope-one/package-one")
	assert.ErrorIs(t, err, pkg.ErrNotInstalled)

	r, err := m.Discover(ctx, capabilities...)
	require.NoError(t, err)
	colors, _ := r.Category("color")
	assert.Equal(t, []string{"@scope-one/package-two.extension.red.RedColorExtension"}, colors.Names())
}

func TestInstallSource(t *testing.T) {
	ctx := context.Background()
	installDir := t.TempDir()
	m, err := New(ctx, config.Config{
		Install: config.InstallConfig{Dir: installDir},
		Format:  config.FormatConfig{DestinationPolicy: "overwrite"},
	})
	require.NoError(t, err)
	assert.Nil(t, m.Index())

	src := testutil.Package(t, t.TempDir(), "loose", "2.0.0", nil)
	archive := testutil.TarDir(t, src, filepath.Join(t.TempDir(), "loose.tar.gz"), testutil.Gzip)

	h, err := m.InstallSource(ctx, "loose", "file://"+archive)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", h.Version())
	assert.Equal(t, filepath.Join(installDir, "loose"), h.Path())

	_, err = m.Install(ctx, "loose")
	assert.ErrorIs(t, err, ErrNoIndex)
	_, err = m.Search("loose")
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestSearch(t *testing.T) {
	m, _ := localSetup(t, "")

	found, err := m.Search("PACKAGE-T")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "@scope-one/package-two", found[0].Name)
	assert.Equal(t, "@scope-one/package-three", found[1].Name)

	_, err = m.Install(context.Background(), "@scope-nine/missing")
	assert.ErrorIs(t, err, index.ErrUnknownPackage)
}

func TestHooks(t *testing.T) {
	ctx := context.Background()
	hooks := hook.NewRegistry(nil)

	var (
		mu   sync.Mutex
		seen []string
	)
	record := func(s string) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}

	// Attached before the manager registers the operations.
	require.NoError(t, hooks.Attach(OpInstall, -1, func(_ context.Context, v any) (any, error) {
		req := v.(*Request)
		record("before " + req.Name)
		req.Meta = map[string]any{"pinned": true}
		return req, nil
	}))
	require.NoError(t, hooks.Attach(OpInstall, hook.DefaultPriority, func(_ context.Context, v any) (any, error) {
		record("after " + v.(pkg.Handler).Version())
		return v, nil
	}))
	require.NoError(t, hooks.Attach(OpDiscover, 0, func(_ context.Context, v any) (any, error) {
		record(fmt.Sprintf("discovered %d", len(v.(*extension.Registry).Units())))
		return v, nil
	}))

	root := t.TempDir()
	catalog := filepath.Join(root, "index.json")
	require.NoError(t, os.WriteFile(catalog, []byte(writePackages(t, root)), 0o644))
	cfg := *config.Default()
	cfg.Index.Source = catalog
	cfg.Capabilities = []config.CapabilityConfig{{Category: "color", Name: "ColorExtension", Methods: []string{"color"}}}

	m, err := New(ctx, cfg, WithHooks(hooks))
	require.NoError(t, err)
	assert.Same(t, hooks, m.Hooks())

	handlers, err := m.Install(ctx, "@scope-one/package-one")
	require.NoError(t, err)
	pinned, _ := handlers[0].Meta("pinned")
	assert.Equal(t, true, pinned)

	r, err := m.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"color"}, r.Categories())

	assert.Equal(t, []string{"before @scope-one/package-one", "after 0.1.0", "discovered 6"}, seen)

	_, err = New(ctx, cfg, WithHooks(hooks))
	assert.ErrorIs(t, err, hook.ErrDuplicateOperation)
}

func TestDiscoverWithoutCapabilities(t *testing.T) {
	m, _ := localSetup(t, "")
	_, err := m.Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoCapabilities)
}

func TestInvalidConfig(t *testing.T) {
	cfg := *config.Default()
	cfg.Format.DestinationPolicy = "merge"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)

	cfg = *config.Default()
	cfg.Index.Source = filepath.Join(t.TempDir(), "missing.json")
	_, err = New(context.Background(), cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// remote serves files with MD5 entity tags and counts GETs per path.
type remote struct {
	*httptest.Server
	mu    sync.Mutex
	files map[string][]byte
	gets  map[string]int
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := &remote{files: map[string][]byte{}, gets: map[string]int{}}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		data, ok := r.files[req.URL.Path]
		if ok && req.Method == http.MethodGet {
			r.gets[req.URL.Path]++
		}
		r.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		sum := md5.Sum(data)
		if req.Header.Get("If-None-Match") == hex.EncodeToString(sum[:]) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if req.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *remote) put(path string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = data
}

func (r *remote) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets[path]
}

func TestRemoteFlow(t *testing.T) {
	ctx := context.Background()
	srv := newRemote(t)
	work := t.TempDir()
	writePackages(t, work)

	var entries []string
	for i, f := range fixtures {
		archive := fmt.Sprintf("/packages/%d.zip", i)
		data, err := os.ReadFile(testutil.ZipDir(t, filepath.Join(work, filepath.FromSlash(f.name)),
			filepath.Join(t.TempDir(), "p.zip")))
		require.NoError(t, err)
		srv.put(archive, data)
		entries = append(entries, fmt.Sprintf(`{"name": %q, "version": "0.1.0", "path": %q}`, f.name, strings.TrimPrefix(archive, "/")))
	}
	srv.put("/index.json", []byte("["+strings.Join(entries, ",")+"]"))

	cfg := *config.Default()
	cfg.Index.Source = srv.URL + "/index.json"
	cfg.Cache.Dir = t.TempDir()
	cfg.Install.Dir = t.TempDir()
	m, err := New(ctx, cfg)
	require.NoError(t, err)

	handlers, err := m.Install(ctx, "@scope-one/package-one", "@scope-one/package-three")
	require.NoError(t, err)
	assert.Equal(t, "http", handlers[0].Kind())
	assert.Equal(t, 1, srv.count("/packages/0.zip"))

	// Same version on disk, nothing is fetched.
	_, err = m.Install(ctx, "@scope-one/package-one")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.count("/packages/0.zip"))

	r, err := m.Discover(ctx, capabilities...)
	require.NoError(t, err)
	colors, _ := r.Category("color")
	assert.Equal(t, []string{
		"@scope-one/package-one.extension.green.GreenColorExtension",
		"@scope-one/package-three.extension.blue.BlueColorExtension",
	}, colors.Names())

	report, err := m.Outdated(ctx)
	require.NoError(t, err)
	assert.False(t, report.IndexOutdated)
	require.Len(t, report.Packages, 2)
	for _, st := range report.Packages {
		assert.False(t, st.Outdated, st.Name)
		assert.Equal(t, "0.1.0", st.Installed)
	}

	srv.put("/packages/2.zip", []byte("changed"))
	report, err = m.Outdated(ctx)
	require.NoError(t, err)
	assert.False(t, report.Packages[0].Outdated)
	assert.True(t, report.Packages[1].Changed)
	assert.True(t, report.Packages[1].Outdated)
}

func TestRemoteNeedsInstallDir(t *testing.T) {
	srv := newRemote(t)
	srv.put("/index.json", []byte(`{"remote": {"name": "remote", "version": "1.0.0", "path": "remote.zip"}}`))

	cfg := *config.Default()
	cfg.Index.Source = srv.URL + "/index.json"
	cfg.Cache.Dir = t.TempDir()
	m, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = m.Install(context.Background(), "remote")
	assert.ErrorIs(t, err, ErrNoInstallDir)

	installed, err := m.Installed()
	require.NoError(t, err)
	assert.Empty(t, installed)
}
