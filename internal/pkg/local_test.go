package pkg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/GriffinCanCode/dismantle/internal/format"
	"github.com/GriffinCanCode/dismantle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	pkgOne = "@scope-one/package-one"
	pkgTwo = "@scope-one/package-two"
)

func localFixture(t *testing.T) string {
	t.Helper()
	return testutil.Package(t, filepath.Join(t.TempDir(), "package-one"), pkgOne, "0.0.1", map[string]string{
		"extensions/hello.js": "register(class HelloGreeting {})",
	})
}

func TestGrasps(t *testing.T) {
	src := localFixture(t)

	tests := []struct {
		name  string
		src   string
		local bool
		http  bool
	}{
		{"existing path", src, true, false},
		{"file url", "file://" + src, true, false},
		{"missing path", filepath.Join(src, "missing"), false, false},
		{"http", "http://example.com/package.zip", false, true},
		{"https", "https://example.com/package.zip", false, true},
		{"ftp", "ftp://example.com/package.zip", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.local, GraspsLocal(tt.src))
			assert.Equal(t, tt.http, GraspsHTTP(tt.src))
		})
	}
}

func TestNewPicksHandler(t *testing.T) {
	src := localFixture(t)

	h, err := New(pkgOne, src)
	require.NoError(t, err)
	assert.Equal(t, "local", h.Kind())

	h, err = New(pkgOne, "https://example.com/package.zip", WithCacheDir(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, "http", h.Kind())

	_, err = New(pkgOne, "ftp://example.com/package.zip")
	assert.ErrorIs(t, err, ErrSourceFormatUnrecognized)
}

func TestLocalSourceFormatUnrecognized(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "package.rar")
	require.NoError(t, os.WriteFile(archive, []byte("rar"), 0o644))

	_, err := NewLocal(pkgOne, archive)
	assert.ErrorIs(t, err, ErrSourceFormatUnrecognized)

	_, err = NewLocal(pkgOne, localFixture(t), WithFormats())
	assert.ErrorIs(t, err, ErrSourceFormatUnrecognized)
}

func TestLocalInstallInPlace(t *testing.T) {
	src := localFixture(t)
	p, err := NewLocal(pkgOne, "file://"+src)
	require.NoError(t, err)
	assert.False(t, p.Installed())
	assert.Empty(t, p.Path())

	require.NoError(t, p.Install(context.Background(), "", ""))
	assert.True(t, p.Installed())
	assert.Equal(t, src, p.Path())
	assert.Equal(t, pkgOne, p.Name())
	assert.Equal(t, "0.0.1", p.Version())

	desc, ok := p.Meta("description")
	assert.True(t, ok)
	assert.Equal(t, "fixture package", desc)
	_, ok = p.Meta("nonexistent")
	assert.False(t, ok)

	p.Uninstall()
	assert.False(t, p.Installed())
	assert.Empty(t, p.Path())
	assert.FileExists(t, filepath.Join(src, DescriptorName))
}

func TestLocalInstallCopy(t *testing.T) {
	src := localFixture(t)
	dest := filepath.Join(t.TempDir(), "installed")

	p, err := NewLocal(pkgOne, src)
	require.NoError(t, err)
	require.NoError(t, p.Install(context.Background(), "file://"+dest, ""))
	assert.Equal(t, dest, p.Path())
	assert.FileExists(t, filepath.Join(dest, "extensions", "hello.js"))

	p.Uninstall()
	assert.NoDirExists(t, dest)
	assert.DirExists(t, src)
	assert.False(t, p.Installed())
}

func TestLocalInstallArchive(t *testing.T) {
	src := localFixture(t)
	archive := testutil.TarDir(t, src, filepath.Join(t.TempDir(), "package.tgz"), testutil.Gzip)
	dest := filepath.Join(t.TempDir(), "installed")

	p, err := NewLocal(pkgOne, archive, WithFormats(format.All()...))
	require.NoError(t, err)
	require.NoError(t, p.Install(context.Background(), dest, ""))
	assert.Equal(t, "0.0.1", p.Version())
}

func TestLocalDescriptorErrors(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		want       error
		field      string
	}{
		{"name mismatch", testutil.Descriptor(pkgTwo, "0.0.1"), ErrMetadataNameMismatch, ""},
		{"missing name", `{"version": "0.0.1"}`, ErrMetadataMissingField, "name"},
		{"missing version", `{"name": "` + pkgOne + `"}`, ErrMetadataMissingField, "version"},
		{"malformed", `{"name": `, ErrMetadataParse, ""},
		{"not an object", `null`, ErrMetadataParse, ""},
		{"numeric version", `{"name": "` + pkgOne + `", "version": 1}`, ErrMetadataParse, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := filepath.Join(t.TempDir(), "pkg")
			testutil.WriteTree(t, src, map[string]string{DescriptorName: tt.descriptor})
			dest := filepath.Join(t.TempDir(), "installed")

			p, err := NewLocal(pkgOne, src)
			require.NoError(t, err)
			err = p.Install(context.Background(), dest, "")
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, p.Installed())

			if tt.field != "" {
				var missing *MissingFieldError
				require.ErrorAs(t, err, &missing)
				assert.Equal(t, tt.field, missing.Field)
			}
			// No rollback, the copied files remain
			assert.FileExists(t, filepath.Join(dest, DescriptorName))
		})
	}
}

func TestLocalMissingDescriptor(t *testing.T) {
	src := t.TempDir()
	p, err := NewLocal(pkgOne, src)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Install(context.Background(), "", ""), ErrDescriptorNotFound)
}

func TestVerify(t *testing.T) {
	p, err := NewLocal(pkgOne, localFixture(t))
	require.NoError(t, err)

	ok, err := p.Verify("")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Verify("a0aea27ca371ef0e715c594300e22ef9")
	assert.ErrorIs(t, err, ErrVerificationUnsupported)
	assert.False(t, ok)
}

func TestAdopt(t *testing.T) {
	src := localFixture(t)
	p, err := NewLocal(pkgOne, src, WithMetadata(map[string]any{"channel": "stable"}))
	require.NoError(t, err)

	require.NoError(t, p.Adopt(src))
	assert.True(t, p.Installed())
	assert.Equal(t, "0.0.1", p.Version())
	channel, _ := p.Meta("channel")
	assert.Equal(t, "stable", channel)

	other, err := NewLocal(pkgTwo, src)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Adopt(src), ErrMetadataNameMismatch)
	assert.False(t, other.Installed())
}

func TestUninstallRemovalFailureIsAWarning(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	core, logs := observer.New(zapcore.WarnLevel)

	src := localFixture(t)
	parent := filepath.Join(t.TempDir(), "locked")
	dest := filepath.Join(parent, "installed")

	p, err := NewLocal(pkgOne, src, WithLogger(zap.New(core)))
	require.NoError(t, err)
	require.NoError(t, p.Install(context.Background(), dest, ""))

	require.NoError(t, os.Chmod(parent, 0o500))
	t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })

	assert.NotPanics(t, p.Uninstall)
	assert.False(t, p.Installed())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "uninstall left files behind", logs.All()[0].Message)
}

func TestInvalidNames(t *testing.T) {
	src := localFixture(t)
	for _, name := range []string{"", "../escape", "/abs", "a//b", "@scope/./x"} {
		_, err := NewLocal(name, src)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestSameVersion(t *testing.T) {
	assert.True(t, SameVersion("1.0.0", "1.0.0"))
	assert.True(t, SameVersion("v1.0.0", "1.0.0"))
	assert.True(t, SameVersion("1.0", "1.0.0"))
	assert.False(t, SameVersion("0.0.1", "11.3.2"))
	assert.True(t, SameVersion("nightly", "nightly"))
	assert.False(t, SameVersion("nightly", "1.0.0"))
}
