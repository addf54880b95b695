package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

const envPrefix = "DISMANTLE"

// ManifestName is the project manifest looked up in the working directory.
const ManifestName = "dismantle.toml"

// Config holds all application configuration.
type Config struct {
	Cache      CacheConfig     `envconfig:"CACHE"`
	Install    InstallConfig   `envconfig:"INSTALL"`
	Index      IndexConfig     `envconfig:"INDEX"`
	Fetch      FetchConfig     `envconfig:"FETCH"`
	Format     FormatConfig    `envconfig:"FORMAT"`
	Extensions ExtensionConfig `envconfig:"EXTENSIONS"`
	Logging    LogConfig       `envconfig:"LOG"`

	// Capabilities come from the manifest only.
	Capabilities []CapabilityConfig `ignored:"true"`
}

// CapabilityConfig declares one extension capability.
type CapabilityConfig struct {
	Category string   `toml:"category"`
	Name     string   `toml:"name"`
	Methods  []string `toml:"methods"`
}

// CacheConfig holds cache settings. An empty Dir resolves to a dismantle
// directory under the OS temp dir.
type CacheConfig struct {
	Dir string `envconfig:"DIR"`
}

// InstallConfig holds install settings. An empty Dir installs local
// packages in place.
type InstallConfig struct {
	Dir string `envconfig:"DIR"`
}

// IndexConfig holds the default catalog source.
type IndexConfig struct {
	Source string `envconfig:"SOURCE"`
}

// FetchConfig holds transport settings. Zero retries and a zero timeout keep
// network calls single-shot and unbounded.
type FetchConfig struct {
	Retries          int           `envconfig:"RETRIES" default:"0"`
	RetryWaitMin     time.Duration `envconfig:"RETRY_WAIT_MIN" default:"1s"`
	RetryWaitMax     time.Duration `envconfig:"RETRY_WAIT_MAX" default:"30s"`
	Timeout          time.Duration `envconfig:"TIMEOUT" default:"0s"`
	Rate             float64       `envconfig:"RATE" default:"0"`
	UserAgent        string        `envconfig:"USER_AGENT" default:"dismantle/1.0"`
	BreakerThreshold int           `envconfig:"BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown  time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
}

// FormatConfig holds format settings.
type FormatConfig struct {
	DestinationPolicy string `envconfig:"DESTINATION_POLICY" default:"overwrite"`
}

// ExtensionConfig holds discovery settings.
type ExtensionConfig struct {
	Exclude     []string      `envconfig:"EXCLUDE" default:"__pycache__,.git,node_modules"`
	Suffixes    []string      `envconfig:"SUFFIXES" default:".js"`
	LoadPolicy  string        `envconfig:"LOAD_POLICY" default:"abort"`
	LoadTimeout time.Duration `envconfig:"LOAD_TIMEOUT" default:"5s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"warn"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Fetch: FetchConfig{
			Retries:          0,
			RetryWaitMin:     time.Second,
			RetryWaitMax:     30 * time.Second,
			UserAgent:        "dismantle/1.0",
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Format: FormatConfig{
			DestinationPolicy: "overwrite",
		},
		Extensions: ExtensionConfig{
			Exclude:     []string{"__pycache__", ".git", "node_modules"},
			Suffixes:    []string{".js"},
			LoadPolicy:  "abort",
			LoadTimeout: 5 * time.Second,
		},
		Logging: LogConfig{
			Level:       "warn",
			Development: false,
		},
	}
	cfg.resolve()
	return cfg
}

func (c *Config) resolve() {
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(os.TempDir(), "dismantle")
	}
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Format.DestinationPolicy) {
	case "overwrite", "reject":
	default:
		return fmt.Errorf("invalid destination policy %q", c.Format.DestinationPolicy)
	}
	switch strings.ToLower(c.Extensions.LoadPolicy) {
	case "abort", "skip":
	default:
		return fmt.Errorf("invalid extension load policy %q", c.Extensions.LoadPolicy)
	}
	if c.Fetch.Retries < 0 {
		return fmt.Errorf("fetch retries must not be negative")
	}
	return nil
}

// Manifest is the dismantle.toml project file.
type Manifest struct {
	Index        string             `toml:"index"`
	CacheDir     string             `toml:"cache_dir"`
	InstallDir   string             `toml:"install_dir"`
	Extensions   ManifestExtensions `toml:"extensions"`
	Capabilities []CapabilityConfig `toml:"capabilities"`

	dir string
}

// ManifestExtensions is the [extensions] table of the manifest.
type ManifestExtensions struct {
	Exclude    []string `toml:"exclude"`
	LoadPolicy string   `toml:"load_policy"`
}

// LoadManifest reads a manifest. Relative paths in it are resolved against
// the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m := &Manifest{}
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(abs)
	return m, nil
}

// Apply overrides configuration with every value the manifest sets.
func (c *Config) Apply(m *Manifest) {
	if m == nil {
		return
	}
	if m.Index != "" {
		c.Index.Source = m.relative(m.Index)
	}
	if m.CacheDir != "" {
		c.Cache.Dir = m.relative(m.CacheDir)
	}
	if m.InstallDir != "" {
		c.Install.Dir = m.relative(m.InstallDir)
	}
	if len(m.Extensions.Exclude) > 0 {
		c.Extensions.Exclude = m.Extensions.Exclude
	}
	if m.Extensions.LoadPolicy != "" {
		c.Extensions.LoadPolicy = m.Extensions.LoadPolicy
	}
	if len(m.Capabilities) > 0 {
		c.Capabilities = m.Capabilities
	}
}

// relative resolves local relative paths against the manifest directory and
// leaves URLs and absolute paths untouched.
func (m *Manifest) relative(p string) string {
	if strings.Contains(p, "://") || filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}
