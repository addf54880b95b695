// Package config loads dismantle configuration.
//
// Configuration comes from environment variables with sensible defaults,
// optionally overridden by a dismantle.toml project manifest. CLI flags
// override both.
//
// Configuration Sections:
//   - Cache: where remote packages and catalogs are cached
//   - Install: root directory packages are installed under
//   - Index: default catalog source (path, file:// or http(s) URL)
//   - Fetch: transport retries, timeout, rate limit and host breaker
//   - Format: destination policy shared by every format variant
//   - Extensions: exclude patterns, unit suffixes, load failure policy
//   - Logging: log level and output format
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	if m, err := config.LoadManifest("dismantle.toml"); err == nil {
//		cfg.Apply(m)
//	}
//
// Environment Variables:
//   - DISMANTLE_CACHE_DIR, DISMANTLE_INSTALL_DIR, DISMANTLE_INDEX_SOURCE
//   - DISMANTLE_FETCH_RETRIES, DISMANTLE_FETCH_TIMEOUT, DISMANTLE_FETCH_RATE
//   - DISMANTLE_FORMAT_DESTINATION_POLICY
//   - DISMANTLE_EXTENSIONS_EXCLUDE, DISMANTLE_EXTENSIONS_SUFFIXES, DISMANTLE_EXTENSIONS_LOAD_POLICY
//   - DISMANTLE_LOG_LEVEL, DISMANTLE_LOG_DEV
package config
