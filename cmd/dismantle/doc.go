// Package main is the entry point of the dismantle command line.
//
// dismantle installs packages listed in a catalog and discovers the
// extension units they ship.
//
// Configuration, later sources winning:
//   - DISMANTLE_* environment variables
//   - dismantle.toml in the working directory, or --manifest
//   - command line flags
//
// Usage:
//
//	dismantle --index ./index.json --install-dir ./packages install @scope/package
//	dismantle search scope
//	dismantle outdated
//	dismantle extensions color
//	dismantle -v
package main
