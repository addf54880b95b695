// Package index reads package catalogs.
//
// A catalog maps package names to entries carrying at least a name, a
// version and a path. It is either a JSON or YAML object keyed by package
// name, or a list of entries. Catalog order is preserved. Entry paths may be
// absolute, URLs, or relative to the catalog's own location.
//
// File reads a catalog from disk (optionally file:// prefixed). URL mirrors a
// remote catalog into <cache>/index.json with the same conditional fetch as
// remote packages, so an unchanged catalog is never downloaded twice.
package index
