// Package manager ties a catalog, package handlers and extension discovery
// together.
//
// Every public operation runs through a hook registry under a fixed name
// (install, uninstall, discover), so callers can attach functions that run
// before or after it. Before hooks receive the operation's input and may
// replace it; after hooks receive its result.
package manager
