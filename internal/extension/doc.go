/*
Package extension discovers extension units in installed packages and
registers the types they contribute under capability categories.

# Units

Every installed package may carry an extensions directory. Each JavaScript
file below it, and each sub-directory holding an index.js, is one unit. A
unit runs once, at discovery, in a goja runtime of its own. The runtime
exposes one base class per configured capability and a register function:

	class GreenColorExtension extends ColorExtension {
		get name() { return "green"; }
		color() { return "green"; }
	}
	register(GreenColorExtension);

Nothing else is reachable from a unit: require, process, module and exports
are undefined and console output is routed to the host logger.

# Naming

A unit's prefix is <package>.extension.<dotted path>, where the dotted path
is its location below the extensions directory with separators turned into
dots and the source suffix removed. Dots already present in file names are
kept. A registered type is keyed by <prefix>.<TypeName>.

# Registration

A registered value counts as a type when it is a constructor. It implements
a capability when its prototype chain reaches the capability's base class,
or when its prototype defines activate, deactivate and every method of the
capability. A type implementing several capabilities is registered once in
each of their categories. Categories are seeded from the configured
capabilities, so an empty category is a valid, empty result.
*/
package extension
