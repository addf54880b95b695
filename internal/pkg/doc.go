/*
Package pkg manages the lifecycle of a single package: install, uninstall
and verification, plus the metadata read from its package.json descriptor.

Two handlers share the Package state machine (Uninstalled, Installed,
Uninstalled again):

  - Local: a path on disk, extracted with the Directory format by default.
    Installing without a destination installs in place, and uninstalling an
    in-place package never deletes its source.
  - HTTP: an http(s) URL, extracted with the Zip format by default. The
    archive is mirrored into a cache file and only re-downloaded when its
    MD5 no longer matches the server (see package fetch). If the
    destination already holds the known version, nothing is fetched.

Descriptor rules: package.json must be a JSON object with a "name" equal to
the declared package name and a "version". Any other fields are kept
verbatim in the metadata map. A failing descriptor aborts the install after
extraction; extracted files are left in place for manual cleanup.

Verification is an unimplemented extension point: Verify accepts an empty
digest and refuses any other with ErrVerificationUnsupported.
*/
package pkg
