/*
Package format recognizes package source shapes and extracts them to disk.

A Format answers two questions about a source path: whether it can handle
it (Grasps) and how to materialize it under a destination (Extract).

Variants:
  - Directory: an existing directory, copied file by file
  - Zip: a path whose final suffix is .zip
  - Tar: a path whose full suffix is exactly .tar
  - Tgz: a path whose full suffix is .tgz or .tar.gz
  - TarZst: a path whose full suffix is .tar.zst or .tzst

Grasps is a pure suffix check (Directory excepted, which stats the path).
Extract additionally sniffs the content of archives and fails with
ErrInvalidArchive before touching the destination.

Destination Policy:
Every variant applies the same Policy when the destination already exists.
Overwrite (the default) writes over existing files. Reject fails with
ErrDestinationConflict. The policy is chosen per variant with WithPolicy.

Paths:
Both source and destination accept a file:// prefix, removed by StripScheme
before any filesystem access.
*/
package format
