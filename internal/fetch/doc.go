/*
Package fetch moves remote packages and catalogs into a local cache.

# Client

Client is a resty client running over a go-retryablehttp transport. It adds
an optional token bucket rate limit and a per-host breaker. Retries default
to zero: a single attempt is made and whatever the server answers is handed
back, so retry policy stays an explicit caller decision.

# Conditional Fetch

Cache pairs a remote URL with one local file. Before every request the MD5
digest of the cached file is recomputed and sent as If-None-Match:

  - 304 Not Modified: the cache is current, nothing is written
  - 200 OK: the body replaces the cache file (temp file then rename)
  - anything else: RemoteUnavailableError carrying the status code

A missing cache file digests like an empty one, which never matches a real
entity tag, so the first fetch always downloads.

Outdated performs the same check with HEAD and never touches the cache.

# Usage

	client := fetch.NewClient(fetch.DefaultSettings())
	cache := fetch.NewCache(client, "https://example.com/pkg.zip", "/tmp/cache/pkg.zip")
	updated, err := cache.Fetch(ctx)
*/
package fetch
