// Package cache owns the on-disk object cache. Every cached object is a pair
// of sibling files in one flat directory:
//
//	<CacheDir>/<key>       # payload bytes
//	<CacheDir>/<key>.json  # {"url": ..., "etag": ...}
//
// The pair is the unit of membership: a payload without well-formed metadata
// is a miss. Promote places the payload first (temp file + rename) and writes
// the metadata last, so an interrupted promote can only leave an orphan
// payload that Lookup ignores. Racing promotes of the same key need no locks
// because equal keys imply identical content.
package cache
