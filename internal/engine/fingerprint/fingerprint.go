// Package fingerprint computes the script fingerprint recorded in the
// registry's changes.script_hash column: a SHA-1 over the concatenated
// bytes of a change's deploy, revert, and verify scripts.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ScriptPaths names the three script files that make up one change. Any
// path may be empty, meaning that script does not exist for this change.
type ScriptPaths struct {
	Deploy string
	Revert string
	Verify string
}

// Of returns the lower-hex SHA-1 of deploy||revert||verify file bytes, in
// that order. A missing file (empty path, or a path that does not exist)
// contributes zero bytes to the digest — it is not an error.
func Of(paths ScriptPaths) (string, error) {
	h := sha1.New()
	for _, p := range []string{paths.Deploy, paths.Revert, paths.Verify} {
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// cacheKey identifies a memoized fingerprint by path, size, and mtime —
// any of the three changing invalidates the entry.
type cacheKey struct {
	deploy, revert, verify string
	sizes                  [3]int64
	mtimes                 [3]int64
}

// defaultCacheSize bounds the LRU so a very long plan can't grow the cache
// without limit; a plan with more changes than this just evicts its oldest
// fingerprints first, falling back to recomputing them.
const defaultCacheSize = 4096

// Cache memoizes Of against repeated calls against the same scripts within
// one process run, avoiding re-hashing unchanged files during a reconcile
// pass over a long plan. It is safe for concurrent use (golang-lru/v2 is
// internally locked).
type Cache struct {
	entries *lru.Cache[cacheKey, string]
}

// NewCache returns an empty, bounded fingerprint cache.
func NewCache() *Cache {
	c, err := lru.New[cacheKey, string](defaultCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultCacheSize never is.
		panic(err)
	}
	return &Cache{entries: c}
}

// Of is like the package-level Of, but consults and populates the cache
// first, keyed on each script's path, size, and modification time.
func (c *Cache) Of(paths ScriptPaths) (string, error) {
	key, ok := c.statKey(paths)
	if ok {
		if v, found := c.entries.Get(key); found {
			return v, nil
		}
	}

	v, err := Of(paths)
	if err != nil {
		return "", err
	}

	if ok {
		c.entries.Add(key, v)
	}
	return v, nil
}

// statKey stats the three script paths to build a cache key. A missing file
// is keyed with size -1. If a non-empty path fails to stat for any other
// reason, the second return is false and the caller should not cache the
// result (the file may be in a transient state
// worth re-reading every time rather than trusting a memo).
func (c *Cache) statKey(paths ScriptPaths) (cacheKey, bool) {
	key := cacheKey{deploy: paths.Deploy, revert: paths.Revert, verify: paths.Verify}
	for i, p := range []string{paths.Deploy, paths.Revert, paths.Verify} {
		if p == "" {
			continue
		}
		fi, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				key.sizes[i] = -1
				continue
			}
			return cacheKey{}, false
		}
		key.sizes[i] = fi.Size()
		key.mtimes[i] = fi.ModTime().UnixNano()
	}
	return key, true
}
