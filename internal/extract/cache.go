package extract

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the extraction cache capacity in files.
const DefaultCacheSize = 512

// Cache memoizes extraction results. Watch-driven updates frequently
// revisit the same content (editor save churn, reverts), and keying by
// (path, content hash) makes those hits free without invalidation logic.
// The path stays in the key because module names derive from it.
type Cache struct {
	lru *lru.Cache[string, *File]
}

// NewCache creates a cache holding up to size extraction results.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New[string, *File](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

func cacheKey(path, contentHash string) string {
	return path + "\x00" + contentHash
}

// Get returns the cached extraction for a path at a given content hash.
func (c *Cache) Get(path, contentHash string) (*File, bool) {
	return c.lru.Get(cacheKey(path, contentHash))
}

// Add stores an extraction result.
func (c *Cache) Add(f *File) {
	c.lru.Add(cacheKey(f.Path, f.ContentHash), f)
}

// Len returns the number of cached extractions.
func (c *Cache) Len() int {
	return c.lru.Len()
}
