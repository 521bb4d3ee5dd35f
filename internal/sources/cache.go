package sources

import (
	"github.com/gregjones/httpcache"
	lru "github.com/hashicorp/golang-lru/v2"
)

// lruCache is an httpcache.Cache holding at most a fixed number of responses
type lruCache struct {
	entries *lru.Cache[string, []byte]
}

// Ensure lruCache implements httpcache.Cache
var _ httpcache.Cache = (*lruCache)(nil)

func newLRUCache(size int) *lruCache {
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &lruCache{entries: entries}
}

func (c *lruCache) Get(key string) ([]byte, bool) {
	return c.entries.Get(key)
}

func (c *lruCache) Set(key string, responseBytes []byte) {
	c.entries.Add(key, responseBytes)
}

func (c *lruCache) Delete(key string) {
	c.entries.Remove(key)
}

// Len returns the number of cached responses
func (c *lruCache) Len() int {
	return c.entries.Len()
}
