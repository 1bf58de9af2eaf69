package miso

import lru "github.com/hashicorp/golang-lru"

// RowCache caches row fingerprints for the diff engine. One cache can be shared by any
// number of datasets; entries are keyed by dataset and row, and dropped whenever the row
// changes.
type RowCache interface {
	// Add records the fingerprint of a row.
	Add(key, value interface{})
	// Get retrieves a previously recorded fingerprint.
	Get(key interface{}) (value interface{}, ok bool)
	// Remove forgets a row.
	Remove(key interface{})
}

// NewRowCache creates a new LRU-based row cache of the given size.
func NewRowCache(size int) RowCache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}
	return cache
}

type rowCacheKey struct {
	generation uint64
	id         RowID
}
