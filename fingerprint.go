package miso

import (
	"sync/atomic"

	"github.com/minio/blake2b-simd"
)

var cacheGenerations uint64

// nextCacheGeneration gives a dataset a fresh row-cache namespace. Datasets take a new one
// whenever their column set changes, which orphans every fingerprint computed before.
func nextCacheGeneration() uint64 {
	return atomic.AddUint64(&cacheGenerations, 1)
}

// fingerprint is a content hash of a row over a fixed column list.
type fingerprint [32]byte

func rowFingerprint(columns []string, row Row) fingerprint {
	return blake2b.Sum256(encodeRow(nil, columns, row))
}

// cachedFingerprint returns the fingerprint of a stored row, consulting the dataset's row
// cache when one is configured.
func (ds *Dataset) cachedFingerprint(id RowID, row Row) fingerprint {
	if ds.opts.RowCache == nil {
		return rowFingerprint(ds.names, row)
	}
	key := rowCacheKey{ds.cacheGen, id}
	if fp, ok := ds.opts.RowCache.Get(key); ok {
		return fp.(fingerprint)
	}
	fp := rowFingerprint(ds.names, row)
	ds.opts.RowCache.Add(key, fp)
	return fp
}

func (ds *Dataset) forgetFingerprint(id RowID) {
	if ds.opts.RowCache != nil {
		ds.opts.RowCache.Remove(rowCacheKey{ds.cacheGen, id})
	}
}
