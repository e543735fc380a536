// Package cache provides a write-back sector cache over a blockdev.BlockDevice.
//
// Unlike the teacher's drivers/common/blockcache.BlockCache, which caches a
// bounded, preallocated run of blocks belonging to a single file system
// object, CachedDevice sits directly on top of an entire device and must
// tolerate sector indexes scattered across the whole address space. A
// preallocated bitmap (the teacher's approach) doesn't fit that access
// pattern, so entries are kept in a map keyed by sector index instead; the
// CacheEntry.dirty flag does the same job the teacher's dirtyBlocks bitmap
// does, just per-entry instead of per-bit.
package cache

import (
	"sync"

	"github.com/dargueta/vfat32/blockdev"
	"github.com/dargueta/vfat32/errors"
)

// CacheEntry holds one cached sector and whether it has been modified since
// it was loaded (or since it was last flushed).
type CacheEntry struct {
	bytes []byte
	dirty bool
}

// CachedDevice is a write-back cache keyed by sector index. Reads populate
// the cache on miss; writes mark an entry dirty without flushing. There is no
// capacity limit or eviction policy: the cache grows to the size of the
// device's accessed footprint for the life of the mount, and Sync flushes
// everything dirty before the mount goes away.
//
// CachedDevice itself implements blockdev.BlockDevice, so it can be composed
// transparently wherever a BlockDevice is expected.
type CachedDevice struct {
	mu      sync.Mutex
	dev     blockdev.BlockDevice
	entries map[blockdev.Sector]*CacheEntry
}

// New wraps dev with a write-back sector cache.
func New(dev blockdev.BlockDevice) *CachedDevice {
	return &CachedDevice{
		dev:     dev,
		entries: make(map[blockdev.Sector]*CacheEntry),
	}
}

func (c *CachedDevice) SectorSize() uint {
	return c.dev.SectorSize()
}

// getOrLoad returns the cache entry for sector n, reading it from the
// wrapped device first if it isn't already cached. Callers must hold c.mu.
func (c *CachedDevice) getOrLoad(n blockdev.Sector) (*CacheEntry, error) {
	entry, ok := c.entries[n]
	if ok {
		return entry, nil
	}

	buf := make([]byte, c.dev.SectorSize())
	if err := c.dev.ReadSector(n, buf); err != nil {
		return nil, err
	}

	entry = &CacheEntry{bytes: buf}
	c.entries[n] = entry
	return entry, nil
}

func (c *CachedDevice) ReadSector(n blockdev.Sector, buf []byte) error {
	if uint(len(buf)) != c.dev.SectorSize() {
		return errors.Newf(
			errors.InvalidInput,
			"buffer must be exactly %d bytes (one sector), got %d",
			c.dev.SectorSize(),
			len(buf),
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.getOrLoad(n)
	if err != nil {
		return err
	}
	copy(buf, entry.bytes)
	return nil
}

func (c *CachedDevice) WriteSector(n blockdev.Sector, buf []byte) error {
	if uint(len(buf)) != c.dev.SectorSize() {
		return errors.Newf(
			errors.InvalidInput,
			"buffer must be exactly %d bytes (one sector), got %d",
			c.dev.SectorSize(),
			len(buf),
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[n]
	if !ok {
		entry = &CacheEntry{bytes: make([]byte, c.dev.SectorSize())}
		c.entries[n] = entry
	}
	copy(entry.bytes, buf)
	entry.dirty = true
	return nil
}

// Sync iterates every dirty entry in unspecified order, writing each back to
// the wrapped device and clearing its dirty flag, then syncs the wrapped
// device itself.
func (c *CachedDevice) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *CachedDevice) flushLocked() error {
	for sector, entry := range c.entries {
		if !entry.dirty {
			continue
		}
		if err := c.dev.WriteSector(sector, entry.bytes); err != nil {
			return err
		}
		entry.dirty = false
	}
	return c.dev.Sync()
}

// Close flushes all dirty sectors. It mirrors the teacher's drop-time flush
// behavior (cache dtors sync before going away) as an explicit call, since Go
// has no deterministic destructors; callers should defer Close after mounting.
func (c *CachedDevice) Close() error {
	return c.Sync()
}
