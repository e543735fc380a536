package fat32

import (
	"io"

	"github.com/dargueta/vfat32/errors"
	"github.com/dargueta/vfat32/logicaldev"
)

// ClusterChain is a seekable byte stream over a singly-linked chain of
// clusters. It owns an object-lock Guard on the chain's first cluster for
// its entire lifetime; Close releases it.
type ClusterChain struct {
	dev         *logicaldev.LogicalDevice
	fat         *Fat
	bpb         *BPB
	FirstCluster uint32

	clusterSizeBytes uint64
	previousCluster  uint32
	hasPrevious      bool
	currentCluster   uint32
	atEnd            bool
	position         uint64

	guard *Guard
}

// OpenClusterChain acquires mode on firstCluster via locks and, on success,
// returns a ClusterChain positioned at offset 0. ok is false if the lock
// could not be admitted immediately (try-lock semantics); callers that want
// to block should use OpenClusterChainBlocking.
func OpenClusterChain(dev *logicaldev.LogicalDevice, fat *Fat, bpb *BPB, locks *LockManager, firstCluster uint32, mode LockMode) (*ClusterChain, bool) {
	guard, ok := locks.TryLock(firstCluster, mode)
	if !ok {
		return nil, false
	}
	return newClusterChain(dev, fat, bpb, firstCluster, guard), true
}

// OpenClusterChainBlocking blocks until mode is admitted on firstCluster,
// then returns a ClusterChain holding that guard.
func OpenClusterChainBlocking(dev *logicaldev.LogicalDevice, fat *Fat, bpb *BPB, locks *LockManager, firstCluster uint32, mode LockMode) *ClusterChain {
	guard := locks.Lock(firstCluster, mode)
	return newClusterChain(dev, fat, bpb, firstCluster, guard)
}

func newClusterChain(dev *logicaldev.LogicalDevice, fat *Fat, bpb *BPB, firstCluster uint32, guard *Guard) *ClusterChain {
	return &ClusterChain{
		dev:              dev,
		fat:              fat,
		bpb:              bpb,
		FirstCluster:     firstCluster,
		clusterSizeBytes: uint64(bpb.BytesPerCluster),
		currentCluster:   firstCluster,
		position:         0,
		guard:            guard,
	}
}

// Close releases the chain's object lock. It must be called exactly once.
func (c *ClusterChain) Close() {
	c.guard.Release()
}

// AtEnd reports whether the chain cursor has walked off the last cluster.
func (c *ClusterChain) AtEnd() bool {
	return c.atEnd
}

func (c *ClusterChain) rewind() {
	c.position = 0
	c.hasPrevious = false
	c.currentCluster = c.FirstCluster
	c.atEnd = false
}

func (c *ClusterChain) clusterIndex(pos uint64) uint64 {
	return pos / c.clusterSizeBytes
}

// advance moves the cursor forward by n bytes, following the chain through
// the FAT as cluster boundaries are crossed. Advancing past the last
// cluster's end sets atEnd; callers that are not allowed to extend the
// chain (reads) must treat that as end-of-data, while Write extends instead.
func (c *ClusterChain) advance(n uint64) error {
	finalPos := c.position + n
	for c.position < finalPos {
		if c.atEnd {
			return errors.Newf(errors.UnexpectedEOF, "advance past end of cluster chain")
		}
		nextClusterIndex := c.clusterIndex(c.position) + 1
		nextClusterStart := nextClusterIndex * c.clusterSizeBytes

		if finalPos < nextClusterStart {
			c.position = finalPos
			break
		}

		next, ok, err := c.fat.NextInChain(c.currentCluster)
		if err != nil {
			return err
		}
		c.position = nextClusterStart
		c.previousCluster = c.currentCluster
		c.hasPrevious = true
		if ok {
			c.currentCluster = next
		} else {
			c.atEnd = true
		}
	}
	return nil
}

// advanceToEnd walks the remainder of the chain without reading its bytes,
// used to implement SeekFrom end-relative.
func (c *ClusterChain) advanceToEnd() error {
	if c.atEnd {
		return nil
	}
	nextClusterIndex := c.clusterIndex(c.position) + 1
	nextClusterStart := nextClusterIndex * c.clusterSizeBytes
	if err := c.advance(nextClusterStart - c.position); err != nil {
		return err
	}
	for !c.atEnd {
		if err := c.advance(c.clusterSizeBytes); err != nil {
			return err
		}
	}
	return nil
}

func clusterMin(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Read implements io.Reader. At end-of-chain it returns (0, nil): the chain
// itself has no notion of logical size, so "no more clusters" simply means
// no more bytes are available right now (File imposes the size boundary).
func (c *ClusterChain) Read(buf []byte) (int, error) {
	totalRead := 0
	for {
		if c.atEnd {
			break
		}
		bufTail := buf[totalRead:]
		clusterOffset := c.position % c.clusterSizeBytes
		readSize := clusterMin(c.clusterSizeBytes-clusterOffset, uint64(len(bufTail)))
		if readSize == 0 {
			break
		}

		sector, err := c.bpb.ClusterToSector(c.currentCluster)
		if err != nil {
			return totalRead, err
		}
		offset := int64(sector)*int64(c.bpb.BytesPerSector) + int64(clusterOffset)
		if err := c.dev.ReadByOffset(offset, bufTail[:readSize]); err != nil {
			return totalRead, err
		}

		if err := c.advance(readSize); err != nil {
			return totalRead, err
		}
		totalRead += int(readSize)
	}
	return totalRead, nil
}

// Write implements io.Writer. It requires the chain's guard to have been
// acquired in LockWrite mode, and extends the chain via the FAT engine when
// the cursor runs off the current end-of-chain.
func (c *ClusterChain) Write(buf []byte) (int, error) {
	if c.guard.Mode() != LockWrite {
		return 0, errors.Newf(errors.PermissionDenied, "cluster chain is open for reading only")
	}

	totalWritten := 0
	for {
		bufTail := buf[totalWritten:]
		clusterOffset := c.position % c.clusterSizeBytes
		writeSize := clusterMin(c.clusterSizeBytes-clusterOffset, uint64(len(bufTail)))
		if writeSize == 0 {
			break
		}

		if c.atEnd {
			if !c.hasPrevious {
				return totalWritten, errors.Newf(errors.Other, "cannot extend chain with no previous cluster")
			}
			newCluster, err := c.fat.AllocForChain(c.previousCluster)
			if err != nil {
				return totalWritten, err
			}
			c.currentCluster = newCluster
			c.atEnd = false
		}

		sector, err := c.bpb.ClusterToSector(c.currentCluster)
		if err != nil {
			return totalWritten, err
		}
		offset := int64(sector)*int64(c.bpb.BytesPerSector) + int64(clusterOffset)
		if err := c.dev.WriteByOffset(offset, bufTail[:writeSize]); err != nil {
			return totalWritten, err
		}

		if err := c.advance(writeSize); err != nil {
			return totalWritten, err
		}
		totalWritten += int(writeSize)
	}
	return totalWritten, nil
}

// Flush syncs the underlying device.
func (c *ClusterChain) Flush() error {
	return c.dev.Sync()
}

// Seek implements io.Seeker with the policy from the source: Start(p) seeks
// absolutely; Current(d) is relative; End(d) requires d >= 0 and walks the
// whole chain to find the end, then seeks backward by d. A negative result,
// or an End seek past the start, is InvalidInput.
func (c *ClusterChain) Seek(offset int64, whence int) (int64, error) {
	var newPos uint64

	switch whence {
	case io.SeekStart:
		if offset < 0 {
			return 0, errors.Newf(errors.InvalidInput, "negative seek offset")
		}
		newPos = uint64(offset)

	case io.SeekEnd:
		if offset < 0 {
			return 0, errors.Newf(errors.InvalidInput, "SeekEnd requires a non-negative offset")
		}
		if err := c.advanceToEnd(); err != nil {
			return 0, err
		}
		if uint64(offset) > c.position {
			return 0, errors.Newf(errors.InvalidInput, "seek before start of chain")
		}
		newPos = c.position - uint64(offset)

	case io.SeekCurrent:
		result := int64(c.position) + offset
		if result < 0 {
			return 0, errors.Newf(errors.InvalidInput, "negative seek offset")
		}
		newPos = uint64(result)

	default:
		return 0, errors.Newf(errors.InvalidInput, "unknown whence value %d", whence)
	}

	position := c.position
	if newPos < position {
		c.rewind()
		if err := c.advance(newPos); err != nil {
			return 0, err
		}
	} else {
		if err := c.advance(newPos - position); err != nil {
			return 0, err
		}
	}
	return int64(c.position), nil
}
