package fat32

import (
	"sync"

	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/vfat32/errors"
	"github.com/dargueta/vfat32/logicaldev"
)

// Status classifies a raw FAT entry's low 28 bits.
type Status int

const (
	StatusFree Status = iota
	StatusReserved
	StatusData
	StatusBad
	StatusEoc
)

// entryTag decodes the low 28 bits of a raw FAT entry into a Status plus,
// for Data and Eoc, the cluster number carried in those bits.
func entryTag(raw uint32) (Status, uint32) {
	cluster := raw &^ (0xF << 28)
	switch {
	case cluster == 0x0000000:
		return StatusFree, 0
	case cluster == 0x0000001:
		return StatusReserved, 0
	case cluster >= 0x0000002 && cluster <= 0xFFFFFEF:
		return StatusData, cluster
	case cluster >= 0xFFFFFF0 && cluster <= 0xFFFFFF6:
		return StatusReserved, 0
	case cluster == 0xFFFFFF7:
		return StatusBad, 0
	default: // 0xFFFFFF8 .. 0xFFFFFFF
		return StatusEoc, cluster
	}
}

const fatEntrySize = 4

// singleFAT addresses one on-disk copy of the File Allocation Table.
type singleFAT struct {
	dev    *logicaldev.LogicalDevice
	offset uint64 // byte offset of this FAT copy's first entry
	size   uint32 // number of entries
}

func newSingleFAT(dev *logicaldev.LogicalDevice, bpb *BPB, copyIndex uint) *singleFAT {
	bytesPerSector := uint64(bpb.BytesPerSector)
	fatSizeBytes := uint64(bpb.SectorsPerFAT) * bytesPerSector
	firstFATOffset := uint64(bpb.FirstFATSector) * bytesPerSector
	return &singleFAT{
		dev:    dev,
		offset: firstFATOffset + uint64(copyIndex)*fatSizeBytes,
		size:   uint32(fatSizeBytes / fatEntrySize),
	}
}

func (f *singleFAT) get(cluster uint32) (uint32, error) {
	if cluster >= f.size {
		return 0, errors.Newf(errors.InvalidInput, "cluster %d out of FAT range [0, %d)", cluster, f.size)
	}
	var buf [4]byte
	if err := f.dev.ReadByOffset(int64(f.offset+uint64(cluster)*fatEntrySize), buf[:]); err != nil {
		return 0, err
	}
	return leUint32(buf[:]), nil
}

func (f *singleFAT) set(cluster uint32, value uint32) error {
	if cluster >= f.size {
		return errors.Newf(errors.InvalidInput, "cluster %d out of FAT range [0, %d)", cluster, f.size)
	}
	var buf [4]byte
	putLEUint32(buf[:], value)
	return f.dev.WriteByOffset(int64(f.offset+uint64(cluster)*fatEntrySize), buf[:])
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLEUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Fat is the FAT table engine: it mirrors every mutation across all on-disk
// FAT copies and tracks a free-cluster bitmap to accelerate allocation scans.
//
// The bitmap is purely an accelerator layered on top of the teacher-grounded
// first-fit linear scan (see alloc below): it never changes which cluster a
// scan picks, it only lets the scan skip clusters already known to be
// allocated instead of re-reading their FAT entry.
type Fat struct {
	mu     sync.Mutex
	copies []*singleFAT
	free   bitmap.Bitmap // true = free, indexed by cluster number directly
}

// NewFat constructs the FAT engine over dev using the geometry in bpb. It
// does a single linear pass over copy 0 to seed the free-cluster bitmap.
func NewFat(dev *logicaldev.LogicalDevice, bpb *BPB) (*Fat, error) {
	copies := make([]*singleFAT, bpb.NumFATs)
	for i := range copies {
		copies[i] = newSingleFAT(dev, bpb, uint(i))
	}

	f := &Fat{copies: copies}

	size := copies[0].size
	f.free = bitmap.New(int(size))
	for cluster := uint32(firstDataCluster); cluster < size; cluster++ {
		raw, err := copies[0].get(cluster)
		if err != nil {
			return nil, err
		}
		status, _ := entryTag(raw)
		f.free.Set(int(cluster), status == StatusFree)
	}

	return f, nil
}

func (f *Fat) size() uint32 {
	return f.copies[0].size
}

// Get returns the Status and (for Data/Eoc) the cluster number encoded in
// cluster's FAT entry, reading from the first FAT copy.
func (f *Fat) Get(cluster uint32) (Status, uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getLocked(cluster)
}

func (f *Fat) getLocked(cluster uint32) (Status, uint32, error) {
	raw, err := f.copies[0].get(cluster)
	if err != nil {
		return 0, 0, err
	}
	status, next := entryTag(raw)
	return status, next, nil
}

// setLocked writes value's low 28 bits to cluster's entry in every FAT copy,
// preserving each copy's existing top 4 bits, and aggregates any per-copy
// write failures instead of stopping at the first one.
func (f *Fat) setLocked(cluster uint32, value uint32) error {
	var result *multierror.Error
	for _, copyFAT := range f.copies {
		existing, err := copyFAT.get(cluster)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		preserved := (existing & (0xF << 28)) | (value &^ (0xF << 28))
		if err := copyFAT.set(cluster, preserved); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Set writes value to cluster's entry in every FAT copy (mirroring),
// preserving each copy's own top 4 reserved bits.
func (f *Fat) Set(cluster uint32, value uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.setLocked(cluster, value); err != nil {
		return err
	}
	f.free.Set(int(cluster), value == 0)
	return nil
}

// NextInChain returns the next cluster in the chain containing cluster, or
// ok=false at end-of-chain. Any status other than Data/Eoc is InvalidData.
func (f *Fat) NextInChain(cluster uint32) (next uint32, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	status, value, err := f.getLocked(cluster)
	if err != nil {
		return 0, false, err
	}
	switch status {
	case StatusData:
		return value, true, nil
	case StatusEoc:
		return 0, false, nil
	default:
		return 0, false, errors.Newf(errors.InvalidData, "cluster %d has unexpected FAT status during traversal", cluster)
	}
}

// alloc performs the teacher-grounded first-fit linear scan from cluster 2,
// writing value to the first Free entry it finds and returning that
// cluster's index. The bitmap lets it skip clusters already known occupied.
func (f *Fat) alloc(value uint32) (uint32, error) {
	size := f.size()
	for cluster := uint32(firstDataCluster); cluster < size; cluster++ {
		if !f.free.Get(int(cluster)) {
			continue
		}
		status, _, err := f.getLocked(cluster)
		if err != nil {
			return 0, err
		}
		if status != StatusFree {
			// Bitmap was stale (shouldn't happen under our own mutation
			// paths, but don't trust it blindly); resync and skip.
			f.free.Set(int(cluster), false)
			continue
		}
		if err := f.setLocked(cluster, value); err != nil {
			return 0, err
		}
		f.free.Set(int(cluster), false)
		return cluster, nil
	}
	return 0, errors.Newf(errors.Other, "no free clusters")
}

// NewChain allocates a single cluster marked end-of-chain and returns its
// index as the chain's first cluster.
func (f *Fat) NewChain() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc(eocValue)
}

// AllocForChain allocates a new end-of-chain cluster and links lastCluster
// to point at it, extending the chain by one cluster.
func (f *Fat) AllocForChain(lastCluster uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	newCluster, err := f.alloc(eocValue)
	if err != nil {
		return 0, err
	}
	if err := f.setLocked(lastCluster, newCluster); err != nil {
		return 0, err
	}
	return newCluster, nil
}

// FreeChain walks the chain starting at firstCluster, marking every cluster
// Free, stopping after the Eoc cluster is freed.
func (f *Fat) FreeChain(firstCluster uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freeChainLocked(firstCluster)
}

func (f *Fat) freeChainLocked(firstCluster uint32) error {
	current := firstCluster
	for {
		status, next, err := f.getLocked(current)
		if err != nil {
			return err
		}
		switch status {
		case StatusData:
			if err := f.setLocked(current, 0); err != nil {
				return err
			}
			f.free.Set(int(current), true)
			current = next
		case StatusEoc:
			if err := f.setLocked(current, 0); err != nil {
				return err
			}
			f.free.Set(int(current), true)
			return nil
		default:
			return errors.Newf(errors.InvalidData, "cluster %d has unexpected FAT status while freeing chain", current)
		}
	}
}

// TruncateChain frees every cluster after lastCluster and marks lastCluster
// as the new end-of-chain.
func (f *Fat) TruncateChain(lastCluster uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	status, next, err := f.getLocked(lastCluster)
	if err != nil {
		return err
	}
	switch status {
	case StatusData:
		if err := f.freeChainLocked(next); err != nil {
			return err
		}
		return f.setLocked(lastCluster, eocValue)
	case StatusEoc:
		return nil
	default:
		return errors.Newf(errors.InvalidData, "cluster %d has unexpected FAT status during truncate", lastCluster)
	}
}
