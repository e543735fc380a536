package fat32

import (
	"encoding/binary"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/dargueta/vfat32/errors"
	"github.com/dargueta/vfat32/logicaldev"
)

const maxNameUnits = 255

// Directory is a ClusterChain holding a contiguous array of 32-byte slots,
// plus an optional parent Entry (nil for the root directory). Every raw
// slot access is serialized through mu, since ClusterChain keeps mutable
// cursor state that can't be shared across concurrent callers.
type Directory struct {
	mu    sync.Mutex
	dev   *logicaldev.LogicalDevice
	fat   *Fat
	bpb   *BPB
	locks *LockManager
	chain *ClusterChain

	FirstCluster uint32
	parent       *Entry
}

// openDirectory write-locks firstCluster's chain and wraps it as a
// Directory. Every Directory always holds its chain in Write mode, since
// listing and mutation share the same cursor and the weak directory cache
// means concurrent callers serialize through the same object anyway.
func openDirectory(dev *logicaldev.LogicalDevice, fat *Fat, bpb *BPB, locks *LockManager, firstCluster uint32, parent *Entry) (*Directory, error) {
	chain := OpenClusterChainBlocking(dev, fat, bpb, locks, firstCluster, LockWrite)
	return &Directory{
		dev:          dev,
		fat:          fat,
		bpb:          bpb,
		locks:        locks,
		chain:        chain,
		FirstCluster: firstCluster,
		parent:       parent,
	}, nil
}

// Close releases the directory's underlying chain lock.
func (d *Directory) Close() {
	d.chain.Close()
}

// getRawSlot returns (slot, true, nil) for any slot whose first byte isn't
// the 0x00 terminator, (zero, false, nil) when the terminator is reached or
// the chain itself ends at this index, and a non-nil error only for a
// genuine I/O or decode failure.
func (d *Directory) getRawSlot(index uint64) (rawSlot, bool, error) {
	if _, err := d.chain.Seek(int64(index*DirentSize), io.SeekStart); err != nil {
		return rawSlot{}, false, err
	}
	if d.chain.AtEnd() {
		return rawSlot{}, false, nil
	}

	var buf rawSlot
	if _, err := io.ReadFull(d.chain, buf[:]); err != nil {
		return rawSlot{}, false, err
	}
	if buf.isEndMarker() {
		return rawSlot{}, false, nil
	}
	return buf, true, nil
}

func (d *Directory) setRawSlot(index uint64, slot rawSlot) error {
	if _, err := d.chain.Seek(int64(index*DirentSize), io.SeekStart); err != nil {
		return err
	}
	_, err := d.chain.Write(slot[:])
	return err
}

// decodedEntry is one fully resolved logical directory entry (an LFN run
// plus its trailing Regular slot, or a bare Regular slot).
type decodedEntry struct {
	name       string
	shortName  string
	metadata   Metadata
	startIndex uint64
	endIndex   uint64 // inclusive, index of the Regular slot
}

// nextDecodedEntry scans forward from index for the next logical entry
// (LFN run + Regular, or bare Regular), decoding it fully. It returns
// ok=false once the directory's terminator is reached.
func (d *Directory) nextDecodedEntry(index uint64) (decodedEntry, bool, error) {
	raw, ok, err := d.getRawSlot(index)
	for ok && !raw.isValid() {
		index++
		raw, ok, err = d.getRawSlot(index)
	}
	if err != nil {
		return decodedEntry{}, false, err
	}
	if !ok {
		return decodedEntry{}, false, nil
	}

	startIndex := index

	var longName string
	var hasLongName bool
	var regular rawSlot
	var regularIndex uint64

	if raw.isLFN() {
		seq := lfnSequenceNumber(raw)
		if seq&lfnLastFlag == 0 {
			return decodedEntry{}, false, errors.Newf(errors.InvalidData, "invalid sequence number for first LFN slot at index %d", index)
		}
		count := int(seq & lfnSeqMask)

		slots := make([]rawSlot, 0, count)
		slots = append(slots, raw)

		for i := 1; i < count; i++ {
			index++
			next, ok, err := d.getRawSlot(index)
			if err != nil {
				return decodedEntry{}, false, err
			}
			if !ok {
				return decodedEntry{}, false, errors.Newf(errors.UnexpectedEOF, "directory ended mid-LFN run")
			}
			if !next.isLFN() {
				return decodedEntry{}, false, errors.Newf(errors.InvalidData, "unexpected non-LFN slot mid-run at index %d", index)
			}
			expected := byte(count - i)
			if lfnSequenceNumber(next)&lfnSeqMask != expected {
				return decodedEntry{}, false, errors.Newf(errors.InvalidData, "invalid LFN sequence number at index %d", index)
			}
			slots = append(slots, next)
		}

		name, err := decodeLFNName(slots)
		if err != nil {
			return decodedEntry{}, false, err
		}
		longName = name
		hasLongName = true

		index++
		nextSlot, ok, err := d.getRawSlot(index)
		if err != nil {
			return decodedEntry{}, false, err
		}
		if !ok {
			return decodedEntry{}, false, errors.Newf(errors.UnexpectedEOF, "directory ended after LFN run with no Regular slot")
		}
		if !nextSlot.isRegular() {
			return decodedEntry{}, false, errors.Newf(errors.InvalidData, "slot after LFN run is not Regular")
		}
		regular = nextSlot
		regularIndex = index
	} else {
		regular = raw
		regularIndex = index
	}

	decodedRegular, err := decodeRegularSlot(regular)
	if err != nil {
		return decodedEntry{}, false, err
	}

	created, err := decodeDateTime(decodedRegular.createdDate, decodedRegular.createdTime)
	if err != nil {
		return decodedEntry{}, false, err
	}
	modified, err := decodeDateTime(decodedRegular.modifiedDate, decodedRegular.modifiedTime)
	if err != nil {
		return decodedEntry{}, false, err
	}
	accessed := decodeFATDate(decodedRegular.accessedDate)

	name := decodedRegular.shortName
	if hasLongName {
		name = longName
	}

	return decodedEntry{
		name:      name,
		shortName: decodedRegular.shortName,
		metadata: Metadata{
			Attributes:   decodedRegular.attributes,
			Created:      created,
			Accessed:     accessed,
			Modified:     modified,
			FirstCluster: decodedRegular.firstCluster,
			Size:         decodedRegular.size,
		},
		startIndex: startIndex,
		endIndex:   regularIndex,
	}, true, nil
}

func (d *Directory) hasVisibleEntryNamed(name string) (bool, error) {
	var index uint64
	for {
		entry, ok, err := d.nextDecodedEntry(index)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		index = entry.endIndex + 1
		if entry.metadata.IsVolumeID() || entry.name == "." || entry.name == ".." {
			continue
		}
		if entry.name == name {
			return true, nil
		}
	}
}

// CreateEntry implements the free-slot-run scan and LFN+Regular slot
// synthesis of spec §4.7.6.
func (d *Directory) CreateEntry(name string, metadata Metadata) (decodedEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	nameUnits := utf16Length(name)
	if nameUnits == 0 || nameUnits >= maxNameUnits {
		return decodedEntry{}, errors.Newf(errors.InvalidInput, "name length must be in (0, 255) UTF-16 units, got %d", nameUnits)
	}
	if exists, err := d.hasVisibleEntryNamed(name); err != nil {
		return decodedEntry{}, err
	} else if exists {
		return decodedEntry{}, errors.Newf(errors.AlreadyExists, "an entry named %q already exists", name)
	}

	totalSlots := uint64((nameUnits+lfnMaxUnitsPerSlot-1)/lfnMaxUnitsPerSlot) + 1

	var freeCount uint64
	var index uint64
	reachedTerminal := false
	for {
		raw, ok, err := d.getRawSlot(index)
		if err != nil {
			return decodedEntry{}, err
		}
		if ok {
			if raw.isValid() {
				freeCount = 0
			} else {
				freeCount++
			}
			if freeCount == totalSlots {
				break
			}
		} else {
			freeCount++
			reachedTerminal = true
			break
		}
		index++
	}
	allocIndex := index - freeCount + 1

	shortName := synthesizeShortName(allocIndex)
	shortName8, shortExt3 := splitShortName8_3(shortName)
	checksum := shortNameChecksum(shortName8, shortExt3)

	regularSlotValue := encodeRegularSlot(shortName8, shortExt3, metadata.Attributes, metadata.Created, metadata.Modified, metadata.Accessed, metadata.FirstCluster, metadata.Size)
	lfnSlots, err := encodeLFNSlots(name, checksum)
	if err != nil {
		return decodedEntry{}, err
	}
	if uint64(len(lfnSlots))+1 != totalSlots {
		return decodedEntry{}, errors.Newf(errors.Other, "internal error: LFN slot count mismatch")
	}

	for i, slot := range lfnSlots {
		if err := d.setRawSlot(allocIndex+uint64(i), slot); err != nil {
			return decodedEntry{}, err
		}
	}
	regularIndex := allocIndex + uint64(len(lfnSlots))
	if err := d.setRawSlot(regularIndex, regularSlotValue); err != nil {
		return decodedEntry{}, err
	}
	if reachedTerminal {
		if err := d.setRawSlot(regularIndex+1, newEndMarkerSlot()); err != nil {
			return decodedEntry{}, err
		}
	}

	return decodedEntry{
		name:      name,
		shortName: shortName,
		metadata:  metadata,
		startIndex: allocIndex,
		endIndex:   regularIndex,
	}, nil
}

// RemoveEntry overwrites every slot in [startIndex, endIndex] with the free
// marker. The directory chain is never shrunk.
func (d *Directory) RemoveEntry(startIndex, endIndex uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := startIndex; i <= endIndex; i++ {
		if err := d.setRawSlot(i, newFreeSlot()); err != nil {
			return err
		}
	}
	return nil
}

// SetSize rewrites the Regular slot's size field at regularIndex. Used by
// File on flush when its logical size has changed.
func (d *Directory) SetSize(regularIndex uint64, size uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok, err := d.getRawSlot(regularIndex)
	if err != nil {
		return err
	}
	if !ok || !slot.isRegular() {
		return errors.Newf(errors.InvalidData, "slot %d is not a Regular entry", regularIndex)
	}
	putLEUint32(slot[28:32], size)
	return d.setRawSlot(regularIndex, slot)
}

// touchModified rewrites the Regular slot's Modified timestamp at
// regularIndex, leaving every other field untouched.
func (d *Directory) touchModified(regularIndex uint64, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok, err := d.getRawSlot(regularIndex)
	if err != nil {
		return err
	}
	if !ok || !slot.isRegular() {
		return errors.Newf(errors.InvalidData, "slot %d is not a Regular entry", regularIndex)
	}
	binary.LittleEndian.PutUint16(slot[24:26], dateToFATDate(now))
	binary.LittleEndian.PutUint16(slot[22:24], timeToFATTime(now))
	return d.setRawSlot(regularIndex, slot)
}

// InitEmpty writes "." and ".." (when parentFirstCluster is non-nil) or just
// a bare terminator for the root directory, per spec §4.7.8.
func (d *Directory) InitEmpty(now time.Time, parentFirstCluster *uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if parentFirstCluster == nil {
		return d.setRawSlot(0, newEndMarkerSlot())
	}

	dotMeta := Metadata{
		Attributes:   AttrDirectory,
		Created:      now,
		Accessed:     now,
		Modified:     now,
		FirstCluster: d.FirstCluster,
		Size:         0,
	}
	dotSlot := encodeRegularSlot(".", "", dotMeta.Attributes, dotMeta.Created, dotMeta.Modified, dotMeta.Accessed, dotMeta.FirstCluster, 0)
	if err := d.setRawSlot(0, dotSlot); err != nil {
		return err
	}

	dotdotMeta := dotMeta
	dotdotMeta.FirstCluster = *parentFirstCluster
	dotdotSlot := encodeRegularSlot("..", "", dotdotMeta.Attributes, dotdotMeta.Created, dotdotMeta.Modified, dotdotMeta.Accessed, dotdotMeta.FirstCluster, 0)
	if err := d.setRawSlot(1, dotdotSlot); err != nil {
		return err
	}

	return d.setRawSlot(2, newEndMarkerSlot())
}

// Iterator yields the visible entries of a directory: volume-id entries and
// "." / ".." are filtered out, per spec §4.7.5.
type Iterator struct {
	dir   *Directory
	index uint64
}

// Entries returns a fresh Iterator positioned at the start of the directory.
func (d *Directory) Entries() *Iterator {
	return &Iterator{dir: d}
}

// Next returns the next visible decoded entry, or ok=false once the
// directory is exhausted.
func (it *Iterator) Next() (decodedEntry, bool, error) {
	for {
		entry, ok, err := it.dir.nextDecodedEntry(it.index)
		if err != nil {
			return decodedEntry{}, false, err
		}
		if !ok {
			return decodedEntry{}, false, nil
		}
		it.index = entry.endIndex + 1
		if entry.metadata.IsVolumeID() || entry.name == "." || entry.name == ".." {
			continue
		}
		return entry, true, nil
	}
}

func utf16Length(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// synthesizeShortName mirrors the original driver's collision-avoiding
// placeholder short name, unique per allocation index within one directory.
func synthesizeShortName(allocIndex uint64) string {
	return "_~" + strconv.FormatUint(allocIndex, 10)
}
