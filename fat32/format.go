package fat32

import (
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/dargueta/vfat32/blockdev"
	"github.com/dargueta/vfat32/errors"
)

// FormatOptions controls the geometry FormatVolume lays down. Zero values
// for NumFATs, VolumeLabel, and OEMName fall back to FAT32 conventions (2
// FAT copies, an 11-byte blank label, "VFAT32  ").
type FormatOptions struct {
	BytesPerSector    uint
	SectorsPerCluster uint
	TotalSectors      uint
	NumFATs           uint
	VolumeLabel       string
	OEMName           string
}

const (
	defaultNumFATs = 2
	reservedSectorCount = 32
)

// FormatVolume writes a fresh FAT32 boot sector, FAT copies (with clusters 0
// and 1 reserved and the root directory's single cluster marked
// end-of-chain), and an empty root directory to dev, matching the layout
// ReadBPB/NewFat expect to find on mount.
func FormatVolume(dev blockdev.BlockDevice, opts FormatOptions, clock Clock) error {
	sectorSize := dev.SectorSize()
	if opts.BytesPerSector == 0 {
		opts.BytesPerSector = sectorSize
	}
	if opts.BytesPerSector != sectorSize {
		return errors.Newf(errors.InvalidInput, "requested BytesPerSector %d does not match device sector size %d", opts.BytesPerSector, sectorSize)
	}
	switch opts.SectorsPerCluster {
	case 0:
		opts.SectorsPerCluster = 8
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return errors.Newf(errors.InvalidInput, "SectorsPerCluster must be a power of 2 in 1-128, got %d", opts.SectorsPerCluster)
	}
	if opts.NumFATs == 0 {
		opts.NumFATs = defaultNumFATs
	}
	if opts.TotalSectors == 0 {
		return errors.Newf(errors.InvalidInput, "TotalSectors must be nonzero")
	}
	if opts.OEMName == "" {
		opts.OEMName = "VFAT32  "
	}

	sectorsPerFAT := sectorsPerFATNeeded(opts)
	firstDataSector := reservedSectorCount + opts.NumFATs*sectorsPerFAT
	if opts.TotalSectors <= firstDataSector+opts.SectorsPerCluster {
		return errors.Newf(errors.InvalidInput, "TotalSectors %d is too small for this geometry", opts.TotalSectors)
	}

	if err := writeBootSector(dev, opts, sectorsPerFAT); err != nil {
		return err
	}
	if err := writeEmptyFATs(dev, opts, sectorsPerFAT); err != nil {
		return err
	}
	if err := writeEmptyRootDirectory(dev, opts, firstDataSector, clock); err != nil {
		return err
	}
	return dev.Sync()
}

// sectorsPerFATNeeded finds the FAT size by fixed-point iteration: starting
// from one sector, it counts the clusters left after the reserved area and
// the FAT copies, computes how many sectors a FAT of that many 4-byte entries
// needs, and grows the FAT to that size until the current size suffices. The
// estimate only ever grows; it is never reduced.
func sectorsPerFATNeeded(opts FormatOptions) uint {
	sectorsPerFAT := uint(1)
	for {
		dataSectors := opts.TotalSectors - reservedSectorCount - opts.NumFATs*sectorsPerFAT
		clusters := dataSectors / opts.SectorsPerCluster
		needed := (clusters*fatEntrySize + opts.BytesPerSector - 1) / opts.BytesPerSector
		if needed <= sectorsPerFAT {
			return sectorsPerFAT
		}
		sectorsPerFAT = needed
	}
}

func writeBootSector(dev blockdev.BlockDevice, opts FormatOptions, sectorsPerFAT uint) error {
	sector := make([]byte, dev.SectorSize())
	w := bytewriter.New(sector)

	w.Write([]byte{0xEB, 0x58, 0x90})
	w.Write(padTo(opts.OEMName, 8, ' '))
	binary.Write(w, binary.LittleEndian, uint16(opts.BytesPerSector))
	w.Write([]byte{byte(opts.SectorsPerCluster)})
	binary.Write(w, binary.LittleEndian, uint16(reservedSectorCount))
	w.Write([]byte{byte(opts.NumFATs)})
	binary.Write(w, binary.LittleEndian, uint16(0)) // RootEntryCount, must be 0 on FAT32
	binary.Write(w, binary.LittleEndian, uint16(0)) // total sectors (16-bit), unused
	w.Write([]byte{0xF8})                           // Media: fixed disk
	binary.Write(w, binary.LittleEndian, uint16(0)) // sectors per FAT (16-bit), unused
	binary.Write(w, binary.LittleEndian, uint16(63)) // sectors per track, conventional
	binary.Write(w, binary.LittleEndian, uint16(255)) // heads, conventional
	binary.Write(w, binary.LittleEndian, uint32(0))   // hidden sectors
	binary.Write(w, binary.LittleEndian, uint32(opts.TotalSectors))

	binary.Write(w, binary.LittleEndian, uint32(sectorsPerFAT))
	binary.Write(w, binary.LittleEndian, uint16(0)) // ExtFlags: mirror to all FATs
	w.Write([]byte{0, 0})                           // FSVersion
	binary.Write(w, binary.LittleEndian, uint32(firstDataCluster))
	binary.Write(w, binary.LittleEndian, uint16(1)) // FSInfoSector
	binary.Write(w, binary.LittleEndian, uint16(6)) // BackupBootSector
	w.Write(make([]byte, 12))                       // reserved
	w.Write([]byte{0x80})                           // DriveNumber
	w.Write([]byte{0})                              // ntReserved
	w.Write([]byte{0x29})                           // ExBootSignature
	binary.Write(w, binary.LittleEndian, uint32(0))  // VolumeID
	w.Write(padTo(opts.VolumeLabel, 11, ' '))
	w.Write([]byte("FAT32   "))

	binary.LittleEndian.PutUint16(sector[bootSignatureOffset:], bootSignatureValue)

	return dev.WriteSector(0, sector)
}

// writeEmptyFATs zeroes every FAT copy except for the two reserved entries
// (clusters 0 and 1, which carry the media descriptor and an EOC marker by
// convention) and cluster 2, the root directory's single cluster, which is
// marked end-of-chain.
func writeEmptyFATs(dev blockdev.BlockDevice, opts FormatOptions, sectorsPerFAT uint) error {
	sectorSize := dev.SectorSize()
	zero := make([]byte, sectorSize)

	firstSectorContents := make([]byte, sectorSize)
	copy(firstSectorContents, zero)
	binary.LittleEndian.PutUint32(firstSectorContents[0:4], 0x0FFFFFF8)
	binary.LittleEndian.PutUint32(firstSectorContents[4:8], eocValue)
	binary.LittleEndian.PutUint32(firstSectorContents[8:12], eocValue)

	for copyIndex := uint(0); copyIndex < opts.NumFATs; copyIndex++ {
		base := blockdev.Sector(reservedSectorCount + copyIndex*sectorsPerFAT)
		if err := dev.WriteSector(base, firstSectorContents); err != nil {
			return err
		}
		for s := uint(1); s < sectorsPerFAT; s++ {
			if err := dev.WriteSector(base+blockdev.Sector(s), zero); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeEmptyRootDirectory(dev blockdev.BlockDevice, opts FormatOptions, firstDataSector uint, clock Clock) error {
	sectorSize := dev.SectorSize()
	zero := make([]byte, sectorSize)
	for s := uint(0); s < opts.SectorsPerCluster; s++ {
		if err := dev.WriteSector(blockdev.Sector(firstDataSector+s), zero); err != nil {
			return err
		}
	}

	now := clock.Now()
	dotMeta := Metadata{Attributes: AttrDirectory, Created: now, Accessed: now, Modified: now, FirstCluster: firstDataCluster}
	dotSlot := encodeRegularSlot(".", "", dotMeta.Attributes, dotMeta.Created, dotMeta.Modified, dotMeta.Accessed, dotMeta.FirstCluster, 0)
	dotdotSlot := encodeRegularSlot("..", "", dotMeta.Attributes, dotMeta.Created, dotMeta.Modified, dotMeta.Accessed, 0, 0)

	firstSector := make([]byte, sectorSize)
	copy(firstSector[0:DirentSize], dotSlot[:])
	copy(firstSector[DirentSize:2*DirentSize], dotdotSlot[:])
	return dev.WriteSector(blockdev.Sector(firstDataSector), firstSector)
}
