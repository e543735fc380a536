// Package mbr implements the thin pre-mount step that discovers a FAT32
// partition inside an MBR partition table: it is a collaborator the core
// consumes, not a file system implementation in its own right. CHS fields
// are parsed because they're part of the on-disk structure, but (as the
// spec requires) never used for addressing; every offset the core cares
// about is LBA.
package mbr

import (
	"encoding/binary"

	"github.com/dargueta/vfat32/blockdev"
	"github.com/dargueta/vfat32/errors"
)

const (
	partitionTableOffset = 446
	partitionEntrySize   = 16
	numPartitionEntries  = 4
	bootSignatureOffset  = 510
	BootSignature        = 0xAA55
)

// PartitionType is the one-byte type code in a partition table entry.
type PartitionType byte

const (
	TypeEmpty     PartitionType = 0x00
	TypeFAT12     PartitionType = 0x01
	TypeFAT16     PartitionType = 0x04
	TypeExtended  PartitionType = 0x05
	TypeFAT32CHS  PartitionType = 0x0B
	TypeFAT32LBA  PartitionType = 0x0C
	TypeNTFSExFAT PartitionType = 0x07
)

// CHS is a cylinder-head-sector address, parsed but never used for
// addressing; LBA fields are authoritative.
type CHS struct {
	Cylinder, Head, Sector uint8
}

func chsFromBytes(b []byte) CHS {
	return CHS{Head: b[0], Sector: b[1] & 0x3F, Cylinder: b[2]}
}

// PartitionEntry is one of the four entries in an MBR partition table.
type PartitionEntry struct {
	Bootable    bool
	StartCHS    CHS
	Type        PartitionType
	EndCHS      CHS
	StartLBA    uint32
	SizeSectors uint32
}

// IsFAT32 reports whether this entry's type byte names a FAT32 partition.
func (p PartitionEntry) IsFAT32() bool {
	return p.Type == TypeFAT32CHS || p.Type == TypeFAT32LBA
}

// Table is a parsed MBR partition table: the four primary entries, in order.
type Table struct {
	Entries [numPartitionEntries]PartitionEntry
}

// Read parses the MBR from sector 0 of dev. It returns errors.ErrInvalidData
// if the boot signature doesn't match 0xAA55.
func Read(dev blockdev.BlockDevice) (*Table, error) {
	sector := make([]byte, dev.SectorSize())
	if err := dev.ReadSector(0, sector); err != nil {
		return nil, err
	}
	return parse(sector)
}

func parse(sector []byte) (*Table, error) {
	if len(sector) < bootSignatureOffset+2 {
		return nil, errors.Newf(errors.InvalidData, "sector too short to hold an MBR")
	}

	signature := binary.LittleEndian.Uint16(sector[bootSignatureOffset:])
	if signature != BootSignature {
		return nil, errors.Newf(
			errors.InvalidData,
			"bad MBR boot signature: want 0x%04X, got 0x%04X",
			BootSignature,
			signature,
		)
	}

	var table Table
	for i := 0; i < numPartitionEntries; i++ {
		raw := sector[partitionTableOffset+i*partitionEntrySize:]
		table.Entries[i] = PartitionEntry{
			Bootable:    raw[0] == 0x80,
			StartCHS:    chsFromBytes(raw[1:4]),
			Type:        PartitionType(raw[4]),
			EndCHS:      chsFromBytes(raw[5:8]),
			StartLBA:    binary.LittleEndian.Uint32(raw[8:12]),
			SizeSectors: binary.LittleEndian.Uint32(raw[12:16]),
		}
	}
	return &table, nil
}

// FindFAT32 returns the sector range [start, end) for the first FAT32
// partition entry in the table, in device-relative sectors.
func (t *Table) FindFAT32() (start, end blockdev.Sector, err error) {
	for _, entry := range t.Entries {
		if entry.IsFAT32() {
			start = blockdev.Sector(entry.StartLBA)
			end = start + blockdev.Sector(entry.SizeSectors)
			return start, end, nil
		}
	}
	return 0, 0, errors.Newf(errors.NotFound, "no FAT32 partition found in MBR")
}
