// Package fat32 implements the FAT32 core: the BIOS Parameter Block, the FAT
// table engine, cluster-chain streams, the directory engine (including VFAT
// long-file-name encoding), the per-cluster lock manager, and the FileSystem
// façade that ties them together.
package fat32

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/vfat32/blockdev"
	"github.com/dargueta/vfat32/errors"
)

const (
	bpbSize              = 90
	bootSignatureOffset  = 510
	bootSignatureValue   = 0xAA55
	DirentSize           = 32
	eocValue       uint32 = 0x0FFFFFFF
	firstDataCluster     = 2
)

// RawBPB is the on-disk layout shared by every FAT version's boot sector,
// plus the FAT32-specific extended fields that follow it.
type RawBPB struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	totalSectors16    uint16
	Media             uint8
	sectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	totalSectors32    uint32

	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersionMinor   uint8
	FSVersionMajor   uint8
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	reserved12       [12]byte
	DriveNumber      uint8
	ntReserved       uint8
	ExBootSignature  uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// BPB is a parsed, validated BIOS Parameter Block plus the derived geometry
// every higher layer needs.
type BPB struct {
	Raw RawBPB

	BytesPerSector    uint
	SectorsPerCluster uint
	BytesPerCluster   uint
	ReservedSectors   uint
	NumFATs           uint
	SectorsPerFAT     uint
	TotalSectors      uint
	RootCluster       uint32
	FirstFATSector    uint
	FirstDataSector   uint
	TotalDataSectors  uint
	TotalClusters     uint
}

// ReadBPB reads and validates the boot sector from sector 0 of dev (which
// should already be the FAT32 partition's own device, not the whole disk).
func ReadBPB(dev blockdev.BlockDevice) (*BPB, error) {
	sector := make([]byte, dev.SectorSize())
	if err := dev.ReadSector(0, sector); err != nil {
		return nil, err
	}
	return parseBPB(sector)
}

func parseBPB(sector []byte) (*BPB, error) {
	if len(sector) < bootSignatureOffset+2 {
		return nil, errors.Newf(errors.InvalidData, "sector too short to hold a BPB")
	}

	signature := binary.LittleEndian.Uint16(sector[bootSignatureOffset:])
	if signature != bootSignatureValue {
		return nil, errors.Newf(
			errors.InvalidData,
			"bad boot sector signature: want 0x%04X, got 0x%04X",
			bootSignatureValue,
			signature,
		)
	}

	var raw RawBPB
	raw.JmpBoot = [3]byte{sector[0], sector[1], sector[2]}
	copy(raw.OEMName[:], sector[3:11])
	raw.BytesPerSector = binary.LittleEndian.Uint16(sector[11:13])
	raw.SectorsPerCluster = sector[13]
	raw.ReservedSectors = binary.LittleEndian.Uint16(sector[14:16])
	raw.NumFATs = sector[16]
	raw.RootEntryCount = binary.LittleEndian.Uint16(sector[17:19])
	raw.totalSectors16 = binary.LittleEndian.Uint16(sector[19:21])
	raw.Media = sector[21]
	raw.sectorsPerFAT16 = binary.LittleEndian.Uint16(sector[22:24])
	raw.SectorsPerTrack = binary.LittleEndian.Uint16(sector[24:26])
	raw.NumHeads = binary.LittleEndian.Uint16(sector[26:28])
	raw.HiddenSectors = binary.LittleEndian.Uint32(sector[28:32])
	raw.totalSectors32 = binary.LittleEndian.Uint32(sector[32:36])

	raw.SectorsPerFAT32 = binary.LittleEndian.Uint32(sector[36:40])
	raw.ExtFlags = binary.LittleEndian.Uint16(sector[40:42])
	raw.FSVersionMinor = sector[42]
	raw.FSVersionMajor = sector[43]
	raw.RootCluster = binary.LittleEndian.Uint32(sector[44:48])
	raw.FSInfoSector = binary.LittleEndian.Uint16(sector[48:50])
	raw.BackupBootSector = binary.LittleEndian.Uint16(sector[50:52])
	copy(raw.reserved12[:], sector[52:64])
	raw.DriveNumber = sector[64]
	raw.ntReserved = sector[65]
	raw.ExBootSignature = sector[66]
	raw.VolumeID = binary.LittleEndian.Uint32(sector[67:71])
	copy(raw.VolumeLabel[:], sector[71:82])
	copy(raw.FileSystemType[:], sector[82:90])

	switch raw.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, errors.Newf(
			errors.InvalidData,
			"bad BytesPerSector: need 512, 1024, 2048, or 4096, got %d",
			raw.BytesPerSector,
		)
	}

	switch raw.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return nil, errors.Newf(
			errors.InvalidData,
			"SectorsPerCluster must be a power of 2 in 1-128, got %d",
			raw.SectorsPerCluster,
		)
	}

	bytesPerCluster := uint(raw.BytesPerSector) * uint(raw.SectorsPerCluster)
	if bytesPerCluster > 32768 {
		return nil, errors.Newf(
			errors.InvalidData,
			"BytesPerCluster cannot exceed 32768, got %d",
			bytesPerCluster,
		)
	}

	if raw.RootEntryCount != 0 {
		return nil, errors.Newf(
			errors.InvalidData,
			"RootEntryCount must be 0 on FAT32, got %d", raw.RootEntryCount,
		)
	}

	sectorsPerFAT := uint(raw.SectorsPerFAT32)
	if sectorsPerFAT == 0 {
		return nil, errors.Newf(errors.InvalidData, "SectorsPerFAT32 must be nonzero")
	}

	totalSectors := uint(raw.totalSectors32)
	if totalSectors == 0 {
		totalSectors = uint(raw.totalSectors16)
	}
	if totalSectors == 0 {
		return nil, errors.Newf(errors.InvalidData, "total sector count is zero")
	}

	firstFATSector := uint(raw.ReservedSectors)
	totalFATSectors := uint(raw.NumFATs) * sectorsPerFAT
	firstDataSector := firstFATSector + totalFATSectors
	totalDataSectors := totalSectors - firstDataSector
	totalClusters := totalDataSectors / uint(raw.SectorsPerCluster)

	return &BPB{
		Raw:               raw,
		BytesPerSector:    uint(raw.BytesPerSector),
		SectorsPerCluster: uint(raw.SectorsPerCluster),
		BytesPerCluster:   bytesPerCluster,
		ReservedSectors:   uint(raw.ReservedSectors),
		NumFATs:           uint(raw.NumFATs),
		SectorsPerFAT:     sectorsPerFAT,
		TotalSectors:      totalSectors,
		RootCluster:       raw.RootCluster,
		FirstFATSector:    firstFATSector,
		FirstDataSector:   firstDataSector,
		TotalDataSectors:  totalDataSectors,
		TotalClusters:     totalClusters,
	}, nil
}

// ClusterToSector returns the first logical sector of cluster n.
func (b *BPB) ClusterToSector(n uint32) (uint, error) {
	if n < firstDataCluster {
		return 0, errors.Newf(errors.InvalidInput, "cluster %d is reserved (< 2)", n)
	}
	return b.FirstDataSector + uint(n-firstDataCluster)*b.SectorsPerCluster, nil
}

func (b *BPB) String() string {
	return fmt.Sprintf(
		"BPB{BytesPerSector:%d SectorsPerCluster:%d NumFATs:%d SectorsPerFAT:%d RootCluster:%d TotalClusters:%d}",
		b.BytesPerSector, b.SectorsPerCluster, b.NumFATs, b.SectorsPerFAT, b.RootCluster, b.TotalClusters,
	)
}
