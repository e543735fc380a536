package fat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/vfat32/testutil"
)

func TestFormatVolume__BootSectorRoundTripsThroughReadBPB(t *testing.T) {
	const sectorSize = 512
	const totalSectors = 4096

	dev := testutil.NewMemDevice(sectorSize, totalSectors)
	opts := FormatOptions{
		BytesPerSector:    sectorSize,
		SectorsPerCluster: 4,
		TotalSectors:      totalSectors,
		NumFATs:           2,
		VolumeLabel:       "MYVOLUME",
		OEMName:           "VFAT32  ",
	}
	require.NoError(t, FormatVolume(dev, opts, FixedClock{}))

	bpb, err := ReadBPB(dev)
	require.NoError(t, err)
	assert.Equal(t, uint(sectorSize), bpb.BytesPerSector)
	assert.Equal(t, uint(4), bpb.SectorsPerCluster)
	assert.Equal(t, uint(2), bpb.NumFATs)
	assert.Equal(t, uint32(firstDataCluster), bpb.RootCluster)
	assert.Equal(t, uint(totalSectors), bpb.TotalSectors)
}

func TestFormatVolume__RejectsMismatchedSectorSize(t *testing.T) {
	dev := testutil.NewMemDevice(512, 4096)
	opts := FormatOptions{BytesPerSector: 4096, SectorsPerCluster: 1, TotalSectors: 4096}
	err := FormatVolume(dev, opts, FixedClock{})
	assert.Error(t, err)
}

func TestFormatVolume__RejectsTooSmallDevice(t *testing.T) {
	// 35 sectors hold the 32 reserved sectors, two 1-sector FAT copies and
	// exactly one data cluster; FormatVolume requires room for more than one
	// data cluster, so this geometry is rejected.
	dev := testutil.NewMemDevice(512, 35)
	opts := FormatOptions{BytesPerSector: 512, SectorsPerCluster: 1, TotalSectors: 35, NumFATs: 2}
	err := FormatVolume(dev, opts, FixedClock{})
	assert.Error(t, err)
}

func TestFormatVolume__RootDirectoryIsMountableAndEmpty(t *testing.T) {
	const sectorSize = 512
	const totalSectors = 4096

	dev := testutil.NewMemDevice(sectorSize, totalSectors)
	opts := FormatOptions{BytesPerSector: sectorSize, SectorsPerCluster: 1, TotalSectors: totalSectors, NumFATs: 2}
	require.NoError(t, FormatVolume(dev, opts, FixedClock{}))

	fs, err := Mount(dev, FixedClock{})
	require.NoError(t, err)

	entries, err := fs.ListDir("/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFormatVolume__RejectsInvalidSectorsPerCluster(t *testing.T) {
	dev := testutil.NewMemDevice(512, 4096)
	opts := FormatOptions{BytesPerSector: 512, SectorsPerCluster: 3, TotalSectors: 4096}
	err := FormatVolume(dev, opts, FixedClock{})
	assert.Error(t, err)
}
