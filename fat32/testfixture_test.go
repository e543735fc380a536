package fat32

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dargueta/vfat32/logicaldev"
	"github.com/dargueta/vfat32/testutil"
)

// newTestVolume formats a small in-memory FAT32 volume and returns its parsed
// BPB alongside the logical device it sits on, ready for NewFat/NewLockManager.
func newTestVolume(t *testing.T) (*logicaldev.LogicalDevice, *BPB) {
	t.Helper()

	const sectorSize = 512
	const totalSectors = 2048 // 1 MiB; enough reserved+FAT+data room for a handful of clusters

	dev := testutil.NewMemDevice(sectorSize, totalSectors)
	opts := FormatOptions{
		BytesPerSector:    sectorSize,
		SectorsPerCluster: 1,
		TotalSectors:      totalSectors,
		NumFATs:           2,
		VolumeLabel:       "TESTVOL",
		OEMName:           "VFAT32",
	}
	require.NoError(t, FormatVolume(dev, opts, FixedClock{}))

	bpb, err := ReadBPB(dev)
	require.NoError(t, err)

	logical, err := logicaldev.New(dev, bpb.BytesPerSector)
	require.NoError(t, err)

	return logical, bpb
}
