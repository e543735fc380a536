package mbr_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/vfat32/blockdev"
	"github.com/dargueta/vfat32/mbr"
	"github.com/dargueta/vfat32/testutil"
)

func writePartitionEntry(sector []byte, index int, entryType mbr.PartitionType, startLBA, sizeSectors uint32) {
	const tableOffset = 446
	const entrySize = 16
	raw := sector[tableOffset+index*entrySize:]
	raw[0] = 0x00
	raw[4] = byte(entryType)
	binary.LittleEndian.PutUint32(raw[8:12], startLBA)
	binary.LittleEndian.PutUint32(raw[12:16], sizeSectors)
}

func newMBRDevice(t *testing.T, entries func(sector []byte)) blockdev.BlockDevice {
	t.Helper()
	dev := testutil.NewMemDevice(512, 64)
	sector := make([]byte, 512)
	if entries != nil {
		entries(sector)
	}
	binary.LittleEndian.PutUint16(sector[510:512], mbr.BootSignature)
	require.NoError(t, dev.WriteSector(0, sector))
	return dev
}

func TestRead__RejectsBadSignature(t *testing.T) {
	dev := testutil.NewMemDevice(512, 64)
	_, err := mbr.Read(dev)
	assert.Error(t, err)
}

func TestRead__ParsesPartitionEntries(t *testing.T) {
	dev := newMBRDevice(t, func(sector []byte) {
		writePartitionEntry(sector, 0, mbr.TypeFAT32LBA, 8, 40)
	})

	table, err := mbr.Read(dev)
	require.NoError(t, err)
	assert.True(t, table.Entries[0].IsFAT32())
	assert.Equal(t, uint32(8), table.Entries[0].StartLBA)
	assert.Equal(t, uint32(40), table.Entries[0].SizeSectors)
}

func TestFindFAT32__ReturnsSectorRange(t *testing.T) {
	dev := newMBRDevice(t, func(sector []byte) {
		writePartitionEntry(sector, 1, mbr.TypeFAT32LBA, 16, 32)
	})

	table, err := mbr.Read(dev)
	require.NoError(t, err)

	start, end, err := table.FindFAT32()
	require.NoError(t, err)
	assert.Equal(t, blockdev.Sector(16), start)
	assert.Equal(t, blockdev.Sector(48), end)
}

func TestFindFAT32__NoneFoundIsError(t *testing.T) {
	dev := newMBRDevice(t, nil)

	table, err := mbr.Read(dev)
	require.NoError(t, err)

	_, _, err = table.FindFAT32()
	assert.Error(t, err)
}

func TestIsFAT32__RecognizesBothCHSAndLBATypes(t *testing.T) {
	assert.True(t, mbr.PartitionEntry{Type: mbr.TypeFAT32CHS}.IsFAT32())
	assert.True(t, mbr.PartitionEntry{Type: mbr.TypeFAT32LBA}.IsFAT32())
	assert.False(t, mbr.PartitionEntry{Type: mbr.TypeFAT16}.IsFAT32())
}
