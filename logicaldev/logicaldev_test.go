package logicaldev_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/vfat32/logicaldev"
	"github.com/dargueta/vfat32/testutil"
)

func TestNew__RejectsNonMultipleLogicalSize(t *testing.T) {
	physical := testutil.NewMemDevice(512, 4)
	_, err := logicaldev.New(physical, 700)
	assert.Error(t, err)
}

func TestNew__RejectsSmallerLogicalSize(t *testing.T) {
	physical := testutil.NewMemDevice(512, 4)
	_, err := logicaldev.New(physical, 256)
	assert.Error(t, err)
}

func TestLogicalDevice__WriteReadSector__SpansMultiplePhysicalSectors(t *testing.T) {
	physical := testutil.NewMemDevice(512, 8)
	logical, err := logicaldev.New(physical, 2048)
	require.NoError(t, err)
	assert.Equal(t, uint(2048), logical.SectorSize())

	payload := bytes.Repeat([]byte{0x5A}, 2048)
	require.NoError(t, logical.WriteSector(1, payload))

	readBack := make([]byte, 2048)
	require.NoError(t, logical.ReadSector(1, readBack))
	assert.Equal(t, payload, readBack)

	// Logical sector 1 should occupy physical sectors 4-7.
	physChunk := make([]byte, 512)
	require.NoError(t, physical.ReadSector(4, physChunk))
	assert.Equal(t, payload[:512], physChunk)
}

func TestLogicalDevice__ReadSector__WrongBufferSizeIsError(t *testing.T) {
	physical := testutil.NewMemDevice(512, 8)
	logical, err := logicaldev.New(physical, 1024)
	require.NoError(t, err)

	err = logical.ReadSector(0, make([]byte, 512))
	assert.Error(t, err)
}

func TestLogicalDevice__ReadWriteByOffset__RoundTrip(t *testing.T) {
	physical := testutil.NewMemDevice(512, 8)
	logical, err := logicaldev.New(physical, 512)
	require.NoError(t, err)

	data := []byte("offset addressed bytes")
	require.NoError(t, logical.WriteByOffset(600, data))

	readBack := make([]byte, len(data))
	require.NoError(t, logical.ReadByOffset(600, readBack))
	assert.Equal(t, data, readBack)
}
