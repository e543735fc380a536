package fat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryTag__Classification(t *testing.T) {
	cases := []struct {
		raw     uint32
		status  Status
		cluster uint32
	}{
		{0x00000000, StatusFree, 0},
		{0xF0000000, StatusFree, 0}, // top 4 bits are reserved, ignored
		{0x00000001, StatusReserved, 0},
		{0x00000005, StatusData, 5},
		{0xFFFFFFF7, StatusBad, 0},
		{0xFFFFFFF8, StatusEoc, 0xFFFFFF8},
		{0x0FFFFFFF, StatusEoc, 0xFFFFFFF},
	}
	for _, c := range cases {
		status, cluster := entryTag(c.raw)
		assert.Equal(t, c.status, status, "raw=0x%08X", c.raw)
		assert.Equal(t, c.cluster, cluster, "raw=0x%08X", c.raw)
	}
}

func TestFat__NewChainThenFree(t *testing.T) {
	dev, bpb := newTestVolume(t)
	fat, err := NewFat(dev, bpb)
	require.NoError(t, err)

	cluster, err := fat.NewChain()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cluster, uint32(firstDataCluster))

	status, _, err := fat.Get(cluster)
	require.NoError(t, err)
	assert.Equal(t, StatusEoc, status)

	require.NoError(t, fat.FreeChain(cluster))
	status, _, err = fat.Get(cluster)
	require.NoError(t, err)
	assert.Equal(t, StatusFree, status)
}

func TestFat__AllocForChain__ExtendsAndLinks(t *testing.T) {
	dev, bpb := newTestVolume(t)
	fat, err := NewFat(dev, bpb)
	require.NoError(t, err)

	first, err := fat.NewChain()
	require.NoError(t, err)

	second, err := fat.AllocForChain(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	next, ok, err := fat.NextInChain(first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, next)

	_, ok, err = fat.NextInChain(second)
	require.NoError(t, err)
	assert.False(t, ok, "second cluster should be end-of-chain")
}

func TestFat__NewChain__NeverReusesAllocatedCluster(t *testing.T) {
	dev, bpb := newTestVolume(t)
	fat, err := NewFat(dev, bpb)
	require.NoError(t, err)

	seen := map[uint32]bool{}
	for i := 0; i < 5; i++ {
		cluster, err := fat.NewChain()
		require.NoError(t, err)
		assert.False(t, seen[cluster], "cluster %d allocated twice", cluster)
		seen[cluster] = true
	}
}

func TestFat__TruncateChain__FreesTail(t *testing.T) {
	dev, bpb := newTestVolume(t)
	fat, err := NewFat(dev, bpb)
	require.NoError(t, err)

	first, err := fat.NewChain()
	require.NoError(t, err)
	second, err := fat.AllocForChain(first)
	require.NoError(t, err)
	third, err := fat.AllocForChain(second)
	require.NoError(t, err)

	require.NoError(t, fat.TruncateChain(first))

	status, _, err := fat.Get(first)
	require.NoError(t, err)
	assert.Equal(t, StatusEoc, status)

	for _, c := range []uint32{second, third} {
		status, _, err := fat.Get(c)
		require.NoError(t, err)
		assert.Equal(t, StatusFree, status, "cluster %d should have been freed", c)
	}
}

func TestFat__Set__MirrorsAcrossAllCopies(t *testing.T) {
	dev, bpb := newTestVolume(t)
	fat, err := NewFat(dev, bpb)
	require.NoError(t, err)

	cluster, err := fat.NewChain()
	require.NoError(t, err)

	for i := range fat.copies {
		raw, err := fat.copies[i].get(cluster)
		require.NoError(t, err)
		status, _ := entryTag(raw)
		assert.Equal(t, StatusEoc, status, "FAT copy %d did not mirror the write", i)
	}
}

func TestFat__FreeChain__UnexpectedStatusErrors(t *testing.T) {
	dev, bpb := newTestVolume(t)
	fat, err := NewFat(dev, bpb)
	require.NoError(t, err)

	cluster, err := fat.NewChain()
	require.NoError(t, err)

	// Poke the entry into the "Bad" range, which FreeChain never expects
	// to walk through.
	require.NoError(t, fat.Set(cluster, 0xFFFFFFF7))

	err = fat.FreeChain(cluster)
	assert.Error(t, err)
}
