package fat32

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChain(t *testing.T, mode LockMode) (*ClusterChain, *Fat) {
	t.Helper()
	dev, bpb := newTestVolume(t)
	fat, err := NewFat(dev, bpb)
	require.NoError(t, err)
	locks := NewLockManager()

	first, err := fat.NewChain()
	require.NoError(t, err)

	chain, ok := OpenClusterChain(dev, fat, bpb, locks, first, mode)
	require.True(t, ok)
	return chain, fat
}

func TestClusterChain__WriteThenReadRoundTrip(t *testing.T) {
	chain, _ := newTestChain(t, LockWrite)
	defer chain.Close()

	payload := bytes.Repeat([]byte{0x37}, int(512)) // exactly one cluster
	n, err := chain.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	_, err = chain.Seek(0, io.SeekStart)
	require.NoError(t, err)

	readBack := make([]byte, len(payload))
	n, err = chain.Read(readBack)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, readBack)
}

func TestClusterChain__Write__ExtendsChainAcrossClusters(t *testing.T) {
	chain, fat := newTestChain(t, LockWrite)
	defer chain.Close()

	clusterSize := int(chain.clusterSizeBytes)
	payload := bytes.Repeat([]byte{0x11}, clusterSize*3)

	n, err := chain.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	// Walk the chain via the FAT; it should now span 3 clusters.
	count := 1
	cluster := chain.FirstCluster
	for {
		next, ok, err := fat.NextInChain(cluster)
		require.NoError(t, err)
		if !ok {
			break
		}
		cluster = next
		count++
	}
	assert.Equal(t, 3, count)

	_, err = chain.Seek(0, io.SeekStart)
	require.NoError(t, err)
	readBack := make([]byte, len(payload))
	n, err = chain.Read(readBack)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, readBack)
}

func TestClusterChain__Read__StopsAtEndOfChain(t *testing.T) {
	chain, _ := newTestChain(t, LockWrite)
	defer chain.Close()

	payload := []byte("short")
	_, err := chain.Write(payload)
	require.NoError(t, err)

	_, err = chain.Seek(0, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, int(chain.clusterSizeBytes)*2)
	n, err := chain.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, int(chain.clusterSizeBytes), n, "chain-level read stops at the single allocated cluster")
}

func TestClusterChain__Write__RejectsReadOnlyChain(t *testing.T) {
	chain, _ := newTestChain(t, LockRead)
	defer chain.Close()

	_, err := chain.Write([]byte("nope"))
	assert.Error(t, err)
}

func TestClusterChain__Seek__EndRelative(t *testing.T) {
	chain, _ := newTestChain(t, LockWrite)
	defer chain.Close()

	payload := bytes.Repeat([]byte{0x22}, int(chain.clusterSizeBytes))
	_, err := chain.Write(payload)
	require.NoError(t, err)

	pos, err := chain.Seek(10, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)-10), pos)
}

func TestClusterChain__Seek__NegativeOffsetIsError(t *testing.T) {
	chain, _ := newTestChain(t, LockWrite)
	defer chain.Close()

	_, err := chain.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestClusterChain__Seek__PastStartViaEndIsError(t *testing.T) {
	chain, _ := newTestChain(t, LockWrite)
	defer chain.Close()

	_, err := chain.Write([]byte("tiny"))
	require.NoError(t, err)

	_, err = chain.Seek(1000, io.SeekEnd)
	assert.Error(t, err)
}
