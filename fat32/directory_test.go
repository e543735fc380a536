package fat32

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(t *testing.T) (*Directory, *Fat) {
	t.Helper()
	dev, bpb := newTestVolume(t)
	fat, err := NewFat(dev, bpb)
	require.NoError(t, err)
	locks := NewLockManager()

	cluster, err := fat.NewChain()
	require.NoError(t, err)

	dir, err := openDirectory(dev, fat, bpb, locks, cluster, nil)
	require.NoError(t, err)
	require.NoError(t, dir.InitEmpty(time.Now(), nil))

	return dir, fat
}

func TestDirectory__InitEmpty__Root__HasNoVisibleEntries(t *testing.T) {
	dir, _ := newTestDirectory(t)
	defer dir.Close()

	it := dir.Entries()
	_, ok, err := it.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirectory__InitEmpty__Subdirectory__HasDotAndDotDot(t *testing.T) {
	dev, bpb := newTestVolume(t)
	fat, err := NewFat(dev, bpb)
	require.NoError(t, err)
	locks := NewLockManager()

	parentCluster := uint32(firstDataCluster)
	cluster, err := fat.NewChain()
	require.NoError(t, err)

	dir, err := openDirectory(dev, fat, bpb, locks, cluster, nil)
	require.NoError(t, err)
	defer dir.Close()

	require.NoError(t, dir.InitEmpty(time.Now(), &parentCluster))

	// "." and ".." exist on disk but the Iterator filters them out.
	it := dir.Entries()
	_, ok, err := it.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	raw, ok, err := dir.getRawSlot(0)
	require.NoError(t, err)
	require.True(t, ok)
	decoded, err := decodeRegularSlot(raw)
	require.NoError(t, err)
	assert.Equal(t, ".", decoded.shortName)
}

func TestDirectory__CreateEntry__ThenFindIt(t *testing.T) {
	dir, _ := newTestDirectory(t)
	defer dir.Close()

	now := time.Now()
	meta := Metadata{Attributes: AttrArchive, Created: now, Modified: now, Accessed: now, FirstCluster: 10, Size: 42}

	created, err := dir.CreateEntry("hello.txt", meta)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", created.name)

	it := dir.Entries()
	entry, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello.txt", entry.name)
	assert.Equal(t, uint32(10), entry.metadata.FirstCluster)
	assert.Equal(t, uint32(42), entry.metadata.Size)

	_, ok, err = it.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirectory__CreateEntry__DuplicateNameFails(t *testing.T) {
	dir, _ := newTestDirectory(t)
	defer dir.Close()

	now := time.Now()
	meta := Metadata{Attributes: AttrArchive, Created: now, Modified: now, Accessed: now, FirstCluster: 10}

	_, err := dir.CreateEntry("dup.txt", meta)
	require.NoError(t, err)

	_, err = dir.CreateEntry("dup.txt", meta)
	assert.Error(t, err)
}

func TestDirectory__RemoveEntry__MakesSlotInvisible(t *testing.T) {
	dir, _ := newTestDirectory(t)
	defer dir.Close()

	now := time.Now()
	meta := Metadata{Attributes: AttrArchive, Created: now, Modified: now, Accessed: now, FirstCluster: 10}

	created, err := dir.CreateEntry("gone.txt", meta)
	require.NoError(t, err)

	require.NoError(t, dir.RemoveEntry(created.startIndex, created.endIndex))

	it := dir.Entries()
	_, ok, err := it.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirectory__SetSize__UpdatesStoredSize(t *testing.T) {
	dir, _ := newTestDirectory(t)
	defer dir.Close()

	now := time.Now()
	meta := Metadata{Attributes: AttrArchive, Created: now, Modified: now, Accessed: now, FirstCluster: 10, Size: 0}

	created, err := dir.CreateEntry("grow.txt", meta)
	require.NoError(t, err)

	require.NoError(t, dir.SetSize(created.endIndex, 9001))

	it := dir.Entries()
	entry, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(9001), entry.metadata.Size)
}

func TestDirectory__TouchModified__UpdatesOnlyTimestamp(t *testing.T) {
	dir, _ := newTestDirectory(t)
	defer dir.Close()

	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := Metadata{Attributes: AttrArchive, Created: created, Modified: created, Accessed: created, FirstCluster: 3, Size: 5}

	entry, err := dir.CreateEntry("touch.txt", meta)
	require.NoError(t, err)

	newTime := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, dir.touchModified(entry.endIndex, newTime))

	it := dir.Entries()
	decoded, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2025, decoded.metadata.Modified.Year())
	assert.Equal(t, uint32(3), decoded.metadata.FirstCluster, "unrelated fields must be untouched")
	assert.Equal(t, uint32(5), decoded.metadata.Size)
}

func TestDirectory__CreateEntry__LongNameSpansMultipleSlots(t *testing.T) {
	dir, _ := newTestDirectory(t)
	defer dir.Close()

	now := time.Now()
	longName := "this is a very long file name that needs several lfn slots.txt"
	meta := Metadata{Attributes: AttrArchive, Created: now, Modified: now, Accessed: now, FirstCluster: 20}

	_, err := dir.CreateEntry(longName, meta)
	require.NoError(t, err)

	it := dir.Entries()
	entry, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, longName, entry.name)
	assert.NotEqual(t, longName, entry.shortName)
}
