package fat32

import (
	"strings"
	"sync"
	"time"

	"github.com/dargueta/vfat32/blockdev"
	"github.com/dargueta/vfat32/cache"
	"github.com/dargueta/vfat32/errors"
	"github.com/dargueta/vfat32/logicaldev"
	"github.com/dargueta/vfat32/mbr"
)

// dirCacheEntry is one live slot in the weak-valued directory cache: a
// Directory stays resident only while something holds a reference to it,
// and is closed and evicted the moment its refcount drops to zero.
type dirCacheEntry struct {
	dir      *Directory
	refcount int
}

// FileSystem is the façade a caller mounts and drives: path resolution,
// entry creation/removal/rename, and file open, all serialized through a
// weak-valued cache of open Directory objects keyed by first cluster.
type FileSystem struct {
	dev   *logicaldev.LogicalDevice
	bpb   *BPB
	fat   *Fat
	locks *LockManager
	clock Clock

	cacheMu sync.Mutex
	cache   map[uint32]*dirCacheEntry
}

// Mount treats dev as the FAT32 volume's own device (sector 0 is the BPB,
// not an MBR) and builds the FAT engine, lock manager, and directory cache
// on top of it. dev is wrapped in a write-back sector cache so the FAT
// engine's per-cluster reads and the directory engine's per-slot seeks don't
// each round-trip to the host device; every mutation still reaches dev once
// Sync is called (on file Close, and from IntoBlockDevice's caller).
func Mount(dev blockdev.BlockDevice, clock Clock) (*FileSystem, error) {
	cached := cache.New(dev)

	bpb, err := ReadBPB(cached)
	if err != nil {
		return nil, err
	}

	logical, err := logicaldev.New(cached, bpb.BytesPerSector)
	if err != nil {
		return nil, err
	}

	fat, err := NewFat(logical, bpb)
	if err != nil {
		return nil, err
	}

	return &FileSystem{
		dev:   logical,
		bpb:   bpb,
		fat:   fat,
		locks: NewLockManager(),
		clock: clock,
		cache: make(map[uint32]*dirCacheEntry),
	}, nil
}

// MountPartition reads an MBR partition table from whole, finds its first
// FAT32 entry, and mounts the volume found there.
func MountPartition(whole blockdev.BlockDevice, clock Clock) (*FileSystem, error) {
	table, err := mbr.Read(whole)
	if err != nil {
		return nil, err
	}
	start, end, err := table.FindFAT32()
	if err != nil {
		return nil, err
	}
	partition, err := blockdev.NewPartition(whole, start, end)
	if err != nil {
		return nil, err
	}
	return Mount(partition, clock)
}

// IntoBlockDevice tears down the mount and hands back the underlying
// device, for callers that want to remount or close the volume entirely.
// It is an error to call this while any File or directory handle, or an
// un-Released Entry from Stat or ListDir, from this FileSystem is still
// outstanding, since their locks would outlive the LockManager that granted
// them.
func (fs *FileSystem) IntoBlockDevice() (blockdev.BlockDevice, error) {
	fs.cacheMu.Lock()
	defer fs.cacheMu.Unlock()

	for cluster, entry := range fs.cache {
		if entry.refcount > 0 {
			return nil, errors.Newf(errors.Other, "cannot unmount: directory at cluster %d still has %d open handle(s)", cluster, entry.refcount)
		}
		entry.dir.Close()
	}
	fs.cache = make(map[uint32]*dirCacheEntry)

	fs.locks.mu.Lock()
	outstanding := len(fs.locks.locks)
	fs.locks.mu.Unlock()
	if outstanding > 0 {
		return nil, errors.Newf(errors.Other, "cannot unmount: %d cluster(s) still locked by open handles or entries", outstanding)
	}
	return fs.dev, nil
}

func (fs *FileSystem) getDirectory(cluster uint32, parent *Entry) (*Directory, error) {
	fs.cacheMu.Lock()
	defer fs.cacheMu.Unlock()

	if entry, ok := fs.cache[cluster]; ok {
		entry.refcount++
		return entry.dir, nil
	}

	dir, err := openDirectory(fs.dev, fs.fat, fs.bpb, fs.locks, cluster, parent)
	if err != nil {
		return nil, err
	}
	fs.cache[cluster] = &dirCacheEntry{dir: dir, refcount: 1}
	return dir, nil
}

// releaseDirectory drops one reference to the Directory at cluster. Once
// the refcount reaches zero the Directory is closed and evicted, so the
// cache never grows past the number of directories actually in use.
func (fs *FileSystem) releaseDirectory(cluster uint32) {
	fs.cacheMu.Lock()
	defer fs.cacheMu.Unlock()

	entry, ok := fs.cache[cluster]
	if !ok {
		return
	}
	entry.refcount--
	if entry.refcount <= 0 {
		entry.dir.Close()
		delete(fs.cache, cluster)
	}
}

// splitPath validates that path is absolute and returns its non-empty
// components. "." and ".." are not meaningful in user-supplied paths; they
// only appear as synthesized directory entries.
func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, errors.Newf(errors.InvalidInput, "path %q must be absolute", path)
	}
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		if p == "." || p == ".." {
			return nil, errors.Newf(errors.InvalidInput, "path %q may not contain . or .. components", path)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func findChild(dir *Directory, name string) (decodedEntry, bool, error) {
	it := dir.Entries()
	for {
		entry, ok, err := it.Next()
		if err != nil {
			return decodedEntry{}, false, err
		}
		if !ok {
			return decodedEntry{}, false, nil
		}
		if entry.name == name {
			return entry, true, nil
		}
	}
}

// acquireRefGuard pins cluster in Ref mode: the admission spec.md §3
// describes for an Entry handed out to a caller. It only fails when a
// Delete is already admitted on cluster.
func (fs *FileSystem) acquireRefGuard(cluster uint32) (*Guard, error) {
	guard, ok := fs.locks.TryLock(cluster, LockRef)
	if !ok {
		return nil, errors.Newf(errors.PermissionDenied, "cluster %d is being deleted", cluster)
	}
	return guard, nil
}

// releaseEntries gives up the Ref pin held by each of entries, for error
// paths that must unwind a partially built ListDir result.
func releaseEntries(entries []Entry) {
	for i := range entries {
		entries[i].Release()
	}
}

// deleteLockEntry is the admission sequence spec.md §4.9 prescribes for
// remove and rename: resolve cluster with a Ref pin (mirroring the pin a
// live Stat/ListDir Entry would hold), then release that pin in favor of an
// exclusive Delete lock before fn mutates the directory slot and FAT chain.
// Any outstanding Read, Write, or Ref lock on cluster — including one held
// by a caller's own un-Released Entry — makes the Delete admission fail.
// The Delete lock is held for fn's entire duration and released once it
// returns.
func (fs *FileSystem) deleteLockEntry(cluster uint32, fn func() error) error {
	refGuard, err := fs.acquireRefGuard(cluster)
	if err != nil {
		return err
	}
	refGuard.Release()

	deleteGuard, ok := fs.locks.TryLock(cluster, LockDelete)
	if !ok {
		return errors.Newf(errors.PermissionDenied, "cluster %d is in use", cluster)
	}
	defer deleteGuard.Release()

	return fn()
}

// walkToParent descends from the root to the directory that should contain
// path's final component, opening (and caching) every intermediate
// directory along the way. It returns that directory still held open (the
// caller must releaseDirectory its FirstCluster) plus the final component's
// name.
func (fs *FileSystem) walkToParent(path string) (*Directory, string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, "", err
	}
	if len(parts) == 0 {
		return nil, "", errors.Newf(errors.InvalidInput, "path %q names the root directory, not an entry", path)
	}

	dir, err := fs.getDirectory(fs.bpb.RootCluster, nil)
	if err != nil {
		return nil, "", err
	}

	for _, component := range parts[:len(parts)-1] {
		entry, ok, err := findChild(dir, component)
		if err != nil {
			fs.releaseDirectory(dir.FirstCluster)
			return nil, "", err
		}
		if !ok {
			fs.releaseDirectory(dir.FirstCluster)
			return nil, "", errors.Newf(errors.NotFound, "no such directory component %q in %q", component, path)
		}
		if !entry.metadata.IsDir() {
			fs.releaseDirectory(dir.FirstCluster)
			return nil, "", errors.Newf(errors.InvalidInput, "%q is not a directory", component)
		}

		parentEntry := &Entry{Name: entry.name, ShortName: entry.shortName, Metadata: entry.metadata, Dir: dir}
		next, err := fs.getDirectory(entry.metadata.FirstCluster, parentEntry)
		fs.releaseDirectory(dir.FirstCluster)
		if err != nil {
			return nil, "", err
		}
		dir = next
	}

	return dir, parts[len(parts)-1], nil
}

// Stat resolves path to its Entry, without opening a File or Directory
// handle on it.
func (fs *FileSystem) Stat(path string) (Entry, error) {
	parts, err := splitPath(path)
	if err != nil {
		return Entry{}, err
	}
	if len(parts) == 0 {
		return Entry{
			Name:     "/",
			Metadata: Metadata{Attributes: AttrDirectory, FirstCluster: fs.bpb.RootCluster},
		}, nil
	}

	dir, name, err := fs.walkToParent(path)
	if err != nil {
		return Entry{}, err
	}
	defer fs.releaseDirectory(dir.FirstCluster)

	entry, ok, err := findChild(dir, name)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, errors.Newf(errors.NotFound, "no such entry %q", path)
	}

	guard, err := fs.acquireRefGuard(entry.metadata.FirstCluster)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Name:           entry.name,
		ShortName:      entry.shortName,
		Metadata:       entry.metadata,
		SlotIndexStart: entry.startIndex,
		SlotIndexEnd:   entry.endIndex,
		refGuard:       guard,
	}, nil
}

// ListDir returns the visible entries of the directory at path.
func (fs *FileSystem) ListDir(path string) ([]Entry, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	var dir *Directory
	if len(parts) == 0 {
		dir, err = fs.getDirectory(fs.bpb.RootCluster, nil)
		if err != nil {
			return nil, err
		}
	} else {
		parentDir, name, err := fs.walkToParent(path)
		if err != nil {
			return nil, err
		}
		entry, ok, err := findChild(parentDir, name)
		if err != nil {
			fs.releaseDirectory(parentDir.FirstCluster)
			return nil, err
		}
		if !ok || !entry.metadata.IsDir() {
			fs.releaseDirectory(parentDir.FirstCluster)
			if !ok {
				return nil, errors.Newf(errors.NotFound, "no such directory %q", path)
			}
			return nil, errors.Newf(errors.InvalidInput, "%q is not a directory", path)
		}
		parentEntry := &Entry{Name: entry.name, Metadata: entry.metadata, Dir: parentDir}
		dir, err = fs.getDirectory(entry.metadata.FirstCluster, parentEntry)
		fs.releaseDirectory(parentDir.FirstCluster)
		if err != nil {
			return nil, err
		}
	}
	defer fs.releaseDirectory(dir.FirstCluster)

	var result []Entry
	it := dir.Entries()
	for {
		entry, ok, err := it.Next()
		if err != nil {
			releaseEntries(result)
			return nil, err
		}
		if !ok {
			break
		}
		guard, err := fs.acquireRefGuard(entry.metadata.FirstCluster)
		if err != nil {
			releaseEntries(result)
			return nil, err
		}
		result = append(result, Entry{
			Name:           entry.name,
			ShortName:      entry.shortName,
			Metadata:       entry.metadata,
			SlotIndexStart: entry.startIndex,
			SlotIndexEnd:   entry.endIndex,
			refGuard:       guard,
		})
	}
	return result, nil
}

// CreateFile creates an empty regular file at path and returns it open for
// writing. It fails with AlreadyExists if anything at path already exists.
func (fs *FileSystem) CreateFile(path string) (*File, error) {
	dir, name, err := fs.walkToParent(path)
	if err != nil {
		return nil, err
	}
	defer fs.releaseDirectory(dir.FirstCluster)

	firstCluster, err := fs.fat.NewChain()
	if err != nil {
		return nil, err
	}

	now := fs.clock.Now()
	metadata := Metadata{
		Attributes:   AttrArchive,
		Created:      now,
		Accessed:     now,
		Modified:     now,
		FirstCluster: firstCluster,
		Size:         0,
	}
	created, err := dir.CreateEntry(name, metadata)
	if err != nil {
		_ = fs.fat.FreeChain(firstCluster)
		return nil, err
	}

	file, ok := OpenFile(fs.fat, fs.bpb, fs.locks, dir, firstCluster, created.endIndex, 0, LockWrite)
	if !ok {
		return nil, errors.Newf(errors.Other, "could not acquire write lock on newly created file")
	}
	return file, nil
}

// OpenFile resolves path to a regular file and opens its ClusterChain in
// mode.
func (fs *FileSystem) OpenFile(path string, mode LockMode) (*File, error) {
	dir, name, err := fs.walkToParent(path)
	if err != nil {
		return nil, err
	}
	defer fs.releaseDirectory(dir.FirstCluster)

	entry, ok, err := findChild(dir, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.NotFound, "no such file %q", path)
	}
	if entry.metadata.IsDir() {
		return nil, errors.Newf(errors.InvalidInput, "%q is a directory", path)
	}

	file, ok := OpenFile(fs.fat, fs.bpb, fs.locks, dir, entry.metadata.FirstCluster, entry.endIndex, entry.metadata.Size, mode)
	if !ok {
		return nil, errors.Newf(errors.PermissionDenied, "could not acquire %v lock on %q", mode, path)
	}
	return file, nil
}

// CreateDir creates an empty subdirectory at path, writing its "." and ".."
// entries.
func (fs *FileSystem) CreateDir(path string) error {
	dir, name, err := fs.walkToParent(path)
	if err != nil {
		return err
	}
	defer fs.releaseDirectory(dir.FirstCluster)

	firstCluster, err := fs.fat.NewChain()
	if err != nil {
		return err
	}

	now := fs.clock.Now()
	metadata := Metadata{
		Attributes:   AttrDirectory,
		Created:      now,
		Accessed:     now,
		Modified:     now,
		FirstCluster: firstCluster,
		Size:         0,
	}
	created, err := dir.CreateEntry(name, metadata)
	if err != nil {
		_ = fs.fat.FreeChain(firstCluster)
		return err
	}

	parentEntry := &Entry{Name: created.name, Metadata: metadata, Dir: dir}
	child, err := fs.getDirectory(firstCluster, parentEntry)
	if err != nil {
		return err
	}
	defer fs.releaseDirectory(firstCluster)

	parentCluster := dir.FirstCluster
	return child.InitEmpty(now, &parentCluster)
}

// Remove deletes the regular file at path, freeing its cluster chain.
// Removing a directory through this method is rejected; use
// RemoveDirRecursively instead. The removal fails if the file's cluster
// has any outstanding Read, Write, or Ref lock, including one held by a
// caller's own un-Released Entry from Stat or ListDir.
func (fs *FileSystem) Remove(path string) error {
	dir, name, err := fs.walkToParent(path)
	if err != nil {
		return err
	}
	defer fs.releaseDirectory(dir.FirstCluster)

	entry, ok, err := findChild(dir, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.NotFound, "no such entry %q", path)
	}
	if entry.metadata.IsDir() {
		return errors.Newf(errors.InvalidInput, "%q is a directory; use RemoveDirRecursively", path)
	}

	return fs.deleteLockEntry(entry.metadata.FirstCluster, func() error {
		if err := dir.RemoveEntry(entry.startIndex, entry.endIndex); err != nil {
			return err
		}
		if entry.metadata.Size > 0 || entry.metadata.FirstCluster != 0 {
			return fs.fat.FreeChain(entry.metadata.FirstCluster)
		}
		return nil
	})
}

// RemoveDirRecursively deletes path and everything beneath it. path must
// name a directory; the root directory cannot be removed.
func (fs *FileSystem) RemoveDirRecursively(path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.Newf(errors.PermissionDenied, "cannot remove the root directory")
	}

	dir, name, err := fs.walkToParent(path)
	if err != nil {
		return err
	}
	defer fs.releaseDirectory(dir.FirstCluster)

	entry, ok, err := findChild(dir, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.NotFound, "no such entry %q", path)
	}
	if !entry.metadata.IsDir() {
		return errors.Newf(errors.InvalidInput, "%q is not a directory", path)
	}

	if err := fs.removeContentsRecursively(entry.metadata.FirstCluster, &Entry{Name: entry.name, Metadata: entry.metadata, Dir: dir}); err != nil {
		return err
	}

	return fs.deleteLockEntry(entry.metadata.FirstCluster, func() error {
		if err := dir.RemoveEntry(entry.startIndex, entry.endIndex); err != nil {
			return err
		}
		return fs.fat.FreeChain(entry.metadata.FirstCluster)
	})
}

// removeContentsRecursively empties the directory at cluster, recursing
// into subdirectories before unlinking them so a contained directory is
// always fully drained before its own slot/chain are Delete-locked and
// freed; Delete-locking cluster itself up front would deadlock against the
// blocking Write lock the recursive getDirectory call needs to open it.
func (fs *FileSystem) removeContentsRecursively(cluster uint32, parent *Entry) error {
	child, err := fs.getDirectory(cluster, parent)
	if err != nil {
		return err
	}
	defer fs.releaseDirectory(cluster)

	it := child.Entries()
	var children []decodedEntry
	for {
		entry, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		children = append(children, entry)
	}

	for _, entry := range children {
		if entry.metadata.IsDir() {
			if err := fs.removeContentsRecursively(entry.metadata.FirstCluster, &Entry{Name: entry.name, Metadata: entry.metadata, Dir: child}); err != nil {
				return err
			}
		}

		err := fs.deleteLockEntry(entry.metadata.FirstCluster, func() error {
			if err := child.RemoveEntry(entry.startIndex, entry.endIndex); err != nil {
				return err
			}
			if entry.metadata.IsDir() || entry.metadata.Size > 0 || entry.metadata.FirstCluster != 0 {
				return fs.fat.FreeChain(entry.metadata.FirstCluster)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Rename moves the entry at oldPath to newPath, which must not already
// exist. The underlying cluster chain is preserved; only the directory
// entry moves. oldPath's cluster is Delete-locked for the duration of the
// move, so it fails while any handle (or un-Released Stat/ListDir Entry)
// is outstanding on it.
func (fs *FileSystem) Rename(oldPath, newPath string) error {
	oldDir, oldName, err := fs.walkToParent(oldPath)
	if err != nil {
		return err
	}
	defer fs.releaseDirectory(oldDir.FirstCluster)

	entry, ok, err := findChild(oldDir, oldName)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.NotFound, "no such entry %q", oldPath)
	}

	newDir, newName, err := fs.walkToParent(newPath)
	if err != nil {
		return err
	}
	defer fs.releaseDirectory(newDir.FirstCluster)

	return fs.deleteLockEntry(entry.metadata.FirstCluster, func() error {
		if _, err := newDir.CreateEntry(newName, entry.metadata); err != nil {
			return err
		}
		return oldDir.RemoveEntry(entry.startIndex, entry.endIndex)
	})
}

// SetModTime updates path's Modified timestamp to now, for callers that
// touch a file's metadata through means other than File.Write.
func (fs *FileSystem) SetModTime(path string, now time.Time) error {
	dir, name, err := fs.walkToParent(path)
	if err != nil {
		return err
	}
	defer fs.releaseDirectory(dir.FirstCluster)

	entry, ok, err := findChild(dir, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.NotFound, "no such entry %q", path)
	}
	return dir.touchModified(entry.endIndex, now)
}
