package fat32

import (
	"io"

	"github.com/dargueta/vfat32/errors"
)

// File is a ClusterChain bounded by the logical size stored in its parent
// directory's Regular slot. Reads clip to [0, size); writes extend size
// when the cursor moves past it. On Close, if size changed since open, the
// new size is written back to the directory entry and the device is synced.
type File struct {
	chain        *ClusterChain
	dir          *Directory
	regularIndex uint64

	size        uint64
	openSize    uint64
	position    uint64
	writable    bool
}

// OpenFile opens the chain at firstCluster in mode, bounding it by size and
// remembering regularIndex so Close can write back a changed size.
func OpenFile(fat *Fat, bpb *BPB, locks *LockManager, dir *Directory, firstCluster uint32, regularIndex uint64, size uint32, mode LockMode) (*File, bool) {
	chain, ok := OpenClusterChain(dir.dev, fat, bpb, locks, firstCluster, mode)
	if !ok {
		return nil, false
	}
	return &File{
		chain:        chain,
		dir:          dir,
		regularIndex: regularIndex,
		size:         uint64(size),
		openSize:     uint64(size),
		writable:     mode == LockWrite,
	}, true
}

// Close flushes a changed size to the parent directory entry (if writable),
// syncs the device, and releases the chain's lock.
func (f *File) Close() error {
	defer f.chain.Close()

	if f.writable && f.size != f.openSize {
		if f.size > 0xFFFFFFFF {
			return errors.Newf(errors.Other, "file size %d exceeds FAT32's 4 GiB limit", f.size)
		}
		if err := f.dir.SetSize(f.regularIndex, uint32(f.size)); err != nil {
			return err
		}
	}
	return f.chain.Flush()
}

// Size returns the file's current logical size.
func (f *File) Size() uint64 { return f.size }

// Read implements io.Reader, clipping reads to [0, size).
func (f *File) Read(buf []byte) (int, error) {
	if f.position >= f.size {
		return 0, nil
	}
	if _, err := f.chain.Seek(int64(f.position), io.SeekStart); err != nil {
		return 0, err
	}

	remaining := f.size - f.position
	toRead := buf
	if uint64(len(toRead)) > remaining {
		toRead = toRead[:remaining]
	}
	if len(toRead) == 0 {
		return 0, nil
	}

	n, err := f.chain.Read(toRead)
	f.position += uint64(n)
	return n, err
}

// Write implements io.Writer, extending size when the cursor moves past it.
func (f *File) Write(buf []byte) (int, error) {
	if !f.writable {
		return 0, errors.Newf(errors.PermissionDenied, "file is open for reading only")
	}
	if len(buf) == 0 {
		return 0, nil
	}

	if _, err := f.chain.Seek(int64(f.position), io.SeekStart); err != nil {
		return 0, err
	}

	n, err := f.chain.Write(buf)
	f.position += uint64(n)
	if f.position > f.size {
		if f.position > 0xFFFFFFFF {
			return n, errors.Newf(errors.Other, "file size %d would exceed FAT32's 4 GiB limit", f.position)
		}
		f.size = f.position
	}
	return n, err
}

// Seek implements io.Seeker. A seek to exactly size is valid; past it is
// InvalidInput.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(f.position) + offset
	case io.SeekEnd:
		newPos = int64(f.size) + offset
	default:
		return 0, errors.Newf(errors.InvalidInput, "unknown whence value %d", whence)
	}

	if newPos < 0 || uint64(newPos) > f.size {
		return 0, errors.Newf(errors.InvalidInput, "seek to %d out of bounds [0, %d]", newPos, f.size)
	}
	f.position = uint64(newPos)
	return newPos, nil
}
