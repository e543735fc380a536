// Package blockdev defines the sector-addressable block device abstraction
// that every higher layer of the driver is built on, plus a Partition
// wrapper that restricts a device to a sub-range of sectors.
package blockdev

import (
	"fmt"
	"io"

	"github.com/dargueta/vfat32/errors"
)

// Sector is a 64-bit sector index into a BlockDevice.
type Sector uint64

// BlockDevice is the host interface the core consumes: sector-granular
// read/write plus a sync point. Implementations must reject buffers that
// aren't exactly one sector long with errors.ErrInvalidInput.
type BlockDevice interface {
	// SectorSize returns the size of one sector, in bytes. It must be >= 512
	// and a multiple of 512.
	SectorSize() uint

	// ReadSector fills buf with the contents of sector n. len(buf) must equal
	// SectorSize().
	ReadSector(n Sector, buf []byte) error

	// WriteSector writes buf to sector n. len(buf) must equal SectorSize().
	WriteSector(n Sector, buf []byte) error

	// Sync flushes any buffering the device itself performs. Most
	// implementations backed directly by a stream have nothing to do here;
	// it exists so wrapping layers (CachedDevice) have something to call
	// through to.
	Sync() error
}

// StreamDevice adapts an io.ReadWriteSeeker (e.g. an *os.File or an in-memory
// buffer) into a BlockDevice with a fixed sector size.
type StreamDevice struct {
	stream     io.ReadWriteSeeker
	sectorSize uint
}

// NewStreamDevice wraps stream as a BlockDevice with the given sector size.
func NewStreamDevice(stream io.ReadWriteSeeker, sectorSize uint) *StreamDevice {
	return &StreamDevice{stream: stream, sectorSize: sectorSize}
}

func (d *StreamDevice) SectorSize() uint {
	return d.sectorSize
}

func (d *StreamDevice) checkBuffer(buf []byte) error {
	if uint(len(buf)) != d.sectorSize {
		return errors.Newf(
			errors.InvalidInput,
			"buffer must be exactly %d bytes (one sector), got %d",
			d.sectorSize,
			len(buf),
		)
	}
	return nil
}

func (d *StreamDevice) ReadSector(n Sector, buf []byte) error {
	if err := d.checkBuffer(buf); err != nil {
		return err
	}

	offset := int64(n) * int64(d.sectorSize)
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return errors.Newf(errors.Other, "seek to sector %d: %s", n, err.Error())
	}

	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return errors.Newf(errors.Other, "read sector %d: %s", n, err.Error())
	}
	return nil
}

func (d *StreamDevice) WriteSector(n Sector, buf []byte) error {
	if err := d.checkBuffer(buf); err != nil {
		return err
	}

	offset := int64(n) * int64(d.sectorSize)
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return errors.Newf(errors.Other, "seek to sector %d: %s", n, err.Error())
	}

	if _, err := d.stream.Write(buf); err != nil {
		return errors.Newf(errors.Other, "write sector %d: %s", n, err.Error())
	}
	return nil
}

func (d *StreamDevice) Sync() error {
	if syncer, ok := d.stream.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

// Partition wraps a BlockDevice and restricts access to the sector range
// [start, end). All sector numbers seen by callers of Partition are relative
// to start; Partition translates them before forwarding to the wrapped
// device.
type Partition struct {
	dev        BlockDevice
	start, end Sector
}

// NewPartition creates a Partition over dev covering sectors [start, end).
func NewPartition(dev BlockDevice, start, end Sector) (*Partition, error) {
	if end <= start {
		return nil, errors.Newf(
			errors.InvalidInput,
			"invalid partition range [%d, %d)", start, end,
		)
	}
	return &Partition{dev: dev, start: start, end: end}, nil
}

func (p *Partition) SectorSize() uint {
	return p.dev.SectorSize()
}

func (p *Partition) checkRange(n Sector) error {
	if n >= p.end-p.start {
		return errors.Newf(
			errors.InvalidInput,
			"sector %d out of range [0, %d) for partition", n, p.end-p.start,
		)
	}
	return nil
}

func (p *Partition) ReadSector(n Sector, buf []byte) error {
	if err := p.checkRange(n); err != nil {
		return err
	}
	return p.dev.ReadSector(p.start+n, buf)
}

func (p *Partition) WriteSector(n Sector, buf []byte) error {
	if err := p.checkRange(n); err != nil {
		return err
	}
	return p.dev.WriteSector(p.start+n, buf)
}

func (p *Partition) Sync() error {
	return p.dev.Sync()
}

// ReadAtOffset decomposes an arbitrary byte range into per-sector reads
// against dev. This, along with WriteAtOffset, is the only interface the FAT
// engine and directory engine use; they never address sectors directly.
func ReadAtOffset(dev BlockDevice, offset int64, buf []byte) error {
	sectorSize := int64(dev.SectorSize())
	scratch := make([]byte, sectorSize)

	read := 0
	for read < len(buf) {
		absolute := offset + int64(read)
		sector := Sector(absolute / sectorSize)
		withinSector := int(absolute % sectorSize)

		if err := dev.ReadSector(sector, scratch); err != nil {
			return err
		}

		n := copy(buf[read:], scratch[withinSector:])
		read += n
	}
	return nil
}

// WriteAtOffset decomposes an arbitrary byte range into per-sector writes
// against dev, doing a read-modify-write on a scratch sector buffer for any
// partial-sector write.
func WriteAtOffset(dev BlockDevice, offset int64, buf []byte) error {
	sectorSize := int64(dev.SectorSize())
	scratch := make([]byte, sectorSize)

	written := 0
	for written < len(buf) {
		absolute := offset + int64(written)
		sector := Sector(absolute / sectorSize)
		withinSector := int(absolute % sectorSize)

		remaining := len(buf) - written
		if withinSector != 0 || remaining < int(sectorSize) {
			// Partial sector: load what's there, overlay our bytes, write
			// the whole sector back.
			if err := dev.ReadSector(sector, scratch); err != nil {
				return err
			}
			n := copy(scratch[withinSector:], buf[written:])
			if err := dev.WriteSector(sector, scratch); err != nil {
				return err
			}
			written += n
			continue
		}

		if err := dev.WriteSector(sector, buf[written:written+int(sectorSize)]); err != nil {
			return err
		}
		written += int(sectorSize)
	}
	return nil
}

// DetermineSectorCount returns the total number of whole sectors available
// on stream, given a sector size.
func DetermineSectorCount(stream io.Seeker, sectorSize uint) (uint64, error) {
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("determine sector count: %w", err)
	}
	return uint64(size) / uint64(sectorSize), nil
}
