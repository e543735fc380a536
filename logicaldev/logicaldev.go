// Package logicaldev remaps a physical-sector-size BlockDevice onto the
// logical sector size the BPB declares, synthesizing byte-offset I/O by
// read-modify-write of logical sectors over the physical device underneath.
package logicaldev

import (
	"github.com/dargueta/vfat32/blockdev"
	"github.com/dargueta/vfat32/errors"
)

// LogicalDevice presents bytesPerLogicalSector-sized sectors on top of a
// physical BlockDevice whose own sector size evenly divides it.
type LogicalDevice struct {
	physical      blockdev.BlockDevice
	logicalSize   uint
	physicalSize  uint
	sectorRatio   uint // physical sectors per logical sector
}

// New wraps physical, presenting logicalSectorSize-sized sectors. The ratio
// logicalSectorSize / physical.SectorSize() must be an exact integer.
func New(physical blockdev.BlockDevice, logicalSectorSize uint) (*LogicalDevice, error) {
	physicalSize := physical.SectorSize()
	if logicalSectorSize < physicalSize || logicalSectorSize%physicalSize != 0 {
		return nil, errors.Newf(
			errors.InvalidInput,
			"logical sector size %d is not an integer multiple of the physical sector size %d",
			logicalSectorSize,
			physicalSize,
		)
	}

	return &LogicalDevice{
		physical:     physical,
		logicalSize:  logicalSectorSize,
		physicalSize: physicalSize,
		sectorRatio:  logicalSectorSize / physicalSize,
	}, nil
}

func (d *LogicalDevice) SectorSize() uint {
	return d.logicalSize
}

func (d *LogicalDevice) checkBuffer(buf []byte) error {
	if uint(len(buf)) != d.logicalSize {
		return errors.Newf(
			errors.InvalidInput,
			"buffer must be exactly %d bytes (one logical sector), got %d",
			d.logicalSize,
			len(buf),
		)
	}
	return nil
}

func (d *LogicalDevice) ReadSector(n blockdev.Sector, buf []byte) error {
	if err := d.checkBuffer(buf); err != nil {
		return err
	}

	firstPhysical := blockdev.Sector(uint64(n) * uint64(d.sectorRatio))
	for i := uint(0); i < d.sectorRatio; i++ {
		chunk := buf[i*d.physicalSize : (i+1)*d.physicalSize]
		if err := d.physical.ReadSector(firstPhysical+blockdev.Sector(i), chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *LogicalDevice) WriteSector(n blockdev.Sector, buf []byte) error {
	if err := d.checkBuffer(buf); err != nil {
		return err
	}

	firstPhysical := blockdev.Sector(uint64(n) * uint64(d.sectorRatio))
	for i := uint(0); i < d.sectorRatio; i++ {
		chunk := buf[i*d.physicalSize : (i+1)*d.physicalSize]
		if err := d.physical.WriteSector(firstPhysical+blockdev.Sector(i), chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *LogicalDevice) Sync() error {
	return d.physical.Sync()
}

// ReadByOffset and WriteByOffset are thin aliases over blockdev's
// byte-offset helpers, bound to this device, for callers (the FAT engine and
// directory engine) that never want to think in sectors at all.
func (d *LogicalDevice) ReadByOffset(offset int64, buf []byte) error {
	return blockdev.ReadAtOffset(d, offset, buf)
}

func (d *LogicalDevice) WriteByOffset(offset int64, buf []byte) error {
	return blockdev.WriteAtOffset(d, offset, buf)
}
