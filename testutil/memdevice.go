// Package testutil provides an in-memory blockdev.BlockDevice for tests
// that need a real device to format and mount against, without touching the
// filesystem.
package testutil

import (
	"github.com/xaionaro-go/bytesextra"

	"github.com/dargueta/vfat32/blockdev"
)

// NewMemDevice allocates a zero-filled in-memory device of totalSectors *
// sectorSize bytes, fixed-size: writes past its end return an error rather
// than growing it.
func NewMemDevice(sectorSize, totalSectors uint) *blockdev.StreamDevice {
	buf := make([]byte, sectorSize*totalSectors)
	stream := bytesextra.NewReadWriteSeeker(buf)
	return blockdev.NewStreamDevice(stream, sectorSize)
}
