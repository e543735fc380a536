package fat32

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"

	"github.com/dargueta/vfat32/errors"
)

var utf16LECodec = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// lfnSlotUnits extracts the 13 UTF-16 code units (as raw little-endian
// 16-bit values, not yet decoded) carried by one LFN slot, in the order
// name1 (5), name2 (6), name3 (2).
func lfnSlotUnits(s rawSlot) [lfnMaxUnitsPerSlot]uint16 {
	var units [lfnMaxUnitsPerSlot]uint16
	units[0] = binary.LittleEndian.Uint16(s[1:3])
	units[1] = binary.LittleEndian.Uint16(s[3:5])
	units[2] = binary.LittleEndian.Uint16(s[5:7])
	units[3] = binary.LittleEndian.Uint16(s[7:9])
	units[4] = binary.LittleEndian.Uint16(s[9:11])
	units[5] = binary.LittleEndian.Uint16(s[14:16])
	units[6] = binary.LittleEndian.Uint16(s[16:18])
	units[7] = binary.LittleEndian.Uint16(s[18:20])
	units[8] = binary.LittleEndian.Uint16(s[20:22])
	units[9] = binary.LittleEndian.Uint16(s[22:24])
	units[10] = binary.LittleEndian.Uint16(s[24:26])
	units[11] = binary.LittleEndian.Uint16(s[28:30])
	units[12] = binary.LittleEndian.Uint16(s[30:32])
	return units
}

func lfnSequenceNumber(s rawSlot) byte { return s[0] }
func lfnChecksum(s rawSlot) byte       { return s[13] }

// decodeLFNName reassembles the long name from a run of LFN slots already
// ordered last-written-first (i.e. slots[0] has the 0x40 "last logical"
// flag and the highest sequence number), per spec §4.7.1. It truncates at
// the first embedded 0x0000 and decodes the remaining UTF-16LE units with
// the golang.org/x/text UTF-16 decoder so malformed units are replaced
// rather than rejected outright.
func decodeLFNName(slots []rawSlot) (string, error) {
	var rawUnits []uint16
	for i := len(slots) - 1; i >= 0; i-- {
		units := lfnSlotUnits(slots[i])
		rawUnits = append(rawUnits, units[:]...)
	}

	for i, u := range rawUnits {
		if u == 0x0000 {
			rawUnits = rawUnits[:i]
			break
		}
	}

	raw := make([]byte, len(rawUnits)*2)
	for i, u := range rawUnits {
		binary.LittleEndian.PutUint16(raw[i*2:i*2+2], u)
	}

	decoded, err := utf16LECodec.NewDecoder().Bytes(raw)
	if err != nil {
		return "", errors.Newf(errors.InvalidData, "failed to decode LFN UTF-16 units: %s", err.Error())
	}
	return string(decoded), nil
}

// encodeLFNSlots splits longName into 13-unit chunks padded with 0xFFFF
// (0x0000-terminating a short final chunk), and returns the slots in
// physical (first-written-last) order: slots[0] carries the highest
// sequence number with the 0x40 bit set, matching spec §4.7.6 step 6.
func encodeLFNSlots(longName string, checksum byte) ([]rawSlot, error) {
	encoded, err := utf16LECodec.NewEncoder().String(longName)
	if err != nil {
		return nil, errors.Newf(errors.InvalidInput, "failed to encode %q as UTF-16: %s", longName, err.Error())
	}
	if len(encoded)%2 != 0 {
		return nil, errors.Newf(errors.InvalidData, "UTF-16 encoding produced an odd byte count")
	}

	units := make([]uint16, len(encoded)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(encoded[i*2 : i*2+2])
	}

	chunkCount := (len(units) + lfnMaxUnitsPerSlot - 1) / lfnMaxUnitsPerSlot
	if chunkCount == 0 {
		chunkCount = 1
	}

	slots := make([]rawSlot, chunkCount)
	for chunkIdx := 0; chunkIdx < chunkCount; chunkIdx++ {
		var part [lfnMaxUnitsPerSlot]uint16
		for i := range part {
			part[i] = 0xFFFF
		}
		start := chunkIdx * lfnMaxUnitsPerSlot
		end := start + lfnMaxUnitsPerSlot
		if end > len(units) {
			end = len(units)
		}
		n := copy(part[:], units[start:end])
		if n < lfnMaxUnitsPerSlot {
			part[n] = 0x0000
		}

		var s rawSlot
		s[0] = byte(chunkIdx + 1)
		s[11] = AttrLongName
		s[12] = 0
		s[13] = checksum
		binary.LittleEndian.PutUint16(s[1:3], part[0])
		binary.LittleEndian.PutUint16(s[3:5], part[1])
		binary.LittleEndian.PutUint16(s[5:7], part[2])
		binary.LittleEndian.PutUint16(s[7:9], part[3])
		binary.LittleEndian.PutUint16(s[9:11], part[4])
		binary.LittleEndian.PutUint16(s[14:16], part[5])
		binary.LittleEndian.PutUint16(s[16:18], part[6])
		binary.LittleEndian.PutUint16(s[18:20], part[7])
		binary.LittleEndian.PutUint16(s[20:22], part[8])
		binary.LittleEndian.PutUint16(s[22:24], part[9])
		binary.LittleEndian.PutUint16(s[24:26], part[10])
		binary.LittleEndian.PutUint16(s[28:30], part[11])
		binary.LittleEndian.PutUint16(s[30:32], part[12])

		// Reverse index: chunk 0 carries the name's first units and the
		// lowest sequence number (1), and on disk it is the LFN slot right
		// before the Regular slot, so it goes last in our physically
		// ordered slice: slots[len-1-chunkIdx].
		slots[chunkCount-1-chunkIdx] = s
	}
	slots[0][0] |= lfnLastFlag

	return slots, nil
}
