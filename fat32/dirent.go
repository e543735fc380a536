package fat32

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/dargueta/vfat32/errors"
)

// Attribute bits of the byte at offset 11 of a raw directory slot.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

const (
	entryFreeMarker = 0xE5
	entryEndMarker  = 0x00
	lfnLastFlag     = 0x40
	lfnSeqMask      = 0x1F
	lfnMaxUnitsPerSlot = 13
)

// rawSlot is one undecoded 32-byte directory entry.
type rawSlot [DirentSize]byte

func (s rawSlot) firstByte() byte { return s[0] }

func (s rawSlot) attributes() byte { return s[11] }

// isValid reports whether the slot is neither the free marker nor the
// end-of-directory marker.
func (s rawSlot) isValid() bool {
	return s.firstByte() != entryFreeMarker && s.firstByte() != entryEndMarker
}

func (s rawSlot) isEndMarker() bool {
	return s.firstByte() == entryEndMarker
}

func (s rawSlot) isLFN() bool {
	return s.isValid() && s.attributes() == AttrLongName
}

func (s rawSlot) isRegular() bool {
	return s.isValid() && !s.isLFN()
}

func newFreeSlot() rawSlot {
	var s rawSlot
	s[0] = entryFreeMarker
	return s
}

func newEndMarkerSlot() rawSlot {
	return rawSlot{}
}

// regularSlot is the decoded form of a Regular directory slot.
type regularSlot struct {
	shortName    string // "NAME" or "NAME.EXT", uppercase ASCII
	attributes   byte
	createdDate  uint16
	createdTime  uint16
	accessedDate uint16
	modifiedDate uint16
	modifiedTime uint16
	firstCluster uint32
	size         uint32
}

func bytesToShortNamePart(b []byte) (string, error) {
	end := len(b)
	for i, c := range b {
		if c == 0x00 || c == 0x20 {
			end = i
			break
		}
	}
	data := b[:end]
	for _, c := range data {
		if c > 0x7F {
			return "", errors.Newf(errors.InvalidData, "short name contains non-ASCII byte 0x%02X", c)
		}
	}
	return string(data), nil
}

func decodeRegularSlot(s rawSlot) (regularSlot, error) {
	name, err := bytesToShortNamePart(s[0:8])
	if err != nil {
		return regularSlot{}, err
	}
	ext, err := bytesToShortNamePart(s[8:11])
	if err != nil {
		return regularSlot{}, err
	}

	shortName := name
	if ext != "" {
		shortName = name + "." + ext
	}

	return regularSlot{
		shortName:    shortName,
		attributes:   s.attributes(),
		createdDate:  binary.LittleEndian.Uint16(s[16:18]),
		createdTime:  binary.LittleEndian.Uint16(s[14:16]),
		accessedDate: binary.LittleEndian.Uint16(s[18:20]),
		modifiedDate: binary.LittleEndian.Uint16(s[24:26]),
		modifiedTime: binary.LittleEndian.Uint16(s[22:24]),
		firstCluster: uint32(binary.LittleEndian.Uint16(s[20:22]))<<16 | uint32(binary.LittleEndian.Uint16(s[26:28])),
		size:         binary.LittleEndian.Uint32(s[28:32]),
	}, nil
}

// encodeRegularSlot packs shortName (already split into an 8.3 name/ext
// pair) and metadata into a raw Regular slot.
func encodeRegularSlot(shortName8, shortExt3 string, attrs byte, created, modified time.Time, accessed time.Time, firstCluster uint32, size uint32) rawSlot {
	var s rawSlot
	copy(s[0:8], padTo(shortName8, 8, ' '))
	copy(s[8:11], padTo(shortExt3, 3, ' '))
	s[11] = attrs
	binary.LittleEndian.PutUint16(s[14:16], timeToFATTime(created))
	binary.LittleEndian.PutUint16(s[16:18], dateToFATDate(created))
	binary.LittleEndian.PutUint16(s[18:20], dateToFATDate(accessed))
	binary.LittleEndian.PutUint16(s[20:22], uint16(firstCluster>>16))
	binary.LittleEndian.PutUint16(s[22:24], timeToFATTime(modified))
	binary.LittleEndian.PutUint16(s[24:26], dateToFATDate(modified))
	binary.LittleEndian.PutUint16(s[26:28], uint16(firstCluster))
	binary.LittleEndian.PutUint32(s[28:32], size)
	return s
}

func padTo(s string, n int, pad byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = pad
	}
	copy(b, s)
	return b
}

// shortNameChecksum implements the 11-byte rotate-right-8 checksum that
// binds LFN slots to their trailing Regular slot.
func shortNameChecksum(shortName8, shortExt3 string) byte {
	var sum byte
	for _, b := range padTo(shortName8, 8, ' ') {
		sum = (sum >> 1) + ((sum & 1) << 7)
		sum += b
	}
	for _, b := range padTo(shortExt3, 3, ' ') {
		sum = (sum >> 1) + ((sum & 1) << 7)
		sum += b
	}
	return sum
}

// splitShortName8_3 splits a synthesized "_~N" style short name (no dot,
// always fits in 8 characters) into its 8-byte name / 3-byte ext parts.
func splitShortName8_3(name string) (string, string) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return name, ""
	}
	return name[:dot], name[dot+1:]
}

// ---- timestamp codec (spec §4.7.3 / original_source date_to_vfat_repr) ----

func dateToFATDate(t time.Time) uint16 {
	year := t.Year()
	if year < 1980 || year > 2107 {
		return 0
	}
	return uint16((uint32(year-1980) << 9) | (uint32(t.Month()) << 5) | uint32(t.Day()))
}

func timeToFATTime(t time.Time) uint16 {
	return uint16((uint32(t.Hour()) << 11) | (uint32(t.Minute()) << 5) | uint32(t.Second()/2))
}

// decodeFATDate falls back to 1980-01-01 for an out-of-range date, matching
// the leniency of the original driver.
func decodeFATDate(raw uint16) time.Time {
	year := int(raw>>9) + 1980
	month := int((raw >> 5) & 0b1111)
	day := int(raw & 0b11111)
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// decodeFATTime returns InvalidData for an hour/minute/second combination
// that can't exist on any calendar day.
func decodeFATTime(raw uint16) (hour, minute, second int, err error) {
	hour = int(raw >> 11)
	minute = int((raw >> 5) & 0b111111)
	second = 2 * int(raw&0b11111)
	if hour > 23 || minute > 59 || second > 59 {
		return 0, 0, 0, errors.Newf(errors.InvalidData, "invalid FAT time value 0x%04X", raw)
	}
	return hour, minute, second, nil
}

func decodeDateTime(dateRaw, timeRaw uint16) (time.Time, error) {
	d := decodeFATDate(dateRaw)
	h, m, s, err := decodeFATTime(timeRaw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, s, 0, time.UTC), nil
}
