package fat32

import "time"

// Metadata is the attribute/timestamp/location information carried by a
// directory entry's Regular slot.
type Metadata struct {
	Attributes   byte
	Created      time.Time
	Accessed     time.Time
	Modified     time.Time
	FirstCluster uint32
	Size         uint32
}

func (m Metadata) IsDir() bool      { return m.Attributes&AttrDirectory != 0 }
func (m Metadata) IsReadOnly() bool { return m.Attributes&AttrReadOnly != 0 }
func (m Metadata) IsHidden() bool   { return m.Attributes&AttrHidden != 0 }
func (m Metadata) IsVolumeID() bool { return m.Attributes&AttrVolumeID != 0 }

// Entry is a resolved directory entry: its long-or-short name, its
// metadata, the directory it lives in, the raw slot range it occupies, and
// the Ref-mode lock guard pinning its cluster against concurrent deletion.
type Entry struct {
	Name           string
	ShortName      string
	Metadata       Metadata
	Dir            *Directory
	SlotIndexStart uint64
	SlotIndexEnd   uint64
	refGuard       *Guard
}

// IsDir reports whether this entry names a directory.
func (e *Entry) IsDir() bool { return e.Metadata.IsDir() }

// Release gives up the entry's Ref pin on its cluster. Callers that hold an
// Entry across a remove/rename must call this first so Delete can proceed.
func (e *Entry) Release() {
	if e.refGuard != nil {
		e.refGuard.Release()
		e.refGuard = nil
	}
}
