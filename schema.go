// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

// SummaryBehavior controls whether a Master element's children are read
// eagerly or deferred during a summary-mode read (spec §4.D, §4.E, §9).
type SummaryBehavior int

const (
	// Normal: read_summary behaves exactly like read_data.
	Normal SummaryBehavior = iota
	// Defer: read_summary skips this element's children entirely.
	Defer
)

// ValueRange restricts an Atomic's decoded value. HasRange false means
// unbounded; when true, both bounds of one Min/Max pair are enforced, the
// pair selected by the value's Kind (other kinds are not restricted).
type ValueRange struct {
	HasRange bool
	MinUint  uint64
	MaxUint  uint64
	MinInt   int64
	MaxInt   int64
}

func (r ValueRange) allows(v Value) bool {
	if !r.HasRange {
		return true
	}
	switch v.Kind {
	case KindUnsigned:
		return v.Uint >= r.MinUint && v.Uint <= r.MaxUint
	case KindSigned:
		return v.Int >= r.MinInt && v.Int <= r.MaxInt
	default:
		return true
	}
}

// SchemaEntry describes one permitted element ID (spec §4.D). An ID absent
// from the registry yields Unsupported construction.
type SchemaEntry struct {
	ID       ElementID
	Name     string
	Kind     Kind // ignored when Master is true
	Master   bool
	Default  Value
	Range    ValueRange
	Parents  []ElementID // nil/empty means "any parent"
	AnyParent bool
	Required bool
	Unique   bool
	Summary  SummaryBehavior
}

func (e SchemaEntry) allowsParent(parent ElementID) bool {
	if e.AnyParent || len(e.Parents) == 0 {
		return true
	}
	for _, p := range e.Parents {
		if p == parent {
			return true
		}
	}
	return false
}

// VoidID is the well-known padding element ID (spec §4.D), permitted under
// any parent.
const VoidID ElementID = 0xEC

// Schema is a read-only registry keyed by ElementID (spec §4.D). It is
// external configuration the core consumes without validating its shape.
type Schema struct {
	entries map[ElementID]SchemaEntry
}

// NewSchema builds a registry from a list of entries. The well-known Void
// ID is always present even if the caller's table omits it.
func NewSchema(entries []SchemaEntry) *Schema {
	s := &Schema{entries: make(map[ElementID]SchemaEntry, len(entries)+1)}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	if _, ok := s.entries[VoidID]; !ok {
		s.entries[VoidID] = SchemaEntry{ID: VoidID, Name: "Void", Kind: KindBinary, AnyParent: true}
	}
	return s
}

// Lookup returns the schema entry for id and whether it exists. A missing
// entry means the element must be constructed as Unsupported.
func (s *Schema) Lookup(id ElementID) (SchemaEntry, bool) {
	if s == nil {
		return SchemaEntry{}, false
	}
	e, ok := s.entries[id]
	return e, ok
}

// Well-known Matroska/EBML element IDs needed to exercise every operation
// named in this module's spec (spec §4.D "external configuration" — this
// table is data supplied to, not logic owned by, the core).
const (
	IDEBML            ElementID = 0x1A45DFA3
	IDEBMLVersion      ElementID = 0x4286
	IDEBMLReadVersion  ElementID = 0x42F7
	IDDocType          ElementID = 0x4282
	IDDocTypeVersion   ElementID = 0x4287

	IDSegment  ElementID = 0x18538067
	IDSeekHead ElementID = 0x114D9B74
	IDSeek     ElementID = 0x4DBB
	IDSeekID   ElementID = 0x53AB
	IDSeekPosition ElementID = 0x53AC

	IDInfo           ElementID = 0x1549A966
	IDTimestampScale ElementID = 0x2AD7B1
	IDDuration       ElementID = 0x4489
	IDTitle          ElementID = 0x7BA9

	IDTracks     ElementID = 0x1654AE6B
	IDTrackEntry ElementID = 0xAE

	IDChapters ElementID = 0x1043A770

	IDAttachments  ElementID = 0x1941A469
	IDAttachedFile ElementID = 0x61A7
	IDFileDescription ElementID = 0x467E
	IDFileName     ElementID = 0x466E
	IDFileMimeType ElementID = 0x4660
	IDFileData     ElementID = 0x465C
	IDFileUID      ElementID = 0x46AE

	IDTags ElementID = 0x1254C367

	IDCluster ElementID = 0x1F43B675
	IDCues    ElementID = 0x1C53BB6B
)

// DefaultSchema returns the Matroska/EBML schema table exercised by this
// module's tests and Segment normalizer: the EBML header, Segment and its
// direct metadata children, and the Attachments subtree (spec §4.D).
func DefaultSchema() *Schema {
	return NewSchema([]SchemaEntry{
		{ID: IDEBML, Name: "EBML", Master: true, AnyParent: true},
		{ID: IDEBMLVersion, Name: "EBMLVersion", Kind: KindUnsigned, Parents: []ElementID{IDEBML}, Required: true, Unique: true},
		{ID: IDEBMLReadVersion, Name: "EBMLReadVersion", Kind: KindUnsigned, Parents: []ElementID{IDEBML}, Unique: true},
		{ID: IDDocType, Name: "DocType", Kind: KindString, Parents: []ElementID{IDEBML}, Unique: true},
		{ID: IDDocTypeVersion, Name: "DocTypeVersion", Kind: KindUnsigned, Parents: []ElementID{IDEBML}, Unique: true},

		{ID: IDSegment, Name: "Segment", Master: true, AnyParent: true},

		{ID: IDSeekHead, Name: "SeekHead", Master: true, Parents: []ElementID{IDSegment}, Unique: true, Summary: Normal},
		{ID: IDSeek, Name: "Seek", Master: true, Parents: []ElementID{IDSeekHead}},
		{ID: IDSeekID, Name: "SeekID", Kind: KindBinary, Parents: []ElementID{IDSeek}, Required: true, Unique: true},
		{ID: IDSeekPosition, Name: "SeekPosition", Kind: KindUnsigned, Parents: []ElementID{IDSeek}, Required: true, Unique: true},

		{ID: IDInfo, Name: "Info", Master: true, Parents: []ElementID{IDSegment}, Required: true, Unique: true},
		{ID: IDTimestampScale, Name: "TimestampScale", Kind: KindUnsigned, Parents: []ElementID{IDInfo}, Unique: true,
			Default: Value{Kind: KindUnsigned, Uint: 1000000}},
		{ID: IDDuration, Name: "Duration", Kind: KindFloat, Parents: []ElementID{IDInfo}, Unique: true},
		{ID: IDTitle, Name: "Title", Kind: KindUnicode, Parents: []ElementID{IDInfo}, Unique: true},

		{ID: IDTracks, Name: "Tracks", Master: true, Parents: []ElementID{IDSegment}, Unique: true},
		{ID: IDTrackEntry, Name: "TrackEntry", Master: true, Parents: []ElementID{IDTracks}},

		{ID: IDChapters, Name: "Chapters", Master: true, Parents: []ElementID{IDSegment}, Unique: true, Summary: Normal},

		{ID: IDAttachments, Name: "Attachments", Master: true, Parents: []ElementID{IDSegment}, Unique: true},
		{ID: IDAttachedFile, Name: "AttachedFile", Master: true, Parents: []ElementID{IDAttachments}},
		{ID: IDFileDescription, Name: "FileDescription", Kind: KindUnicode, Parents: []ElementID{IDAttachedFile}},
		{ID: IDFileName, Name: "FileName", Kind: KindUnicode, Parents: []ElementID{IDAttachedFile}, Required: true, Unique: true},
		{ID: IDFileMimeType, Name: "FileMimeType", Kind: KindString, Parents: []ElementID{IDAttachedFile}, Required: true, Unique: true},
		{ID: IDFileData, Name: "FileData", Kind: KindBinary, Parents: []ElementID{IDAttachedFile}, Required: true, Unique: true},
		{ID: IDFileUID, Name: "FileUID", Kind: KindUnsigned, Parents: []ElementID{IDAttachedFile}, Required: true, Unique: true},

		{ID: IDTags, Name: "Tags", Master: true, Parents: []ElementID{IDSegment}, Unique: true},

		{ID: IDCluster, Name: "Cluster", Master: true, Parents: []ElementID{IDSegment}, Summary: Defer},
		{ID: IDCues, Name: "Cues", Master: true, Parents: []ElementID{IDSegment}, Unique: true, Summary: Defer},
	})
}
