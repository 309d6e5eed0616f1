// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

// Segment wraps a Segment Master element with the Matroska-specific
// layout pass described in spec §4.H: freezing Cluster/Cues byte extents,
// partitioning metadata children into a head region and a caller-
// configurable tail region, and (re)building a SeekHead.
type Segment struct {
	*Element
	schema *Schema

	// TailIDs lists element IDs placed in the tail region instead of the
	// head (spec §4.H step 2). Attachments and Tags by default, since
	// large attachments should grow without disturbing the pre-Cluster
	// layout.
	TailIDs []ElementID

	// SeekHeadSlack is the Void padding reserved after a freshly built
	// SeekHead so entries can be added without relocating it (spec §4.H
	// step 3).
	SeekHeadSlack uint64
}

// defaultTailIDs is Attachments, Tags (spec §4.H step 2).
func defaultTailIDs() []ElementID {
	return []ElementID{IDAttachments, IDTags}
}

// headOrder is the fixed priority order for the head region (spec §4.H
// step 2): SeekHead first (rebuilt fresh, see Normalize), then Info,
// Tracks, Chapters.
var headOrder = []ElementID{IDSeekHead, IDInfo, IDTracks, IDChapters}

// NewSegment wraps an existing Segment Master element (e.g. one returned
// by File.Children()) for normalization.
func NewSegment(e *Element, schema *Schema) *Segment {
	return &Segment{Element: e, schema: schema, TailIDs: defaultTailIDs(), SeekHeadSlack: 64}
}

func (s *Segment) inTail(id ElementID) bool {
	for _, t := range s.TailIDs {
		if t == id {
			return true
		}
	}
	return false
}

// immovableRegions returns the frozen byte extents of Cluster and Cues
// children, relative to the Segment's data region (spec §4.H step 1).
func (s *Segment) immovableRegions() []byteRange {
	var out []byteRange
	for _, c := range s.children {
		if c.header.ID != IDCluster && c.header.ID != IDCues {
			continue
		}
		off, known := c.localOffset()
		if !known {
			continue
		}
		out = append(out, byteRange{start: off, end: off + c.TotalSize()})
	}
	return out
}

// Normalize rebuilds the segment's SeekHead and re-lays-out its metadata
// children, leaving Cluster and Cues byte ranges untouched (spec §4.H).
//
// 1. Identify immovable regions (Cluster, Cues).
// 2. Partition remaining children into head (SeekHead, Info, Tracks,
//    Chapters) and tail (s.TailIDs, default Attachments/Tags) groups,
//    Cluster/Cues/any unrecognized element staying in their current
//    relative order between the two groups.
// 3. Rebuild the SeekHead as the head's first child.
// 4. Rearrange head and tail independently, with Cluster/Cues frozen.
// 5. Refresh the SeekHead's positions from the settled layout.
//
// Normalize returns the first error from these steps as is;
// AddAttachment reports any Normalize failure as ErrSegmentFull.
func (s *Segment) Normalize(opts RearrangeOptions) error {
	if s.Kind != MasterKind {
		return ErrUnsupportedWrite
	}

	immovable := s.immovableRegions()
	opts.immovable = immovable

	head, tail, middle := s.partition()

	seekHead := s.buildSeekHead(head, tail)
	head = append([]*Element{seekHead}, head...)

	head, err := rearrangeRegion(s.Element, head, opts)
	if err != nil {
		return err
	}
	tail, err = rearrangeRegion(s.Element, tail, opts)
	if err != nil {
		return err
	}

	s.children = append(append(append([]*Element{}, head...), middle...), tail...)
	for _, c := range s.children {
		c.parent = s.Element
	}
	s.structDirty = true

	if err := s.Rearrange(opts); err != nil {
		return err
	}

	// Offsets are only settled once Rearrange returns; refresh each
	// SeekHead entry's SeekPosition now that it's known (spec §4.H step
	// 3, §8 "SeekHead agreement").
	return s.refreshSeekHead()
}

// partition splits s's current children (minus any existing SeekHead,
// which Normalize always rebuilds) into head metadata, tail metadata, and
// the immovable/unrecognized middle (Cluster, Cues, Unsupported, Void),
// per spec §4.H step 2.
func (s *Segment) partition() (head, tail, middle []*Element) {
	byID := map[ElementID][]*Element{}
	var order []ElementID
	for _, c := range s.children {
		if c.header.ID == IDSeekHead {
			continue // rebuilt fresh
		}
		if c.header.ID == IDCluster || c.header.ID == IDCues || c.Kind == VoidKind || c.Kind == UnsupportedKind {
			middle = append(middle, c)
			continue
		}
		if _, ok := byID[c.header.ID]; !ok {
			order = append(order, c.header.ID)
		}
		byID[c.header.ID] = append(byID[c.header.ID], c)
	}
	for _, id := range headOrder[1:] { // skip SeekHead, handled separately
		head = append(head, byID[id]...)
		delete(byID, id)
	}
	for _, id := range order {
		cs, ok := byID[id]
		if !ok {
			continue
		}
		if s.inTail(id) {
			tail = append(tail, cs...)
		} else {
			head = append(head, cs...)
		}
	}
	return head, tail, middle
}

// seekPositionWidth is the fixed payload width every SeekPosition is
// reserved at, from construction through every later refresh. Pinning it
// up front means Normalize's later refreshSeekHead pass (which writes the
// real, now-known offsets) never changes a Seek entry's TotalSize, so it
// can never invalidate the layout the preceding Rearrange just settled.
const seekPositionWidth = 8

// buildSeekHead constructs a fresh SeekHead Master listing one Seek entry
// per non-Void, non-SeekHead top-level child across both regions, plus
// trailing Void slack (spec §4.H step 3). Offsets are placeholders until
// Normalize's subsequent refreshSeekHead call settles them to real values.
func (s *Segment) buildSeekHead(head, tail []*Element) *Element {
	sh := NewMaster(IDSeekHead, s.schema)
	for _, group := range [][]*Element{head, tail} {
		for _, c := range group {
			seek := NewMaster(IDSeek, s.schema)
			idBuf := marshalVINT(uint64(c.header.ID), c.header.IDWidth)
			seekID := NewAtomic(IDSeekID, s.schema, Value{Kind: KindBinary, Binary: idBuf})
			seekPos := NewAtomic(IDSeekPosition, s.schema, Value{Kind: KindUnsigned, Uint: 0})
			_ = seekPos.Resize(seekPositionWidth) // widening a zero-valued atom never fails
			seek.attach(seekID)
			seek.attach(seekPos)
			sh.attach(seek)
		}
	}
	if s.SeekHeadSlack > 0 {
		sh.attach(NewVoid(s.SeekHeadSlack))
	}
	return sh
}

// refreshSeekHead rewrites each Seek entry's SeekPosition to match its
// target's offset in the settled layout (the sum of the sizes of the
// children before it), called by Normalize once the tree's final
// layout is settled (spec §4.H step 3, "the child at offset has that
// ID"). SetValue always recomputes a minimal encoding, so each position is
// pinned back to seekPositionWidth immediately after: that keeps every
// entry's TotalSize exactly what Rearrange already accounted for.
func (s *Segment) refreshSeekHead() error {
	var sh *Element
	for _, c := range s.children {
		if c.header.ID == IDSeekHead {
			sh = c
			break
		}
	}
	if sh == nil {
		return nil
	}
	// Targets are the children buildSeekHead made entries for, in the same
	// order: everything but the SeekHead itself and partition's middle.
	targets := make([]*Element, 0, len(s.children))
	offsets := make(map[*Element]uint64, len(s.children))
	var cursor uint64
	for _, c := range s.children {
		offsets[c] = cursor
		cursor += c.TotalSize()
		if c.header.ID == IDSeekHead || c.Kind == VoidKind || c.Kind == UnsupportedKind ||
			c.header.ID == IDCluster || c.header.ID == IDCues {
			continue
		}
		targets = append(targets, c)
	}
	i := 0
	for _, entry := range sh.children {
		if entry.Kind != MasterKind || entry.header.ID != IDSeek {
			continue
		}
		if i >= len(targets) {
			break
		}
		off := offsets[targets[i]]
		for _, f := range entry.children {
			if f.header.ID == IDSeekPosition {
				if err := f.SetValue(Value{Kind: KindUnsigned, Uint: off}); err != nil {
					return err
				}
				// SetValue always recomputes a minimal encoding; pin the
				// width back so this entry's TotalSize doesn't move.
				if err := f.Resize(seekPositionWidth); err != nil {
					return err
				}
			}
		}
		i++
	}
	return nil
}

// rearrangeRegion temporarily isolates region's children under m so
// Rearrange's cursor logic (which always starts a region at offset 0
// relative to its container) can lay out the head and tail independently,
// matching spec §4.H step 4 ("rearrange the tail region independently").
// Since head and tail are not truly separate containers on disk, this
// delegates to the same positional/Void logic used for any Master by
// wrapping region in a throwaway Master sharing m's stream offset.
func rearrangeRegion(m *Element, region []*Element, opts RearrangeOptions) ([]*Element, error) {
	if len(region) == 0 {
		return region, nil
	}
	shadow := &Element{Kind: MasterKind, header: Header{ID: m.header.ID}}
	shadow.hasStreamOffset = m.hasStreamOffset
	shadow.streamOffset = m.streamOffset + uint64(m.header.TotalWidth())
	shadow.children = region
	for _, c := range region {
		c.parent = shadow
	}
	var size uint64
	for _, c := range region {
		size += c.TotalSize()
	}
	shadow.header.Size = size
	if err := closeGaps(shadow, opts); err != nil {
		return nil, err
	}
	for _, c := range shadow.children {
		c.parent = m
	}
	return shadow.children, nil
}

// AddAttachment appends a new AttachedFile to the segment's Attachments
// container, creating Attachments if absent, then normalizes the segment
// so the new bytes land in the tail region and the SeekHead is updated
// (spec §4.H "AddAttachment", Testable Property scenario 3). Any error
// from that Normalize call is returned as ErrSegmentFull.
func (s *Segment) AddAttachment(name, mime, description string, data []byte) (*Element, error) {
	if s.Kind != MasterKind {
		return nil, ErrUnsupportedWrite
	}

	var attachments *Element
	for _, c := range s.children {
		if c.header.ID == IDAttachments {
			attachments = c
			break
		}
	}
	if attachments == nil {
		attachments = NewMaster(IDAttachments, s.schema)
		if err := s.AddChild(attachments); err != nil {
			return nil, err
		}
	}

	af := NewMaster(IDAttachedFile, s.schema)
	if description != "" {
		if err := af.AddChild(NewAtomic(IDFileDescription, s.schema, Value{Kind: KindUnicode, Str: description})); err != nil {
			return nil, err
		}
	}
	if err := af.AddChild(NewAtomic(IDFileName, s.schema, Value{Kind: KindUnicode, Str: name})); err != nil {
		return nil, err
	}
	if err := af.AddChild(NewAtomic(IDFileMimeType, s.schema, Value{Kind: KindString, Str: mime})); err != nil {
		return nil, err
	}
	if err := af.AddChild(NewAtomic(IDFileData, s.schema, Value{Kind: KindBinary, Binary: data})); err != nil {
		return nil, err
	}
	if err := af.AddChild(NewAtomic(IDFileUID, s.schema, Value{Kind: KindUnsigned, Uint: attachmentUID(attachments)})); err != nil {
		return nil, err
	}
	if err := attachments.AddChild(af); err != nil {
		return nil, err
	}

	opts := DefaultRearrangeOptions()
	opts.Strategy = Pack
	opts.AllowShrink = true
	if err := s.Normalize(opts); err != nil {
		return nil, ErrSegmentFull
	}
	return af, nil
}

// attachmentUID derives a simple unique FileUID: one past the highest
// FileUID already present, starting at 1.
func attachmentUID(attachments *Element) uint64 {
	var max uint64
	for _, af := range attachments.children {
		if af.header.ID != IDAttachedFile {
			continue
		}
		for _, f := range af.children {
			if f.header.ID == IDFileUID && f.value.Uint > max {
				max = f.value.Uint
			}
		}
	}
	return max + 1
}
