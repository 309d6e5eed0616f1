// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

// Strategy selects how Rearrange treats padding (spec §4.G).
type Strategy int

const (
	// Pack eliminates padding where possible.
	Pack Strategy = iota
	// Preserve keeps existing Voids unless they must shrink.
	Preserve
)

// RearrangeOptions controls Master.Rearrange (spec §4.G).
type RearrangeOptions struct {
	AllowShrink bool
	AllowMove   bool
	MinVoid     uint64
	Strategy    Strategy

	// immovable lists byte ranges, relative to m's data region, that must
	// not be crossed by a relocation (spec §4.H step 1, §4.G step 2). Set
	// by Segment.Normalize; the zero value means no immovable regions.
	immovable []byteRange
}

type byteRange struct {
	start, end uint64 // [start, end)
}

func (r byteRange) overlaps(start, end uint64) bool {
	return start < r.end && end > r.start
}

// minVoidFloor is the smallest possible Void: a 1-byte ID plus a 1-byte
// zero size (spec §4.G).
const minVoidFloor = 2

// DefaultRearrangeOptions returns sane defaults: no shrinking, no
// reordering, minimum floor-sized Voids, Preserve strategy.
func DefaultRearrangeOptions() RearrangeOptions {
	return RearrangeOptions{MinVoid: minVoidFloor, Strategy: Preserve}
}

// Consistent checks invariants 4 and 5 of spec §3 on m and, recursively, on
// every descendant Master.
func (m *Element) Consistent() error {
	if m.Kind != MasterKind {
		return nil
	}
	if err := m.checkPositional(); err != nil {
		return err
	}
	if err := m.checkSchema(); err != nil {
		return err
	}
	for _, c := range m.children {
		if c.Kind == MasterKind {
			if err := c.Consistent(); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkPositional verifies spec §3 invariant 4. A child whose bytes will
// be rewritten anyway (Dirty()) may land wherever the cursor places it; a
// passthrough child's recorded on-disk offset must match the cursor
// exactly, since its bytes will not be touched.
func (m *Element) checkPositional() error {
	var cursor uint64
	for _, c := range m.children {
		if !c.Dirty() {
			off, known := c.localOffset()
			if known && off != cursor {
				return ErrInconsistent
			}
		}
		cursor += c.TotalSize()
	}
	if cursor != m.header.Size {
		return ErrInconsistent
	}
	return nil
}

// localOffset returns a child's offset relative to its parent's data
// region, derived from the child's and parent's absolute stream offsets
// (Element does not separately store a relative offset). It reports false
// when either offset is unknown, e.g. for a freshly constructed element.
func (e *Element) localOffset() (uint64, bool) {
	if e.parent == nil || !e.hasStreamOffset || !e.parent.hasStreamOffset {
		return 0, false
	}
	parentDataStart := e.parent.streamOffset + uint64(e.parent.header.TotalWidth())
	return e.streamOffset - parentDataStart, true
}

func (m *Element) checkSchema() error {
	seen := map[ElementID]int{}
	unique := map[ElementID]SchemaEntry{}
	for _, c := range m.children {
		if c.Kind == VoidKind {
			continue
		}
		if c.hasSchema && !c.schema.allowsParent(m.header.ID) {
			return &SchemaViolation{Reason: DisallowedParent, Parent: m.header.ID, Child: c.header.ID}
		}
		seen[c.header.ID]++
		if c.hasSchema && c.schema.Unique {
			unique[c.header.ID] = c.schema
		}
		if c.Kind == AtomicKind && c.hasSchema && !c.schema.Range.allows(c.value) {
			return &SchemaViolation{Reason: BadValue, Parent: m.header.ID, Child: c.header.ID}
		}
	}
	for id, entry := range unique {
		if seen[id] > 1 {
			return &SchemaViolation{Reason: DuplicateUnique, Parent: m.header.ID, Child: id, Message: entry.Name}
		}
	}
	// A per-child scan can only ever find duplicates or bad parents among
	// children that exist; a Required entry with zero matching children
	// never shows up there at all, so that check needs the full registry
	// of what's permitted under this parent.
	if m.registry != nil {
		for id, entry := range m.registry.entries {
			if entry.Required && entry.allowsParent(m.header.ID) && seen[id] == 0 {
				return &SchemaViolation{Reason: MissingRequired, Parent: m.header.ID, Child: id, Message: entry.Name}
			}
		}
	}
	return nil
}

// Rearrange repairs positional consistency (spec §4.G). It recurses into
// Master children first so their sizes are settled bottom-up, merges
// adjacent Voids, then walks children left-to-right closing gaps and
// overlaps before settling the container's own trailing space.
func (m *Element) Rearrange(opts RearrangeOptions) error {
	if m.Kind != MasterKind {
		return nil
	}
	for _, c := range m.children {
		if c.Kind == MasterKind {
			if err := c.Rearrange(opts); err != nil {
				return err
			}
		}
	}

	coalesceVoids(m, opts)

	if err := closeGaps(m, opts); err != nil {
		return err
	}

	return settleTrailingSpace(m, opts)
}

// coalesceVoids merges runs of adjacent Void children into one (spec §4.G
// "Void merging").
func coalesceVoids(m *Element, opts RearrangeOptions) {
	out := make([]*Element, 0, len(m.children))
	for i := 0; i < len(m.children); i++ {
		c := m.children[i]
		if c.Kind != VoidKind {
			out = append(out, c)
			continue
		}
		total := c.TotalSize()
		j := i + 1
		for j < len(m.children) && m.children[j].Kind == VoidKind {
			total += m.children[j].TotalSize()
			j++
		}
		merged := c
		if j > i+1 {
			merged = fitVoid(total, opts.MinVoid)
			m.structDirty = true
		}
		out = append(out, merged)
		i = j - 1
	}
	m.children = out
	for _, c := range m.children {
		c.parent = m
	}
}

// fitVoid builds a Void whose TotalSize is exactly target, using the
// smallest id_width/size_width combination that fits (spec §4.G "the
// smallest Void is 2 bytes"). minVoid floors target when the caller must
// honor RearrangeOptions.MinVoid.
func fitVoid(target, minVoid uint64) *Element {
	if minVoid < minVoidFloor {
		minVoid = minVoidFloor
	}
	if target < minVoid {
		target = minVoid
	}
	const idW = 1
	for w := 1; w <= MaxVINTWidth; w++ {
		overhead := uint64(idW + w)
		if target < overhead {
			continue
		}
		payload := target - overhead
		if got, err := vintEncodedWidth(payload, w); err == nil && got == w {
			return &Element{
				Kind:      VoidKind,
				header:    Header{ID: VoidID, Size: payload, SizeWidth: w, IDWidth: idW},
				readState: FullyLoaded,
			}
		}
	}
	// target is enormous: reserve the full 8-byte size field.
	return &Element{
		Kind:      VoidKind,
		header:    Header{ID: VoidID, Size: target - idW - 8, SizeWidth: 8, IDWidth: idW},
		readState: FullyLoaded,
	}
}

// closeGaps walks children left-to-right, inserting/absorbing Void padding
// across gaps and resolving overlaps that positional drift produced
// (spec §4.G steps 2-4). A child that is already Dirty() has no fixed
// on-disk position to preserve, so it is simply placed at the cursor; a
// passthrough child is kept exactly where it is unless growth elsewhere
// forces it to move, in which case it is marked moved (and so dirty) so
// the delta writer rewrites it at its new offset.
func closeGaps(m *Element, opts RearrangeOptions) error {
	var cursor uint64
	i := 0
	for i < len(m.children) {
		c := m.children[i]

		if c.Dirty() {
			cursor += c.TotalSize()
			i++
			continue
		}

		off, known := c.localOffset()
		if !known || off == cursor {
			cursor += c.TotalSize()
			i++
			continue
		}

		if off > cursor {
			// Preceding content shrank: a gap opened up before c.
			gap := off - cursor
			if opts.Strategy == Pack {
				if c.Kind == VoidKind && c.header.Size >= gap {
					if err := c.Resize(c.header.Size - gap); err != nil {
						return err
					}
					cursor += c.TotalSize()
					i++
					continue
				}
				if err := relocate(c, opts); err != nil {
					return err
				}
				cursor += c.TotalSize()
				i++
				continue
			}
			void := fitVoid(gap, opts.MinVoid)
			m.insertChildAt(i, void)
			cursor += void.TotalSize()
			i++
			continue
		}

		// off < cursor: preceding content grew, overlapping c.
		overlap := cursor - off
		if c.Kind == VoidKind && c.TotalSize() > overlap {
			newTotal := c.TotalSize() - overlap
			if newTotal < minVoidFloor {
				m.children = append(m.children[:i:i], m.children[i+1:]...)
				continue
			}
			if err := c.Resize(newTotal - uint64(c.header.TotalWidth())); err != nil {
				return err
			}
			cursor += c.TotalSize()
			i++
			continue
		}
		if err := relocate(c, opts); err != nil {
			return err
		}
		cursor += c.TotalSize()
		i++
	}
	return nil
}

// relocate marks a passthrough child dirty because it must be rewritten at
// a new offset, after checking it isn't pinned by an immovable region
// (spec §4.G step 2, §4.H step 1).
func relocate(c *Element, opts RearrangeOptions) error {
	off, _ := c.localOffset()
	size := c.TotalSize()
	for _, r := range opts.immovable {
		if r.overlaps(off, off+size) {
			return ErrCannotRearrange
		}
	}
	c.markMoved()
	return nil
}

func (m *Element) insertChildAt(i int, e *Element) {
	m.children = append(m.children, nil)
	copy(m.children[i+1:], m.children[i:])
	m.children[i] = e
	e.parent = m
	m.structDirty = true
}

// settleTrailingSpace handles spec §4.G steps 5-6: grow/shrink m, or pad
// its tail with a Void, so the last child's end matches m.header.Size.
func settleTrailingSpace(m *Element, opts RearrangeOptions) error {
	var cursor uint64
	for _, c := range m.children {
		cursor += c.TotalSize()
	}

	switch {
	case cursor == m.header.Size:
		return nil

	case cursor < m.header.Size:
		gap := m.header.Size - cursor
		if opts.Strategy == Pack && opts.AllowShrink {
			if err := m.Resize(cursor); err != nil {
				return err
			}
			m.structDirty = true
			return nil
		}
		void := fitVoid(gap, opts.MinVoid)
		m.children = append(m.children, void)
		void.parent = m
		m.structDirty = true
		return nil

	default: // cursor > m.header.Size: children overran the container.
		if err := m.Resize(cursor); err != nil {
			return ErrInsufficientSpace
		}
		m.structDirty = true
		return nil
	}
}
