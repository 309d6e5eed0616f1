// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

import "testing"

// memWriterAt is a growable in-memory io.WriterAt for exercising the delta
// writer without touching the filesystem.
type memWriterAt struct {
	buf []byte
}

func (m *memWriterAt) WriteAt(p []byte, off int64) (int, error) {
	end := int(off) + len(p)
	if end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func TestWriteAtAdvancesCursor(t *testing.T) {
	dest := &memWriterAt{}
	s := &sink{dest: dest}
	if err := writeAt(s, []byte{1, 2, 3}); err != nil {
		t.Fatalf("writeAt failed: %v", err)
	}
	if err := writeAt(s, []byte{4, 5}); err != nil {
		t.Fatalf("writeAt failed: %v", err)
	}
	if s.cursor != 5 {
		t.Errorf("cursor = %d, want 5", s.cursor)
	}
	want := []byte{1, 2, 3, 4, 5}
	for i, b := range want {
		if dest.buf[i] != b {
			t.Errorf("dest.buf[%d] = %d, want %d", i, dest.buf[i], b)
		}
	}
}

func TestWriteAtSkipsEmptyBuffer(t *testing.T) {
	dest := &memWriterAt{}
	s := &sink{dest: dest}
	if err := writeAt(s, nil); err != nil {
		t.Fatalf("writeAt(nil) failed: %v", err)
	}
	if s.cursor != 0 {
		t.Errorf("cursor = %d, want 0", s.cursor)
	}
}

func TestPassthroughSameStreamOnlyAdvancesCursor(t *testing.T) {
	schema := DefaultSchema()
	info := asRead(IDInfo, schema, nil)
	dest := &memWriterAt{}
	s := &sink{dest: dest, sameStream: true}
	if err := passthrough(s, info); err != nil {
		t.Fatalf("passthrough failed: %v", err)
	}
	if s.cursor != info.TotalSize() {
		t.Errorf("cursor = %d, want %d", s.cursor, info.TotalSize())
	}
	if len(dest.buf) != 0 {
		t.Error("passthrough on the same stream should never write bytes")
	}
}

func TestPassthroughDifferentStreamCopiesSourceBytes(t *testing.T) {
	schema := DefaultSchema()
	title := NewAtomic(IDTitle, schema, Value{Kind: KindUnicode, Str: "hi"})
	encoded, err := encodeValue(title.value)
	if err != nil {
		t.Fatalf("encodeValue failed: %v", err)
	}
	title.header.Size = uint64(len(encoded))
	title.header.SizeWidth, _ = vintEncodedWidth(title.header.Size, 1)
	title.header.IDWidth = 2
	hdr, err := title.header.encode()
	if err != nil {
		t.Fatalf("header.encode failed: %v", err)
	}
	src := byteReaderAt(append(hdr, encoded...))

	got, _, err := readHeaderAt(src, 0, schema)
	if err != nil {
		t.Fatalf("readHeaderAt failed: %v", err)
	}
	if err := got.readData(src, 0, schema); err != nil {
		t.Fatalf("readData failed: %v", err)
	}

	dest := &memWriterAt{}
	s := &sink{dest: dest, src: src, sameStream: false}
	if err := passthrough(s, got); err != nil {
		t.Fatalf("passthrough failed: %v", err)
	}
	if s.cursor != got.TotalSize() {
		t.Errorf("cursor = %d, want %d", s.cursor, got.TotalSize())
	}
	if len(dest.buf) != len(src) {
		t.Fatalf("copied %d bytes, want %d", len(dest.buf), len(src))
	}
	for i := range src {
		if dest.buf[i] != src[i] {
			t.Fatalf("dest.buf[%d] = %x, want %x", i, dest.buf[i], src[i])
		}
	}
}

func TestWriteElementAtomicRoundTrips(t *testing.T) {
	schema := DefaultSchema()
	title := NewAtomic(IDTitle, schema, Value{Kind: KindUnicode, Str: "hello"})

	dest := &memWriterAt{}
	s := &sink{dest: dest}
	if err := writeElement(s, title); err != nil {
		t.Fatalf("writeElement failed: %v", err)
	}

	src := byteReaderAt(dest.buf)
	got, _, err := readHeaderAt(src, 0, schema)
	if err != nil {
		t.Fatalf("readHeaderAt failed: %v", err)
	}
	if err := got.readData(src, 0, schema); err != nil {
		t.Fatalf("readData failed: %v", err)
	}
	if got.Value().Str != "hello" {
		t.Errorf("round-tripped value = %q, want %q", got.Value().Str, "hello")
	}
}

func TestWriteElementVoidWritesOnlyHeader(t *testing.T) {
	v := NewVoid(10)
	dest := &memWriterAt{}
	s := &sink{dest: dest}
	if err := writeElement(s, v); err != nil {
		t.Fatalf("writeElement failed: %v", err)
	}
	if s.cursor != v.TotalSize() {
		t.Errorf("cursor = %d, want %d", s.cursor, v.TotalSize())
	}
	hdrWidth := v.header.TotalWidth()
	if uint64(len(dest.buf)) < uint64(hdrWidth) {
		t.Fatalf("dest.buf too short to hold even the header")
	}
}

func TestWriteElementUnsupportedFails(t *testing.T) {
	e := &Element{Kind: UnsupportedKind, header: Header{ID: 0x4242, IDWidth: 2}, forceDirty: true}
	dest := &memWriterAt{}
	s := &sink{dest: dest}
	if err := writeElement(s, e); err != ErrUnsupportedWrite {
		t.Errorf("writeElement(Unsupported) = %v, want ErrUnsupportedWrite", err)
	}
}

func TestCommitStreamPositionsClearsDirtinessAndSetsOffsets(t *testing.T) {
	schema := DefaultSchema()
	m := NewMaster(IDInfo, schema)
	child := NewAtomic(IDTitle, schema, Value{Kind: KindUnicode, Str: "x"})
	m.attach(child)

	next := commitStreamPositions(m, 100)

	if !m.hasStreamOffset || m.streamOffset != 100 {
		t.Errorf("m.streamOffset = %d (has=%v), want 100", m.streamOffset, m.hasStreamOffset)
	}
	if m.structDirty || m.forceDirty {
		t.Error("commitStreamPositions should clear structDirty/forceDirty")
	}
	if m.Dirty() {
		t.Error("m should be clean after commitStreamPositions")
	}
	wantChildOffset := 100 + uint64(m.header.TotalWidth())
	if child.streamOffset != wantChildOffset {
		t.Errorf("child.streamOffset = %d, want %d", child.streamOffset, wantChildOffset)
	}
	if next != 100+m.header.TotalSize() {
		t.Errorf("returned cursor = %d, want %d", next, 100+m.header.TotalSize())
	}
}

func TestSaveChangesRejectsInconsistentMaster(t *testing.T) {
	schema := DefaultSchema()
	m := asRead(IDSegment, schema, nil) // Info is Required and missing
	dest := &memWriterAt{}
	if err := saveChanges(m, dest, nil, true); err == nil {
		t.Error("saveChanges on a schema-inconsistent tree = nil, want an error")
	}
}

func TestSaveChangesWritesDirtyTree(t *testing.T) {
	schema := DefaultSchema()
	info := NewMaster(IDInfo, schema)
	info.attach(NewAtomic(IDTitle, schema, Value{Kind: KindUnicode, Str: "movie"}))
	segment := NewMaster(IDSegment, schema)
	segment.attach(info)

	if err := segment.Rearrange(DefaultRearrangeOptions()); err != nil {
		t.Fatalf("Rearrange failed: %v", err)
	}

	dest := &memWriterAt{}
	if err := saveChanges(segment, dest, nil, true); err != nil {
		t.Fatalf("saveChanges failed: %v", err)
	}
	if uint64(len(dest.buf)) != segment.TotalSize() {
		t.Errorf("wrote %d bytes, want %d", len(dest.buf), segment.TotalSize())
	}
}
