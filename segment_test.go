// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

import "testing"

func TestNewSegmentDefaults(t *testing.T) {
	schema := DefaultSchema()
	e := asRead(IDSegment, schema, nil)
	seg := NewSegment(e, schema)
	if len(seg.TailIDs) != 2 || seg.TailIDs[0] != IDAttachments || seg.TailIDs[1] != IDTags {
		t.Errorf("TailIDs = %v, want [Attachments, Tags]", seg.TailIDs)
	}
	if seg.SeekHeadSlack != 64 {
		t.Errorf("SeekHeadSlack = %d, want 64", seg.SeekHeadSlack)
	}
}

func TestSegmentImmovableRegions(t *testing.T) {
	schema := DefaultSchema()
	info := asRead(IDInfo, schema, nil)
	cluster := asRead(IDCluster, schema, nil)
	e := asRead(IDSegment, schema, []*Element{info, cluster})
	seg := NewSegment(e, schema)

	regions := seg.immovableRegions()
	if len(regions) != 1 {
		t.Fatalf("immovableRegions() returned %d ranges, want 1", len(regions))
	}
	off, _ := cluster.localOffset()
	if regions[0].start != off || regions[0].end != off+cluster.TotalSize() {
		t.Errorf("immovableRegions()[0] = %+v, want [%d, %d)", regions[0], off, off+cluster.TotalSize())
	}
}

func TestSegmentPartitionSeparatesHeadTailMiddle(t *testing.T) {
	schema := DefaultSchema()
	info := asRead(IDInfo, schema, nil)
	cluster := asRead(IDCluster, schema, nil)
	attachments := asRead(IDAttachments, schema, nil)
	e := asRead(IDSegment, schema, []*Element{info, cluster, attachments})
	seg := NewSegment(e, schema)

	head, tail, middle := seg.partition()
	if len(head) != 1 || head[0] != info {
		t.Errorf("head = %v, want [info]", head)
	}
	if len(tail) != 1 || tail[0] != attachments {
		t.Errorf("tail = %v, want [attachments]", tail)
	}
	if len(middle) != 1 || middle[0] != cluster {
		t.Errorf("middle = %v, want [cluster]", middle)
	}
}

func TestSegmentPartitionSkipsExistingSeekHead(t *testing.T) {
	schema := DefaultSchema()
	oldSeekHead := asRead(IDSeekHead, schema, nil)
	info := asRead(IDInfo, schema, nil)
	e := asRead(IDSegment, schema, []*Element{oldSeekHead, info})
	seg := NewSegment(e, schema)

	head, _, middle := seg.partition()
	for _, c := range append(append([]*Element{}, head...), middle...) {
		if c == oldSeekHead {
			t.Error("partition() should drop the existing SeekHead; Normalize rebuilds it fresh")
		}
	}
}

func TestBuildSeekHeadOneEntryPerChild(t *testing.T) {
	schema := DefaultSchema()
	info := asRead(IDInfo, schema, nil)
	attachments := asRead(IDAttachments, schema, nil)
	e := asRead(IDSegment, schema, []*Element{info, attachments})
	seg := NewSegment(e, schema)

	sh := seg.buildSeekHead([]*Element{info}, []*Element{attachments})

	var seekEntries, voids int
	for _, c := range sh.children {
		switch {
		case c.header.ID == IDSeek:
			seekEntries++
		case c.Kind == VoidKind:
			voids++
		}
	}
	if seekEntries != 2 {
		t.Errorf("SeekHead has %d Seek entries, want 2", seekEntries)
	}
	if voids != 1 {
		t.Errorf("SeekHead has %d trailing Voids, want 1", voids)
	}
}

func TestBuildSeekHeadOmitsSlackWhenZero(t *testing.T) {
	schema := DefaultSchema()
	info := asRead(IDInfo, schema, nil)
	e := asRead(IDSegment, schema, []*Element{info})
	seg := NewSegment(e, schema)
	seg.SeekHeadSlack = 0

	sh := seg.buildSeekHead([]*Element{info}, nil)
	for _, c := range sh.children {
		if c.Kind == VoidKind {
			t.Error("buildSeekHead should not append a Void when SeekHeadSlack is 0")
		}
	}
}

func TestAttachmentUIDStartsAtOne(t *testing.T) {
	schema := DefaultSchema()
	attachments := NewMaster(IDAttachments, schema)
	if got := attachmentUID(attachments); got != 1 {
		t.Errorf("attachmentUID(empty) = %d, want 1", got)
	}
}

func TestAttachmentUIDIncrementsFromMax(t *testing.T) {
	schema := DefaultSchema()
	attachments := NewMaster(IDAttachments, schema)

	af1 := NewMaster(IDAttachedFile, schema)
	af1.attach(NewAtomic(IDFileUID, schema, Value{Kind: KindUnsigned, Uint: 5}))
	attachments.attach(af1)

	af2 := NewMaster(IDAttachedFile, schema)
	af2.attach(NewAtomic(IDFileUID, schema, Value{Kind: KindUnsigned, Uint: 3}))
	attachments.attach(af2)

	if got := attachmentUID(attachments); got != 6 {
		t.Errorf("attachmentUID = %d, want 6 (one past max of 5 and 3)", got)
	}
}

// TestSegmentNormalizeProducesConsistentTree exercises Normalize end to
// end on a Cluster-free segment (so no immovable region can ever reject a
// relocation) and checks the result still satisfies every positional and
// schema invariant, not specific byte offsets.
func TestSegmentNormalizeProducesConsistentTree(t *testing.T) {
	schema := DefaultSchema()
	info := asRead(IDInfo, schema, nil)
	attachments := asRead(IDAttachments, schema, nil)
	e := asRead(IDSegment, schema, []*Element{info, attachments})
	seg := NewSegment(e, schema)

	if err := seg.Normalize(DefaultRearrangeOptions()); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if err := seg.Consistent(); err != nil {
		t.Errorf("Consistent() after Normalize = %v, want nil", err)
	}

	var sawSeekHead bool
	for _, c := range seg.children {
		if c.header.ID == IDSeekHead {
			sawSeekHead = true
		}
	}
	if !sawSeekHead {
		t.Error("Normalize should (re)build a SeekHead child")
	}
}

func TestSegmentNormalizeRejectsNonMaster(t *testing.T) {
	schema := DefaultSchema()
	e := &Element{Kind: AtomicKind, header: Header{ID: IDSegment}}
	seg := NewSegment(e, schema)
	if err := seg.Normalize(DefaultRearrangeOptions()); err != ErrUnsupportedWrite {
		t.Errorf("Normalize(non-Master) = %v, want ErrUnsupportedWrite", err)
	}
}
