// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

import (
	"io"

	"github.com/google/renameio"
	"github.com/orcaman/writerseeker"
)

// sink is the destination half of the delta writer: a cursor-tracked
// io.WriterAt plus, when the destination is a different stream from the
// one the tree was read from, the source to copy passthrough bytes from
// (spec §4.I).
type sink struct {
	dest       io.WriterAt
	cursor     uint64
	src        io.ReaderAt // read by passthrough only when sameStream is false
	sameStream bool
}

// saveChanges walks root depth-first, writing only dirty subtrees and
// copying or skipping passthrough ones, per spec §4.I. cursor tracks dest's
// write position; for same-stream writes, undirty regions are copied in
// increasing offset order so no unwritten source bytes are clobbered
// (spec §5) — a property this left-to-right walk gives for free since
// sibling order in the tree is the same as on-disk order once Consistent
// holds.
func saveChanges(root *Element, dest io.WriterAt, src io.ReaderAt, sameStream bool) error {
	if err := root.Consistent(); err != nil && root.Kind == MasterKind {
		return err
	}
	s := &sink{dest: dest, src: src, sameStream: sameStream}
	if err := writeElement(s, root); err != nil {
		return err
	}
	commitStreamPositions(root, 0)
	return nil
}

func writeElement(s *sink, e *Element) error {
	start := s.cursor
	if !e.Dirty() {
		if err := passthrough(s, e); err != nil {
			return err
		}
		return nil
	}

	switch e.Kind {
	case MasterKind:
		if e.isRoot {
			// File's synthetic wrapper has no header of its own (spec §3):
			// only its children are written, never a header for e itself.
			for _, c := range e.children {
				if err := writeElement(s, c); err != nil {
					return err
				}
			}
			break
		}
		hdr, err := e.header.encode()
		if err != nil {
			return err
		}
		if err := writeAt(s, hdr); err != nil {
			return err
		}
		for _, c := range e.children {
			if err := writeElement(s, c); err != nil {
				return err
			}
		}

	case AtomicKind:
		hdr, err := e.header.encode()
		if err != nil {
			return err
		}
		if err := writeAt(s, hdr); err != nil {
			return err
		}
		payload, err := e.encodedBytes()
		if err != nil {
			return err
		}
		if err := writeAt(s, payload); err != nil {
			return err
		}

	case VoidKind:
		hdr, err := e.header.encode()
		if err != nil {
			return err
		}
		if err := writeAt(s, hdr); err != nil {
			return err
		}
		s.cursor += e.header.Size // padding bytes are never meaningful

	case UnsupportedKind:
		return ErrUnsupportedWrite
	}

	_ = start
	return nil
}

// passthrough advances past e's bytes without rewriting them: a no-op
// cursor advance when dest and the read source are the same stream, or a
// verbatim copy from src when they differ (spec §4.I).
func passthrough(s *sink, e *Element) error {
	size := e.TotalSize()
	if s.sameStream {
		s.cursor += size
		return nil
	}
	buf := make([]byte, size)
	if err := readFull(s.src, e.streamOffset, buf); err != nil {
		return err
	}
	return writeAt(s, buf)
}

func writeAt(s *sink, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	n, err := s.dest.WriteAt(buf, int64(s.cursor))
	if err != nil {
		return err
	}
	s.cursor += uint64(n)
	return nil
}

// commitStreamPositions re-stamps every element's streamOffset and
// originalTotalSize to the values just written and clears dirtiness (spec
// §4.I "after a successful write"). Dirtiness is derived (Dirty() has no
// stored flag to clear besides forceDirty), so only forceDirty, rawValue,
// and hasOriginalSize/originalTotalSize need resetting.
func commitStreamPositions(e *Element, offset uint64) uint64 {
	e.hasStreamOffset = true
	e.streamOffset = offset
	e.forceDirty = false
	e.structDirty = false
	e.hasOriginalSize = true
	e.originalTotalSize = e.header.TotalSize()

	switch e.Kind {
	case AtomicKind:
		if e.rawValue == nil {
			enc, err := e.encodedBytes()
			if err == nil {
				e.rawValue = enc
			}
		}
	case MasterKind:
		headerWidth := uint64(e.header.TotalWidth())
		if e.isRoot {
			// No header bytes precede the root's children (spec §3).
			headerWidth = 0
		}
		cursor := offset + headerWidth
		for _, c := range e.children {
			cursor = commitStreamPositions(c, cursor)
		}
	}
	return offset + e.header.TotalSize()
}

// SaveChanges writes the tree rooted at root to dest, per spec §4.I/§6
// File.save_changes. When dest and src refer to the same underlying file
// (sameStream), the full output is assembled in an in-memory staging
// buffer (src is still the original file, read via mmap, so it remains
// intact throughout the walk) and then swapped into place atomically via
// renameio, so a crash mid-write never corrupts the original. When dest
// differs from src, the walk streams directly into a renameio temp file
// at the destination path instead, still committed atomically.
//
// Either way the destination the inner walk writes into — the staging
// buffer or the temp file — starts empty and is never the same byte
// store as src, so the inner saveChanges call always runs with
// sameStream=false: passthrough regions must be copied from src, never
// just skipped. The sameStream parameter here only selects which
// destination and commit path SaveChanges itself uses.
func SaveChanges(root *Element, destPath string, src io.ReaderAt, sameStream bool) error {
	if !sameStream {
		f, err := renameioCreate(destPath)
		if err != nil {
			return err
		}
		if err := saveChanges(root, f, src, false); err != nil {
			f.Cleanup()
			return err
		}
		return f.CloseAtomicallyReplace()
	}

	// staged starts empty, unlike the real backing file: passthrough
	// regions must still be copied from src into it, so the inner walk
	// runs with sameStream=false even though the caller's dest path
	// equals the file it read from.
	staged := &writerseeker.WriterSeeker{}
	if err := saveChanges(root, stagedWriterAt{staged}, src, false); err != nil {
		return err
	}
	f, err := renameioCreate(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, staged.Reader()); err != nil {
		f.Cleanup()
		return err
	}
	return f.CloseAtomicallyReplace()
}

// stagedWriterAt adapts writerseeker's io.WriteSeeker to io.WriterAt so
// the sequential writes saveChanges issues, which never need true random
// access once Consistent holds, can share writeElement's cursor-tracked
// WriteAt calls.
type stagedWriterAt struct {
	w *writerseeker.WriterSeeker
}

func (s stagedWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if _, err := s.w.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return s.w.Write(p)
}

func renameioCreate(path string) (*renameio.PendingFile, error) {
	return renameio.TempFile("", path)
}
