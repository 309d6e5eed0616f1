// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

import "math/bits"

// ElementID is a non-negative integer displayed in its raw VINT-encoded
// form, leading width marker retained (spec §3). Two IDs are equal iff
// their canonical (marker-included) encodings are equal, which for a plain
// uint64 comparison holds automatically since the marker bit is part of
// the stored value.
type ElementID uint64

// idByteWidth returns the number of bytes id's canonical marker-included
// encoding occupies: since the marker bit always lands in the top byte of
// that encoding, it's just id's minimal big-endian byte length (spec §3,
// §4.A). Used to give a freshly constructed element (one never read from a
// stream, so header.IDWidth has no source to inherit from) a correct width
// instead of leaving it at the zero value.
func idByteWidth(id ElementID) int {
	if id == 0 {
		return 1
	}
	return (bits.Len64(uint64(id)) + 7) / 8
}

// Header holds an element's ID and payload size plus the exact byte widths
// used to encode them (spec §3, §4.C).
type Header struct {
	ID        ElementID
	Size      uint64
	SizeWidth int // 1..8
	IDWidth   int // 1..4

	// unknownSize marks a Master read with the reserved "unknown size"
	// VINT (spec §4.A) — valid only at top level.
	unknownSize bool
}

// TotalWidth is id_width + size_width (spec §3).
func (h Header) TotalWidth() int {
	return h.IDWidth + h.SizeWidth
}

// TotalSize is the header width plus the payload size.
func (h Header) TotalSize() uint64 {
	return uint64(h.TotalWidth()) + h.Size
}

// encode serializes the header using its current ID/size widths. The ID
// keeps its width marker (it was read/constructed with it); the size does
// not carry one until encode time (spec §4.A).
func (h Header) encode() ([]byte, error) {
	idBytes, err := encodeVINT(uint64(h.ID), h.IDWidth)
	if err != nil {
		return nil, err
	}
	if len(idBytes) != h.IDWidth {
		// The caller fixed an ID width explicitly (e.g. on read); honor it
		// by re-deriving the marker rather than growing.
		idBytes = marshalVINT(uint64(h.ID)&markerMask(h.IDWidth), h.IDWidth)
	}

	var sizeBytes []byte
	if h.unknownSize {
		sizeBytes = encodeUnknownSizeVINT(h.SizeWidth)
	} else {
		w, err := vintEncodedWidth(h.Size, h.SizeWidth)
		if err != nil {
			return nil, err
		}
		if w > h.SizeWidth {
			return nil, ErrInsufficientSpace
		}
		sizeBytes = marshalVINT(h.Size, h.SizeWidth)
	}

	out := make([]byte, 0, len(idBytes)+len(sizeBytes))
	out = append(out, idBytes...)
	out = append(out, sizeBytes...)
	return out, nil
}

func markerMask(w int) uint64 {
	bitsAvail := uint(7*w) + uint(w) // full byte count, marker bit included
	if bitsAvail >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bitsAvail) - 1
}

// resizeSizeWidth sets the header's declared size_width to w, normally to
// reserve header growth room, per spec §4.C. A w below the current width
// is accepted only if h.Size still fits in it; otherwise it returns
// ErrInsufficientSpace.
func (h *Header) resizeSizeWidth(w int) error {
	if w < h.SizeWidth {
		minW, err := vintEncodedWidth(h.Size, 1)
		if err != nil {
			return err
		}
		if w < minW {
			return ErrInsufficientSpace
		}
	}
	h.SizeWidth = w
	return nil
}
