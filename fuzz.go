// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

import "bytes"

// FuzzVINT exercises the VINT codec's decode/encode round trip.
func FuzzVINT(data []byte) int {
	v, w, _, err := decodeVINT(data, false)
	if err != nil {
		return 0
	}
	if _, err := encodeVINT(v, w); err != nil {
		return 0
	}
	return 1
}

// FuzzValue exercises decodeValue across every Kind with raw bytes taken
// directly from the corpus, mirroring the teacher's Fuzz(data []byte) int
// convention (fuzz.go) driven by github.com/dvyukov/go-fuzz.
func FuzzValue(data []byte) int {
	kinds := []Kind{KindUnsigned, KindSigned, KindFloat, KindString, KindUnicode, KindDate, KindBinary}
	hit := 0
	for _, k := range kinds {
		if _, err := decodeValue(k, data); err == nil {
			hit = 1
		}
	}
	return hit
}

// FuzzElementTree exercises header + tree decoding over an in-memory
// byte source, the module's analogue of the teacher's File.Parse fuzz
// target.
func FuzzElementTree(data []byte) int {
	schema := DefaultSchema()
	root := &Element{Kind: MasterKind, header: Header{Size: uint64(len(data))}}
	if err := root.readChildren(bytes.NewReader(data), 0, schema, true); err != nil {
		return 0
	}
	if err := root.Consistent(); err != nil {
		return 0
	}
	return 1
}
