// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeValueUnsigned(t *testing.T) {
	v, err := decodeValue(KindUnsigned, []byte{0x01, 0x00})
	if err != nil {
		t.Fatalf("decodeValue failed: %v", err)
	}
	if v.Uint != 256 {
		t.Errorf("decodeValue(Unsigned, 0x0100) = %d, want 256", v.Uint)
	}
}

func TestDecodeValueSigned(t *testing.T) {
	v, err := decodeValue(KindSigned, []byte{0xff})
	if err != nil {
		t.Fatalf("decodeValue failed: %v", err)
	}
	if v.Int != -1 {
		t.Errorf("decodeValue(Signed, 0xff) = %d, want -1", v.Int)
	}
}

func TestDecodeValueFloat(t *testing.T) {
	raw, err := encodeValue(Value{Kind: KindFloat, Float: 1.5})
	if err != nil {
		t.Fatalf("encodeValue failed: %v", err)
	}
	v, err := decodeValue(KindFloat, raw)
	if err != nil {
		t.Fatalf("decodeValue failed: %v", err)
	}
	if v.Float != 1.5 {
		t.Errorf("round trip float = %v, want 1.5", v.Float)
	}
}

func TestDecodeValueDateZeroBytes(t *testing.T) {
	v, err := decodeValue(KindDate, nil)
	if err != nil {
		t.Fatalf("decodeValue failed: %v", err)
	}
	if !v.Date.Equal(dateEpoch) {
		t.Errorf("decodeValue(Date, nil) = %v, want epoch %v", v.Date, dateEpoch)
	}
}

func TestDecodeValueDate(t *testing.T) {
	want := dateEpoch.Add(24 * time.Hour)
	raw, err := encodeValue(Value{Kind: KindDate, Date: want})
	if err != nil {
		t.Fatalf("encodeValue failed: %v", err)
	}
	v, err := decodeValue(KindDate, raw)
	if err != nil {
		t.Fatalf("decodeValue failed: %v", err)
	}
	if !v.Date.Equal(want) {
		t.Errorf("round trip date = %v, want %v", v.Date, want)
	}
}

func TestDecodeValueUnicodeInvalid(t *testing.T) {
	_, err := decodeValue(KindUnicode, []byte{0xff, 0xfe})
	if err != InvalidUTF8 {
		t.Errorf("decodeValue(Unicode, invalid) = %v, want InvalidUTF8", err)
	}
}

func TestDecodeValueString(t *testing.T) {
	v, err := decodeValue(KindString, []byte("hi\x00\x00"))
	if err != nil {
		t.Fatalf("decodeValue failed: %v", err)
	}
	if v.Str != "hi" {
		t.Errorf("decodeValue(String) = %q, want %q", v.Str, "hi")
	}
}

func TestEncodeValueUnsignedMinimal(t *testing.T) {
	raw, err := encodeValue(Value{Kind: KindUnsigned, Uint: 0})
	if err != nil {
		t.Fatalf("encodeValue failed: %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("encodeValue(Unsigned, 0) = %x, want empty", raw)
	}
}

func TestEncodeValueBinaryRoundTrip(t *testing.T) {
	want := []byte{1, 2, 3}
	raw, err := encodeValue(Value{Kind: KindBinary, Binary: want})
	if err != nil {
		t.Fatalf("encodeValue failed: %v", err)
	}
	v, err := decodeValue(KindBinary, raw)
	if err != nil {
		t.Fatalf("decodeValue failed: %v", err)
	}
	if diff := cmp.Diff(want, v.Binary); diff != "" {
		t.Errorf("round trip binary mismatch (-want +got):\n%s", diff)
	}
}
