// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// Kind identifies the primitive payload type an Atomic element carries
// (spec §3, §4.B).
type Kind int

const (
	KindUnsigned Kind = iota
	KindSigned
	KindFloat
	KindString // ASCII
	KindUnicode
	KindDate
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindUnsigned:
		return "uint"
	case KindSigned:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindUnicode:
		return "utf8"
	case KindDate:
		return "date"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// dateEpoch is the Matroska Date reference point: 2001-01-01T00:00:00 UTC.
var dateEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// unicodeValidator validates UTF-8 text the way the teacher's helper.go
// decodes wide strings: through a golang.org/x/text/encoding transformer
// rather than a bare unicode/utf8.Valid check. The decoder replaces
// ill-formed sequences with U+FFFD instead of failing, so input is valid
// exactly when decoding leaves it unchanged. A BOM passes through as-is.
var unicodeValidator = unicode.UTF8.NewDecoder()

// Value is the decoded logical payload of an Atomic element. Exactly one
// field is meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Uint   uint64
	Int    int64
	Float  float64
	Str    string // String and Unicode kinds
	Date   time.Time
	Binary []byte
}

// decodeValue decodes raw payload bytes of the given kind per the table in
// spec §4.B. For KindFloat the payload length (0, 4 or 8) selects the width.
func decodeValue(kind Kind, raw []byte) (Value, error) {
	switch kind {
	case KindUnsigned:
		return Value{Kind: kind, Uint: decodeBEUint(raw)}, nil

	case KindSigned:
		return Value{Kind: kind, Int: decodeBEInt(raw)}, nil

	case KindFloat:
		switch len(raw) {
		case 0:
			return Value{Kind: kind, Float: 0}, nil
		case 4:
			bits := binary.BigEndian.Uint32(raw)
			return Value{Kind: kind, Float: float64(math.Float32frombits(bits))}, nil
		case 8:
			bits := binary.BigEndian.Uint64(raw)
			return Value{Kind: kind, Float: math.Float64frombits(bits)}, nil
		default:
			return Value{}, ValueOutOfRange
		}

	case KindString:
		s := strings.TrimRight(string(raw), "\x00")
		return Value{Kind: kind, Str: s}, nil

	case KindUnicode:
		if len(raw) == 0 {
			return Value{Kind: kind, Str: ""}, nil
		}
		decoded, err := unicodeValidator.Bytes(raw)
		if err != nil || !bytes.Equal(decoded, raw) {
			return Value{}, InvalidUTF8
		}
		return Value{Kind: kind, Str: string(decoded)}, nil

	case KindDate:
		if len(raw) == 0 {
			return Value{Kind: kind, Date: dateEpoch}, nil
		}
		if len(raw) != 8 {
			return Value{}, ValueOutOfRange
		}
		ns := int64(binary.BigEndian.Uint64(raw))
		return Value{Kind: kind, Date: dateEpoch.Add(time.Duration(ns))}, nil

	case KindBinary:
		buf := make([]byte, len(raw))
		copy(buf, raw)
		return Value{Kind: kind, Binary: buf}, nil

	default:
		return Value{}, ValueOutOfRange
	}
}

// encodeValue produces the canonical minimal encoding of v. Reproducing an
// unchanged Atomic's original raw bytes instead of this is handled by the
// caller (Atomic.encodedBytes), per spec §4.B's encoding rule.
func encodeValue(v Value) ([]byte, error) {
	switch v.Kind {
	case KindUnsigned:
		return trimLeadingZeros(encodeBEUint(v.Uint)), nil

	case KindSigned:
		return minimalSignedBytes(v.Int), nil

	case KindFloat:
		// Canonical minimal float width: 4 bytes when the value round-trips
		// through float32, else 8.
		if v.Float == 0 {
			return nil, nil
		}
		if f32 := float32(v.Float); float64(f32) == v.Float {
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, math.Float32bits(f32))
			return buf, nil
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.Float))
		return buf, nil

	case KindString:
		return []byte(v.Str), nil

	case KindUnicode:
		if !utf8Valid(v.Str) {
			return nil, InvalidUTF8
		}
		return []byte(v.Str), nil

	case KindDate:
		if v.Date.Equal(dateEpoch) {
			return nil, nil
		}
		ns := v.Date.Sub(dateEpoch).Nanoseconds()
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(ns))
		return buf, nil

	case KindBinary:
		return v.Binary, nil

	default:
		return nil, ValueOutOfRange
	}
}

func decodeBEUint(raw []byte) uint64 {
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return v
}

func decodeBEInt(raw []byte) int64 {
	if len(raw) == 0 {
		return 0
	}
	v := decodeBEUint(raw)
	// Sign-extend from the actual encoded width.
	bitsUsed := uint(len(raw) * 8)
	if bitsUsed < 64 && v&(1<<(bitsUsed-1)) != 0 {
		v |= ^uint64(0) << bitsUsed
	}
	return int64(v)
}

func encodeBEUint(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func trimLeadingZeros(buf []byte) []byte {
	i := 0
	for i < len(buf)-1 && buf[i] == 0 {
		i++
	}
	if buf[i] == 0 && i == len(buf)-1 {
		return nil
	}
	return buf[i:]
}

// minimalSignedBytes returns the smallest big-endian two's-complement
// encoding of v, 0 bytes for v == 0.
func minimalSignedBytes(v int64) []byte {
	if v == 0 {
		return nil
	}
	full := make([]byte, 8)
	binary.BigEndian.PutUint64(full, uint64(v))
	for w := 1; w <= 8; w++ {
		candidate := full[8-w:]
		if decodeBEInt(candidate) == v {
			return candidate
		}
	}
	return full
}

func utf8Valid(s string) bool {
	decoded, err := unicodeValidator.String(s)
	return err == nil && decoded == s
}
