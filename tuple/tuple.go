// Package tuple implements an order-preserving, composable byte encoding for
// record-layer keys. A Tuple is a sequence of typed elements (strings,
// integers, floats, bools, bytes, or nested tuples); its Pack() encoding
// preserves element-wise lexicographic ordering over the concatenation of
// components, which is the only ordering primitive the rest of this module
// assumes about the underlying KV.
package tuple

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Element is any value a Tuple may hold.
type Element any

// Tuple is an ordered list of typed elements.
type Tuple []Element

// typeTag values. Order matters: it fixes the cross-type sort order used
// whenever tuples of mismatched element types are compared at the same
// position (null < bool < int < float < string < bytes < nested tuple).
const (
	tagNull byte = iota
	tagFalse
	tagTrue
	tagNegInt
	tagPosInt
	tagFloat
	tagString
	tagBytes
	tagTuple
)

const (
	escNUL  byte = 0x01
	escFF   byte = 0x02 // reserved continuation byte used by escNUL/escFF pairs
	litNUL  byte = 0x00
	litFF   byte = 0x01
	nulByte byte = 0x00
)

// Pack encodes the tuple to its order-preserving byte representation.
func (t Tuple) Pack() []byte {
	var buf bytes.Buffer
	for _, el := range t {
		packElement(&buf, el)
	}
	return buf.Bytes()
}

func packElement(buf *bytes.Buffer, el Element) {
	switch v := el.(type) {
	case nil:
		buf.WriteByte(tagNull)
	case bool:
		if v {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case int:
		packInt(buf, int64(v))
	case int32:
		packInt(buf, int64(v))
	case int64:
		packInt(buf, v)
	case float32:
		packFloat(buf, float64(v))
	case float64:
		packFloat(buf, v)
	case string:
		buf.WriteByte(tagString)
		buf.Write(escape([]byte(v)))
		buf.WriteByte(nulByte)
	case []byte:
		buf.WriteByte(tagBytes)
		buf.Write(escape(v))
		buf.WriteByte(nulByte)
	case Tuple:
		buf.WriteByte(tagTuple)
		for _, inner := range v {
			packElement(buf, inner)
		}
		buf.WriteByte(nulByte)
	default:
		panic(fmt.Sprintf("tuple: unsupported element type %T", el))
	}
}

// packInt encodes a signed integer so that byte-lexicographic order matches
// numeric order: negative numbers get tagNegInt with inverted magnitude bits
// (so more-negative sorts first), positive numbers get tagPosInt with the
// plain big-endian magnitude (tagPosInt already sorts after tagNegInt).
func packInt(buf *bytes.Buffer, v int64) {
	if v < 0 {
		buf.WriteByte(tagNegInt)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(^(-v - 1)))
		buf.Write(b[:])
		return
	}
	buf.WriteByte(tagPosInt)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

// packFloat encodes an IEEE754 double so that byte order matches numeric
// order: flip the sign bit for non-negatives, invert all bits for negatives.
func packFloat(buf *bytes.Buffer, f float64) {
	buf.WriteByte(tagFloat)
	bits := math.Float64bits(f)
	if f >= 0 || math.IsNaN(f) {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], bits)
	buf.Write(b[:])
}

// escape rewrites literal 0x00 and 0x01 bytes so that the single 0x00
// terminator written after variable-length elements remains unambiguous.
func escape(b []byte) []byte {
	var out bytes.Buffer
	for _, c := range b {
		switch c {
		case litNUL:
			out.WriteByte(escNUL)
			out.WriteByte(0x01)
		case litFF:
			out.WriteByte(escNUL)
			out.WriteByte(0x02)
		default:
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}

func unescape(b []byte) []byte {
	var out bytes.Buffer
	for i := 0; i < len(b); i++ {
		if b[i] == escNUL && i+1 < len(b) {
			switch b[i+1] {
			case 0x01:
				out.WriteByte(litNUL)
				i++
				continue
			case 0x02:
				out.WriteByte(litFF)
				i++
				continue
			}
		}
		out.WriteByte(b[i])
	}
	return out.Bytes()
}

// Next returns the smallest tuple-encoded byte string that is strictly
// greater than t's own encoding, by appending a single 0x00 byte. Used to
// build half-open ranges for range queries (§4.9 of the spec).
func (t Tuple) Next() []byte {
	packed := t.Pack()
	out := make([]byte, len(packed)+1)
	copy(out, packed)
	return out
}

// Compare compares two tuples by their packed byte encoding, which is
// equivalent to comparing them element-by-element per the type order above.
func Compare(a, b Tuple) int {
	return bytes.Compare(a.Pack(), b.Pack())
}

// Concat returns a new tuple with other's elements appended to t's.
func (t Tuple) Concat(other Tuple) Tuple {
	out := make(Tuple, 0, len(t)+len(other))
	out = append(out, t...)
	out = append(out, other...)
	return out
}

// DecodeFirst decodes the single leading element of a packed tuple byte
// string, returning the decoded element and the number of bytes it
// consumed. Used by components (the Statistics Manager's histogram
// collection) that only need an index key tuple's leading dimension rather
// than a full decode.
func DecodeFirst(b []byte) (Element, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("tuple: decode: empty input")
	}
	tag := b[0]
	switch tag {
	case tagNull:
		return nil, 1, nil
	case tagFalse:
		return false, 1, nil
	case tagTrue:
		return true, 1, nil
	case tagNegInt, tagPosInt:
		if len(b) < 9 {
			return nil, 0, fmt.Errorf("tuple: decode: truncated int")
		}
		raw := binary.BigEndian.Uint64(b[1:9])
		var v int64
		if tag == tagNegInt {
			v = -int64(^raw) - 1
		} else {
			v = int64(raw)
		}
		return v, 9, nil
	case tagFloat:
		if len(b) < 9 {
			return nil, 0, fmt.Errorf("tuple: decode: truncated float")
		}
		raw := binary.BigEndian.Uint64(b[1:9])
		var bits uint64
		if raw&(1<<63) != 0 {
			bits = raw ^ (1 << 63)
		} else {
			bits = ^raw
		}
		return math.Float64frombits(bits), 9, nil
	case tagString, tagBytes:
		end := indexNUL(b[1:])
		if end < 0 {
			return nil, 0, fmt.Errorf("tuple: decode: unterminated string/bytes")
		}
		payload := unescape(b[1 : 1+end])
		consumed := 1 + end + 1
		if tag == tagString {
			return string(payload), consumed, nil
		}
		return payload, consumed, nil
	default:
		return nil, 0, fmt.Errorf("tuple: decode: unsupported tag %d", tag)
	}
}

// StringPrefixRange returns the half-open byte range [lo, hi) covering
// every packed single-string-element tuple whose string starts with s
// (used by the Plan Enumerator's startsWith range construction, §4.9).
// Correct for prefixes that don't themselves require escaping; 0xFF never
// appears in an escaped string body or its terminator, so it safely bounds
// the range above.
func StringPrefixRange(s string) (lo, hi []byte) {
	lo = append([]byte{tagString}, escape([]byte(s))...)
	hi = append(append([]byte{}, lo...), 0xFF)
	return lo, hi
}

// UnpackN decodes exactly n leading elements from a packed tuple byte
// string and requires the decode to consume b exactly, returning an error
// on a short or over-long input. Used wherever a key's element count is
// known statically (from a KeyExpression's arity) but a general
// variable-length Unpack would be ambiguous.
func UnpackN(b []byte, n int) (Tuple, error) {
	out := make(Tuple, 0, n)
	rest := b
	for i := 0; i < n; i++ {
		el, consumed, err := DecodeFirst(rest)
		if err != nil {
			return nil, fmt.Errorf("tuple: unpack element %d: %w", i, err)
		}
		out = append(out, el)
		rest = rest[consumed:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("tuple: unpack: %d trailing bytes after %d elements", len(rest), n)
	}
	return out, nil
}

// indexNUL finds the offset of the terminating literal 0x00 in an escaped
// byte run, skipping over escNUL/escFF two-byte sequences so an escaped
// literal 0x00 (encoded as escNUL,0x01) is never mistaken for the
// terminator.
func indexNUL(b []byte) int {
	for i := 0; i < len(b); i++ {
		if b[i] == escNUL && i+1 < len(b) {
			i++
			continue
		}
		if b[i] == nulByte {
			return i
		}
	}
	return -1
}
