// Package codec implements the compact versioned byte layout used for every
// durable entity. Strings are length-prefixed UTF-8 (u32 little-endian length
// followed by the bytes), integers are fixed-width little-endian, optional
// fields are a one-byte presence flag followed by the value, and collections
// are a u32 count followed by the elements. Fields are never reordered across
// schema versions, only appended, so a stream that ends exactly on a prior
// version's boundary decodes with documented defaults for the missing tail.
package codec

import (
	"encoding/binary"
	"fmt"
)

// VersionSentinel marks a version-tagged record. It is an impossible string
// length for the untagged legacy layout, so decoders can tell the two apart
// from the first four bytes alone.
const VersionSentinel uint32 = 0xFFFFFFFF

// DecodeFault reports a read that would cross the end of the buffer in the
// middle of a field. It is fatal: the record is corrupt, never an older
// schema version (those end exactly on a field boundary).
type DecodeFault struct {
	Offset    int
	Need      int
	Remaining int
}

func (f *DecodeFault) Error() string {
	return fmt.Sprintf("record decode fault at offset %d: need %d bytes, %d remain", f.Offset, f.Need, f.Remaining)
}

// Writer builds an encoded record.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded record. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Version writes the sentinel and a schema version tag. Must be the first
// write of a version-tagged record.
func (w *Writer) Version(v uint8) {
	w.U32(VersionSentinel)
	w.U8(v)
}

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) U32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) U64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// OptionalString writes a presence flag, then the value when present.
func (w *Writer) OptionalString(s string, present bool) {
	w.Bool(present)
	if present {
		w.String(s)
	}
}

// Count prefixes a collection.
func (w *Writer) Count(n int) { w.U32(uint32(n)) }

// Reader consumes an encoded record.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// More reports whether any bytes remain. Decoders use it to decide whether a
// field appended in a later schema version is present or should default.
func (r *Reader) More() bool { return r.pos < len(r.data) }

// Remaining returns the unconsumed byte count.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// Version consumes the sentinel and version tag when present. When the
// stream does not start with the sentinel it is an untagged legacy record;
// the position is left untouched and ok is false.
func (r *Reader) Version() (v uint8, ok bool, err error) {
	if r.Remaining() < 4 {
		return 0, false, nil
	}
	if binary.LittleEndian.Uint32(r.data[r.pos:]) != VersionSentinel {
		return 0, false, nil
	}
	r.pos += 4
	v, err = r.U8()
	return v, true, err
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, &DecodeFault{Offset: r.pos, Need: n, Remaining: r.Remaining()}
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

func (r *Reader) String() (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) OptionalString() (s string, present bool, err error) {
	present, err = r.Bool()
	if err != nil || !present {
		return "", false, err
	}
	s, err = r.String()
	return s, err == nil, err
}

func (r *Reader) Count() (int, error) {
	n, err := r.U32()
	return int(n), err
}
