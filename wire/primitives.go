// Package wire implements the runtime's compact binary wire format:
// big-endian primitives, length-prefixed strings/bytes/collections, the
// embedded-serializer registry, and settable byte-stream adapters. Explicit
// byte slicing, no reflection on the hot path, rather than encoding/gob or
// encoding/json.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package wire

import (
	"encoding/binary"
	"math"

	"github.com/nasarace/race-go/cmn/cos"
)

// MaxCollectionLen is the deserializer safety ceiling: every collection
// decoder enforces this bound and fails fast on violation rather than
// allocating up to an attacker-specified length before validating.
const MaxCollectionLen = 10000

// Writer is a settable byte-stream adapter: the same instance can be
// retargeted at a fresh buffer, an externally supplied one, or keep
// writing into another serializer's in-flight stream for embedded
// framing, all without reallocating beyond normal slice growth.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{buf: make([]byte, 0, 64)} }

// SetTarget retargets the writer at buf, discarding prior contents but
// reusing buf's backing array.
func (w *Writer) SetTarget(buf []byte) { w.buf = buf[:0] }

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) WriteI8(v int8) { w.buf = append(w.buf, byte(v)) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteI8(1)
	} else {
		w.WriteI8(0)
	}
}

func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteI16(v int16) { w.WriteU16(uint16(v)) }

func (w *Writer) WriteI32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteI64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteF32(v float32) { w.WriteI32(int32(math.Float32bits(v))) }
func (w *Writer) WriteF64(v float64) { w.WriteI64(int64(math.Float64bits(v))) }

// WriteString encodes a u16-length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.WriteU16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes encodes an i32-length-prefixed byte buffer.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteI32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteRef encodes an actor reference as its canonical path string.
func (w *Writer) WriteRef(path string) { w.WriteString(path) }

func (w *Writer) WriteInstant(ms int64) { w.WriteI64(ms) }

// WriteCaps encodes a 64-bit capability bitset.
func (w *Writer) WriteCaps(bits uint64) { w.WriteI64(int64(bits)) }

func (w *Writer) WriteOptional(present bool, write func()) {
	w.WriteBool(present)
	if present {
		write()
	}
}

func (w *Writer) WriteStrings(ss []string) {
	w.WriteI32(int32(len(ss)))
	for _, s := range ss {
		w.WriteString(s)
	}
}

func (w *Writer) WriteRefs(refs []string) {
	w.WriteI32(int32(len(refs)))
	for _, r := range refs {
		w.WriteRef(r)
	}
}

func (w *Writer) WriteInts(vs []int32) {
	w.WriteI32(int32(len(vs)))
	for _, v := range vs {
		w.WriteI32(v)
	}
}

func (w *Writer) WriteLongs(vs []int64) {
	w.WriteI32(int32(len(vs)))
	for _, v := range vs {
		w.WriteI64(v)
	}
}

func (w *Writer) WriteDoubles(vs []float64) {
	w.WriteI32(int32(len(vs)))
	for _, v := range vs {
		w.WriteF64(v)
	}
}

// Reader inverts Writer. It never allocates a collection before
// validating its declared length against MaxCollectionLen.
type Reader struct {
	buf []byte
	pos int
	err error
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) SetTarget(buf []byte) { r.buf, r.pos, r.err = buf, 0, nil }

func (r *Reader) Err() error      { return r.err }
func (r *Reader) Remaining() int  { return len(r.buf) - r.pos }
func (r *Reader) Position() int   { return r.pos }

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = &cos.ErrSerializationFailure{Detail: "buffer underrun"}
		return false
	}
	return true
}

func (r *Reader) ReadI8() int8 {
	if !r.need(1) {
		return 0
	}
	v := int8(r.buf[r.pos])
	r.pos++
	return v
}

func (r *Reader) ReadBool() bool { return r.ReadI8() != 0 }

func (r *Reader) ReadU16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *Reader) ReadI16() int16 { return int16(r.ReadU16()) }

func (r *Reader) ReadI32() int32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return int32(v)
}

func (r *Reader) ReadI64() int64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return int64(v)
}

func (r *Reader) ReadF32() float32 { return math.Float32frombits(uint32(r.ReadI32())) }
func (r *Reader) ReadF64() float64 { return math.Float64frombits(uint64(r.ReadI64())) }

func (r *Reader) ReadString() string {
	n := int(r.ReadU16())
	if !r.need(n) {
		return ""
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *Reader) ReadBytes() []byte {
	n := int(r.ReadI32())
	if r.err != nil {
		return nil
	}
	if n < 0 || n > MaxCollectionLen*1024 {
		r.err = &cos.ErrSerializationFailure{Detail: "byte buffer too large"}
		return nil
	}
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+n])
	r.pos += n
	return b
}

func (r *Reader) ReadRef() string    { return r.ReadString() }
func (r *Reader) ReadInstant() int64 { return r.ReadI64() }
func (r *Reader) ReadCaps() uint64   { return uint64(r.ReadI64()) }

func (r *Reader) ReadOptional(read func()) {
	if r.ReadBool() {
		read()
	}
}

// collectionLen validates a declared element count against the ceiling
// before any allocation happens. Every caller below iterates exactly
// `size` times, never `size+1`.
func (r *Reader) collectionLen() int {
	n := int(r.ReadI32())
	if r.err != nil {
		return 0
	}
	if n < 0 || n > MaxCollectionLen {
		r.err = &cos.ErrSerializationFailure{Detail: "collection exceeds size ceiling"}
		return 0
	}
	return n
}

func (r *Reader) ReadStrings() []string {
	n := r.collectionLen()
	if r.err != nil {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.ReadString())
	}
	return out
}

func (r *Reader) ReadRefs() []string {
	n := r.collectionLen()
	if r.err != nil {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.ReadRef())
	}
	return out
}

func (r *Reader) ReadInts() []int32 {
	n := r.collectionLen()
	if r.err != nil {
		return nil
	}
	out := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.ReadI32())
	}
	return out
}

func (r *Reader) ReadLongs() []int64 {
	n := r.collectionLen()
	if r.err != nil {
		return nil
	}
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.ReadI64())
	}
	return out
}

func (r *Reader) ReadDoubles() []float64 {
	n := r.collectionLen()
	if r.err != nil {
		return nil
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.ReadF64())
	}
	return out
}
