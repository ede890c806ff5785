/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package wire

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/nasarace/race-go/cmn/cos"
)

// reservedMax is the upper bound (inclusive) of the reserved identifier
// range: collisions in [0,40] or with an existing, differently named
// entry are resolved by deterministic salting.
const reservedMax = 40

// GenericID is the well-known identifier for the fallback serializer,
// which lets unknown-to-this-system types flow through via an opaque
// length-prefixed blob.
const GenericID int32 = 1

// EncodeFunc/DecodeFunc are the payload (de)serializers for one
// registered type; they never touch the embedding envelope ([id]), that's
// the Registry's job in WriteEmbedded/ReadEmbedded.
type (
	EncodeFunc func(w *Writer, v any) error
	DecodeFunc func(r *Reader) (any, error)
)

// Entry is one serializer: discoverable by the Go type it serializes, or
// by its stable numeric id for embedded framing. Entry owns a scratch
// Writer/Reader pair so repeated top-level ToBinary/FromBinary calls
// don't reallocate; access to that scratch pair is what the per-instance
// mutex guards. Embedded calls reuse the caller's stream and must not
// re-enter that lock.
type Entry struct {
	ID       int32
	TypeName string
	Encode   EncodeFunc
	Decode   DecodeFunc

	mu sync.Mutex
	sw *Writer
	sr *Reader
}

// ToBinary encodes v as this serializer's top-level wire representation.
func (e *Entry) ToBinary(v any) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sw == nil {
		e.sw = NewWriter()
	}
	e.sw.SetTarget(e.sw.Bytes()[:0])
	if err := e.Encode(e.sw, v); err != nil {
		return nil, err
	}
	out := make([]byte, e.sw.Len())
	copy(out, e.sw.Bytes())
	return out, nil
}

// FromBinary decodes a top-level buffer this serializer produced.
func (e *Entry) FromBinary(b []byte) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sr == nil {
		e.sr = NewReader(nil)
	}
	e.sr.SetTarget(b)
	v, err := e.Decode(e.sr)
	if err != nil {
		return nil, err
	}
	if e.sr.Err() != nil {
		return nil, e.sr.Err()
	}
	return v, nil
}

// Registry is the process-wide, append-only-after-construction mapping
// of int32 -> Entry. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byID    map[int32]*Entry
	byName  map[string]*Entry
	generic *Entry
}

func NewRegistry() *Registry {
	r := &Registry{
		byID:   make(map[int32]*Entry, 32),
		byName: make(map[string]*Entry, 32),
	}
	r.generic = &Entry{ID: GenericID, TypeName: "generic", Encode: genericEncode, Decode: genericDecode}
	r.byID[GenericID] = r.generic
	return r
}

// Register derives a stable id from typeName by hashing it
// (cos.HashSerializerID) and salts on collision with the reserved range
// or an existing, differently named entry by appending the prior id and
// rehashing.
func (r *Registry) Register(typeName string, encode EncodeFunc, decode DecodeFunc) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byName[typeName]; ok {
		return e, nil // idempotent re-registration
	}

	id := cos.HashSerializerID(typeName)
	salted := typeName
	for {
		if id > reservedMax {
			if existing, taken := r.byID[id]; !taken || existing.TypeName == typeName {
				break
			}
		}
		salted = salted + ":" + strconv.Itoa(int(id))
		id = cos.HashSerializerID(salted)
	}

	e := &Entry{ID: id, TypeName: typeName, Encode: encode, Decode: decode}
	r.byID[id] = e
	r.byName[typeName] = e
	return e, nil
}

func (r *Registry) ByName(typeName string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[typeName]
	return e, ok
}

func (r *Registry) ByID(id int32) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// WriteEmbedded emits `serializerId:i32` then the payload, using the
// registered entry for typeName if present, otherwise the generic
// fallback. It writes into the caller's Writer directly; no entry lock is
// taken, so nested/embedded framing never re-enters the lock.
func (r *Registry) WriteEmbedded(w *Writer, typeName string, v any) error {
	e, ok := r.ByName(typeName)
	if !ok {
		w.WriteI32(r.generic.ID)
		return r.generic.Encode(w, v)
	}
	w.WriteI32(e.ID)
	return e.Encode(w, v)
}

// ReadEmbedded inverts WriteEmbedded. A reader that does not recognize
// the id falls back to the generic decoder reading the opaque remaining
// buffer as a length-prefixed blob, since an unrecognized id still has a
// generic-shaped body. It also returns the serializer's registered type
// name so callers that embed a polymorphic payload (e.g. BusEvent) can
// reconstruct it.
func (r *Registry) ReadEmbedded(rd *Reader) (value any, typeName string, err error) {
	id := rd.ReadI32()
	if rd.Err() != nil {
		return nil, "", rd.Err()
	}
	e, ok := r.ByID(id)
	if !ok {
		v, derr := r.generic.Decode(rd)
		return v, r.generic.TypeName, derr
	}
	v, derr := e.Decode(rd)
	return v, e.TypeName, derr
}

func (e *Entry) String() string { return fmt.Sprintf("%s(id=%d)", e.TypeName, e.ID) }
