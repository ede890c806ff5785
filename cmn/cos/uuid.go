// Package cos provides common low-level types and utilities shared by
// every package in this module: UUID-ish identifier generation and the
// runtime's error value types.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// Alphabet for generated ids, same shape as shortid.DEFAULT_ABC.
const idABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const LenShortID = 9

var (
	sid  *shortid.Shortid
	rtie uint32
)

// InitShortID seeds the process-wide id generator. This package's init
// seeds it with 1; a caller that wants a different sequence calls it
// again with its own seed.
func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, idABC, seed)
}

func init() { InitShortID(1) }

// GenUUID returns a short, URL-safe, alpha-leading/alpha-trailing
// identifier (used for monitor report tokens; actor mailbox ids come from
// a counter in package actor).
func GenUUID() string {
	uuid := sid.MustGenerate()
	h, t := "", ""
	if !isAlpha(uuid[0]) {
		tie := atomic.AddUint32(&rtie, 1)
		h = string(rune('A' + tie%26))
	}
	c := uuid[len(uuid)-1]
	if c == '-' || c == '_' {
		tie := atomic.AddUint32(&rtie, 1)
		t = string(rune('a' + tie%26))
	}
	return h + uuid + t
}

func IsValidUUID(uuid string) bool { return len(uuid) >= LenShortID && IsAlphaNice(uuid) }

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// IsAlphaNice reports whether s is letters/digits with interior-only '-'/'_'.
func IsAlphaNice(s string) bool {
	l := len(s)
	if l == 0 || l > 64 {
		return false
	}
	for i := 0; i < l; i++ {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

// HashSerializerID derives a stable, deterministic int32 identifier for a
// serializer from its stable type name. On collision the caller salts by
// appending the prior id and rehashing (see wire.Registry).
func HashSerializerID(name string) int32 {
	digest := xxhash.Checksum32([]byte(name))
	id := int32(digest & 0x7fffffff) // keep non-negative, no sign bit semantics on the wire
	return id
}

// CryptoRandHex returns n random bytes hex-encoded.
func CryptoRandHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failing means the platform is unusable
	}
	return hex.EncodeToString(b)
}
