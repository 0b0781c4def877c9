package ident

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// New returns a 128-bit identifier in the canonical hyphenated hex layout.
// The source is deliberately non-cryptographic and seeded per call: the id only
// needs probabilistic collision resistance, and an insert conflict downstream is
// treated as a fatal submission error rather than retried with the same id.
func New() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	var b [16]byte
	for i := 0; i < len(b); i += 4 {
		v := r.Uint32()
		b[i] = byte(v >> 24)
		b[i+1] = byte(v >> 16)
		b[i+2] = byte(v >> 8)
		b[i+3] = byte(v)
	}
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // RFC 4122 variant

	return uuid.UUID(b).String()
}
