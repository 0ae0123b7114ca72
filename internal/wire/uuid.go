// Package wire holds the on-disk and on-wire binary layouts shared by the
// handler, the database, and the snapshot writer: the 16-byte UUID, the IPC
// message structs, and the minidump stream headers, plus their
// little-endian marshal/unmarshal routines.
package wire

import (
	"errors"

	"github.com/google/uuid"
)

// UUID is the 16-byte primary key used for reports and the stable
// per-database client_id. It is rendered in the conventional 8-4-4-4-12
// hex form.
type UUID [16]byte

// Nil is the zero-value UUID, used as a sentinel for "not yet assigned".
var Nil UUID

// NewUUID generates a UUID from a cryptographic RNG.
func NewUUID() UUID {
	var u UUID
	copy(u[:], uuid.New()[:])
	return u
}

// String renders the UUID in 8-4-4-4-12 hex form.
func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// IsNil reports whether this is the zero-value UUID.
func (u UUID) IsNil() bool {
	return u == Nil
}

// ErrInvalidUUID is returned by ParseUUID on malformed input.
var ErrInvalidUUID = errors.New("wire: invalid uuid string")

// ParseUUID parses the conventional 8-4-4-4-12 hex form back into a UUID.
func ParseUUID(s string) (UUID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return Nil, ErrInvalidUUID
	}
	var u UUID
	copy(u[:], parsed[:])
	return u, nil
}

// MustParseUUID is ParseUUID but panics on error; used for literal
// constants in tests.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}
