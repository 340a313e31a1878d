package vhd

import (
	"github.com/google/uuid"
)

// UUID is the raw 16-byte on-disk form used by both the footer's uid
// field and the sparse header's parent_unique_id field.
type UUID [16]byte

// newUUID generates a fresh V4 UUID for a newly created image.
func newUUID() UUID {
	var u UUID
	id := uuid.New()
	copy(u[:], id[:])
	return u
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// IsZero reports whether u is the all-zero UUID, used by
// CreateDynamic and CreateDifferencing to detect an unset
// CreateOptions.UID.
func (u UUID) IsZero() bool {
	return u == UUID{}
}
