package vhd

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// BATUnused marks a Block Allocation Table entry with no backing
// block.
const BATUnused uint32 = 0xFFFFFFFF

// maxTableEntriesCap bounds max_table_entries against runaway
// allocations, reported as a structural error distinct from a plain
// parse failure.
const maxTableEntriesCap = 1 << 24

// BAT is the Block Allocation Table: one big-endian u32 entry per
// block, each either BATUnused or the absolute sector offset of that
// block's on-disk layout (bitmap followed by block data). highest
// tracks the index of the highest non-unused entry for O(1)
// top-of-file computation.
type BAT struct {
	entries []uint32
	highest int // -1 if no entry is allocated
}

// newBAT allocates a BAT of n entries, all initialized to BATUnused.
func newBAT(n uint32) *BAT {
	entries := make([]uint32, n)
	for i := range entries {
		entries[i] = BATUnused
	}
	return &BAT{entries: entries, highest: -1}
}

// Length returns the number of entries in the table.
func (b *BAT) Length() int {
	return len(b.entries)
}

// Get returns the sector offset recorded for block i, or BATUnused.
func (b *BAT) Get(i int) uint32 {
	return b.entries[i]
}

// Set records block i's sector offset and maintains highest.
func (b *BAT) Set(i int, sector uint32) {
	b.entries[i] = sector
	if sector != BATUnused && (b.highest < 0 || i > b.highest) {
		b.highest = i
	}
}

// Highest returns the index of the highest non-unused entry, and
// false if the table is entirely unused.
func (b *BAT) Highest() (int, bool) {
	if b.highest < 0 {
		return 0, false
	}
	return b.highest, true
}

// Equal reports whether two BATs have identical entries.
func (b *BAT) Equal(other *BAT) bool {
	if len(b.entries) != len(other.entries) {
		return false
	}
	for i, v := range b.entries {
		if other.entries[i] != v {
			return false
		}
	}
	return true
}

// batByteSize returns the padded, sector-aligned size in bytes of a
// BAT with n entries.
func batByteSize(n uint32) int {
	raw := int(n) * 4
	return roundUpToSector(raw)
}

// marshalBAT serializes the BAT as sector-padded big-endian u32
// entries, padding any trailing partial sector with BATUnused bytes.
func marshalBAT(b *BAT) []byte {
	size := batByteSize(uint32(len(b.entries)))
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xFF
	}
	for i, v := range b.entries {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], v)
	}
	return buf
}

// unmarshalBAT parses a BAT of n entries from buf, which must be at
// least batByteSize(n) bytes.
func unmarshalBAT(buf []byte, n uint32) (*BAT, error) {
	need := batByteSize(n)
	if len(buf) < need {
		return nil, errors.Errorf("vhd: BAT buffer too small: need %d bytes, got %d", need, len(buf))
	}

	b := &BAT{entries: make([]uint32, n), highest: -1}
	for i := range b.entries {
		v := binary.BigEndian.Uint32(buf[i*4 : i*4+4])
		b.entries[i] = v
		if v != BATUnused {
			b.highest = i
		}
	}
	return b, nil
}

func roundUpToSector(n int) int {
	return (n + SectorSize - 1) / SectorSize * SectorSize
}
