package vhd

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// BATmapHeaderSize is the on-disk size, in bytes, of the BATmap
	// header that precedes the BATmap bit-vector.
	BATmapHeaderSize = 512

	batmapMagic        = "tdbatmap"
	batmapMajorVersion = 1
	batmapMinorVersion = 2
)

// BATmapHeader is the typed form of the optional BATmap accelerator's
// own header. It lives immediately after the BAT.
type BATmapHeader struct {
	Offset     uint64 // absolute byte offset of the BATmap bit-vector
	Size       uint32 // size, in sectors, of the BATmap bit-vector
	MajorVer   uint16
	MinorVer   uint16
	Checksum   uint32
	MarkerByte byte
}

// marshalBATmapHeader serializes h, computing the checksum with the
// checksum field zeroed.
func marshalBATmapHeader(h BATmapHeader) ([BATmapHeaderSize]byte, BATmapHeader) {
	var buf [BATmapHeaderSize]byte

	copy(buf[0:8], batmapMagic)
	binary.BigEndian.PutUint64(buf[8:16], h.Offset)
	binary.BigEndian.PutUint32(buf[16:20], h.Size)
	binary.BigEndian.PutUint16(buf[20:22], h.MajorVer)
	binary.BigEndian.PutUint16(buf[22:24], h.MinorVer)
	// buf[24:28] checksum left zero for the sum
	buf[28] = h.MarkerByte

	sum := checksum(buf[:])
	binary.BigEndian.PutUint32(buf[24:28], sum)
	h.Checksum = sum

	return buf, h
}

// unmarshalBATmapHeader validates magic and checksum and parses a
// BATmapHeader from a 512-byte buffer.
func unmarshalBATmapHeader(buf []byte) (BATmapHeader, error) {
	if len(buf) != BATmapHeaderSize {
		return BATmapHeader{}, errors.Errorf("vhd: batmap header must be %d bytes, got %d", BATmapHeaderSize, len(buf))
	}
	if string(buf[0:8]) != batmapMagic {
		return BATmapHeader{}, &FormatError{Field: "batmap.cookie", Want: batmapMagic, Got: string(buf[0:8])}
	}

	storedChecksum := binary.BigEndian.Uint32(buf[24:28])
	gotChecksum := subChecksum(checksum(buf), storedChecksum)
	if gotChecksum != storedChecksum {
		return BATmapHeader{}, &FormatError{Field: "batmap.checksum", Want: gotChecksum, Got: storedChecksum}
	}

	return BATmapHeader{
		Offset:     binary.BigEndian.Uint64(buf[8:16]),
		Size:       binary.BigEndian.Uint32(buf[16:20]),
		MajorVer:   binary.BigEndian.Uint16(buf[20:22]),
		MinorVer:   binary.BigEndian.Uint16(buf[22:24]),
		Checksum:   storedChecksum,
		MarkerByte: buf[28],
	}, nil
}

// BATmap is the per-image bit-vector accelerator: bit i is set iff
// block i is fully populated (every sector bit of block i's bitmap is
// set). It is an optimization only — a reader that ignores it falls
// back to consulting each block's bitmap individually.
type BATmap struct {
	Header BATmapHeader
	bits   []byte // one bit per BAT entry, MSB-first within each byte
}

// newBATmap allocates an all-zero BATmap sized for n BAT entries.
func newBATmap(n uint32) *BATmap {
	size := int((n + 7) / 8)
	return &BATmap{bits: make([]byte, size)}
}

func (m *BATmap) byteSizeSectors() uint32 {
	return uint32(roundUpToSector(len(m.bits)) / SectorSize)
}

// IsFull reports whether block i's bit is set.
func (m *BATmap) IsFull(i int) bool {
	byteIdx, bit := i/8, uint(7-i%8)
	if byteIdx >= len(m.bits) {
		return false
	}
	return m.bits[byteIdx]&(1<<bit) != 0
}

// SetFull sets or clears block i's bit.
func (m *BATmap) SetFull(i int, full bool) {
	byteIdx, bit := i/8, uint(7-i%8)
	if full {
		m.bits[byteIdx] |= 1 << bit
	} else {
		m.bits[byteIdx] &^= 1 << bit
	}
}

// marshalBATmapBits returns the sector-padded bit-vector payload.
func marshalBATmapBits(m *BATmap) []byte {
	out := make([]byte, roundUpToSector(len(m.bits)))
	copy(out, m.bits)
	return out
}
