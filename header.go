package vhd

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the on-disk size, in bytes, of the sparse header.
	HeaderSize = 1024

	headerMagic         = "cxsparse"
	headerVersion       = 0x00010000
	headerDataOffsetAll = 0xFFFFFFFFFFFFFFFF

	parentLocatorCount = 8
	parentLocatorSize  = 24
)

// PlatformCode enumerates the parent-locator platform_code tag.
type PlatformCode uint32

const (
	PlatformNone PlatformCode = 0
	PlatformWi2r PlatformCode = 0x57693272 // "Wi2r"
	PlatformWi2k PlatformCode = 0x5769326B // "Wi2k"
	PlatformW2ru PlatformCode = 0x57327275 // "W2ru"
	PlatformW2ku PlatformCode = 0x57326B75 // "W2ku"
	PlatformMac  PlatformCode = 0x4D616320 // "Mac "
	PlatformMacX PlatformCode = 0x4D616358 // "MacX"
)

// ParentLocator is one of the sparse header's eight parent-locator
// slots. PlatformDataSpaceRaw preserves the on-disk value exactly as
// read so a faithful re-encode round-trips it even when a writer used
// sectors instead of bytes for this field: PlatformDataSpaceBytes()
// applies the decode rule (values under 512 are a sector count and get
// multiplied by 512; otherwise the raw value is already bytes).
type ParentLocator struct {
	PlatformCode         PlatformCode
	PlatformDataSpaceRaw uint32
	PlatformDataLength   uint32
	PlatformDataOffset   uint64
}

// PlatformDataSpaceBytes recovers the byte length of the platform_data
// region this locator describes, applying the decode rule above.
func (p ParentLocator) PlatformDataSpaceBytes() uint32 {
	if p.PlatformDataSpaceRaw < 512 {
		return p.PlatformDataSpaceRaw * SectorSize
	}
	return p.PlatformDataSpaceRaw
}

// IsEmpty reports whether this slot carries no locator.
func (p ParentLocator) IsEmpty() bool {
	return p.PlatformCode == PlatformNone
}

func marshalParentLocator(buf []byte, p ParentLocator) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.PlatformCode))
	binary.BigEndian.PutUint32(buf[4:8], p.PlatformDataSpaceRaw)
	binary.BigEndian.PutUint32(buf[8:12], p.PlatformDataLength)
	// buf[12:16] reserved, left zero
	binary.BigEndian.PutUint64(buf[16:24], p.PlatformDataOffset)
}

func unmarshalParentLocator(buf []byte) ParentLocator {
	return ParentLocator{
		PlatformCode:         PlatformCode(binary.BigEndian.Uint32(buf[0:4])),
		PlatformDataSpaceRaw: binary.BigEndian.Uint32(buf[4:8]),
		PlatformDataLength:   binary.BigEndian.Uint32(buf[8:12]),
		PlatformDataOffset:   binary.BigEndian.Uint64(buf[16:24]),
	}
}

// Header is the typed, in-memory form of the 1024-byte sparse header
// that immediately follows the head footer on non-fixed disks.
type Header struct {
	TableOffset       uint64
	MaxTableEntries   uint32
	BlockSize         uint32
	Checksum          uint32
	ParentUniqueID    UUID
	ParentTimeStamp   uint32
	ParentUnicodeName string
	ParentLocators    [parentLocatorCount]ParentLocator
}

// BlockSizeSectors returns the header's block size in sectors.
func (h Header) BlockSizeSectors() uint32 {
	return h.BlockSize / SectorSize
}

// marshalHeader serializes h into a fresh 1024-byte buffer, computing
// the checksum with the checksum field zeroed, and returns the value
// with Checksum updated.
func marshalHeader(h Header) ([HeaderSize]byte, Header, error) {
	var buf [HeaderSize]byte

	copy(buf[0:8], headerMagic)
	binary.BigEndian.PutUint64(buf[8:16], headerDataOffsetAll)
	binary.BigEndian.PutUint64(buf[16:24], h.TableOffset)
	binary.BigEndian.PutUint32(buf[24:28], headerVersion)
	binary.BigEndian.PutUint32(buf[28:32], h.MaxTableEntries)
	binary.BigEndian.PutUint32(buf[32:36], h.BlockSize)
	// buf[36:40] checksum left zero for the sum
	copy(buf[40:56], h.ParentUniqueID[:])
	binary.BigEndian.PutUint32(buf[56:60], h.ParentTimeStamp)
	// buf[60:64] reserved, left zero

	name, err := encodeUTF16BE(h.ParentUnicodeName)
	if err != nil {
		return buf, h, err
	}
	copy(buf[64:576], name[:])

	for i, p := range h.ParentLocators {
		off := 576 + i*parentLocatorSize
		marshalParentLocator(buf[off:off+parentLocatorSize], p)
	}
	// buf[768:1024] reserved, left zero

	sum := checksum(buf[:])
	binary.BigEndian.PutUint32(buf[36:40], sum)
	h.Checksum = sum

	return buf, h, nil
}

// unmarshalHeader validates magic, version, and checksum and parses a
// Header from a 1024-byte buffer.
func unmarshalHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, errors.Errorf("vhd: header must be %d bytes, got %d", HeaderSize, len(buf))
	}
	if string(buf[0:8]) != headerMagic {
		return Header{}, &FormatError{Field: "header.cookie", Want: headerMagic, Got: string(buf[0:8])}
	}

	version := binary.BigEndian.Uint32(buf[24:28])
	if version != headerVersion {
		return Header{}, &FormatError{Field: "header.version", Want: headerVersion, Got: version}
	}

	storedChecksum := binary.BigEndian.Uint32(buf[36:40])
	gotChecksum := subChecksum(checksum(buf), storedChecksum)
	if gotChecksum != storedChecksum {
		return Header{}, &FormatError{Field: "header.checksum", Want: gotChecksum, Got: storedChecksum}
	}

	blockSize := binary.BigEndian.Uint32(buf[32:36])
	if blockSize == 0 || blockSize&(blockSize-1) != 0 {
		return Header{}, &FormatError{Field: "header.block_size", Want: "power of two", Got: blockSize}
	}

	h := Header{
		TableOffset:     binary.BigEndian.Uint64(buf[16:24]),
		MaxTableEntries: binary.BigEndian.Uint32(buf[28:32]),
		BlockSize:       blockSize,
		Checksum:        storedChecksum,
		ParentTimeStamp: binary.BigEndian.Uint32(buf[56:60]),
	}
	copy(h.ParentUniqueID[:], buf[40:56])

	name, err := decodeUTF16BE(buf[64:576])
	if err != nil {
		return Header{}, err
	}
	h.ParentUnicodeName = name

	for i := range h.ParentLocators {
		off := 576 + i*parentLocatorSize
		p := unmarshalParentLocator(buf[off : off+parentLocatorSize])
		if err := validatePlatformCode(p.PlatformCode); err != nil {
			return Header{}, err
		}
		h.ParentLocators[i] = p
	}

	return h, nil
}

func validatePlatformCode(c PlatformCode) error {
	switch c {
	case PlatformNone, PlatformWi2r, PlatformWi2k, PlatformW2ru, PlatformW2ku, PlatformMac, PlatformMacX:
		return nil
	default:
		return &FormatError{Field: "parent_locator.platform_code", Want: "known platform code", Got: uint32(c)}
	}
}

// macXParentLocatorURI builds the file://./<name> URI this package
// writes into slot 0 of a newly created differencing disk's parent
// locators.
func macXParentLocatorURI(parentFilename string) string {
	return "file://./" + parentFilename
}
