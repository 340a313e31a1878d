package vhd

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// SectorSize is the fixed VHD sector size in bytes.
	SectorSize = 512
	// sectorShift is log2(SectorSize).
	sectorShift = 9

	// FooterSize is the on-disk size, in bytes, of a VHD footer.
	FooterSize = 512

	footerMagic       = "conectix"
	footerVersion     = 0x00010000
	footerDataOffsetFixed = 0xFFFFFFFFFFFFFFFF

	// FeatureTemporary marks the image as a candidate for deletion on
	// shutdown. Bit 1 is reserved and must always be set.
	FeatureTemporary uint32 = 1 << 0
	featureReserved  uint32 = 1 << 1
)

// DiskType enumerates the three VHD variants: fixed, dynamic, and
// differencing.
type DiskType uint32

const (
	DiskTypeFixed        DiskType = 2
	DiskTypeDynamic      DiskType = 3
	DiskTypeDifferencing DiskType = 4
)

func (t DiskType) String() string {
	switch t {
	case DiskTypeFixed:
		return "Fixed"
	case DiskTypeDynamic:
		return "Dynamic"
	case DiskTypeDifferencing:
		return "Differencing"
	default:
		return "Unknown"
	}
}

// CreatorHostOS enumerates the footer's creator_host_os field.
type CreatorHostOS uint32

const (
	HostOSWindows   CreatorHostOS = 0x5769326B // "Wi2k"
	HostOSMacintosh CreatorHostOS = 0x4D616320 // "Mac "
	HostOSOther     CreatorHostOS = 0
)

// Footer is the typed, in-memory form of the 512-byte VHD footer
// written at the file head (for dynamic/differencing disks) and
// always at the file tail.
type Footer struct {
	Features           uint32
	DataOffset         uint64
	TimeStamp          uint32
	CreatorApplication [4]byte
	CreatorVersion     uint32
	CreatorHostOS      CreatorHostOS
	OriginalSize       uint64
	CurrentSize        uint64
	Geometry           geometry
	DiskType           DiskType
	Checksum           uint32
	UID                UUID
	SavedState         bool
}

// marshalFooter serializes f into a fresh 512-byte buffer, computing
// and recording the checksum over the populated region with the
// checksum field held at zero, and returns the value with Checksum
// updated to match.
func marshalFooter(f Footer) ([FooterSize]byte, Footer) {
	var buf [FooterSize]byte

	copy(buf[0:8], footerMagic)
	binary.BigEndian.PutUint32(buf[8:12], f.Features|featureReserved)
	binary.BigEndian.PutUint32(buf[12:16], footerVersion)
	binary.BigEndian.PutUint64(buf[16:24], f.DataOffset)
	binary.BigEndian.PutUint32(buf[24:28], f.TimeStamp)
	copy(buf[28:32], f.CreatorApplication[:])
	binary.BigEndian.PutUint32(buf[32:36], f.CreatorVersion)
	binary.BigEndian.PutUint32(buf[36:40], uint32(f.CreatorHostOS))
	binary.BigEndian.PutUint64(buf[40:48], f.OriginalSize)
	binary.BigEndian.PutUint64(buf[48:56], f.CurrentSize)
	binary.BigEndian.PutUint32(buf[56:60], f.Geometry.encode())
	binary.BigEndian.PutUint32(buf[60:64], uint32(f.DiskType))
	// checksum field buf[64:68] left zero for the sum
	copy(buf[68:84], f.UID[:])
	if f.SavedState {
		buf[84] = 1
	}
	// buf[85:512] remains zero (reserved)

	sum := checksum(buf[:])
	binary.BigEndian.PutUint32(buf[64:68], sum)

	f.Checksum = sum
	f.Features |= featureReserved
	return buf, f
}

// unmarshalFooter validates magic, version, and checksum and parses a
// Footer from a 512-byte buffer.
func unmarshalFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterSize {
		return Footer{}, errors.Errorf("vhd: footer must be %d bytes, got %d", FooterSize, len(buf))
	}
	if string(buf[0:8]) != footerMagic {
		return Footer{}, &FormatError{Field: "footer.cookie", Want: footerMagic, Got: string(buf[0:8])}
	}

	version := binary.BigEndian.Uint32(buf[12:16])
	if version != footerVersion {
		return Footer{}, &FormatError{Field: "footer.version", Want: footerVersion, Got: version}
	}

	storedChecksum := binary.BigEndian.Uint32(buf[64:68])
	gotChecksum := subChecksum(checksum(buf[:]), storedChecksum)
	if gotChecksum != storedChecksum {
		return Footer{}, &FormatError{Field: "footer.checksum", Want: gotChecksum, Got: storedChecksum}
	}

	f := Footer{
		Features:       binary.BigEndian.Uint32(buf[8:12]),
		DataOffset:     binary.BigEndian.Uint64(buf[16:24]),
		TimeStamp:      binary.BigEndian.Uint32(buf[24:28]),
		CreatorVersion: binary.BigEndian.Uint32(buf[32:36]),
		CreatorHostOS:  CreatorHostOS(binary.BigEndian.Uint32(buf[36:40])),
		OriginalSize:   binary.BigEndian.Uint64(buf[40:48]),
		CurrentSize:    binary.BigEndian.Uint64(buf[48:56]),
		Geometry:       decodeGeometry(binary.BigEndian.Uint32(buf[56:60])),
		DiskType:       DiskType(binary.BigEndian.Uint32(buf[60:64])),
		Checksum:       storedChecksum,
		SavedState:     buf[84] != 0,
	}
	copy(f.CreatorApplication[:], buf[28:32])
	copy(f.UID[:], buf[68:84])

	switch f.DiskType {
	case DiskTypeFixed, DiskTypeDynamic, DiskTypeDifferencing:
	default:
		return Footer{}, &FormatError{Field: "footer.disk_type", Want: "2, 3, or 4", Got: uint32(f.DiskType)}
	}

	return f, nil
}

// newFooter builds a Footer for a freshly created image of the given
// disk type and size. The caller fills DataOffset (fixed-disk sentinel
// or sparse-header offset) afterwards.
func newFooter(diskType DiskType, size int64, now uint32, uid UUID) Footer {
	totalSectors := size / SectorSize
	return Footer{
		Features:           0,
		TimeStamp:          now,
		CreatorApplication: [4]byte{'v', 'h', 'd', 'g'},
		CreatorVersion:     footerVersion,
		CreatorHostOS:      HostOSWindows,
		OriginalSize:       uint64(size),
		CurrentSize:        uint64(size),
		Geometry:           geometryForSectors(totalSectors),
		DiskType:           diskType,
		UID:                uid,
	}
}
