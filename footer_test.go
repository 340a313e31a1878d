package vhd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFooterMarshalUnmarshalRoundTrip(t *testing.T) {
	uid := newUUID()
	f := newFooter(DiskTypeDynamic, 10<<30, 12345, uid)
	f.DataOffset = 512

	buf, f := marshalFooter(f)
	got, err := unmarshalFooter(buf[:])
	require.NoError(t, err)

	require.Equal(t, f.DiskType, got.DiskType)
	require.Equal(t, f.CurrentSize, got.CurrentSize)
	require.Equal(t, f.UID, got.UID)
	require.Equal(t, f.Checksum, got.Checksum)
	require.Equal(t, f.Geometry, got.Geometry)
}

func TestFooterUnmarshalRejectsBadMagic(t *testing.T) {
	uid := newUUID()
	f := newFooter(DiskTypeDynamic, 1<<20, 1, uid)
	buf, _ := marshalFooter(f)
	buf[0] = 'X'

	_, err := unmarshalFooter(buf[:])
	require.Error(t, err)
}

func TestFooterUnmarshalDetectsChecksumTamper(t *testing.T) {
	uid := newUUID()
	f := newFooter(DiskTypeDynamic, 1<<20, 1, uid)
	buf, _ := marshalFooter(f)

	// Flip a byte in the middle of the reserved region: the checksum
	// no longer matches.
	buf[100] ^= 0xFF

	_, err := unmarshalFooter(buf[:])
	require.Error(t, err)
	var fmtErr *FormatError
	require.ErrorAs(t, err, &fmtErr)
	require.Equal(t, "footer.checksum", fmtErr.Field)
}

func TestFooterUnmarshalRejectsUnknownDiskType(t *testing.T) {
	uid := newUUID()
	f := newFooter(DiskType(99), 1<<20, 1, uid)
	buf, _ := marshalFooter(f)

	_, err := unmarshalFooter(buf[:])
	require.Error(t, err)
}

func TestDiskTypeString(t *testing.T) {
	require.Equal(t, "Fixed", DiskTypeFixed.String())
	require.Equal(t, "Dynamic", DiskTypeDynamic.String())
	require.Equal(t, "Differencing", DiskTypeDifferencing.String())
	require.Equal(t, "Unknown", DiskType(0).String())
}
