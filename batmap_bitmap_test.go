package vhd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBATmapHeaderMarshalUnmarshalRoundTrip(t *testing.T) {
	h := BATmapHeader{Offset: 4096, Size: 1, MajorVer: batmapMajorVersion, MinorVer: batmapMinorVersion}
	buf, h := marshalBATmapHeader(h)

	got, err := unmarshalBATmapHeader(buf[:])
	require.NoError(t, err)
	require.Equal(t, h.Offset, got.Offset)
	require.Equal(t, h.Checksum, got.Checksum)
}

func TestBATmapHeaderUnmarshalRejectsBadMagic(t *testing.T) {
	h := BATmapHeader{Offset: 4096, Size: 1}
	buf, _ := marshalBATmapHeader(h)
	buf[0] = 'x'

	_, err := unmarshalBATmapHeader(buf[:])
	require.Error(t, err)
}

func TestBATmapFullBits(t *testing.T) {
	m := newBATmap(20)
	require.False(t, m.IsFull(5))
	m.SetFull(5, true)
	require.True(t, m.IsFull(5))
	m.SetFull(5, false)
	require.False(t, m.IsFull(5))
}

func TestBitmapSetAndReadBit(t *testing.T) {
	bm := make([]byte, bitmapSizeBytes(4096))
	require.False(t, blockBit(bm, 0))

	changed := setBlockBit(bm, 0, true)
	require.True(t, changed)
	require.True(t, blockBit(bm, 0))

	changed = setBlockBit(bm, 0, true)
	require.False(t, changed)
}

func TestNewFullBitmapAllOnes(t *testing.T) {
	bm := newFullBitmap(64)
	for i := 0; i < 64*8; i++ {
		require.True(t, blockBit(bm, i))
	}
}

func TestBitmapByteOffsetForSectorIsSectorAligned(t *testing.T) {
	_, start, length := bitmapByteOffsetForSector(4096)
	require.Equal(t, 0, start%SectorSize)
	require.Equal(t, SectorSize, length)
}
