package vhd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopUnusedSectorOffsetFreshImage(t *testing.T) {
	v := &VHD{
		Header: Header{TableOffset: 2048, MaxTableEntries: 2, BlockSize: 2 << 20},
		BAT:    newBAT(2),
	}
	require.Equal(t, int64(5), topUnusedSectorOffset(v))
}

func TestTopUnusedSectorOffsetAfterAllocation(t *testing.T) {
	v := &VHD{
		Header: Header{TableOffset: 2048, MaxTableEntries: 2, BlockSize: 2 << 20},
		BAT:    newBAT(2),
	}
	v.BAT.Set(0, 5)
	bmSizeSectors := int64(bitmapSizeBytes(v.BlockSizeSectors()) / SectorSize)
	blockSectors := int64(v.BlockSizeSectors())
	require.Equal(t, 5+bmSizeSectors+blockSectors, topUnusedSectorOffset(v))
}

func TestZeroFillAtWritesExactLength(t *testing.T) {
	h := &memHandle{}
	require.NoError(t, zeroFillAt(h, 0, (2<<20)+SectorSize))
	require.Len(t, h.data, (2<<20)+SectorSize)
	for _, b := range h.data {
		require.Equal(t, byte(0), b)
	}
}

func TestWriteUnalignedReadModifyWrite(t *testing.T) {
	h := &memHandle{data: make([]byte, 2*SectorSize)}
	require.NoError(t, writeUnaligned(h, 100, []byte("hello")))

	got, err := h.ReallyRead(100, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	// Bytes outside the patched region in the same sector are
	// untouched.
	rest, err := h.ReallyRead(0, 100)
	require.NoError(t, err)
	for _, b := range rest {
		require.Equal(t, byte(0), b)
	}
}
