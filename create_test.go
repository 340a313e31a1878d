package vhd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateDynamicThenReadHole(t *testing.T) {
	backend := newMemBackend()
	v, err := CreateDynamic(backend, CreateOptions{
		Filename: "disk.vhd",
		Size:     4 << 20,
	})
	require.NoError(t, err)
	require.Equal(t, DiskTypeDynamic, v.Footer.DiskType)
	require.Equal(t, uint32(2), v.Header.MaxTableEntries)

	data, err := ReadSector(v, 0)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestCreateDynamicThenSparseWrite(t *testing.T) {
	backend := newMemBackend()
	v, err := CreateDynamic(backend, CreateOptions{
		Filename: "disk.vhd",
		Size:     4 << 20,
	})
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, SectorSize)
	require.NoError(t, WriteSector(v, 0, payload))

	got, err := ReadSector(v, 0)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// An adjacent, never-written sector within the same now-allocated
	// block reads back as a hole.
	hole, err := ReadSector(v, 1)
	require.NoError(t, err)
	require.Nil(t, hole)

	// A sector in a still-unallocated block also reads as a hole.
	hole2, err := ReadSector(v, int64(v.BlockSizeSectors())+1)
	require.NoError(t, err)
	require.Nil(t, hole2)
}

func TestCreateDynamicRejectsOversizeSector(t *testing.T) {
	backend := newMemBackend()
	v, err := CreateDynamic(backend, CreateOptions{Filename: "disk.vhd", Size: 1 << 20})
	require.NoError(t, err)

	err = WriteSector(v, 1<<20/SectorSize, make([]byte, SectorSize))
	require.Error(t, err)
	var sectorErr *InvalidSectorError
	require.ErrorAs(t, err, &sectorErr)
}

func TestCreateDifferencingOverParent(t *testing.T) {
	backend := newMemBackend()
	parent, err := CreateDynamic(backend, CreateOptions{Filename: "base.vhd", Size: 4 << 20})
	require.NoError(t, err)

	basePayload := bytes.Repeat([]byte{0x11}, SectorSize)
	require.NoError(t, WriteSector(parent, 0, basePayload))

	child, err := CreateDifferencing(backend, CreateOptions{Filename: "child.vhd"}, parent)
	require.NoError(t, err)
	require.Equal(t, DiskTypeDifferencing, child.Footer.DiskType)
	require.Equal(t, parent.Footer.CurrentSize, child.Footer.CurrentSize)
	require.Equal(t, parent.Header.BlockSize, child.Header.BlockSize)

	// Reads delegate to the parent for anything the child has not
	// overridden.
	got, err := ReadSector(child, 0)
	require.NoError(t, err)
	require.Equal(t, basePayload, got)

	// Overriding a sector in the child shadows the parent's data.
	overridePayload := bytes.Repeat([]byte{0x22}, SectorSize)
	require.NoError(t, WriteSector(child, 0, overridePayload))
	got, err = ReadSector(child, 0)
	require.NoError(t, err)
	require.Equal(t, overridePayload, got)

	// The parent itself is unaffected.
	got, err = ReadSector(parent, 0)
	require.NoError(t, err)
	require.Equal(t, basePayload, got)
}

func TestCreateDynamicRequiresFilenameAndSize(t *testing.T) {
	backend := newMemBackend()
	_, err := CreateDynamic(backend, CreateOptions{Size: 1 << 20})
	require.Error(t, err)

	_, err = CreateDynamic(backend, CreateOptions{Filename: "x.vhd"})
	require.Error(t, err)
}

func TestCreateDynamicRejectsNonPowerOfTwoBlockSize(t *testing.T) {
	backend := newMemBackend()
	_, err := CreateDynamic(backend, CreateOptions{Filename: "x.vhd", Size: 1 << 20, BlockSize: 3 << 20})
	require.Error(t, err)
}
