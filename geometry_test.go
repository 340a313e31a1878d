package vhd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeometryEncodeDecodeRoundTrip(t *testing.T) {
	g := geometry{Cylinders: 1024, Heads: 16, SectorsPerTrack: 63}
	got := decodeGeometry(g.encode())
	require.Equal(t, g, got)
}

func TestGeometryForSectorsSmallDisk(t *testing.T) {
	g := geometryForSectors(20000)
	require.Equal(t, uint8(17), g.SectorsPerTrack)
	require.GreaterOrEqual(t, g.Heads, uint8(4))
}

func TestGeometryForSectorsClampsAtMax(t *testing.T) {
	const maxSectors = 65535 * 255 * 16
	g := geometryForSectors(maxSectors * 2)
	require.Equal(t, uint8(255), g.SectorsPerTrack)
	require.Equal(t, uint8(16), g.Heads)
}

func TestGeometryForSectorsLargeDiskUsesWideTable(t *testing.T) {
	g := geometryForSectors(65535*63*16 + 1)
	require.Equal(t, uint8(255), g.SectorsPerTrack)
	require.Equal(t, uint8(16), g.Heads)
}
