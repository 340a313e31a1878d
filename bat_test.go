package vhd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBATAllUnused(t *testing.T) {
	b := newBAT(4)
	require.Equal(t, 4, b.Length())
	for i := 0; i < 4; i++ {
		require.Equal(t, BATUnused, b.Get(i))
	}
	_, ok := b.Highest()
	require.False(t, ok)
}

func TestBATSetTracksHighest(t *testing.T) {
	b := newBAT(4)
	b.Set(1, 100)
	b.Set(3, 200)
	b.Set(0, 50)

	idx, ok := b.Highest()
	require.True(t, ok)
	require.Equal(t, 3, idx)
}

func TestBATMarshalUnmarshalRoundTrip(t *testing.T) {
	b := newBAT(3)
	b.Set(0, 10)
	b.Set(2, 30)

	buf := marshalBAT(b)
	got, err := unmarshalBAT(buf, 3)
	require.NoError(t, err)
	require.True(t, b.Equal(got))
}

func TestBATByteSizeRoundsUpToSector(t *testing.T) {
	require.Equal(t, SectorSize, batByteSize(1))
	require.Equal(t, SectorSize, batByteSize(128))
	require.Equal(t, SectorSize*2, batByteSize(129))
}

func TestBATEqual(t *testing.T) {
	a := newBAT(2)
	b := newBAT(2)
	require.True(t, a.Equal(b))
	b.Set(0, 5)
	require.False(t, a.Equal(b))
}
