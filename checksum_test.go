package vhd

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumComplementsSum(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	var want uint32
	for _, b := range buf {
		want += uint32(b)
	}
	require.Equal(t, ^want, checksum(buf))
}

func TestSubChecksumRecoversZeroedFieldChecksum(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = byte(i)
	}

	// Compute the checksum as if the 4-byte field at [10:14] were zero.
	zeroed := append([]byte(nil), buf...)
	binary.BigEndian.PutUint32(zeroed[10:14], 0)
	want := checksum(zeroed)

	// Now store that checksum into the field and compute checksum(buf)
	// the way marshal does, then verify subChecksum recovers `want`.
	stored := buf
	binary.BigEndian.PutUint32(stored[10:14], want)
	t_ := checksum(stored)
	x := binary.BigEndian.Uint32(stored[10:14])

	got := subChecksum(t_, x)
	require.Equal(t, want, got)
}

func TestByteSum(t *testing.T) {
	require.Equal(t, uint32(1+2+3+4), byteSum(0x01020304))
}
