package vhd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderMarshalUnmarshalRoundTrip(t *testing.T) {
	h := Header{
		TableOffset:       2048,
		MaxTableEntries:   4,
		BlockSize:         2 << 20,
		ParentUnicodeName: "base.vhd",
	}
	h.ParentLocators[0] = ParentLocator{
		PlatformCode:         PlatformMacX,
		PlatformDataSpaceRaw: 1,
		PlatformDataLength:   20,
		PlatformDataOffset:   1536,
	}

	buf, h, err := marshalHeader(h)
	require.NoError(t, err)

	got, err := unmarshalHeader(buf[:])
	require.NoError(t, err)

	require.Equal(t, h.TableOffset, got.TableOffset)
	require.Equal(t, h.MaxTableEntries, got.MaxTableEntries)
	require.Equal(t, h.BlockSize, got.BlockSize)
	require.Equal(t, h.ParentUnicodeName, got.ParentUnicodeName)
	require.Equal(t, h.ParentLocators[0], got.ParentLocators[0])
	require.Equal(t, h.Checksum, got.Checksum)
}

func TestHeaderUnmarshalRejectsNonPowerOfTwoBlockSize(t *testing.T) {
	h := Header{TableOffset: 2048, MaxTableEntries: 1, BlockSize: 3 << 20}
	buf, _, err := marshalHeader(h)
	require.NoError(t, err)

	_, err = unmarshalHeader(buf[:])
	require.Error(t, err)
}

func TestHeaderUnmarshalRejectsUnknownPlatformCode(t *testing.T) {
	h := Header{TableOffset: 2048, MaxTableEntries: 1, BlockSize: 2 << 20}
	h.ParentLocators[0] = ParentLocator{PlatformCode: PlatformCode(0xDEADBEEF)}
	buf, _, err := marshalHeader(h)
	require.NoError(t, err)

	_, err = unmarshalHeader(buf[:])
	require.Error(t, err)
}

func TestParentLocatorDataSpaceBytesDecodeRule(t *testing.T) {
	sectors := ParentLocator{PlatformDataSpaceRaw: 1}
	require.Equal(t, uint32(SectorSize), sectors.PlatformDataSpaceBytes())

	bytes := ParentLocator{PlatformDataSpaceRaw: 4096}
	require.Equal(t, uint32(4096), bytes.PlatformDataSpaceBytes())
}

func TestMacXParentLocatorURI(t *testing.T) {
	require.Equal(t, "file://./base.vhd", macXParentLocatorURI("base.vhd"))
}
