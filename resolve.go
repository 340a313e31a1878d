package vhd

import (
	"github.com/pkg/errors"
)

// Locate answers "where does virtual sector s live?" by walking v's
// parent chain. It returns (nil, 0, false, nil) for a
// hole (an unallocated block, or an allocated block whose sector bit
// is clear on every layer with no data there) and never an error for
// that case — only format/backend failures produce an error.
func Locate(v *VHD, s int64) (owner *VHD, physicalSector int64, ok bool, err error) {
	if s*SectorSize >= int64(v.Footer.CurrentSize) {
		if v.IsDifferencing() && v.Parent != nil {
			return Locate(v.Parent, s)
		}
		return nil, 0, false, &InvalidSectorError{Sector: s, Max: int64(v.Footer.CurrentSize) / SectorSize}
	}

	if v.IsFixed() {
		return nil, 0, false, errors.Wrap(ErrFixedUnsupported, "vhd: Locate")
	}

	shift := blockShift(v.Header.BlockSize)
	blockSectors := int64(v.BlockSizeSectors())
	block := int(s >> shift)
	sectorInBlock := int(s & (blockSectors - 1))

	batEntry := v.BAT.Get(block)
	if batEntry == BATUnused {
		if v.IsDynamic() {
			return nil, 0, false, nil
		}
		// Differencing: delegate to parent.
		return Locate(v.Parent, s)
	}

	bitmap, err := readBlockBitmap(v, block, batEntry)
	if err != nil {
		return nil, 0, false, err
	}

	if blockBit(bitmap, sectorInBlock) {
		bmSizeSectors := int64(bitmapSizeBytes(uint32(blockSectors)) / SectorSize)
		physical := int64(batEntry) + bmSizeSectors + int64(sectorInBlock)
		return v, physical, true, nil
	}

	if v.IsDynamic() {
		return nil, 0, false, nil
	}
	return Locate(v.Parent, s)
}

// ReadSector wraps Locate, returning (nil, nil) for a hole and a
// 512-byte buffer otherwise.
func ReadSector(v *VHD, s int64) ([]byte, error) {
	owner, physical, ok, err := Locate(v, s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return owner.Handle.ReallyRead(physical*SectorSize, SectorSize)
}

// readBlockBitmap reads block i's bitmap through v's one-entry cache.
// batEntry is the block's BAT sector offset (already known non-
// unused by the caller).
func readBlockBitmap(v *VHD, i int, batEntry uint32) ([]byte, error) {
	if v.bitmapCache.valid && v.bitmapCache.block == i {
		return v.bitmapCache.data, nil
	}

	size := bitmapSizeBytes(v.BlockSizeSectors())
	buf, err := v.Handle.ReallyRead(int64(batEntry)*SectorSize, size)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: read bitmap for block %d", i)
	}

	v.bitmapCache = bitmapCacheEntry{valid: true, block: i, data: buf}
	return buf, nil
}

// invalidateBitmapCacheFor drops the cached bitmap if it refers to
// block i, forcing the next read to go to the backend. The writer does
// not use it: patchBitmapBit replaces the cache entry with the patched
// copy instead.
func (v *VHD) invalidateBitmapCacheFor(i int) {
	if v.bitmapCache.valid && v.bitmapCache.block == i {
		v.bitmapCache.valid = false
	}
}

// blockShift returns log2(blockSize / SectorSize), used to split a
// virtual sector number into a block index and a within-block offset
// via shifts instead of division.
func blockShift(blockSize uint32) uint {
	sectors := blockSize / SectorSize
	shift := uint(0)
	for sectors > 1 {
		sectors >>= 1
		shift++
	}
	return shift
}
