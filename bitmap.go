package vhd

// bitmapSizeBytes returns the sector-padded size, in bytes, of a
// block's sector bitmap: 1 bit per sector in the block, rounded up to
// a full sector.
func bitmapSizeBytes(blockSizeSectors uint32) int {
	raw := int((blockSizeSectors + 7) / 8)
	return roundUpToSector(raw)
}

// blockBit reads bit i of a block bitmap, counting most-significant-
// first within each byte.
func blockBit(bitmap []byte, i int) bool {
	byteIdx, bit := i/8, uint(7-i%8)
	return bitmap[byteIdx]&(1<<bit) != 0
}

// setBlockBit sets or clears bit i of a block bitmap and reports
// whether the stored byte actually changed, so callers can skip an
// unnecessary write-back.
func setBlockBit(bitmap []byte, i int, set bool) (changed bool) {
	byteIdx, bit := i/8, uint(7-i%8)
	before := bitmap[byteIdx]
	if set {
		bitmap[byteIdx] |= 1 << bit
	} else {
		bitmap[byteIdx] &^= 1 << bit
	}
	return bitmap[byteIdx] != before
}

// newFullBitmap returns a bitmap of the given byte size with every
// sector bit set — used by the VHD output stream, which always emits a
// fully-populated bitmap for every included block.
func newFullBitmap(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// bitmapByteOffsetForSector returns the offset, within a block's
// bitmap region, of the byte holding sector i's bit, and the sector-
// aligned slice start/length that the writer must rewrite to flush
// that single bit; the write-back is always a full sector even though
// only one byte changed.
func bitmapByteOffsetForSector(i int) (byteOffset, sectorStart, sectorLen int) {
	byteOffset = i / 8
	sectorStart = byteOffset / SectorSize * SectorSize
	sectorLen = SectorSize
	return
}
