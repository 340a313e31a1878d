package vhd

import (
	"github.com/pkg/errors"
)

// topUnusedSectorOffset computes the first sector past the end of the
// last allocated block. New blocks are allocated at this sector offset
// (already sector-aligned, since every allocated block starts and ends
// on a sector boundary).
func topUnusedSectorOffset(v *VHD) int64 {
	bmSizeSectors := int64(bitmapSizeBytes(v.BlockSizeSectors()) / SectorSize)
	blockSectors := int64(v.BlockSizeSectors())

	if idx, ok := v.BAT.Highest(); ok {
		return int64(v.BAT.Get(idx)) + bmSizeSectors + blockSectors
	}

	batSectors := int64(batByteSize(uint32(v.BAT.Length())) / SectorSize)
	return int64(v.Header.TableOffset)/SectorSize + batSectors
}

// WriteSector writes a single 512-byte sector to virtual sector s of
// v, lazily allocating and zero-filling a new block if s falls in a
// block that is not yet allocated, then updating the block's bitmap
// and the BAT and trailing footer as needed.
//
// Step ordering on allocation follows the documented order, so a crash
// between any two steps leaves the image readable: (1) write the
// zero-filled block region, (2) rewrite the BAT, (3) rewrite the
// trailing footer, (4) write the payload sector, (5) patch the
// bitmap.
func WriteSector(v *VHD, s int64, data []byte) error {
	if len(data) != SectorSize {
		return errors.Errorf("vhd: WriteSector requires exactly %d bytes, got %d", SectorSize, len(data))
	}
	if s*SectorSize >= int64(v.Footer.CurrentSize) {
		return &InvalidSectorError{Sector: s, Max: int64(v.Footer.CurrentSize) / SectorSize}
	}
	if v.IsFixed() {
		return errors.Wrap(ErrFixedUnsupported, "vhd: WriteSector")
	}

	shift := blockShift(v.Header.BlockSize)
	blockSectors := int64(v.BlockSizeSectors())
	block := int(s >> shift)
	sectorInBlock := int(s & (blockSectors - 1))

	if v.BAT.Get(block) == BATUnused {
		if err := allocateBlock(v, block); err != nil {
			return errors.Wrapf(err, "vhd: allocate block %d", block)
		}
	}

	batEntry := v.BAT.Get(block)
	bmSizeSectors := int64(bitmapSizeBytes(uint32(blockSectors)) / SectorSize)
	physicalSector := int64(batEntry) + bmSizeSectors + int64(sectorInBlock)

	if err := v.Handle.ReallyWrite(physicalSector*SectorSize, data); err != nil {
		return errors.Wrapf(err, "vhd: write sector %d", s)
	}

	if err := patchBitmapBit(v, block, batEntry, sectorInBlock); err != nil {
		return errors.Wrapf(err, "vhd: patch bitmap for block %d", block)
	}

	return nil
}

// allocateBlock allocates a fresh, zero-filled block for index i: it
// writes the zero-filled bitmap+data region, rewrites the BAT, and
// rewrites the trailing footer, in that order.
func allocateBlock(v *VHD, i int) error {
	top := topUnusedSectorOffset(v)
	newEntry := uint32(top)

	bmSize := bitmapSizeBytes(v.BlockSizeSectors())
	blockBytes := int64(v.Header.BlockSize)
	totalBytes := int64(bmSize) + blockBytes

	if err := zeroFillAt(v.Handle, top*SectorSize, totalBytes); err != nil {
		return errors.Wrap(err, "vhd: zero-fill new block")
	}

	v.BAT.Set(i, newEntry)
	batBuf := marshalBAT(v.BAT)
	if err := v.Handle.ReallyWrite(int64(v.Header.TableOffset), batBuf); err != nil {
		return errors.Wrap(err, "vhd: rewrite BAT")
	}

	if err := writeTrailingFooter(v); err != nil {
		return errors.Wrap(err, "vhd: rewrite trailing footer")
	}

	return nil
}

// zeroFillAt writes n zero bytes at offset, using a fast path of
// 2 MiB zero buffers followed by any trailing remainder.
func zeroFillAt(h Handle, offset int64, n int64) error {
	const chunk = 2 << 20
	zeros := make([]byte, chunk)

	for n > 0 {
		size := int64(chunk)
		if n < size {
			size = n
		}
		if err := h.ReallyWrite(offset, zeros[:size]); err != nil {
			return err
		}
		offset += size
		n -= size
	}
	return nil
}

// writeTrailingFooter rewrites the footer at the current top-of-file,
// keeping the image self-describing if execution stops before the
// file is fully grown.
func writeTrailingFooter(v *VHD) error {
	top := topUnusedSectorOffset(v)
	buf, footer := marshalFooter(v.Footer)
	v.Footer = footer
	return v.Handle.ReallyWrite(top*SectorSize, buf[:])
}

// patchBitmapBit sets sectorInBlock's bit in block i's bitmap and, if
// the bit actually changed, writes back only the sector of the bitmap
// containing the modified byte. No write occurs if the bit was already
// set.
func patchBitmapBit(v *VHD, i int, batEntry uint32, sectorInBlock int) error {
	bitmap, err := readBlockBitmap(v, i, batEntry)
	if err != nil {
		return err
	}

	// Work on a copy so a failed write never leaves the cache holding
	// a bit the backend never actually recorded.
	patched := append([]byte(nil), bitmap...)
	if !setBlockBit(patched, sectorInBlock, true) {
		return nil
	}

	_, sectorStart, sectorLen := bitmapByteOffsetForSector(sectorInBlock)
	if sectorStart+sectorLen > len(patched) {
		sectorLen = len(patched) - sectorStart
	}

	if err := v.Handle.ReallyWrite(int64(batEntry)*SectorSize+int64(sectorStart), patched[sectorStart:sectorStart+sectorLen]); err != nil {
		return err
	}

	v.bitmapCache = bitmapCacheEntry{valid: true, block: i, data: patched}
	return nil
}

// writeUnaligned performs a read-modify-write of the sectors spanning
// [offset, offset+len(data)) — used for arbitrary-offset small writes
// such as parent-locator payloads, which need not be sector-aligned.
func writeUnaligned(h Handle, offset int64, data []byte) error {
	start := offset / SectorSize * SectorSize
	end := (offset + int64(len(data)) + SectorSize - 1) / SectorSize * SectorSize

	buf, err := h.ReallyRead(start, int(end-start))
	if err != nil {
		return err
	}

	copy(buf[offset-start:], data)
	return h.ReallyWrite(start, buf)
}
