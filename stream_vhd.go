package vhd

import "sort"

// vhdMetadata builds the footer/header/pad/BAT/BATmap prefix and
// trailing-footer suffix shared by VHDStream and HybridStream: both
// produce a standalone dynamic-disk file that differs only in how the
// body of each included block is represented (per-sector walk vs. one
// whole-block Copy). It returns the prefix elements, the sorted list
// of included block indices with their per-block bitmap size, and a
// thunk that builds the trailing-footer element for the caller to
// append once it has emitted every block body.
func vhdMetadata(v *VHD, from *VHD, emitBATmap bool) (prefix []Element, blockIndices []int, bmSize int, trailer func() Element, err error) {
	included, err := inclusionSet(v, from)
	if err != nil {
		return nil, nil, 0, nil, err
	}
	blockIndices = make([]int, 0, len(included))
	for i := range included {
		blockIndices = append(blockIndices, i)
	}
	sort.Ints(blockIndices)

	blockSectors := v.BlockSizeSectors()
	bmSize = bitmapSizeBytes(blockSectors)
	blockBytes := int64(v.Header.BlockSize)
	maxEntries := v.Header.MaxTableEntries

	batBytes := int64(batByteSize(maxEntries))
	layoutOffset := int64(batOffset) + batBytes

	var batmap *BATmap
	var batmapOffset int64
	if emitBATmap {
		batmap = newBATmap(maxEntries)
		batmapOffset = layoutOffset
		layoutOffset += BATmapHeaderSize + int64(batmap.byteSizeSectors())*SectorSize
	}

	outBAT := newBAT(maxEntries)
	for _, i := range blockIndices {
		outBAT.Set(i, uint32(layoutOffset/SectorSize))
		layoutOffset += int64(bmSize) + blockBytes
		if batmap != nil {
			batmap.SetFull(i, true)
		}
	}

	outFooter := v.Footer
	outFooter.DiskType = DiskTypeDynamic
	outFooter.DataOffset = sparseHeaderOffset
	outHeader := v.Header
	outHeader.TableOffset = uint64(batOffset)

	footerBuf, outFooter := marshalFooter(outFooter)
	prefix = append(prefix, sectorsElem(append([]byte(nil), footerBuf[:]...)))

	headerBuf, outHeader, err := marshalHeader(outHeader)
	if err != nil {
		return nil, nil, 0, nil, wrapf(err, "vhd: marshal stream header")
	}
	prefix = append(prefix, sectorsElem(append([]byte(nil), headerBuf[:]...)))

	// §4.6 mode 2 lays out "head footer, header, pad sector, BAT, ..." —
	// the header only occupies 1024 of the 1536 bytes between the
	// footer and batOffset (2048), so a 512-byte zero pad sector closes
	// the gap before the BAT begins.
	prefix = append(prefix, sectorsElem(make([]byte, SectorSize)))

	prefix = append(prefix, sectorsElem(marshalBAT(outBAT)))

	if batmap != nil {
		batmap.Header = BATmapHeader{
			Offset:   uint64(batmapOffset) + BATmapHeaderSize,
			Size:     batmap.byteSizeSectors(),
			MajorVer: batmapMajorVersion,
			MinorVer: batmapMinorVersion,
		}
		hdrBuf, _ := marshalBATmapHeader(batmap.Header)
		prefix = append(prefix, sectorsElem(append([]byte(nil), hdrBuf[:]...)))
		prefix = append(prefix, sectorsElem(marshalBATmapBits(batmap)))
	}

	trailer = func() Element {
		trailerBuf, _ := marshalFooter(outFooter)
		return sectorsElem(append([]byte(nil), trailerBuf[:]...))
	}

	return prefix, blockIndices, bmSize, trailer, nil
}

// VHDStream produces a standalone dynamic-disk byte stream for v: a
// fresh footer, header, and BAT describing only the included blocks,
// each laid out contiguously right after the BAT (and BATmap, if
// emitBATmap is set), followed by a trailing copy of the footer.
//
// Excluded blocks (those outside the inclusion set — see Raw) are left
// BATUnused in the emitted BAT, so the resulting file is only a
// faithful standalone copy of v when from is nil; when from is
// non-nil, the emitted file holds the changed blocks only and the
// BATmap (if requested) marks exactly those blocks as full, letting a
// downstream merge tool distinguish "block omitted because unchanged"
// from "block omitted because it was a hole in every ancestor".
func VHDStream(v *VHD, from *VHD, emitBATmap bool) (*Stream, error) {
	if v.IsFixed() {
		return nil, wrapf(ErrFixedUnsupported, "vhd: VHDStream")
	}

	prefix, blockIndices, bmSize, trailer, err := vhdMetadata(v, from, emitBATmap)
	if err != nil {
		return nil, err
	}

	blockSectors := int64(v.BlockSizeSectors())
	elements := append([]Element(nil), prefix...)

	for _, i := range blockIndices {
		elements = append(elements, sectorsElem(newFullBitmap(bmSize)))

		blockStart := int64(i) * blockSectors
		for s := int64(0); s < blockSectors; s++ {
			owner, physical, ok, err := Locate(v, blockStart+s)
			if err != nil {
				return nil, err
			}
			if !ok {
				elements = append(elements, emptyElem(1))
				continue
			}
			elements = append(elements, copyElem(owner.Handle, physical, 1))
		}
	}

	elements = append(elements, trailer())

	return newStream(Coalesce(elements)), nil
}
