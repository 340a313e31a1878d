package vhd

// HybridStream produces the same standalone-VHD-file shape as
// VHDStream — footer, header, pad, BAT, per-block bitmap+body,
// trailing footer — except that it never emits a BATmap. It sources
// each included block's
// body as a single whole-block Copy against rawHandle, a handle onto a
// flat image already holding v's fully expanded logical content at
// matching sector offsets, instead of walking each block sector by
// sector. This trades the fine-grained hole detection VHDStream
// performs within a block for one big sequential read per included
// block, which suits a backend that already expanded the image once
// and now wants a cheap pass over only the blocks that changed.
func HybridStream(rawHandle Handle, v *VHD, from *VHD) (*Stream, error) {
	if v.IsFixed() {
		return nil, wrapf(ErrFixedUnsupported, "vhd: HybridStream")
	}

	prefix, blockIndices, bmSize, trailer, err := vhdMetadata(v, from, false)
	if err != nil {
		return nil, err
	}

	blockSectors := int64(v.BlockSizeSectors())
	elements := append([]Element(nil), prefix...)

	for _, i := range blockIndices {
		elements = append(elements, sectorsElem(newFullBitmap(bmSize)))

		blockStart := int64(i) * blockSectors
		elements = append(elements, copyElem(rawHandle, blockStart, blockSectors))
	}

	elements = append(elements, trailer())

	return newStream(Coalesce(elements)), nil
}
