package vhd

// Raw produces the logical-disk-image stream for v: for every
// included block, per-sector, either Copy the physical sector or emit
// one Empty. When from is non-nil, only the blocks
// that differ between v's chain and from's chain are walked
// per-sector; every other block contributes a single Empty run.
func Raw(v *VHD, from *VHD) (*Stream, error) {
	if v.IsFixed() {
		return rawFixed(v)
	}

	included, err := inclusionSet(v, from)
	if err != nil {
		return nil, err
	}

	totalSectors := int64(v.Footer.CurrentSize) / SectorSize
	blockSectors := int64(v.BlockSizeSectors())
	totalBlocks := (totalSectors + blockSectors - 1) / blockSectors

	var elements []Element
	for block := int64(0); block < totalBlocks; block++ {
		blockStart := block * blockSectors
		blockEnd := blockStart + blockSectors
		if blockEnd > totalSectors {
			blockEnd = totalSectors
		}
		nSectors := blockEnd - blockStart

		if !included[int(block)] {
			elements = append(elements, emptyElem(nSectors))
			continue
		}

		for s := blockStart; s < blockEnd; s++ {
			owner, physical, ok, err := Locate(v, s)
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

	return newStream(Coalesce(elements)), nil
}

// rawFixed streams a fixed disk's raw data region verbatim: a fixed
// VHD has no BAT, so the entire file (minus its trailing footer) is
// already the logical disk image.
func rawFixed(v *VHD) (*Stream, error) {
	totalSectors := int64(v.Footer.CurrentSize) / SectorSize
	elements := []Element{copyElem(v.Handle, 0, totalSectors)}
	return newStream(elements), nil
}

// inclusionSet computes the set of block indices (over v's own block
// grid) to walk per-sector for Raw/VHD streaming: with no from, every
// block any layer of the chain has allocated; with a from, only the
// blocks that differ between the two chains.
func inclusionSet(v *VHD, from *VHD) (map[int]bool, error) {
	blockSectors := int64(v.BlockSizeSectors())
	totalSectors := int64(v.Footer.CurrentSize) / SectorSize
	totalBlocks := int((totalSectors + blockSectors - 1) / blockSectors)

	included := make(map[int]bool, totalBlocks)

	if from == nil {
		for _, layer := range chainLayers(v) {
			if layer.IsFixed() {
				continue
			}
			for i := 0; i < layer.BAT.Length() && i < totalBlocks; i++ {
				if layer.BAT.Get(i) != BATUnused {
					included[i] = true
				}
			}
		}
		return included, nil
	}

	symDiff := symmetricDifferenceLayers(chainLayers(v), chainLayers(from))
	for _, layer := range symDiff {
		if layer.IsFixed() {
			continue
		}
		for i := 0; i < layer.BAT.Length() && i < totalBlocks; i++ {
			if layer.BAT.Get(i) != BATUnused {
				included[i] = true
			}
		}
	}
	return included, nil
}

// chainLayers returns v and its ancestors, nearest first.
func chainLayers(v *VHD) []*VHD {
	var out []*VHD
	for cur := v; cur != nil; cur = cur.Parent {
		out = append(out, cur)
	}
	return out
}

// symmetricDifferenceLayers returns the layers (identified by
// filename) present in exactly one of the two chains: let t and f be
// the ordered layer lists of each chain; a layer contributes to the
// delta iff it appears in exactly one of them.
func symmetricDifferenceLayers(t, f []*VHD) []*VHD {
	tNames := make(map[string]bool, len(t))
	for _, l := range t {
		tNames[l.Filename] = true
	}
	fNames := make(map[string]bool, len(f))
	for _, l := range f {
		fNames[l.Filename] = true
	}

	var out []*VHD
	for _, l := range t {
		if !fNames[l.Filename] {
			out = append(out, l)
		}
	}
	for _, l := range f {
		if !tNames[l.Filename] {
			out = append(out, l)
		}
	}
	return out
}
