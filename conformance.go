package vhd

import (
	"fmt"
	"sort"
)

// region is a half-open byte range [Start, End) used by the overlap
// checker.
type region struct {
	Start int64
	End   int64
	Label string
}

// OverlapError reports two regions of a VHD file that occupy
// overlapping byte ranges, violating the requirement that every
// structural region of a VHD file occupy disjoint byte ranges.
type OverlapError struct {
	A, B region
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("vhd: %q [%d,%d) overlaps %q [%d,%d)",
		e.A.Label, e.A.Start, e.A.End, e.B.Label, e.B.Start, e.B.End)
}

// CheckOverlaps builds the sorted start/end list of every structural
// region in v (head footer, header, BAT, BATmap, allocated blocks)
// and reports the first pair that overlaps, if any. It does not
// recurse into v's parent — each layer of a chain is checked
// independently, since a parent's block offsets are irrelevant to a
// child's own file layout.
func CheckOverlaps(v *VHD) error {
	regions := collectRegions(v)

	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })

	for i := 1; i < len(regions); i++ {
		prev, cur := regions[i-1], regions[i]
		if cur.Start < prev.End {
			return &OverlapError{A: prev, B: cur}
		}
	}
	return nil
}

func collectRegions(v *VHD) []region {
	var regions []region

	if !v.IsFixed() {
		regions = append(regions, region{0, FooterSize, "head footer"})
		regions = append(regions, region{int64(v.Footer.DataOffset), int64(v.Footer.DataOffset) + HeaderSize, "sparse header"})

		batBytes := int64(batByteSize(uint32(v.BAT.Length())))
		batStart := int64(v.Header.TableOffset)
		regions = append(regions, region{batStart, batStart + batBytes, "BAT"})

		if v.BATmap != nil {
			bmStart := int64(v.BATmap.Header.Offset) - BATmapHeaderSize
			bmEnd := int64(v.BATmap.Header.Offset) + int64(v.BATmap.byteSizeSectors())*SectorSize
			regions = append(regions, region{bmStart, bmEnd, "BATmap"})
		}

		for _, loc := range v.Header.ParentLocators {
			if loc.IsEmpty() {
				continue
			}
			start := int64(loc.PlatformDataOffset)
			regions = append(regions, region{start, start + int64(loc.PlatformDataLength), "parent locator payload"})
		}

		blockSectors := v.BlockSizeSectors()
		bmSize := int64(bitmapSizeBytes(blockSectors))
		blockBytes := int64(v.Header.BlockSize)
		for i := 0; i < v.BAT.Length(); i++ {
			entry := v.BAT.Get(i)
			if entry == BATUnused {
				continue
			}
			start := int64(entry) * SectorSize
			regions = append(regions, region{start, start + bmSize + blockBytes, "block"})
		}
	}

	return regions
}
