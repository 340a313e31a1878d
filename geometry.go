package vhd

// geometry is the on-disk CHS (cylinder/head/sector) triple stored in
// the footer's disk_geometry field.
type geometry struct {
	Cylinders       uint16
	Heads           uint8
	SectorsPerTrack uint8
}

// encode packs the CHS triple into the footer's 4-byte big-endian
// disk_geometry representation: cylinders (2 bytes), heads (1 byte),
// sectors-per-track (1 byte).
func (g geometry) encode() uint32 {
	return uint32(g.Cylinders)<<16 | uint32(g.Heads)<<8 | uint32(g.SectorsPerTrack)
}

func decodeGeometry(v uint32) geometry {
	return geometry{
		Cylinders:       uint16(v >> 16),
		Heads:           uint8(v >> 8),
		SectorsPerTrack: uint8(v),
	}
}

// geometryForSectors derives the CHS geometry for a disk of the given
// total sector count using the classic VHD CHS-approximation table.
func geometryForSectors(totalSectors int64) geometry {
	const maxSectors = 65535 * 255 * 16
	if totalSectors > maxSectors {
		totalSectors = maxSectors
	}

	var spt, heads, cth int64
	if totalSectors > 65535*63*16 {
		spt = 255
		heads = 16
		cth = totalSectors / spt
	} else {
		spt = 17
		cth = totalSectors / spt
		heads = (cth + 1023) / 1024
		if heads < 4 {
			heads = 4
		}
		if cth >= heads*1024 || heads > 16 {
			spt = 31
			heads = 16
			cth = totalSectors / spt
		}
		if cth >= heads*1024 {
			spt = 63
			heads = 16
			cth = totalSectors / spt
		}
	}

	return geometry{
		Cylinders:       uint16(cth / heads),
		Heads:           uint8(heads),
		SectorsPerTrack: uint8(spt),
	}
}
