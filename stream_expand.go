package vhd

// maxExpandChunkBytes bounds the size of any single Sectors chunk the
// expansion helpers materialize, so expanding a multi-gigabyte Empty
// run or Copy range never forces one unbounded allocation or read.
const maxExpandChunkBytes = 2 << 20

// ExpandEmpty rewrites an Empty element into one or more Sectors
// elements of up to maxExpandChunkBytes zero bytes each, for consumers
// that need concrete bytes rather than a count (e.g. writing to a sink
// with no sparse-hole concept). Size accounting is unaffected: the
// returned chunks together total the same Empty tally the element
// already contributed.
func ExpandEmpty(e Element) []Element {
	if e.Kind != KindEmpty {
		return nil
	}

	remaining := e.EmptyCount * SectorSize
	var out []Element
	for remaining > 0 {
		n := remaining
		if n > maxExpandChunkBytes {
			n = maxExpandChunkBytes
		}
		out = append(out, sectorsElem(make([]byte, n)))
		remaining -= n
	}
	return out
}

// ExpandCopy rewrites a Copy element into one or more Sectors elements
// by reading its referenced sectors from its source handle in windows
// of up to maxExpandChunkBytes, for consumers that need concrete bytes
// rather than a deferred read descriptor.
func ExpandCopy(e Element) ([]Element, error) {
	if e.Kind != KindCopy {
		return nil, nil
	}

	offset := e.CopyOffset * SectorSize
	remaining := e.CopyLen * SectorSize
	var out []Element
	for remaining > 0 {
		n := remaining
		if n > maxExpandChunkBytes {
			n = maxExpandChunkBytes
		}
		buf, err := e.CopySource.ReallyRead(offset, int(n))
		if err != nil {
			return nil, err
		}
		out = append(out, sectorsElem(buf))
		offset += n
		remaining -= n
	}
	return out, nil
}

// Expand resolves any element kind to one or more Sectors elements,
// reading through to the backend for Copy elements in bounded windows
// and materializing zeros for Empty elements in bounded chunks. A
// Sectors element is returned as a single-element slice unchanged.
func Expand(e Element) ([]Element, error) {
	switch e.Kind {
	case KindSectors:
		return []Element{e}, nil
	case KindEmpty:
		return ExpandEmpty(e), nil
	case KindCopy:
		return ExpandCopy(e)
	default:
		return nil, nil
	}
}

// WriteStream pulls every element from s, expands it into bounded
// chunks, and writes each chunk to w in order, returning the total
// bytes written.
func WriteStream(w interface{ Write([]byte) (int, error) }, s *Stream) (int64, error) {
	var total int64
	for {
		e, ok := s.Next()
		if !ok {
			return total, nil
		}
		chunks, err := Expand(e)
		if err != nil {
			return total, err
		}
		for _, c := range chunks {
			n, err := w.Write(c.Bytes)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
}
