package vhd

import (
	"log"

	"github.com/pkg/errors"
)

// VHD is the assembled in-memory state of one VHD file: footer, sparse
// header, BAT, optional BATmap, and — for a differencing disk — a
// recursive parent VHD opened through its own Handle. bitmapCache is a
// one-entry memo of the last (block index, bitmap) pair read, a pure
// performance aid for sequential access; it is not part of the
// persisted format.
type VHD struct {
	Filename string
	Backend  Backend
	Handle   Handle

	Footer Footer
	Header Header // zero value for a Fixed disk
	BAT    *BAT
	BATmap *BATmap // nil if the image carries no BATmap

	Parent *VHD

	bitmapCache bitmapCacheEntry
}

type bitmapCacheEntry struct {
	valid bool
	block int
	data  []byte
}

// IsFixed, IsDynamic, and IsDifferencing classify the open VHD by its
// footer's disk_type.
func (v *VHD) IsFixed() bool        { return v.Footer.DiskType == DiskTypeFixed }
func (v *VHD) IsDynamic() bool      { return v.Footer.DiskType == DiskTypeDynamic }
func (v *VHD) IsDifferencing() bool { return v.Footer.DiskType == DiskTypeDifferencing }

// BlockSizeSectors returns the number of sectors per block (2^shift).
func (v *VHD) BlockSizeSectors() uint32 {
	return v.Header.BlockSizeSectors()
}

// OpenFile opens filename (and, transitively, its parent chain for a
// differencing disk) using backend, searching searchPath for any
// parent file that is not found at its recorded locator path.
//
// Each layer of a differencing chain gets its own freshly opened
// Handle to its parent file — a child never shares its own handle
// with its parent.
func OpenFile(backend Backend, filename string, searchPath []string) (*VHD, error) {
	h, err := backend.OpenFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: open %s", filename)
	}

	v, err := openHandle(backend, filename, h, searchPath)
	if err != nil {
		_ = backend.Close(h)
		return nil, err
	}
	return v, nil
}

func openHandle(backend Backend, filename string, h Handle, searchPath []string) (*VHD, error) {
	footerBuf, err := h.ReallyRead(0, FooterSize)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: read head footer of %s", filename)
	}
	footer, err := unmarshalFooter(footerBuf)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: parse head footer of %s", filename)
	}

	v := &VHD{
		Filename: filename,
		Backend:  backend,
		Handle:   h,
		Footer:   footer,
	}

	if footer.DiskType == DiskTypeFixed {
		return v, nil
	}

	headerBuf, err := h.ReallyRead(int64(footer.DataOffset), HeaderSize)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: read sparse header of %s", filename)
	}
	header, err := unmarshalHeader(headerBuf)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: parse sparse header of %s", filename)
	}
	v.Header = header

	if header.MaxTableEntries > maxTableEntriesCap {
		return nil, &StructuralError{Reason: "max_table_entries exceeds implementation cap"}
	}
	if header.BlockSize == 0 || header.BlockSize&(header.BlockSize-1) != 0 {
		return nil, &StructuralError{Reason: "block_size is not a power of two"}
	}
	if uint64(header.MaxTableEntries)*uint64(header.BlockSize) < footer.CurrentSize {
		return nil, &StructuralError{Reason: "max_table_entries * block_size < current_size"}
	}

	batBuf, err := h.ReallyRead(int64(header.TableOffset), batByteSize(header.MaxTableEntries))
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: read BAT of %s", filename)
	}
	bat, err := unmarshalBAT(batBuf, header.MaxTableEntries)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: parse BAT of %s", filename)
	}
	v.BAT = bat

	batmapHeaderOffset := int64(header.TableOffset) + int64(batByteSize(header.MaxTableEntries))
	if bmBuf, err := h.ReallyRead(batmapHeaderOffset, BATmapHeaderSize); err == nil && string(bmBuf[0:8]) == batmapMagic {
		bmHeader, err := unmarshalBATmapHeader(bmBuf)
		if err != nil {
			return nil, errors.Wrapf(err, "vhd: parse BATmap header of %s", filename)
		}
		bits, err := h.ReallyRead(int64(bmHeader.Offset), int(bmHeader.Size)*SectorSize)
		if err != nil {
			return nil, errors.Wrapf(err, "vhd: read BATmap of %s", filename)
		}
		v.BATmap = &BATmap{Header: bmHeader, bits: bits}
	}

	if footer.DiskType != DiskTypeDifferencing {
		return v, nil
	}

	parent, err := openParent(backend, v, searchPath)
	if err != nil {
		return nil, err
	}
	v.Parent = parent

	if parent.Footer.UID != header.ParentUniqueID {
		log.Printf("vhd: warning: %s parent_unique_id %s does not match parent %s uid %s",
			filename, header.ParentUniqueID, parent.Filename, parent.Footer.UID)
	}

	return v, nil
}

// openParent resolves a differencing disk's parent filename through
// its header's parent locators, searching each candidate against
// searchPath, and recursively opens it with its own Handle.
func openParent(backend Backend, v *VHD, searchPath []string) (*VHD, error) {
	var lastErr error
	for _, loc := range v.Header.ParentLocators {
		if loc.IsEmpty() {
			continue
		}

		candidate, err := readParentLocatorName(backend, v.Handle, loc)
		if err != nil {
			lastErr = err
			continue
		}

		path, err := findOnSearchPath(backend, candidate, searchPath)
		if err != nil {
			lastErr = err
			continue
		}

		parent, err := OpenFile(backend, path, searchPath)
		if err != nil {
			lastErr = err
			continue
		}
		return parent, nil
	}

	if lastErr != nil {
		return nil, errors.Wrap(ErrParentNotFound, lastErr.Error())
	}
	return nil, ErrParentNotFound
}

func readParentLocatorName(backend Backend, h Handle, loc ParentLocator) (string, error) {
	raw, err := h.ReallyRead(int64(loc.PlatformDataOffset), int(loc.PlatformDataLength))
	if err != nil {
		return "", errors.Wrap(err, "vhd: read parent locator payload")
	}

	name := string(raw)
	if loc.PlatformCode == PlatformMacX {
		const prefix = "file://./"
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			name = name[len(prefix):]
		}
	} else {
		var err error
		name, err = decodeParentLocatorUTF16(raw)
		if err != nil {
			return "", err
		}
	}
	return name, nil
}

// decodeParentLocatorUTF16 decodes a Windows-style (Wi2r/Wi2k/W2ru/
// W2ku) parent locator payload, which is UTF-16 without a fixed-width
// field, so it is zero-padded to decodeUTF16BE's fixed width first.
func decodeParentLocatorUTF16(raw []byte) (string, error) {
	padded := make([]byte, len(raw)+(len(raw)%2))
	copy(padded, raw)
	// Reuse the fixed-width decoder by treating the payload as an
	// unterminated big-endian run: pad to 512 so the BOM-sniffing
	// logic applies uniformly; the zero padding ends the decoded name.
	// A payload longer than 512 bytes is truncated to 512.
	buf := make([]byte, parentUnicodeNameSize)
	copy(buf, padded)
	return decodeUTF16BE(buf)
}

func findOnSearchPath(backend Backend, candidate string, searchPath []string) (string, error) {
	if ok, _ := backend.Exists(candidate); ok {
		return candidate, nil
	}
	for _, dir := range searchPath {
		path := dir + "/" + candidate
		if ok, _ := backend.Exists(path); ok {
			return path, nil
		}
	}
	return "", errors.Errorf("vhd: parent %q not found on search path", candidate)
}

// Close closes this VHD's handle and, recursively, its parent chain,
// in order.
func (v *VHD) Close() error {
	var firstErr error
	if err := v.Backend.Close(v.Handle); err != nil {
		firstErr = err
	}
	if v.Parent != nil {
		if err := v.Parent.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
