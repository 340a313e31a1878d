package vhd

import (
	"github.com/pkg/errors"
)

const (
	// DefaultBlockSize is the canonical 2 MiB block size.
	DefaultBlockSize = 2 << 20

	headFooterOffset           = 0
	sparseHeaderOffset         = 512
	parentLocatorPayloadOffset = 1536
	batOffset                  = 2048
)

// CreateOptions configures a newly created dynamic or differencing
// VHD. Unset fields take the defaults documented per-field.
type CreateOptions struct {
	// Filename is the path to create. Required.
	Filename string

	// Size is the virtual disk size in bytes. Required for a dynamic
	// disk; ignored for a differencing disk, whose size is inherited
	// from its parent.
	Size int64

	// UID, if the zero UUID, is generated fresh (V4).
	UID UUID

	// SavedState defaults to false.
	SavedState bool

	// Features defaults to no bits set.
	Features uint32

	// BlockSize defaults to DefaultBlockSize. Must be a power of two,
	// and, for CreateDifferencing, is always inherited from the
	// parent instead of taken from this field.
	BlockSize uint32
}

// CreateDynamic creates a new sparse VHD with zero-hole semantics for
// unallocated blocks.
func CreateDynamic(backend Backend, opts CreateOptions) (*VHD, error) {
	if opts.Filename == "" {
		return nil, errors.New("vhd: CreateOptions.Filename is required")
	}
	if opts.Size <= 0 {
		return nil, errors.New("vhd: CreateOptions.Size must be positive")
	}

	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize&(blockSize-1) != 0 || blockSize < SectorSize {
		return nil, errors.Errorf("vhd: block size %d is not a power of two >= %d", blockSize, SectorSize)
	}

	uid := opts.UID
	if uid.IsZero() {
		uid = newUUID()
	}

	maxEntries := uint32((opts.Size + int64(blockSize) - 1) / int64(blockSize))

	h, err := backend.Create(opts.Filename)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: create %s", opts.Filename)
	}

	v := &VHD{
		Filename: opts.Filename,
		Backend:  backend,
		Handle:   h,
		Footer:   newFooter(DiskTypeDynamic, opts.Size, backend.Now(), uid),
		Header: Header{
			TableOffset:     batOffset,
			MaxTableEntries: maxEntries,
			BlockSize:       blockSize,
		},
		BAT: newBAT(maxEntries),
	}
	v.Footer.Features = opts.Features
	v.Footer.SavedState = opts.SavedState
	v.Footer.DataOffset = sparseHeaderOffset

	if err := writeNewImage(v); err != nil {
		_ = backend.Close(h)
		return nil, err
	}

	return v, nil
}

// CreateDifferencing creates a new differencing VHD over parent,
// inheriting parent's block size and current size.
func CreateDifferencing(backend Backend, opts CreateOptions, parent *VHD) (*VHD, error) {
	if opts.Filename == "" {
		return nil, errors.New("vhd: CreateOptions.Filename is required")
	}
	if parent == nil {
		return nil, errors.New("vhd: CreateDifferencing requires a parent")
	}

	uid := opts.UID
	if uid.IsZero() {
		uid = newUUID()
	}

	blockSize := parent.Header.BlockSize
	maxEntries := uint32((int64(parent.Footer.CurrentSize) + int64(blockSize) - 1) / int64(blockSize))

	h, err := backend.Create(opts.Filename)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: create %s", opts.Filename)
	}

	v := &VHD{
		Filename: opts.Filename,
		Backend:  backend,
		Handle:   h,
		Footer:   newFooter(DiskTypeDifferencing, int64(parent.Footer.CurrentSize), backend.Now(), uid),
		Header: Header{
			TableOffset:     batOffset,
			MaxTableEntries: maxEntries,
			BlockSize:       blockSize,
			ParentUniqueID:  parent.Footer.UID,
			ParentTimeStamp: backend.Now(),
		},
		BAT:    newBAT(maxEntries),
		Parent: parent,
	}
	v.Footer.Features = opts.Features
	v.Footer.SavedState = opts.SavedState
	v.Footer.DataOffset = sparseHeaderOffset

	uri := macXParentLocatorURI(parent.Filename)
	v.Header.ParentLocators[0] = ParentLocator{
		PlatformCode:         PlatformMacX,
		PlatformDataSpaceRaw: 1, // one sector
		PlatformDataLength:   uint32(len(uri)),
		PlatformDataOffset:   parentLocatorPayloadOffset,
	}
	v.Header.ParentUnicodeName = parent.Filename

	if err := writeNewImage(v); err != nil {
		_ = backend.Close(h)
		return nil, err
	}

	if err := writeUnaligned(v.Handle, parentLocatorPayloadOffset, []byte(uri)); err != nil {
		_ = backend.Close(h)
		return nil, errors.Wrap(err, "vhd: write parent locator payload")
	}

	return v, nil
}

// writeNewImage performs the creation-time write sequence: head
// footer, sparse header, BAT (all-unused), trailing footer — in that
// order, so the file remains self-describing at every step.
func writeNewImage(v *VHD) error {
	footerBuf, footer := marshalFooter(v.Footer)
	v.Footer = footer
	if err := v.Handle.ReallyWrite(headFooterOffset, footerBuf[:]); err != nil {
		return errors.Wrap(err, "vhd: write head footer")
	}

	headerBuf, header, err := marshalHeader(v.Header)
	if err != nil {
		return errors.Wrap(err, "vhd: marshal sparse header")
	}
	v.Header = header
	if err := v.Handle.ReallyWrite(sparseHeaderOffset, headerBuf[:]); err != nil {
		return errors.Wrap(err, "vhd: write sparse header")
	}

	batBuf := marshalBAT(v.BAT)
	if err := v.Handle.ReallyWrite(int64(v.Header.TableOffset), batBuf); err != nil {
		return errors.Wrap(err, "vhd: write BAT")
	}

	if err := writeTrailingFooter(v); err != nil {
		return errors.Wrap(err, "vhd: write trailing footer")
	}

	return nil
}
