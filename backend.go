package vhd

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Backend is the I/O capability set the core requires. The
// core never touches a filesystem, a goroutine, or a clock directly:
// every blocking operation goes through a Backend so a caller can
// substitute an async scheduler, a test double, or a different
// storage medium without touching the codec, resolver, or writer.
//
// All read/write operations guarantee full transfer or failure — no
// short I/O.
type Backend interface {
	Alloc(n int) []byte

	Exists(path string) (bool, error)
	GetFileSize(path string) (int64, error)
	GetModificationTime(path string) (uint32, error)
	Now() uint32

	Create(path string) (Handle, error)
	OpenFile(path string) (Handle, error)
	Close(h Handle) error
}

// Handle is an open file-like resource returned by Backend.Create /
// Backend.OpenFile.
type Handle interface {
	ReallyRead(offset int64, length int) ([]byte, error)
	ReallyReadInto(offset int64, buf []byte) error
	ReallyWrite(offset int64, buf []byte) error
}

// osBackend is the default Backend implementation, backed directly by
// the local filesystem via package os. The package's own tests use an
// in-memory Backend instead. CreateDynamic, CreateDifferencing, and
// OpenFile take their Backend as an explicit argument and do not
// substitute this one when it is nil.
type osBackend struct{}

// NewOSBackend returns the default os-backed Backend.
func NewOSBackend() Backend {
	return osBackend{}
}

func (osBackend) Alloc(n int) []byte {
	return make([]byte, n)
}

func (osBackend) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "vhd: stat %s", path)
}

func (osBackend) GetFileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrapf(err, "vhd: stat %s", path)
	}
	return fi.Size(), nil
}

func (osBackend) GetModificationTime(path string) (uint32, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrapf(err, "vhd: stat %s", path)
	}
	return unixToVHDTime(fi.ModTime()), nil
}

func (osBackend) Now() uint32 {
	return unixToVHDTime(time.Now())
}

// vhdEpochOffset is the number of seconds between the Unix epoch and
// the VHD epoch (2000-01-01 UTC) that footer/header timestamp fields
// are relative to.
const vhdEpochOffset = 946684800

func unixToVHDTime(t time.Time) uint32 {
	return uint32(t.Unix() - vhdEpochOffset)
}

func (osBackend) Create(path string) (Handle, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: create %s", path)
	}
	return &osHandle{f: f}, nil
}

func (osBackend) OpenFile(path string) (Handle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "vhd: open %s", path)
	}
	return &osHandle{f: f}, nil
}

func (osBackend) Close(h Handle) error {
	oh, ok := h.(*osHandle)
	if !ok {
		return errors.New("vhd: handle not owned by this backend")
	}
	return oh.f.Close()
}

type osHandle struct {
	f *os.File
}

func (h *osHandle) ReallyRead(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if err := h.ReallyReadInto(offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (h *osHandle) ReallyReadInto(offset int64, buf []byte) error {
	n, err := h.f.ReadAt(buf, offset)
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return errors.Wrapf(err, "vhd: read %d bytes at %d", len(buf), offset)
	}
	if n != len(buf) {
		return errors.Errorf("vhd: short read at %d: got %d of %d bytes", offset, n, len(buf))
	}
	return nil
}

func (h *osHandle) ReallyWrite(offset int64, buf []byte) error {
	n, err := h.f.WriteAt(buf, offset)
	if err != nil {
		return errors.Wrapf(err, "vhd: write %d bytes at %d", len(buf), offset)
	}
	if n != len(buf) {
		return errors.Errorf("vhd: short write at %d: wrote %d of %d bytes", offset, n, len(buf))
	}
	return nil
}
