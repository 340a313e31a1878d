package vhd

import (
	"fmt"
	"sync"
)

// memBackend is an in-memory Backend used throughout this package's
// tests, avoiding any dependency on a real filesystem.
type memBackend struct {
	mu    sync.Mutex
	files map[string]*memHandle
	clock uint32
}

func newMemBackend() *memBackend {
	return &memBackend{files: make(map[string]*memHandle)}
}

func (b *memBackend) Alloc(n int) []byte { return make([]byte, n) }

func (b *memBackend) Exists(path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.files[path]
	return ok, nil
}

func (b *memBackend) GetFileSize(path string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.files[path]
	if !ok {
		return 0, fmt.Errorf("vhd: %s not found", path)
	}
	return int64(len(h.data)), nil
}

func (b *memBackend) GetModificationTime(path string) (uint32, error) {
	return b.clock, nil
}

func (b *memBackend) Now() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock++
	return b.clock
}

func (b *memBackend) Create(path string) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := &memHandle{}
	b.files[path] = h
	return h, nil
}

func (b *memBackend) OpenFile(path string) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.files[path]
	if !ok {
		return nil, fmt.Errorf("vhd: %s not found", path)
	}
	return h, nil
}

func (b *memBackend) Close(h Handle) error { return nil }

// put registers an existing byte slice as a file, for tests that want
// to hand-construct a raw image.
func (b *memBackend) put(path string, data []byte) *memHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := &memHandle{data: append([]byte(nil), data...)}
	b.files[path] = h
	return h
}

// memHandle is an in-memory Handle backed by a growable byte slice.
type memHandle struct {
	mu   sync.Mutex
	data []byte
}

func (h *memHandle) ReallyRead(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if err := h.ReallyReadInto(offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (h *memHandle) ReallyReadInto(offset int64, buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	end := offset + int64(len(buf))
	if end > int64(len(h.data)) {
		return fmt.Errorf("vhd: read past end of file at %d (size %d)", end, len(h.data))
	}
	copy(buf, h.data[offset:end])
	return nil
}

func (h *memHandle) ReallyWrite(offset int64, buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	end := offset + int64(len(buf))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[offset:end], buf)
	return nil
}
