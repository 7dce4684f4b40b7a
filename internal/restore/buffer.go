package restore

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ChunkSize is the size of the transfer buffer
const ChunkSize = 1 << 20

// AlignedBuffer is a page-aligned transfer buffer allocated outside the Go
// heap with an anonymous mmap. Close unmaps it and is idempotent.
type AlignedBuffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewAlignedBuffer maps size bytes, rounded up to the page size
func NewAlignedBuffer(size int) (*AlignedBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", size)
	}

	page := unix.Getpagesize()
	mapped := (size + page - 1) / page * page

	data, err := unix.Mmap(-1, 0, mapped, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to map transfer buffer: %w", err)
	}

	return &AlignedBuffer{data: data[:size:mapped]}, nil
}

// Bytes returns the buffer. Panics after Close.
func (b *AlignedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("restore: use of closed transfer buffer")
	}
	return b.data
}

// Len returns the usable size
func (b *AlignedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.data)
}

// Close unmaps the buffer
func (b *AlignedBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	err := unix.Munmap(b.data[:cap(b.data)])
	b.data = nil
	if err != nil {
		return fmt.Errorf("failed to unmap transfer buffer: %w", err)
	}
	return nil
}
