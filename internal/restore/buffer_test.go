package restore

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

func TestAlignedBuffer(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"chunk", ChunkSize},
		{"odd size", 1000},
		{"one page plus one", unix.Getpagesize() + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewAlignedBuffer(tt.size)
			if err != nil {
				t.Fatalf("NewAlignedBuffer() error = %v", err)
			}

			data := buf.Bytes()
			if len(data) != tt.size || buf.Len() != tt.size {
				t.Errorf("len = %d, want %d", len(data), tt.size)
			}
			if addr := uintptr(unsafe.Pointer(&data[0])); addr%uintptr(unix.Getpagesize()) != 0 {
				t.Errorf("buffer at %#x is not page aligned", addr)
			}
			data[0], data[len(data)-1] = 1, 2

			if err := buf.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if err := buf.Close(); err != nil {
				t.Errorf("second Close() error = %v", err)
			}
		})
	}
}

func TestAlignedBufferUseAfterClose(t *testing.T) {
	buf, err := NewAlignedBuffer(16)
	if err != nil {
		t.Fatal(err)
	}
	buf.Close()

	defer func() {
		if recover() == nil {
			t.Error("Bytes() after Close did not panic")
		}
	}()
	buf.Bytes()
}

func TestAlignedBufferInvalidSize(t *testing.T) {
	if _, err := NewAlignedBuffer(0); err == nil {
		t.Error("NewAlignedBuffer(0) error = nil")
	}
}
