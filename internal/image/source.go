package image

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ulikunitz/xz"
)

// Content types of disk images
const (
	ContentTypeXZ             = "application/x-xz"
	ContentTypeRawDiskImageXZ = "application/x-raw-disk-image-xz-compressed"
)

// ErrNoPath is returned when no image path was given
var ErrNoPath = errors.New("no image path")

func init() {
	// Every XZ file is treated as a compressed raw disk image
	if xzType := mimetype.Lookup(ContentTypeXZ); xzType != nil {
		xzType.Extend(func(raw []byte, limit uint32) bool { return true }, ContentTypeRawDiskImageXZ, ".img.xz")
	}
}

// DetectContentType sniffs the content type of r from its leading bytes
func DetectContentType(r io.Reader) (string, error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to detect content type: %w", err)
	}
	return mt.String(), nil
}

// Mountable reports whether an image with contentType can be attached as a
// loop device. Only compressed raw disk images are refused.
func Mountable(contentType string) bool {
	return contentType != ContentTypeRawDiskImageXZ
}

// Compressed reports whether contentType is XZ compressed
func Compressed(contentType string) bool {
	return contentType == ContentTypeXZ || strings.HasSuffix(contentType, "-xz-compressed")
}

// Source is an image opened for reading. Reads of compressed images are
// decompressed.
type Source struct {
	Path string

	file        *os.File
	reader      io.Reader
	contentType string
	size        uint64
	sizeErr     error
}

// Open opens the image at path and works out its logical size. A failed
// size probe leaves Size at 0 and is reported by SizeErr.
func Open(path string) (*Source, error) {
	if path == "" {
		return nil, ErrNoPath
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	src, err := newSource(path, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return src, nil
}

func newSource(path string, file *os.File) (*Source, error) {
	contentType, err := DetectContentType(file)
	if err != nil {
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind image: %w", err)
	}

	src := &Source{
		Path:        path,
		file:        file,
		reader:      file,
		contentType: contentType,
	}

	if !Compressed(contentType) {
		info, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat image: %w", err)
		}
		src.size = uint64(info.Size())
		return src, nil
	}

	size, err := UncompressedSize(file)
	if err != nil {
		src.sizeErr = err
	} else {
		src.size = size
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind image: %w", err)
	}
	xr, err := xz.NewReader(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("failed to open XZ stream: %w", err)
	}
	src.reader = xr

	return src, nil
}

// Read reads logical image bytes
func (s *Source) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close closes the underlying file
func (s *Source) Close() error {
	return s.file.Close()
}

// Size returns the logical size, 0 when it could not be determined
func (s *Source) Size() uint64 {
	return s.size
}

// SizeErr returns the reason Size is unknown
func (s *Source) SizeErr() error {
	return s.sizeErr
}

// ContentType returns the sniffed content type
func (s *Source) ContentType() string {
	return s.contentType
}

// Compressed reports whether reads are decompressed
func (s *Source) Compressed() bool {
	return Compressed(s.contentType)
}
