package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	xzHeaderSize = 12
	xzFooterSize = 12
)

var (
	xzHeaderMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	xzFooterMagic = []byte{'Y', 'Z'}
)

// ErrNotCompressed is returned when the uncompressed size of an image
// cannot be read from its XZ index
var ErrNotCompressed = errors.New("file does not appear to be compressed")

// UncompressedSize returns the sum of the uncompressed sizes recorded in
// the indexes of every XZ stream in r. Nothing is decompressed; the
// streams are walked backwards from the end of the file.
func UncompressedSize(r io.ReadSeeker) (uint64, error) {
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to seek: %w", err)
	}
	if end == 0 {
		return 0, fmt.Errorf("%w: empty file", ErrNotCompressed)
	}

	var total uint64
	pos := end
	streams := 0
	for pos > 0 {
		if pos < xzHeaderSize+xzFooterSize {
			return 0, fmt.Errorf("%w: truncated stream at offset %d", ErrNotCompressed, pos)
		}

		footer := make([]byte, xzFooterSize)
		if err := readAt(r, footer, pos-xzFooterSize); err != nil {
			return 0, err
		}

		// Stream padding comes in zeroed 4-byte words
		if bytes.Equal(footer[8:], []byte{0, 0, 0, 0}) {
			if streams == 0 && pos%4 != 0 {
				return 0, fmt.Errorf("%w: misaligned padding", ErrNotCompressed)
			}
			pos -= 4
			continue
		}

		backward, err := parseFooter(footer)
		if err != nil {
			return 0, err
		}

		indexStart := pos - xzFooterSize - backward
		if indexStart < xzHeaderSize {
			return 0, fmt.Errorf("%w: index size out of range", ErrNotCompressed)
		}
		index := make([]byte, backward)
		if err := readAt(r, index, indexStart); err != nil {
			return 0, err
		}

		uncompressed, blocks, err := parseIndex(index)
		if err != nil {
			return 0, err
		}

		streamStart := indexStart - blocks - xzHeaderSize
		if streamStart < 0 {
			return 0, fmt.Errorf("%w: block sizes out of range", ErrNotCompressed)
		}
		header := make([]byte, len(xzHeaderMagic))
		if err := readAt(r, header, streamStart); err != nil {
			return 0, err
		}
		if !bytes.Equal(header, xzHeaderMagic) {
			return 0, fmt.Errorf("%w: no stream header at offset %d", ErrNotCompressed, streamStart)
		}

		total += uncompressed
		pos = streamStart
		streams++
	}

	return total, nil
}

func readAt(r io.ReadSeeker, buf []byte, off int64) error {
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrNotCompressed, err)
	}
	return nil
}

// parseFooter validates a stream footer and returns the index size
func parseFooter(footer []byte) (int64, error) {
	if !bytes.Equal(footer[10:], xzFooterMagic) {
		return 0, fmt.Errorf("%w: bad footer magic", ErrNotCompressed)
	}
	if crc32.ChecksumIEEE(footer[4:10]) != binary.LittleEndian.Uint32(footer[0:4]) {
		return 0, fmt.Errorf("%w: footer checksum mismatch", ErrNotCompressed)
	}
	return (int64(binary.LittleEndian.Uint32(footer[4:8])) + 1) * 4, nil
}

// parseIndex returns the uncompressed size of a stream and the size of its
// blocks including block padding
func parseIndex(index []byte) (uint64, int64, error) {
	if len(index) < 8 || index[0] != 0x00 {
		return 0, 0, fmt.Errorf("%w: bad index indicator", ErrNotCompressed)
	}
	body := index[:len(index)-4]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(index[len(index)-4:]) {
		return 0, 0, fmt.Errorf("%w: index checksum mismatch", ErrNotCompressed)
	}

	off := 1
	count, err := readVarint(body, &off)
	if err != nil {
		return 0, 0, err
	}

	var uncompressed uint64
	var blocks int64
	for i := uint64(0); i < count; i++ {
		unpadded, err := readVarint(body, &off)
		if err != nil {
			return 0, 0, err
		}
		size, err := readVarint(body, &off)
		if err != nil {
			return 0, 0, err
		}
		if unpadded == 0 || unpadded > 1<<62 {
			return 0, 0, fmt.Errorf("%w: bad block size", ErrNotCompressed)
		}
		blocks += int64((unpadded + 3) &^ 3)
		uncompressed += size
	}

	for ; off < len(body); off++ {
		if body[off] != 0 {
			return 0, 0, fmt.Errorf("%w: bad index padding", ErrNotCompressed)
		}
	}
	if off%4 != 0 {
		return 0, 0, fmt.Errorf("%w: misaligned index", ErrNotCompressed)
	}

	return uncompressed, blocks, nil
}

// readVarint decodes an XZ multibyte integer at *off
func readVarint(buf []byte, off *int) (uint64, error) {
	var v uint64
	for i := 0; i < 9; i++ {
		if *off >= len(buf) {
			return 0, fmt.Errorf("%w: truncated index", ErrNotCompressed)
		}
		b := buf[*off]
		*off++
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if b == 0 && i > 0 {
				return 0, fmt.Errorf("%w: overlong integer", ErrNotCompressed)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: integer too long", ErrNotCompressed)
}
