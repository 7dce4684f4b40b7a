package system

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ValidateImagePath resolves an image path to its canonical absolute form
// and checks that it is a regular file the caller can open. With writable
// the file must also be writable.
func ValidateImagePath(path string, writable bool) (string, error) {
	// Resolve symlinks to canonical path
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("image not found: %s", path)
		}
		return "", fmt.Errorf("failed to resolve image path: %w", err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to resolve image path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("image not accessible: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("image must be a regular file: %s", resolved)
	}

	mode := uint32(unix.R_OK)
	if writable {
		mode |= unix.W_OK
	}
	if err := unix.Access(resolved, mode); err != nil {
		return "", fmt.Errorf("image %s is not accessible: %w", resolved, err)
	}

	return resolved, nil
}

// ValidateDevicePath checks that path names a block device and returns the
// resolved device node
func ValidateDevicePath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("device not found: %s", path)
		}
		return "", fmt.Errorf("failed to resolve device path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("device not accessible: %w", err)
	}
	if info.Mode()&os.ModeDevice == 0 || info.Mode()&os.ModeCharDevice != 0 {
		return "", fmt.Errorf("not a block device: %s", resolved)
	}
	return resolved, nil
}
