package restore

import (
	"context"
	"io"
	"os"
	"unsafe"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

// Device is a target block device opened for writing
type Device interface {
	io.Writer
	io.Closer
	Fd() uintptr
}

// Target is a block device an image can be restored to
type Target interface {
	OpenForRestore(ctx context.Context) (Device, error)
	Format(ctx context.Context, fsType string) error
	Rescan(ctx context.Context) error
}

// BlockClient is the subset of the manager client a BlockTarget calls
type BlockClient interface {
	OpenForRestore(ctx context.Context, path dbus.ObjectPath) (*os.File, error)
	Format(ctx context.Context, path dbus.ObjectPath, fsType string) error
	Rescan(ctx context.Context, path dbus.ObjectPath) error
}

// BlockTarget is a block object of the storage manager
type BlockTarget struct {
	client BlockClient
	path   dbus.ObjectPath
}

// NewBlockTarget creates a target for the block object at path
func NewBlockTarget(client BlockClient, path dbus.ObjectPath) *BlockTarget {
	return &BlockTarget{client: client, path: path}
}

// OpenForRestore opens the device through the manager
func (t *BlockTarget) OpenForRestore(ctx context.Context) (Device, error) {
	f, err := t.client.OpenForRestore(ctx, t.path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Format formats the device with fsType
func (t *BlockTarget) Format(ctx context.Context, fsType string) error {
	return t.client.Format(ctx, t.path, fsType)
}

// Rescan makes the manager re-read the device
func (t *BlockTarget) Rescan(ctx context.Context) error {
	return t.client.Rescan(ctx, t.path)
}

// DeviceCapacity asks the kernel for the size of the opened block device
func DeviceCapacity(dev Device) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return size, nil
}
