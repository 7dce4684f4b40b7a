package udisks

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	// BusName is the well-known name of the UDisks2 daemon
	BusName = "org.freedesktop.UDisks2"

	rootPath    dbus.ObjectPath = "/org/freedesktop/UDisks2"
	managerPath dbus.ObjectPath = "/org/freedesktop/UDisks2/Manager"

	objectManagerInterface = "org.freedesktop.DBus.ObjectManager"
)

// Options is the a{sv} options argument every manager method takes
type Options map[string]dbus.Variant

// StandardOptions returns the options passed with every call. When
// interactive is false the daemon is told not to raise an authorization
// dialog.
func StandardOptions(interactive bool) Options {
	opts := Options{}
	if !interactive {
		opts["auth.no_user_interaction"] = dbus.MakeVariant(true)
	}
	return opts
}

// Client talks to the UDisks2 daemon on the system bus
type Client struct {
	conn        *dbus.Conn
	Interactive bool
}

// Connect opens a client on the shared system bus connection
func Connect() (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient creates a client on an existing connection
func NewClient(conn *dbus.Conn) *Client {
	return &Client{conn: conn, Interactive: true}
}

// Conn returns the underlying bus connection
func (c *Client) Conn() *dbus.Conn {
	return c.conn
}

// Close closes the bus connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) options() Options {
	return StandardOptions(c.Interactive)
}

func (c *Client) call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	return c.conn.Object(BusName, path).CallWithContext(ctx, method, 0, args...)
}

// Snapshot fetches the whole object tree with GetManagedObjects
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	method := objectManagerInterface + ".GetManagedObjects"

	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := c.call(ctx, rootPath, method).Store(&managed); err != nil {
		return nil, wrapError(method, err)
	}
	return newSnapshotFromManaged(managed), nil
}

// LoopSetup creates a loop device backed by file. With readOnly the
// device is created read-only.
func (c *Client) LoopSetup(ctx context.Context, file *os.File, readOnly bool) (dbus.ObjectPath, error) {
	method := InterfaceManager + ".LoopSetup"

	opts := c.options()
	if readOnly {
		opts["read-only"] = dbus.MakeVariant(true)
	}

	var path dbus.ObjectPath
	if err := c.call(ctx, managerPath, method, dbus.UnixFD(file.Fd()), opts).Store(&path); err != nil {
		return "", wrapError(method, err)
	}
	return path, nil
}

// ResolveDevice returns the block objects matching a device node path
func (c *Client) ResolveDevice(ctx context.Context, device string) ([]dbus.ObjectPath, error) {
	method := InterfaceManager + ".ResolveDevice"

	devspec := Options{"path": dbus.MakeVariant(device)}
	var paths []dbus.ObjectPath
	if err := c.call(ctx, managerPath, method, devspec, c.options()).Store(&paths); err != nil {
		return nil, wrapError(method, err)
	}
	return paths, nil
}

// Unmount unmounts the filesystem on path with default options
func (c *Client) Unmount(ctx context.Context, path dbus.ObjectPath) error {
	method := InterfaceFilesystem + ".Unmount"
	return wrapError(method, c.call(ctx, path, method, c.options()).Err)
}

// Lock locks the encrypted device on path
func (c *Client) Lock(ctx context.Context, path dbus.ObjectPath) error {
	method := InterfaceEncrypted + ".Lock"
	return wrapError(method, c.call(ctx, path, method, c.options()).Err)
}

// SetAutoclear sets the autoclear flag of the loop device on path
func (c *Client) SetAutoclear(ctx context.Context, path dbus.ObjectPath, value bool) error {
	method := InterfaceLoop + ".SetAutoclear"
	return wrapError(method, c.call(ctx, path, method, value, c.options()).Err)
}

// DeleteLoop tears down the loop device on path
func (c *Client) DeleteLoop(ctx context.Context, path dbus.ObjectPath) error {
	method := InterfaceLoop + ".Delete"
	return wrapError(method, c.call(ctx, path, method, c.options()).Err)
}

// OpenForRestore opens the block device on path for writing a disk image
func (c *Client) OpenForRestore(ctx context.Context, path dbus.ObjectPath) (*os.File, error) {
	method := InterfaceBlock + ".OpenForRestore"

	var fd dbus.UnixFD
	if err := c.call(ctx, path, method, c.options()).Store(&fd); err != nil {
		return nil, wrapError(method, err)
	}
	return os.NewFile(uintptr(fd), string(path)), nil
}

// Format formats the block device on path with fsType
func (c *Client) Format(ctx context.Context, path dbus.ObjectPath, fsType string) error {
	method := InterfaceBlock + ".Format"
	return wrapError(method, c.call(ctx, path, method, fsType, c.options()).Err)
}

// Rescan asks the daemon to re-read the block device on path
func (c *Client) Rescan(ctx context.Context, path dbus.ObjectPath) error {
	method := InterfaceBlock + ".Rescan"
	return wrapError(method, c.call(ctx, path, method, c.options()).Err)
}
