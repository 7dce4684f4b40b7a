package inhibit

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	login1Name   = "org.freedesktop.login1"
	login1Path   = dbus.ObjectPath("/org/freedesktop/login1")
	inhibitCall  = "org.freedesktop.login1.Manager.Inhibit"
	modeBlock    = "block"
	defaultWhat  = "sleep:shutdown"
	fileNameBase = "inhibitor"
)

// Caller is the part of a bus object used to take the lock
type Caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Lock is a held logind inhibitor lock. Closing it releases the lock.
type Lock struct {
	file *os.File
	once sync.Once
	err  error
}

// Acquire takes a blocking sleep and shutdown inhibitor lock on the system
// bus connection
func Acquire(ctx context.Context, conn *dbus.Conn, who, why string) (*Lock, error) {
	return AcquireWith(ctx, conn.Object(login1Name, login1Path), defaultWhat, who, why)
}

// AcquireWith takes an inhibitor lock for what through obj
func AcquireWith(ctx context.Context, obj Caller, what, who, why string) (*Lock, error) {
	var fd dbus.UnixFD
	if err := obj.CallWithContext(ctx, inhibitCall, 0, what, who, why, modeBlock).Store(&fd); err != nil {
		return nil, fmt.Errorf("failed to inhibit %s: %w", what, err)
	}
	return &Lock{file: os.NewFile(uintptr(fd), fileNameBase)}, nil
}

// Close releases the lock
func (l *Lock) Close() error {
	l.once.Do(func() {
		if l.file != nil {
			l.err = l.file.Close()
		}
	})
	return l.err
}
