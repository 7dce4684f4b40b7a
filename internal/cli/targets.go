package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/nace/diskimg/internal/udisks"
)

const objectPathPrefix = "/org/freedesktop/UDisks2/"

// findObjects maps a command argument to storage objects. An image file
// maps to the loop devices backed by it, a device node or object path to
// its block object.
func findObjects(ctx context.Context, client StorageClient, snap *udisks.Snapshot, arg string) ([]*udisks.Object, error) {
	if strings.HasPrefix(arg, objectPathPrefix) {
		obj := snap.Object(dbus.ObjectPath(arg))
		if obj == nil {
			return nil, fmt.Errorf("no storage object at %s", arg)
		}
		return []*udisks.Object{obj}, nil
	}

	info, err := os.Stat(arg)
	if err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", arg, err)
	}

	if info.Mode().IsRegular() {
		resolved, err := filepath.EvalSymlinks(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", arg, err)
		}
		if abs, err := filepath.Abs(resolved); err == nil {
			resolved = abs
		}
		loops := snap.LoopsForFile(resolved)
		if len(loops) == 0 {
			return nil, fmt.Errorf("%s is not attached to a loop device", arg)
		}
		return loops, nil
	}

	if obj := snap.BlockForDevice(arg); obj != nil {
		return []*udisks.Object{obj}, nil
	}

	paths, err := client.ResolveDevice(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", arg, err)
	}
	for _, p := range paths {
		if obj := snap.Object(p); obj != nil {
			return []*udisks.Object{obj}, nil
		}
	}
	return nil, fmt.Errorf("no storage object for %s", arg)
}
