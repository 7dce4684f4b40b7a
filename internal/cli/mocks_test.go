package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/nace/diskimg/internal/config"
	"github.com/nace/diskimg/internal/job"
	"github.com/nace/diskimg/internal/restore"
	"github.com/nace/diskimg/internal/udisks"
	"github.com/nace/diskimg/internal/ui"
)

const (
	pathLoop0   = "/org/freedesktop/UDisks2/block_devices/loop0"
	pathLoop0p1 = "/org/freedesktop/UDisks2/block_devices/loop0p1"
	pathSdb     = "/org/freedesktop/UDisks2/block_devices/sdb"
)

// fakeStorage is a mock implementation of StorageClient for testing.
// Unmount, LoopSetup and DeleteLoop change the stored objects the way the
// daemon would.
type fakeStorage struct {
	objects map[dbus.ObjectPath]*udisks.Object
	calls   []string

	unmountErr    error
	loopSetupFail int
	loopSetups    int
	loopSetupRO   []bool

	// restoreFile is handed out by OpenForRestore
	restoreFile  string
	restoreFlag  int
	inhibitWhy   []string
	inhibitCount int
}

func newFakeStorage(objects ...*udisks.Object) *fakeStorage {
	f := &fakeStorage{
		objects:     make(map[dbus.ObjectPath]*udisks.Object),
		restoreFlag: os.O_RDWR,
	}
	for _, obj := range objects {
		f.objects[obj.Path] = obj
	}
	return f
}

func (f *fakeStorage) Snapshot(ctx context.Context) (*udisks.Snapshot, error) {
	f.calls = append(f.calls, "Snapshot")
	objs := make([]*udisks.Object, 0, len(f.objects))
	for _, obj := range f.objects {
		objs = append(objs, obj)
	}
	return udisks.NewSnapshot(objs...), nil
}

func (f *fakeStorage) Unmount(ctx context.Context, path dbus.ObjectPath) error {
	f.calls = append(f.calls, "Unmount "+string(path))
	if f.unmountErr != nil {
		return f.unmountErr
	}
	obj, ok := f.objects[path]
	if !ok || obj.Filesystem == nil {
		return fmt.Errorf("no filesystem at %s", path)
	}
	obj.Filesystem.MountPoints = nil
	return nil
}

func (f *fakeStorage) Lock(ctx context.Context, path dbus.ObjectPath) error {
	f.calls = append(f.calls, "Lock "+string(path))
	return nil
}

func (f *fakeStorage) SetAutoclear(ctx context.Context, path dbus.ObjectPath, value bool) error {
	f.calls = append(f.calls, fmt.Sprintf("SetAutoclear %s %v", path, value))
	if obj, ok := f.objects[path]; ok && obj.Loop != nil {
		obj.Loop.Autoclear = value
	}
	return nil
}

func (f *fakeStorage) LoopSetup(ctx context.Context, file *os.File, readOnly bool) (dbus.ObjectPath, error) {
	f.calls = append(f.calls, "LoopSetup "+file.Name())
	f.loopSetups++
	if f.loopSetups == f.loopSetupFail {
		return "", &udisks.Error{Name: "org.freedesktop.UDisks2.Error.Failed", Message: "no free loop device"}
	}
	f.loopSetupRO = append(f.loopSetupRO, readOnly)

	path := dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/UDisks2/block_devices/loop%d", 6+f.loopSetups))
	f.objects[path] = &udisks.Object{
		Path:  path,
		Block: &udisks.Block{Device: fmt.Sprintf("/dev/loop%d", 6+f.loopSetups), ReadOnly: readOnly},
		Loop:  &udisks.Loop{BackingFile: file.Name()},
	}
	return path, nil
}

func (f *fakeStorage) DeleteLoop(ctx context.Context, path dbus.ObjectPath) error {
	f.calls = append(f.calls, "DeleteLoop "+string(path))
	delete(f.objects, path)
	return nil
}

func (f *fakeStorage) ResolveDevice(ctx context.Context, device string) ([]dbus.ObjectPath, error) {
	f.calls = append(f.calls, "ResolveDevice "+device)
	return nil, nil
}

func (f *fakeStorage) OpenForRestore(ctx context.Context, path dbus.ObjectPath) (*os.File, error) {
	f.calls = append(f.calls, "OpenForRestore "+string(path))
	return os.OpenFile(f.restoreFile, f.restoreFlag, 0)
}

func (f *fakeStorage) Format(ctx context.Context, path dbus.ObjectPath, fsType string) error {
	f.calls = append(f.calls, "Format "+string(path)+" "+fsType)
	return nil
}

func (f *fakeStorage) Rescan(ctx context.Context, path dbus.ObjectPath) error {
	f.calls = append(f.calls, "Rescan "+string(path))
	return nil
}

func (f *fakeStorage) inhibit(ctx context.Context, why string) (io.Closer, error) {
	f.inhibitWhy = append(f.inhibitWhy, why)
	f.inhibitCount++
	return closerFunc(func() error {
		f.inhibitCount--
		return nil
	}), nil
}

// hasCall reports whether a call with the given prefix was recorded
func (f *fakeStorage) hasCall(prefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// lockedSink keeps progress updates from another goroutine
type lockedSink struct {
	mu      sync.Mutex
	updates []restore.Progress
}

func (s *lockedSink) Update(p restore.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, p)
}

func (s *lockedSink) all() []restore.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]restore.Progress(nil), s.updates...)
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

// newTestContext returns a context wired to client. Standard output and
// the log go to the returned buffers.
func newTestContext(t *testing.T, client *fakeStorage) (*GlobalContext, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	ctx := &GlobalContext{
		Logger: &ui.Logger{NoColor: true, Out: errOut},
		Viper:  config.New(),
		Config: &config.Config{
			UpdateInterval: time.Millisecond,
			SlackWarning:   restore.DefaultSlackWarning,
			InhibitSuspend: true,
			Output:         config.OutputTable,
		},
		Jobs: job.NewRegistry(),
		In:   strings.NewReader(""),
		Out:  out,
		Err:  errOut,
		Connect: func(*config.Config) (StorageClient, Inhibitor, error) {
			return client, client.inhibit, nil
		},
	}
	return ctx, out, errOut
}

// attachedImage builds a loop device backed by backing with one ext4
// partition, mounted when mountPoint is set
func attachedImage(backing, mountPoint string) []*udisks.Object {
	var mounts []string
	if mountPoint != "" {
		mounts = []string{mountPoint}
	}
	return []*udisks.Object{
		{
			Path:           pathLoop0,
			Block:          &udisks.Block{Device: "/dev/loop0", Size: 8 << 20},
			Loop:           &udisks.Loop{BackingFile: backing},
			PartitionTable: &udisks.PartitionTable{Type: "gpt"},
		},
		{
			Path:       pathLoop0p1,
			Block:      &udisks.Block{Device: "/dev/loop0p1", Size: 4 << 20, IDUsage: "filesystem", IDType: "ext4"},
			Partition:  &udisks.Partition{Number: 1, Table: pathLoop0},
			Filesystem: &udisks.Filesystem{MountPoints: mounts},
		},
	}
}

// writeFile writes data to name in a fresh temp dir and returns the
// resolved path
func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}
