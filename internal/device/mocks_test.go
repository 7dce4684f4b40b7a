package device

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/nace/diskimg/internal/udisks"
)

// mockClient is a mock implementation of LoopClient for testing.
// Unmount and Lock change the stored objects the way the daemon would.
type mockClient struct {
	objects map[dbus.ObjectPath]*udisks.Object
	calls   []string

	unmountErr      error
	lockErr         error
	autoclearErr    error
	snapshotErr     error
	ignoreUnmount   bool
	nextLoop        dbus.ObjectPath
	loopSetupFile   string
	loopSetupRO     bool
	deletedLoopPath dbus.ObjectPath
}

func newMockClient(objects ...*udisks.Object) *mockClient {
	m := &mockClient{objects: make(map[dbus.ObjectPath]*udisks.Object)}
	for _, obj := range objects {
		m.objects[obj.Path] = obj
	}
	return m
}

func (m *mockClient) Snapshot(ctx context.Context) (*udisks.Snapshot, error) {
	m.calls = append(m.calls, "Snapshot")
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	objs := make([]*udisks.Object, 0, len(m.objects))
	for _, obj := range m.objects {
		objs = append(objs, obj)
	}
	return udisks.NewSnapshot(objs...), nil
}

func (m *mockClient) Unmount(ctx context.Context, path dbus.ObjectPath) error {
	m.calls = append(m.calls, "Unmount "+string(path))
	if m.unmountErr != nil {
		return m.unmountErr
	}
	obj, ok := m.objects[path]
	if !ok || obj.Filesystem == nil {
		return fmt.Errorf("no filesystem at %s", path)
	}
	if !m.ignoreUnmount {
		obj.Filesystem.MountPoints = nil
	}
	return nil
}

func (m *mockClient) Lock(ctx context.Context, path dbus.ObjectPath) error {
	m.calls = append(m.calls, "Lock "+string(path))
	if m.lockErr != nil {
		return m.lockErr
	}
	obj, ok := m.objects[path]
	if !ok || obj.Encrypted == nil {
		return fmt.Errorf("no encrypted device at %s", path)
	}
	for p, other := range m.objects {
		if other.Block != nil && other.Block.CryptoBackingDevice == path {
			delete(m.objects, p)
		}
	}
	obj.Encrypted.CleartextDevice = ""
	return nil
}

func (m *mockClient) SetAutoclear(ctx context.Context, path dbus.ObjectPath, value bool) error {
	m.calls = append(m.calls, fmt.Sprintf("SetAutoclear %s %v", path, value))
	if m.autoclearErr != nil {
		return m.autoclearErr
	}
	obj, ok := m.objects[path]
	if !ok || obj.Loop == nil {
		return fmt.Errorf("no loop device at %s", path)
	}
	obj.Loop.Autoclear = value
	return nil
}

func (m *mockClient) LoopSetup(ctx context.Context, file *os.File, readOnly bool) (dbus.ObjectPath, error) {
	m.calls = append(m.calls, "LoopSetup")
	m.loopSetupFile = file.Name()
	m.loopSetupRO = readOnly
	m.objects[m.nextLoop] = &udisks.Object{
		Path:  m.nextLoop,
		Block: &udisks.Block{Device: "/dev/loop7"},
		Loop:  &udisks.Loop{BackingFile: file.Name()},
	}
	return m.nextLoop, nil
}

func (m *mockClient) DeleteLoop(ctx context.Context, path dbus.ObjectPath) error {
	m.calls = append(m.calls, "DeleteLoop "+string(path))
	m.deletedLoopPath = path
	delete(m.objects, path)
	return nil
}

// countCalls counts recorded calls with the given prefix
func (m *mockClient) countCalls(prefix string) int {
	n := 0
	for _, c := range m.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// encryptedLoopImage builds a loop device with one plain partition and one
// unlocked LUKS partition whose cleartext filesystem is mounted
func encryptedLoopImage(autoclear bool) []*udisks.Object {
	return []*udisks.Object{
		{
			Path:           "/block/loop0",
			Block:          &udisks.Block{Device: "/dev/loop0"},
			Loop:           &udisks.Loop{BackingFile: "/img/disk.img", Autoclear: autoclear},
			PartitionTable: &udisks.PartitionTable{Type: "gpt"},
		},
		{
			Path:       "/block/loop0p1",
			Block:      &udisks.Block{Device: "/dev/loop0p1"},
			Partition:  &udisks.Partition{Number: 1, Table: "/block/loop0"},
			Filesystem: &udisks.Filesystem{},
		},
		{
			Path:      "/block/loop0p2",
			Block:     &udisks.Block{Device: "/dev/loop0p2"},
			Partition: &udisks.Partition{Number: 2, Table: "/block/loop0"},
			Encrypted: &udisks.Encrypted{CleartextDevice: "/block/dm_0"},
		},
		{
			Path:       "/block/dm_0",
			Block:      &udisks.Block{Device: "/dev/dm-0", CryptoBackingDevice: "/block/loop0p2"},
			Filesystem: &udisks.Filesystem{MountPoints: []string{"/media/secret"}},
		},
	}
}
