package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/godbus/dbus/v5"
	"github.com/nace/diskimg/internal/udisks"
)

// LoopClient is the subset of the manager client the loop manager calls
type LoopClient interface {
	Client
	LoopSetup(ctx context.Context, file *os.File, readOnly bool) (dbus.ObjectPath, error)
	DeleteLoop(ctx context.Context, path dbus.ObjectPath) error
}

// LoopManager handles loop device operations
type LoopManager struct {
	client       LoopClient
	orchestrator *Orchestrator
}

// NewLoopManager creates a new loop manager
func NewLoopManager(client LoopClient, logger Logger) *LoopManager {
	return &LoopManager{
		client:       client,
		orchestrator: NewOrchestrator(client, logger),
	}
}

// Attach sets up a loop device backed by the image at path. The device is
// read-only unless writable is set.
func (m *LoopManager) Attach(ctx context.Context, path string, writable bool) (*udisks.Object, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}

	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// The daemon holds its own descriptor once LoopSetup returns
	defer file.Close()

	loopPath, err := m.client.LoopSetup(ctx, file, !writable)
	if err != nil {
		return nil, fmt.Errorf("failed to attach loop device: %w", err)
	}

	snap, err := m.client.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read loop device state: %w", err)
	}
	obj := snap.Object(loopPath)
	if obj == nil {
		return &udisks.Object{Path: loopPath}, nil
	}
	return obj, nil
}

// Detach releases everything on the loop device and deletes it
func (m *LoopManager) Detach(ctx context.Context, loop dbus.ObjectPath) error {
	if err := m.orchestrator.Unuse(ctx, loop); err != nil {
		return err
	}
	if err := m.client.DeleteLoop(ctx, loop); err != nil {
		return fmt.Errorf("failed to detach loop device %s: %w", loop, err)
	}
	return nil
}

// FindByFile finds the loop devices backed by the file at path
func (m *LoopManager) FindByFile(ctx context.Context, path string) ([]*udisks.Object, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	snap, err := m.client.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loop devices: %w", err)
	}
	return snap.LoopsForFile(abs), nil
}

// GetAll returns all loop devices that have a backing file
func (m *LoopManager) GetAll(ctx context.Context) ([]*udisks.Object, error) {
	snap, err := m.client.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loop devices: %w", err)
	}
	return snap.Loops(), nil
}
