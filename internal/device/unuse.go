package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/nace/diskimg/internal/udisks"
)

// MaxUnuseSteps caps the number of release steps Unuse performs for one root
const MaxUnuseSteps = 64

// Stage descriptions reported with UnuseError
const (
	StageFind      = "Failed to find filesystem"
	StageAutoclear = "Error disabling autoclear for loop device"
	StageUnmount   = "Error unmounting filesystem"
	StageLock      = "Error locking device"
)

// ErrNoProgress is returned when releasing a device does not change its state
var ErrNoProgress = errors.New("device state did not change after release")

// UnuseError is a failed release step
type UnuseError struct {
	Stage string
	Err   error
}

func (e *UnuseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *UnuseError) Unwrap() error {
	return e.Err
}

// Usage is the innermost user of a device graph
type Usage struct {
	Filesystem *udisks.Object
	Encrypted  *udisks.Object
	// Last is false when the graph has more than one user
	Last bool
}

// InUse reports whether anything needs releasing
func (u Usage) InUse() bool {
	return u.Filesystem != nil || u.Encrypted != nil
}

// Classify scans graph from the end and records the first mounted
// filesystem or unlocked encrypted device. A second user clears Last.
// Without deep the scan stops at the first user.
func Classify(view View, graph []*udisks.Object, deep bool) Usage {
	usage := Usage{Last: true}
	found := false

scan:
	for i := len(graph) - 1; i >= 0; i-- {
		obj := graph[i]
		if obj.Block == nil {
			continue
		}

		if obj.IsMounted() {
			if found {
				usage.Last = false
				break scan
			}
			usage.Filesystem = obj
			found = true
		}

		if obj.Encrypted != nil && view.CleartextBlock(obj) != nil {
			if found {
				usage.Last = false
				break scan
			}
			usage.Encrypted = obj
			found = true
		}

		if found && !deep {
			break
		}
	}

	return usage
}

// Client is the subset of the manager client the orchestrator calls
type Client interface {
	Snapshot(ctx context.Context) (*udisks.Snapshot, error)
	Unmount(ctx context.Context, path dbus.ObjectPath) error
	Lock(ctx context.Context, path dbus.ObjectPath) error
	SetAutoclear(ctx context.Context, path dbus.ObjectPath, value bool) error
}

// Logger receives progress of release steps
type Logger interface {
	Debug(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}

// Orchestrator releases everything that keeps a device busy
type Orchestrator struct {
	client Client
	logger Logger
}

// NewOrchestrator creates an orchestrator; logger may be nil
func NewOrchestrator(client Client, logger Logger) *Orchestrator {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Orchestrator{client: client, logger: logger}
}

// Unuse releases root with a silent orchestrator
func Unuse(ctx context.Context, client Client, root dbus.ObjectPath) error {
	return NewOrchestrator(client, nil).Unuse(ctx, root)
}

// releaseStep identifies one release action so a repeat can be detected
type releaseStep struct {
	stage  string
	path   dbus.ObjectPath
	mounts int
}

// Unuse unmounts and locks everything below root, innermost first, until
// nothing uses it. Every step takes a fresh snapshot.
func (o *Orchestrator) Unuse(ctx context.Context, root dbus.ObjectPath) error {
	var previous releaseStep

	for step := 0; step < MaxUnuseSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Step 1: probe
		snap, err := o.client.Snapshot(ctx)
		if err != nil {
			return &UnuseError{Stage: StageFind, Err: err}
		}
		rootObj := snap.Object(root)
		if rootObj == nil {
			return &UnuseError{Stage: StageFind, Err: fmt.Errorf("object %s not found", root)}
		}
		graph, err := Resolve(snap, rootObj)
		if err != nil {
			return &UnuseError{Stage: StageFind, Err: err}
		}
		usage := Classify(snap, graph, false)
		if !usage.InUse() {
			return nil
		}

		// Step 2: keep an autoclear loop alive while its last user goes away
		if rootObj.Block != nil {
			if loop := snap.LoopForBlock(rootObj); loop != nil && loop.Loop.Autoclear {
				loopGraph, err := Resolve(snap, loop)
				if err != nil {
					return &UnuseError{Stage: StageFind, Err: err}
				}
				if Classify(snap, loopGraph, true).Last {
					next := releaseStep{stage: StageAutoclear, path: loop.Path}
					if next == previous {
						return &UnuseError{Stage: StageAutoclear, Err: ErrNoProgress}
					}
					o.logger.Debug("Disabling autoclear on %s", loop.DeviceName())
					if err := o.client.SetAutoclear(ctx, loop.Path, false); err != nil {
						return &UnuseError{Stage: StageAutoclear, Err: err}
					}
					previous = next
					continue
				}
			}
		}

		// Step 3 and 4: release the innermost user
		var next releaseStep
		switch {
		case usage.Filesystem != nil:
			fs := usage.Filesystem
			next = releaseStep{stage: StageUnmount, path: fs.Path, mounts: len(fs.Filesystem.MountPoints)}
			if next == previous {
				return &UnuseError{Stage: StageUnmount, Err: ErrNoProgress}
			}
			o.logger.Debug("Unmounting %s from %v", fs.DeviceName(), fs.Filesystem.MountPoints)
			if err := o.client.Unmount(ctx, fs.Path); err != nil {
				return &UnuseError{Stage: StageUnmount, Err: err}
			}
		default:
			enc := usage.Encrypted
			next = releaseStep{stage: StageLock, path: enc.Path}
			if next == previous {
				return &UnuseError{Stage: StageLock, Err: ErrNoProgress}
			}
			o.logger.Debug("Locking %s", enc.DeviceName())
			if err := o.client.Lock(ctx, enc.Path); err != nil {
				return &UnuseError{Stage: StageLock, Err: err}
			}
		}
		previous = next
	}

	return &UnuseError{Stage: StageFind, Err: ErrNoProgress}
}

// UnuseAll releases every root in order and stops at the first failure
func (o *Orchestrator) UnuseAll(ctx context.Context, roots []dbus.ObjectPath) error {
	for _, root := range roots {
		if err := o.Unuse(ctx, root); err != nil {
			return err
		}
	}
	return nil
}
