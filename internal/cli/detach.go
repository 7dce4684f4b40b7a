package cli

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/nace/diskimg/internal/device"
	"github.com/nace/diskimg/internal/udisks"
	"github.com/spf13/cobra"
)

// DetachCommand handles releasing and detaching loop devices
type DetachCommand struct {
	ctx         *GlobalContext
	releaseOnly bool
}

// NewDetachCommand creates the detach command
func NewDetachCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &DetachCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "detach <image|device>...",
		Short: "Unmount, lock and detach loop devices",
		Long: `Release everything using the given images or devices, innermost first:
mounted filesystems are unmounted and unlocked encrypted devices are
locked. Loop devices are then detached.

An image argument selects every loop device backed by that file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.releaseOnly, "release-only", false, "Unmount and lock but keep loop devices attached")

	return cobraCmd
}

// Run executes the detach command
func (c *DetachCommand) Run(cmd *cobra.Command, args []string) error {
	return c.ctx.ReportError("Error detaching", c.execute(cmd.Context(), args))
}

func (c *DetachCommand) execute(ctx context.Context, args []string) error {
	client, err := c.ctx.Storage()
	if err != nil {
		return err
	}

	snap, err := client.Snapshot(ctx)
	if err != nil {
		return err
	}

	// Step 1: collect roots
	var roots []*udisks.Object
	seen := map[dbus.ObjectPath]bool{}
	for _, arg := range args {
		objs, err := findObjects(ctx, client, snap, arg)
		if err != nil {
			return err
		}
		for _, obj := range objs {
			if !seen[obj.Path] {
				roots = append(roots, obj)
				seen[obj.Path] = true
			}
		}
	}

	// Step 2: release all of them before detaching any
	paths := make([]dbus.ObjectPath, 0, len(roots))
	for _, root := range roots {
		paths = append(paths, root.Path)
	}
	c.ctx.Logger.Info("Releasing %d device(s)...", len(paths))
	if err := device.NewOrchestrator(client, c.ctx.Logger).UnuseAll(ctx, paths); err != nil {
		return err
	}

	if c.releaseOnly {
		c.ctx.Logger.Success("Released %d device(s)", len(paths))
		return nil
	}

	// Step 3: detach loop devices
	loops, err := c.ctx.LoopManager()
	if err != nil {
		return err
	}
	detached := map[dbus.ObjectPath]bool{}
	for _, root := range roots {
		loop := snap.LoopForBlock(root)
		if loop == nil {
			return fmt.Errorf("%s is not a loop device", root.DeviceName())
		}
		if detached[loop.Path] {
			continue
		}
		detached[loop.Path] = true
		c.ctx.Logger.Info("Detaching %s...", loop.DeviceName())
		if err := loops.Detach(ctx, loop.Path); err != nil {
			return err
		}
		c.ctx.Logger.Success("Detached %s (%s)", loop.DeviceName(), loop.Loop.BackingFile)
	}

	return nil
}
