package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/nace/diskimg/internal/device"
	"github.com/nace/diskimg/internal/image"
	"github.com/nace/diskimg/internal/job"
	"github.com/nace/diskimg/internal/restore"
	"github.com/nace/diskimg/internal/system"
	"github.com/nace/diskimg/internal/ui"
	"github.com/spf13/cobra"
)

// RestoreCommand handles writing disk images to block devices
type RestoreCommand struct {
	ctx *GlobalContext

	// Progress is shown when stderr is a terminal unless overridden
	showProgress func() bool
	capacity     func(dev restore.Device) (uint64, error)
}

// NewRestoreCommand creates the restore command
func NewRestoreCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &RestoreCommand{ctx: ctx, showProgress: stderrIsTerminal}

	cobraCmd := &cobra.Command{
		Use:   "restore <image> <device>",
		Short: "Write a disk image to a block device",
		Long: `Write a raw or XZ-compressed disk image to a block device. Everything on
the device is released first. If the copy fails or is interrupted the
device is wiped so no half-written filesystem is left behind.

Examples:
  # Restore a compressed image to a USB stick
  diskimg restore raspios.img.xz /dev/sdb

  # Skip the confirmation prompt
  diskimg restore --yes disk.img /dev/sdc`,
		Args: cobra.ExactArgs(2),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	_ = ctx.Viper.BindPFlag("assume-yes", cobraCmd.Flags().Lookup("yes"))

	return cobraCmd
}

func stderrIsTerminal() bool {
	return ui.IsTerminal(os.Stderr)
}

// Run executes the restore command
func (c *RestoreCommand) Run(cmd *cobra.Command, args []string) error {
	return c.ctx.ReportError("Error restoring disk image", c.execute(cmd.Context(), args[0], args[1]))
}

func (c *RestoreCommand) execute(ctx context.Context, imagePath, devicePath string) error {
	cleanup := system.NewCleanupStack()
	defer func() {
		if err := cleanup.Execute(); err != nil {
			c.ctx.Logger.Warning("Cleanup failed: %v", err)
		}
	}()

	// Step 1: open the image and work out its size
	path, err := system.ValidateImagePath(imagePath, false)
	if err != nil {
		return err
	}
	src, err := image.Open(path)
	if err != nil {
		return err
	}
	cleanup.Add("close image", src.Close)

	if err := src.SizeErr(); err != nil {
		if errors.Is(err, image.ErrNotCompressed) {
			c.ctx.Logger.Error("File does not appear to be compressed")
			c.ctx.Logger.Debug("%s: %v", path, err)
			return reported(err)
		}
		return fmt.Errorf("failed to determine uncompressed size: %w", err)
	}
	c.ctx.Logger.Debug("%s is %s (%s)", path, humanize.Bytes(src.Size()), src.ContentType())

	// Step 2: find the target
	if !strings.HasPrefix(devicePath, objectPathPrefix) {
		if devicePath, err = system.ValidateDevicePath(devicePath); err != nil {
			return err
		}
	}
	client, err := c.ctx.Storage()
	if err != nil {
		return err
	}
	snap, err := client.Snapshot(ctx)
	if err != nil {
		return err
	}
	objs, err := findObjects(ctx, client, snap, devicePath)
	if err != nil {
		return err
	}
	target := objs[0]
	if target.Block == nil && target.Drive != nil {
		if block := snap.BlockForDrive(target); block != nil {
			target = block
		}
	}
	if target.Block == nil {
		return fmt.Errorf("%s is not a block device", devicePath)
	}
	if target.Block.ReadOnly {
		return fmt.Errorf("%s is read-only", target.DeviceName())
	}

	// Step 3: size checks
	warning, err := restore.Validate(src.Size(), target.Block.Size, c.ctx.Config.SlackWarning)
	if err != nil {
		c.ctx.Logger.Error("%s", sizeProblem(err, src.Size(), target.Block.Size))
		return reported(err)
	}
	if warning != "" {
		c.ctx.Logger.Warning("%s", warning)
	}

	// Step 4: confirm
	if !c.ctx.Config.AssumeYes {
		fmt.Fprintf(c.ctx.Err, "All existing data on %s will be lost.\n", target.DeviceName())
		if !ui.Confirm(c.ctx.In, c.ctx.Err, "Are you sure you want to write the disk image to the device?") {
			c.ctx.Logger.Info("Restore cancelled")
			return nil
		}
	}

	// Step 5: release everything on the target
	if running := c.ctx.Jobs.Get(target.Path); running != nil {
		return fmt.Errorf("%s is busy with %s", target.DeviceName(), running.Operation)
	}
	c.ctx.Logger.Info("Releasing %s...", target.DeviceName())
	if err := device.NewOrchestrator(client, c.ctx.Logger).Unuse(ctx, target.Path); err != nil {
		return err
	}

	// Step 6: register the job and keep the system awake
	description := fmt.Sprintf("Restoring %s to %s", path, target.DeviceName())
	j, jobCtx, err := c.ctx.Jobs.Start(ctx, target.Path, restore.OperationRestore, description)
	if err != nil {
		return err
	}
	defer j.Finish()

	lock := c.ctx.Inhibit(ctx, "Copying disk image to device")
	cleanup.Add("release inhibitor", lock.Close)

	var bar *ui.ProgressBar
	stopBar := func() {}
	if !c.ctx.Logger.Quiet && c.showProgress() {
		bar = ui.NewProgressBar(c.ctx.Err, target.DeviceName(), src.Size())
		stopBar = followJob(j, bar)
	}

	// Step 7: copy
	engine := &restore.Engine{
		Logger:         c.ctx.Logger,
		Sink:           j,
		UpdateInterval: c.ctx.Config.UpdateInterval,
		Description:    description,
		Capacity:       c.capacity,
	}
	err = engine.Restore(jobCtx, src, src.Size(), restore.NewBlockTarget(client, target.Path))
	stopBar()
	if bar != nil {
		bar.Finish(err)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("restore interrupted, %s was wiped: %w", target.DeviceName(), err)
		}
		return err
	}

	c.ctx.Logger.Success("Restored %s to %s", path, target.DeviceName())
	return nil
}

// followJob feeds updates of j to sink until the returned function is
// called. The stop function waits for the feed and hands sink the latest
// progress, which a slow subscriber may have missed.
func followJob(j *job.Job, sink restore.ProgressSink) func() {
	updates, unsubscribe := j.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range updates {
			sink.Update(p)
		}
	}()

	return func() {
		unsubscribe()
		<-done
		sink.Update(j.Progress())
	}
}

// sizeProblem is the message shown for a failed size check
func sizeProblem(err error, imageSize, deviceSize uint64) string {
	switch {
	case errors.Is(err, restore.ErrEmptyImage):
		return "Cannot restore image of size 0"
	case errors.Is(err, restore.ErrImageTooLarge):
		return fmt.Sprintf("The disk image is %s bigger than the target device", humanize.Bytes(imageSize-deviceSize))
	}
	return err.Error()
}
