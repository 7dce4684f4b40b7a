package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/nace/diskimg/internal/image"
	"github.com/nace/diskimg/internal/system"
	"github.com/spf13/cobra"
)

// AttachCommand handles attaching images as loop devices
type AttachCommand struct {
	ctx *GlobalContext
}

// NewAttachCommand creates the attach command
func NewAttachCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &AttachCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "attach <image>...",
		Short: "Attach disk images as loop devices",
		Long: `Attach one or more disk image files as loop devices through the storage
daemon. Images are attached read-only unless --writable is given.

Compressed raw disk images cannot be attached; write them to a device
with the restore command instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: cmd.Run,
	}

	cobraCmd.Flags().BoolP("writable", "w", false, "Attach images writable")
	_ = ctx.Viper.BindPFlag("writable", cobraCmd.Flags().Lookup("writable"))

	return cobraCmd
}

// Run executes the attach command
func (c *AttachCommand) Run(cmd *cobra.Command, args []string) error {
	return c.ctx.ReportError("Error attaching disk image", c.execute(cmd.Context(), args))
}

func (c *AttachCommand) execute(ctx context.Context, images []string) error {
	writable := c.ctx.Config.Writable

	// Step 1: check every image before attaching any
	paths := make([]string, 0, len(images))
	for _, img := range images {
		path, err := system.ValidateImagePath(img, writable)
		if err != nil {
			return err
		}
		if err := checkMountable(path); err != nil {
			return err
		}
		paths = append(paths, path)
	}

	loops, err := c.ctx.LoopManager()
	if err != nil {
		return err
	}

	// Step 2: attach, detaching earlier images if a later one fails
	cleanup := system.NewCleanupStack()
	for _, path := range paths {
		c.ctx.Logger.Debug("Attaching %s (writable=%v)", path, writable)
		obj, err := loops.Attach(ctx, path, writable)
		if err != nil {
			if cerr := cleanup.Execute(); cerr != nil {
				c.ctx.Logger.Warning("Cleanup failed: %v", cerr)
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		cleanup.Add("detach "+obj.DeviceName(), func() error {
			return loops.Detach(context.WithoutCancel(ctx), obj.Path)
		})

		mode := "read-only"
		if writable {
			mode = "writable"
		}
		c.ctx.Logger.Success("Attached %s as %s (%s)", path, obj.DeviceName(), mode)
	}
	cleanup.Clear()

	return nil
}

// checkMountable refuses images that only restore can use
func checkMountable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	contentType, err := image.DetectContentType(f)
	if err != nil {
		return err
	}
	if !image.Mountable(contentType) {
		return fmt.Errorf("%s is a compressed disk image (%s) and cannot be attached; use restore to write it to a device", path, contentType)
	}
	return nil
}
