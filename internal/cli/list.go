package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/nace/diskimg/internal/config"
	"github.com/nace/diskimg/internal/device"
	"github.com/nace/diskimg/internal/udisks"
	"github.com/nace/diskimg/internal/ui"
	"github.com/spf13/cobra"
)

// ListCommand handles listing attached images
type ListCommand struct {
	ctx *GlobalContext
}

// LoopEntry is the list output for one loop device
type LoopEntry struct {
	Device      string `json:"device" yaml:"device"`
	BackingFile string `json:"backing_file" yaml:"backing_file"`
	Autoclear   bool   `json:"autoclear" yaml:"autoclear"`
	ReadOnly    bool   `json:"read_only" yaml:"read_only"`
	Size        uint64 `json:"size" yaml:"size"`
	InUse       bool   `json:"in_use" yaml:"in_use"`
}

// NewListCommand creates the list command
func NewListCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ListCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "list [image]",
		Short: "List attached disk images",
		Long: `List loop devices with a backing file. Given an image, only the loop
devices backed by it are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}

	return cobraCmd
}

// Run executes the list command
func (c *ListCommand) Run(cmd *cobra.Command, args []string) error {
	image := ""
	if len(args) == 1 {
		image = args[0]
	}
	return c.ctx.ReportError("Error listing loop devices", c.execute(cmd.Context(), image))
}

func (c *ListCommand) execute(ctx context.Context, image string) error {
	client, err := c.ctx.Storage()
	if err != nil {
		return err
	}
	loops := device.NewLoopManager(client, c.ctx.Logger)

	var objs []*udisks.Object
	if image != "" {
		objs, err = loops.FindByFile(ctx, image)
	} else {
		objs, err = loops.GetAll(ctx)
	}
	if err != nil {
		return err
	}

	snap, err := client.Snapshot(ctx)
	if err != nil {
		return err
	}

	entries := make([]LoopEntry, 0, len(objs))
	for _, obj := range objs {
		entries = append(entries, loopEntry(snap, obj))
	}

	if len(entries) == 0 && c.ctx.Config.Output == config.OutputTable {
		fmt.Fprintln(c.ctx.Out, "No attached disk images found")
		return nil
	}

	return c.ctx.Render(entries, func() *ui.Table {
		table := ui.NewTable("DEVICE", "BACKING FILE", "AUTOCLEAR", "READ-ONLY", "SIZE", "IN USE")
		for _, e := range entries {
			table.AddRow(e.Device, e.BackingFile, yesNo(e.Autoclear), yesNo(e.ReadOnly),
				humanize.Bytes(e.Size), yesNo(e.InUse))
		}
		return table
	})
}

func loopEntry(snap *udisks.Snapshot, obj *udisks.Object) LoopEntry {
	entry := LoopEntry{Device: obj.DeviceName()}
	if obj.Loop != nil {
		entry.BackingFile = obj.Loop.BackingFile
		entry.Autoclear = obj.Loop.Autoclear
	}
	if obj.Block != nil {
		entry.ReadOnly = obj.Block.ReadOnly
		entry.Size = obj.Block.Size
	}

	// The list snapshot may be newer than the one the loop came from
	if current := snap.Object(obj.Path); current != nil {
		graph, _ := device.Resolve(snap, current)
		entry.InUse = device.Classify(snap, graph, false).InUse()
	}
	return entry
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
