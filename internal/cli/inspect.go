package cli

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/godbus/dbus/v5"
	"github.com/nace/diskimg/internal/device"
	"github.com/nace/diskimg/internal/udisks"
	"github.com/nace/diskimg/internal/ui"
	"github.com/spf13/cobra"
)

// InspectCommand shows the device graph below an image or device
type InspectCommand struct {
	ctx *GlobalContext
}

// Inspection is the inspect output for one root
type Inspection struct {
	Root      dbus.ObjectPath  `json:"root" yaml:"root"`
	Device    string           `json:"device" yaml:"device"`
	InUse     bool             `json:"in_use" yaml:"in_use"`
	Next      string           `json:"next_release,omitempty" yaml:"next_release,omitempty"`
	LastUser  bool             `json:"last_user" yaml:"last_user"`
	Objects   []*udisks.Object `json:"objects" yaml:"objects"`
	Warning   string           `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// NewInspectCommand creates the inspect command
func NewInspectCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &InspectCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "inspect <image|device>",
		Short: "Show everything derived from an image or device",
		Long: `Show the block device of an attached image or a drive, its partitions and
unlocked encrypted layers, with mount points and what would be released
first.`,
		Args: cobra.ExactArgs(1),
		RunE: cmd.Run,
	}

	return cobraCmd
}

// Run executes the inspect command
func (c *InspectCommand) Run(cmd *cobra.Command, args []string) error {
	return c.ctx.ReportError("Error inspecting", c.execute(cmd.Context(), args[0]))
}

func (c *InspectCommand) execute(ctx context.Context, arg string) error {
	client, err := c.ctx.Storage()
	if err != nil {
		return err
	}
	snap, err := client.Snapshot(ctx)
	if err != nil {
		return err
	}

	roots, err := findObjects(ctx, client, snap, arg)
	if err != nil {
		return err
	}

	results := make([]Inspection, 0, len(roots))
	for _, root := range roots {
		results = append(results, inspect(snap, root))
	}

	return c.ctx.Render(results, func() *ui.Table {
		return inspectionTable(results)
	})
}

func inspect(snap *udisks.Snapshot, root *udisks.Object) Inspection {
	result := Inspection{Root: root.Path, Device: root.DeviceName()}

	graph, err := device.Resolve(snap, root)
	if err != nil {
		result.Warning = err.Error()
	}
	result.Objects = graph

	usage := device.Classify(snap, graph, true)
	result.InUse = usage.InUse()
	result.LastUser = usage.Last
	switch {
	case usage.Filesystem != nil:
		result.Next = "unmount " + usage.Filesystem.DeviceName()
	case usage.Encrypted != nil:
		result.Next = "lock " + usage.Encrypted.DeviceName()
	}
	return result
}

func inspectionTable(results []Inspection) *ui.Table {
	table := ui.NewTable("DEVICE", "FACETS", "TYPE", "SIZE", "MOUNT POINTS", "RELEASE")

	for _, res := range results {
		for _, obj := range res.Objects {
			kind, size := "-", "-"
			if obj.Block != nil {
				if obj.Block.IDType != "" {
					kind = obj.Block.IDType
				}
				if obj.Block.Size > 0 {
					size = humanize.Bytes(obj.Block.Size)
				}
			}

			mounts := "-"
			if obj.IsMounted() {
				mounts = strings.Join(obj.Filesystem.MountPoints, ",")
			}

			release := ""
			if res.Next != "" && strings.HasSuffix(res.Next, " "+obj.DeviceName()) {
				release = "next"
			}

			table.AddRow(obj.DeviceName(), strings.Join(obj.Facets(), ","), kind, size, mounts, release)
		}
	}

	return table
}
