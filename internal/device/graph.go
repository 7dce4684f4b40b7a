package device

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/nace/diskimg/internal/udisks"
)

// ErrCycle is returned when a cleartext device points back into the graph
var ErrCycle = errors.New("cleartext device cycle")

// View is the part of a manager snapshot the resolver reads
type View interface {
	Object(path dbus.ObjectPath) *udisks.Object
	BlockForDrive(drive *udisks.Object) *udisks.Object
	Partitions(block *udisks.Object) []*udisks.Object
	CleartextBlock(block *udisks.Object) *udisks.Object
	LoopForBlock(block *udisks.Object) *udisks.Object
}

// Resolve returns root's block, the partitions of its table and every
// unlocked cleartext device below them, in that order
func Resolve(view View, root *udisks.Object) ([]*udisks.Object, error) {
	if root == nil {
		return nil, nil
	}

	// Step 1: root block
	var block *udisks.Object
	switch {
	case root.Drive != nil:
		block = view.BlockForDrive(root)
	case root.Block != nil:
		block = root
	}
	if block == nil {
		return nil, nil
	}

	graph := []*udisks.Object{block}
	seen := map[dbus.ObjectPath]bool{block.Path: true}

	// Step 2: partitions
	if block.PartitionTable != nil {
		for _, part := range view.Partitions(block) {
			if part == nil || seen[part.Path] {
				continue
			}
			graph = append(graph, part)
			seen[part.Path] = true
		}
	}

	// Step 3: cleartext expansion; the slice grows while it is walked
	for i := 0; i < len(graph); i++ {
		entry := graph[i]
		if entry.Block == nil {
			continue
		}
		cleartext := view.CleartextBlock(entry)
		if cleartext == nil {
			continue
		}
		if seen[cleartext.Path] {
			return graph, fmt.Errorf("%w: %s is already below %s", ErrCycle, cleartext.Path, root.Path)
		}
		graph = append(graph, cleartext)
		seen[cleartext.Path] = true
	}

	return graph, nil
}
