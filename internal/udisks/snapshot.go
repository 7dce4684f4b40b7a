package udisks

import (
	"sort"

	"github.com/godbus/dbus/v5"
)

// Snapshot is one consistent view of the manager's object tree
type Snapshot struct {
	objects map[dbus.ObjectPath]*Object
}

// NewSnapshot creates a snapshot from already parsed objects
func NewSnapshot(objects ...*Object) *Snapshot {
	s := &Snapshot{objects: make(map[dbus.ObjectPath]*Object, len(objects))}
	for _, obj := range objects {
		s.objects[obj.Path] = obj
	}
	return s
}

func newSnapshotFromManaged(managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant) *Snapshot {
	s := &Snapshot{objects: make(map[dbus.ObjectPath]*Object, len(managed))}
	for path, ifaces := range managed {
		s.objects[path] = parseObject(path, ifaces)
	}
	return s
}

// Object returns the object at path, or nil
func (s *Snapshot) Object(path dbus.ObjectPath) *Object {
	if path == "" {
		return nil
	}
	return s.objects[path]
}

// Objects returns every object sorted by path
func (s *Snapshot) Objects() []*Object {
	out := make([]*Object, 0, len(s.objects))
	for _, obj := range s.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// BlockForDrive returns the whole-disk block of a drive. Partitions are
// never returned.
func (s *Snapshot) BlockForDrive(drive *Object) *Object {
	for _, obj := range s.Objects() {
		if obj.Block == nil || obj.Partition != nil {
			continue
		}
		if obj.Block.Drive == drive.Path {
			return obj
		}
	}
	return nil
}

// Partitions returns the partitions of the table on block. The order is
// the table's Partitions property when the manager reports it, otherwise
// partition number order.
func (s *Snapshot) Partitions(block *Object) []*Object {
	if block.PartitionTable == nil {
		return nil
	}

	var parts []*Object
	if len(block.PartitionTable.Partitions) > 0 {
		for _, path := range block.PartitionTable.Partitions {
			if obj := s.Object(path); obj != nil {
				parts = append(parts, obj)
			}
		}
		return parts
	}

	for _, obj := range s.objects {
		if obj.Partition != nil && obj.Partition.Table == block.Path {
			parts = append(parts, obj)
		}
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].Partition.Number != parts[j].Partition.Number {
			return parts[i].Partition.Number < parts[j].Partition.Number
		}
		return parts[i].Path < parts[j].Path
	})
	return parts
}

// CleartextBlock returns the unlocked cleartext block backed by block, or nil
func (s *Snapshot) CleartextBlock(block *Object) *Object {
	if block.Encrypted != nil && block.Encrypted.CleartextDevice != "" {
		if obj := s.Object(block.Encrypted.CleartextDevice); obj != nil && obj.Block != nil {
			return obj
		}
	}
	for _, obj := range s.Objects() {
		if obj.Block != nil && obj.Block.CryptoBackingDevice == block.Path {
			return obj
		}
	}
	return nil
}

// LoopForBlock returns the object carrying the Loop facet behind block.
// A partition resolves to the loop device holding its table.
func (s *Snapshot) LoopForBlock(block *Object) *Object {
	if block.Loop != nil {
		return block
	}
	if block.Partition != nil {
		if table := s.Object(block.Partition.Table); table != nil && table.Loop != nil {
			return table
		}
	}
	return nil
}

// LoopsForFile returns the loop devices whose backing file is path
func (s *Snapshot) LoopsForFile(path string) []*Object {
	var loops []*Object
	for _, obj := range s.Objects() {
		if obj.Loop != nil && obj.Loop.BackingFile == path {
			loops = append(loops, obj)
		}
	}
	return loops
}

// Loops returns every loop device with a backing file
func (s *Snapshot) Loops() []*Object {
	var loops []*Object
	for _, obj := range s.Objects() {
		if obj.Loop != nil && obj.Loop.BackingFile != "" {
			loops = append(loops, obj)
		}
	}
	return loops
}

// BlockForDevice returns the block whose device node is dev
func (s *Snapshot) BlockForDevice(dev string) *Object {
	for _, obj := range s.Objects() {
		if obj.Block == nil {
			continue
		}
		if obj.Block.Device == dev || obj.Block.PreferredDevice == dev {
			return obj
		}
	}
	return nil
}
