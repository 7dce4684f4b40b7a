package udisks

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

// D-Bus interface names exposed by the UDisks2 daemon
const (
	InterfaceBlock          = "org.freedesktop.UDisks2.Block"
	InterfacePartition      = "org.freedesktop.UDisks2.Partition"
	InterfacePartitionTable = "org.freedesktop.UDisks2.PartitionTable"
	InterfaceFilesystem     = "org.freedesktop.UDisks2.Filesystem"
	InterfaceEncrypted      = "org.freedesktop.UDisks2.Encrypted"
	InterfaceLoop           = "org.freedesktop.UDisks2.Loop"
	InterfaceDrive          = "org.freedesktop.UDisks2.Drive"
	InterfaceManager        = "org.freedesktop.UDisks2.Manager"
)

// Block is the Block facet of a storage object
type Block struct {
	Device              string          `json:"device" yaml:"device"`
	PreferredDevice     string          `json:"preferred_device,omitempty" yaml:"preferred_device,omitempty"`
	Size                uint64          `json:"size" yaml:"size"`
	ReadOnly            bool            `json:"read_only" yaml:"read_only"`
	Drive               dbus.ObjectPath `json:"drive,omitempty" yaml:"drive,omitempty"`
	CryptoBackingDevice dbus.ObjectPath `json:"crypto_backing_device,omitempty" yaml:"crypto_backing_device,omitempty"`
	IDUsage             string          `json:"id_usage,omitempty" yaml:"id_usage,omitempty"`
	IDType              string          `json:"id_type,omitempty" yaml:"id_type,omitempty"`
	IDLabel             string          `json:"id_label,omitempty" yaml:"id_label,omitempty"`
}

// Partition is the Partition facet of a storage object
type Partition struct {
	Number      uint32          `json:"number" yaml:"number"`
	Table       dbus.ObjectPath `json:"table" yaml:"table"`
	Offset      uint64          `json:"offset" yaml:"offset"`
	Size        uint64          `json:"size" yaml:"size"`
	Name        string          `json:"name,omitempty" yaml:"name,omitempty"`
	IsContainer bool            `json:"is_container" yaml:"is_container"`
	IsContained bool            `json:"is_contained" yaml:"is_contained"`
}

// PartitionTable is the PartitionTable facet of a storage object
type PartitionTable struct {
	Type       string            `json:"type" yaml:"type"`
	Partitions []dbus.ObjectPath `json:"partitions,omitempty" yaml:"partitions,omitempty"`
}

// Filesystem is the Filesystem facet of a storage object
type Filesystem struct {
	MountPoints []string `json:"mount_points" yaml:"mount_points"`
}

// Encrypted is the Encrypted facet of a storage object
type Encrypted struct {
	CleartextDevice dbus.ObjectPath `json:"cleartext_device,omitempty" yaml:"cleartext_device,omitempty"`
}

// Loop is the Loop facet of a storage object
type Loop struct {
	BackingFile string `json:"backing_file" yaml:"backing_file"`
	Autoclear   bool   `json:"autoclear" yaml:"autoclear"`
	SetupByUID  uint32 `json:"setup_by_uid" yaml:"setup_by_uid"`
}

// Drive is the Drive facet of a storage object
type Drive struct {
	Vendor             string   `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Model              string   `json:"model,omitempty" yaml:"model,omitempty"`
	Serial             string   `json:"serial,omitempty" yaml:"serial,omitempty"`
	Size               uint64   `json:"size" yaml:"size"`
	Removable          bool     `json:"removable" yaml:"removable"`
	MediaCompatibility []string `json:"media_compatibility,omitempty" yaml:"media_compatibility,omitempty"`
}

// Object is a storage object in the manager's object tree. Any facet may be
// nil; a path can expose several facets at once.
type Object struct {
	Path           dbus.ObjectPath `json:"path" yaml:"path"`
	Block          *Block          `json:"block,omitempty" yaml:"block,omitempty"`
	Partition      *Partition      `json:"partition,omitempty" yaml:"partition,omitempty"`
	PartitionTable *PartitionTable `json:"partition_table,omitempty" yaml:"partition_table,omitempty"`
	Filesystem     *Filesystem     `json:"filesystem,omitempty" yaml:"filesystem,omitempty"`
	Encrypted      *Encrypted      `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
	Loop           *Loop           `json:"loop,omitempty" yaml:"loop,omitempty"`
	Drive          *Drive          `json:"drive,omitempty" yaml:"drive,omitempty"`
}

// DeviceName returns the device node of the object, or its path if it has
// no Block facet
func (o *Object) DeviceName() string {
	if o.Block != nil {
		if o.Block.PreferredDevice != "" {
			return o.Block.PreferredDevice
		}
		if o.Block.Device != "" {
			return o.Block.Device
		}
	}
	return string(o.Path)
}

// Facets lists the names of the facets the object exposes
func (o *Object) Facets() []string {
	var facets []string
	if o.Drive != nil {
		facets = append(facets, "drive")
	}
	if o.Block != nil {
		facets = append(facets, "block")
	}
	if o.Loop != nil {
		facets = append(facets, "loop")
	}
	if o.PartitionTable != nil {
		facets = append(facets, "partition-table")
	}
	if o.Partition != nil {
		facets = append(facets, "partition")
	}
	if o.Encrypted != nil {
		facets = append(facets, "encrypted")
	}
	if o.Filesystem != nil {
		facets = append(facets, "filesystem")
	}
	return facets
}

// IsMounted reports whether the object has a filesystem with at least one
// mount point
func (o *Object) IsMounted() bool {
	return o.Filesystem != nil && len(o.Filesystem.MountPoints) > 0
}

// parseObject builds an Object from one entry of a GetManagedObjects reply
func parseObject(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) *Object {
	obj := &Object{Path: path}

	if props, ok := ifaces[InterfaceBlock]; ok {
		obj.Block = &Block{
			Device:              byteString(props["Device"]),
			PreferredDevice:     byteString(props["PreferredDevice"]),
			Size:                uint64Prop(props["Size"]),
			ReadOnly:            boolProp(props["ReadOnly"]),
			Drive:               pathProp(props["Drive"]),
			CryptoBackingDevice: pathProp(props["CryptoBackingDevice"]),
			IDUsage:             stringProp(props["IdUsage"]),
			IDType:              stringProp(props["IdType"]),
			IDLabel:             stringProp(props["IdLabel"]),
		}
	}

	if props, ok := ifaces[InterfacePartition]; ok {
		obj.Partition = &Partition{
			Number:      uint32Prop(props["Number"]),
			Table:       pathProp(props["Table"]),
			Offset:      uint64Prop(props["Offset"]),
			Size:        uint64Prop(props["Size"]),
			Name:        stringProp(props["Name"]),
			IsContainer: boolProp(props["IsContainer"]),
			IsContained: boolProp(props["IsContained"]),
		}
	}

	if props, ok := ifaces[InterfacePartitionTable]; ok {
		obj.PartitionTable = &PartitionTable{
			Type:       stringProp(props["Type"]),
			Partitions: pathsProp(props["Partitions"]),
		}
	}

	if props, ok := ifaces[InterfaceFilesystem]; ok {
		obj.Filesystem = &Filesystem{
			MountPoints: byteStrings(props["MountPoints"]),
		}
	}

	if props, ok := ifaces[InterfaceEncrypted]; ok {
		obj.Encrypted = &Encrypted{
			CleartextDevice: pathProp(props["CleartextDevice"]),
		}
	}

	if props, ok := ifaces[InterfaceLoop]; ok {
		obj.Loop = &Loop{
			BackingFile: byteString(props["BackingFile"]),
			Autoclear:   boolProp(props["Autoclear"]),
			SetupByUID:  uint32Prop(props["SetupByUID"]),
		}
	}

	if props, ok := ifaces[InterfaceDrive]; ok {
		obj.Drive = &Drive{
			Vendor:             stringProp(props["Vendor"]),
			Model:              stringProp(props["Model"]),
			Serial:             stringProp(props["Serial"]),
			Size:               uint64Prop(props["Size"]),
			Removable:          boolProp(props["Removable"]),
			MediaCompatibility: stringsProp(props["MediaCompatibility"]),
		}
	}

	return obj
}

// byteString decodes a NUL-terminated "ay" property
func byteString(v dbus.Variant) string {
	b, ok := v.Value().([]byte)
	if !ok {
		return ""
	}
	return strings.TrimRight(string(b), "\x00")
}

// byteStrings decodes an "aay" property, dropping empty entries
func byteStrings(v dbus.Variant) []string {
	raw, ok := v.Value().([][]byte)
	if !ok {
		return nil
	}
	var out []string
	for _, b := range raw {
		s := strings.TrimRight(string(b), "\x00")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringProp(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

func stringsProp(v dbus.Variant) []string {
	s, _ := v.Value().([]string)
	return s
}

func boolProp(v dbus.Variant) bool {
	b, _ := v.Value().(bool)
	return b
}

func uint32Prop(v dbus.Variant) uint32 {
	n, _ := v.Value().(uint32)
	return n
}

func uint64Prop(v dbus.Variant) uint64 {
	n, _ := v.Value().(uint64)
	return n
}

// pathProp decodes an "o" property; the root path "/" means unset
func pathProp(v dbus.Variant) dbus.ObjectPath {
	p, _ := v.Value().(dbus.ObjectPath)
	if p == "/" {
		return ""
	}
	return p
}

func pathsProp(v dbus.Variant) []dbus.ObjectPath {
	p, _ := v.Value().([]dbus.ObjectPath)
	return p
}
