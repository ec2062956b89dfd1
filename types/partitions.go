package types

import (
	"fmt"
	"strings"
)

// Filesystem is the closed set of filesystem kinds the provisioner knows about.
type Filesystem string

const (
	Ext4    Filesystem = "ext4"
	Xfs     Filesystem = "xfs"
	Btrfs   Filesystem = "btrfs"
	Ntfs    Filesystem = "ntfs"
	Unknown Filesystem = "unknown"
)

// DefaultFilesystems are the kinds provisioned unless the config says otherwise.
// Ntfs is the optional variant and has to be enabled explicitly.
var DefaultFilesystems = []Filesystem{Ext4, Xfs, Btrfs}

// ParseFilesystem maps a probe result (udev ID_FS_TYPE, blkid TYPE) to a Filesystem.
// Empty or unrecognized values are Unknown.
func ParseFilesystem(s string) Filesystem {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ext4":
		return Ext4
	case "xfs":
		return Xfs
	case "btrfs":
		return Btrfs
	case "ntfs", "ntfs3", "ntfs-3g":
		return Ntfs
	default:
		return Unknown
	}
}

// ParseFilesystems is the strict variant used for configuration values.
func ParseFilesystems(names []string) ([]Filesystem, error) {
	out := make([]Filesystem, 0, len(names))
	for _, n := range names {
		fs := ParseFilesystem(n)
		if fs == Unknown {
			return nil, fmt.Errorf("unsupported filesystem %q", n)
		}
		out = append(out, fs)
	}
	return out, nil
}

// DeviceKind is the block device type as reported by sysfs.
type DeviceKind string

const (
	KindDisk DeviceKind = "disk"
	KindPart DeviceKind = "part"
)

// BlockPartition is a read-only snapshot of one partition taken during enumeration.
type BlockPartition struct {
	Name       string     `json:"name"`
	Device     string     `json:"device"`
	Disk       string     `json:"disk"`
	Kind       DeviceKind `json:"kind"`
	MountPoint string     `json:"mountpoint,omitempty"`
	FS         Filesystem `json:"fs"`
	UUID       string     `json:"uuid"`
	Label      string     `json:"label,omitempty"`
	SizeBytes  uint64     `json:"size_bytes"`
}

// ProbeResult is what a device probe returns. Empty values mean unknown/unset.
type ProbeResult struct {
	FS    string
	UUID  string
	Label string
}

// Prober resolves filesystem type, UUID and label for a device path such as /dev/sdb1.
type Prober interface {
	Probe(device string) (ProbeResult, error)
}

// MountEntry is one persisted line of the mount table.
type MountEntry struct {
	UUID       string     `json:"uuid"`
	MountPoint string     `json:"mountpoint"`
	FS         Filesystem `json:"fs"`
	Options    string     `json:"options"`
	Dump       int        `json:"dump"`
	Pass       int        `json:"pass"`
}

// Source is the first column of the entry.
func (e MountEntry) Source() string {
	return "UUID=" + e.UUID
}

// String renders the entry as a single mount table line without the newline.
func (e MountEntry) String() string {
	return fmt.Sprintf("%s %s %s %s %d %d", e.Source(), e.MountPoint, e.FS, e.Options, e.Dump, e.Pass)
}
