// Package constants This file contains all the constants that can be reused across the project
package constants

import "time"

const (
	MB       = int64(1024 * 1024)
	FilePerm = 0644
	DirPerm  = 0755

	DefaultFstab      = "/etc/fstab"
	DefaultMountRoot  = "/mnt"
	DefaultWorkDir    = "/run/mount-drives"
	DefaultLockFile   = "/run/mount-drives.lock"
	DefaultConfigFile = "/etc/mount-drives/config.yaml"
	DefaultEnvFile    = "/etc/default/mount-drives"
	DefaultLogDir     = "/var/log/mount-drives/"
	DefaultLogLevel   = "info"

	// EnvPrefix prefixes every environment override, e.g. MOUNT_DRIVES_FSTAB.
	EnvPrefix = "MOUNT_DRIVES_"

	ProberUdev  = "udev"
	ProberBlkid = "blkid"

	// LabelPrefix is the prefix of every canonical label (Disk0, Disk1, ...).
	LabelPrefix = "Disk"
	// MaxLabels caps the number of canonical labels a single run may hand out.
	MaxLabels = 100

	// SubvolumePrefix is prepended to the label to name the btrfs subvolume.
	SubvolumePrefix = "@"

	BackupSuffix     = ".bak_"
	BackupDateFormat = "2006-01-02"

	FstabDump = 0
	FstabPass = 2

	UnmountAttempts = 3
	UnmountDelay    = 500 * time.Millisecond
)

// DefaultVerifyCommand is run against the mount table after new entries were
// written, when the tool is available. {fstab} is replaced with the path.
const DefaultVerifyCommand = "findmnt --verify --tab-file {fstab}"
