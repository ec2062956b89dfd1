// Package mountopts maps filesystem kinds to tuned mount options and prepares
// whatever a kind needs on the device before its options are valid.
package mountopts

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kairos-io/mount-drives/constants"
	"github.com/kairos-io/mount-drives/types"
)

// base options come first on every kind.
var base = []string{"defaults", "nofail", "noatime"}

var tuning = map[types.Filesystem][]string{
	types.Ext4:  {"data=ordered", "commit=60", "errors=remount-ro"},
	types.Xfs:   {"allocsize=64m", "inode64", "logbufs=8"},
	types.Btrfs: {"compress=zstd:3", "space_cache=v2", "autodefrag"},
	types.Ntfs:  {"uid=0", "gid=0", "umask=022"},
}

// SubvolumeName is the btrfs subvolume a label is mounted from.
func SubvolumeName(label string) string {
	return constants.SubvolumePrefix + label
}

// MountPoint is where a label is mounted under root.
func MountPoint(root, label string) string {
	return filepath.Join(root, label)
}

// Options returns the option string for fs. Btrfs options reference the
// subvolume of label, which has to exist before the string is used.
func Options(fs types.Filesystem, label string) (string, error) {
	t, ok := tuning[fs]
	if !ok {
		return "", fmt.Errorf("no mount policy for filesystem %s", fs)
	}
	opts := append(append([]string{}, base...), t...)
	if fs == types.Btrfs {
		opts = append(opts, "subvol="+SubvolumeName(label))
	}
	return strings.Join(opts, ","), nil
}

// Policy builds mount entries and runs the per kind preparation.
type Policy struct {
	MountRoot string
	// Bootstrapper creates btrfs subvolumes, required when btrfs is provisioned.
	Bootstrapper *Bootstrapper
}

// Entry returns the mount table entry for p mounted under label.
func (p *Policy) Entry(part types.BlockPartition, label string) (types.MountEntry, error) {
	opts, err := Options(part.FS, label)
	if err != nil {
		return types.MountEntry{}, err
	}
	return types.MountEntry{
		UUID:       part.UUID,
		MountPoint: MountPoint(p.MountRoot, label),
		FS:         part.FS,
		Options:    opts,
		Dump:       constants.FstabDump,
		Pass:       constants.FstabPass,
	}, nil
}

// Prepare makes the options of part valid. Only btrfs needs work: its
// subvolume is created if missing.
func (p *Policy) Prepare(part types.BlockPartition, label string) error {
	if part.FS != types.Btrfs {
		return nil
	}
	if p.Bootstrapper == nil {
		return fmt.Errorf("%w: no bootstrapper configured", types.ErrSubvolumeBootstrap)
	}
	return p.Bootstrapper.Ensure(part.Device, SubvolumeName(label))
}
