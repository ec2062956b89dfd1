package ghw

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/kairos-io/mount-drives/types"
)

// PartitionRef locates a partition in sysfs before it is probed.
type PartitionRef struct {
	// Name is the kernel name, e.g. sda1 or dm-1.
	Name string
	// SysPath is relative to Paths.SysBlock, e.g. sda/sda1.
	SysPath string
	// Disk is the parent kernel name.
	Disk string
	// MountNames are the device paths the partition may appear as in the mounts file.
	MountNames []string
}

type PartitionHandler interface {
	// GetPartitions returns the partitions found under a single top level device.
	GetPartitions(paths *Paths, logger *types.Logger) []PartitionRef
}

// mountPointOf returns where any of the given device paths is mounted, or "".
func mountPointOf(paths *Paths, devices []string, logger *types.Logger) string {
	f, err := os.Open(paths.ProcMounts)
	if err != nil {
		logger.Logger.Error().Str("file", paths.ProcMounts).Err(err).Msg("failed to open mounts")
		return ""
	}
	defer f.Close()

	want := map[string]bool{}
	for _, d := range devices {
		if !strings.HasPrefix(d, "/dev") {
			d = "/dev/" + d
		}
		want[d] = true
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entry := parseMountEntry(scanner.Text(), logger)
		if entry == nil || !want[entry.Partition] {
			continue
		}
		return entry.Mountpoint
	}
	return ""
}

type mountEntry struct {
	Partition      string
	Mountpoint     string
	FilesystemType string
}

func parseMountEntry(line string, logger *types.Logger) *mountEntry {
	// mount entries for mounted partitions look like this:
	// /dev/sda6 / ext4 rw,relatime,errors=remount-ro,data=ordered 0 0
	if line == "" || line[0] != '/' {
		return nil
	}
	fields := strings.Fields(line)

	if len(fields) < 4 {
		logger.Logger.Trace().Interface("fields", fields).Msg("Mount line has less than 4 fields")
		return nil
	}

	// The mountpoint encodes space, tab, newline and backslash as octal escapes
	// (see getmntent(3)), undo that before comparing.
	r := strings.NewReplacer(
		"\\011", "\t", "\\012", "\n", "\\040", " ", "\\\\", "\\",
	)

	return &mountEntry{
		Partition:      fields[0],
		Mountpoint:     r.Replace(fields[1]),
		FilesystemType: fields[2],
	}
}

func udevInfoPartition(paths *Paths, sysPath string, logger *types.Logger) (map[string]string, error) {
	devNo, err := os.ReadFile(filepath.Join(paths.SysBlock, sysPath, "dev"))
	if err != nil {
		logger.Logger.Debug().Err(err).Str("path", filepath.Join(paths.SysBlock, sysPath, "dev")).Msg("failed to read udev info")
		return nil, err
	}
	return UdevInfo(paths, string(devNo), logger)
}

// UdevInfo will return information on udev database about a device number.
func UdevInfo(paths *Paths, devNo string, logger *types.Logger) (map[string]string, error) {
	udevID := "b" + strings.TrimSpace(devNo)
	udevBytes, err := os.ReadFile(filepath.Join(paths.RunUdevData, udevID))
	if err != nil {
		logger.Logger.Debug().Err(err).Str("path", filepath.Join(paths.RunUdevData, udevID)).Msg("failed to read udev info for device")
		return nil, err
	}

	udevInfo := make(map[string]string)
	for _, udevLine := range strings.Split(string(udevBytes), "\n") {
		if strings.HasPrefix(udevLine, "E:") {
			if s := strings.SplitN(udevLine[2:], "=", 2); len(s) == 2 {
				udevInfo[s[0]] = s[1]
			}
		}
	}
	return udevInfo, nil
}

// sysPathFor finds the sysfs directory of a kernel device name, either a
// top level entry (dm-1) or nested under its disk (sda/sda1).
func sysPathFor(paths *Paths, name string) (string, bool) {
	if _, err := os.Stat(filepath.Join(paths.SysBlock, name, "dev")); err == nil {
		return name, true
	}
	matches, _ := filepath.Glob(filepath.Join(paths.SysBlock, "*", name, "dev"))
	if len(matches) == 0 {
		return "", false
	}
	rel, err := filepath.Rel(paths.SysBlock, filepath.Dir(matches[0]))
	if err != nil {
		return "", false
	}
	return rel, true
}
