package ghw

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kairos-io/mount-drives/types"
)

const (
	sectorSize = 512
	UNKNOWN    = "unknown"
)

type Paths struct {
	SysBlock    string
	RunUdevData string
	ProcMounts  string
}

func NewPaths(withOptionalPrefix string) *Paths {
	p := &Paths{
		SysBlock:    "/sys/block/",
		RunUdevData: "/run/udev/data",
		ProcMounts:  "/proc/mounts",
	}

	// Allow overriding the paths via env var. It has precedence over anything
	val, exists := os.LookupEnv("GHW_CHROOT")
	if exists {
		val = strings.TrimSuffix(val, "/")
		p.SysBlock = fmt.Sprintf("%s%s", val, p.SysBlock)
		p.RunUdevData = fmt.Sprintf("%s%s", val, p.RunUdevData)
		p.ProcMounts = fmt.Sprintf("%s%s", val, p.ProcMounts)
		return p
	}

	if withOptionalPrefix != "" {
		withOptionalPrefix = strings.TrimSuffix(withOptionalPrefix, "/")
		p.SysBlock = fmt.Sprintf("%s%s", withOptionalPrefix, p.SysBlock)
		p.RunUdevData = fmt.Sprintf("%s%s", withOptionalPrefix, p.RunUdevData)
		p.ProcMounts = fmt.Sprintf("%s%s", withOptionalPrefix, p.ProcMounts)
	}
	return p
}

// isIgnoredDevice filters top level block devices that never carry
// provisionable partitions.
func isIgnoredDevice(name string) bool {
	for _, prefix := range []string{"loop", "ram", "zram", "sr", "fd"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isMultipathDevice(paths *Paths, entry os.DirEntry, logger *types.Logger) bool {
	if !strings.HasPrefix(entry.Name(), "dm-") {
		return false
	}

	// Check if the device has a "slaves" directory, which is a common indicator
	_, err := os.Stat(filepath.Join(paths.SysBlock, entry.Name(), "slaves"))
	if err != nil {
		msg := "Error checking slaves directory"
		if os.IsNotExist(err) {
			msg = "No slaves directory, not a multipath device"
		}
		logger.Logger.Debug().Str("devNo", entry.Name()).Msg(msg)
		return false
	}

	// The slaves dir alone also matches crypt and lvm devices, udev tells them apart
	udevInfo, err := udevInfoPartition(paths, entry.Name(), logger)
	if err != nil {
		logger.Logger.Error().Err(err).Str("devNo", entry.Name()).Msg("Failed to get udev info")
		return false
	}
	_, ok := udevInfo["DM_NAME"]
	if !ok {
		logger.Logger.Debug().Str("devNo", entry.Name()).Msg("Not a multipath device")
	}

	return ok
}

func isMultipathPartition(entry os.DirEntry, paths *Paths, logger *types.Logger) bool {
	if !isMultipathDevice(paths, entry, logger) {
		return false
	}

	udevInfo, err := udevInfoPartition(paths, entry.Name(), logger)
	if err != nil {
		logger.Logger.Error().Err(err).Str("devNo", entry.Name()).Msg("Failed to get udev info")
		return false
	}

	// DM_PART is only set on partitions of a multipath map
	_, ok := udevInfo["DM_PART"]
	return ok
}

// partitionHandlerFor picks how partitions of a top level device are discovered.
func partitionHandlerFor(paths *Paths, entry os.DirEntry, logger *types.Logger) PartitionHandler {
	if isMultipathDevice(paths, entry, logger) {
		return NewMultipathPartitionHandler(entry.Name())
	}
	return NewDiskPartitionHandler(entry.Name())
}

func sizeBytes(paths *Paths, sysPath string, logger *types.Logger) uint64 {
	// /sys/block/$DEVICE/size holds the number of 512-byte sectors
	path := filepath.Join(paths.SysBlock, sysPath, "size")
	logger.Logger.Trace().Str("path", path).Msg("Reading size")
	contents, err := os.ReadFile(path)
	if err != nil {
		logger.Logger.Debug().Str("path", path).Err(err).Msg("Failed to read file")
		return 0
	}
	size, err := strconv.ParseUint(strings.TrimSpace(string(contents)), 10, 64)
	if err != nil {
		logger.Logger.Error().Str("path", path).Err(err).Str("content", string(contents)).Msg("Failed to parse size")
		return 0
	}
	return size * sectorSize
}
