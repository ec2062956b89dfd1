package ghw

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kairos-io/mount-drives/types"
)

type DiskPartitionHandler struct {
	DiskName string
}

// Validate that DiskPartitionHandler implements PartitionHandler interface.
var _ PartitionHandler = &DiskPartitionHandler{}

func NewDiskPartitionHandler(diskName string) *DiskPartitionHandler {
	return &DiskPartitionHandler{DiskName: diskName}
}

func (d *DiskPartitionHandler) GetPartitions(paths *Paths, logger *types.Logger) []PartitionRef {
	out := make([]PartitionRef, 0)
	path := filepath.Join(paths.SysBlock, d.DiskName)
	logger.Logger.Debug().Str("file", path).Msg("Reading disk file")
	files, err := os.ReadDir(path)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("failed to read disk partitions")
		return out
	}
	for _, file := range files {
		fname := file.Name()
		// Partitions are the only children named after the disk (sda -> sda1, nvme0n1 -> nvme0n1p1)
		if !strings.HasPrefix(fname, d.DiskName) || !file.IsDir() {
			continue
		}
		logger.Logger.Debug().Str("file", fname).Msg("Reading partition file")
		out = append(out, PartitionRef{
			Name:       fname,
			SysPath:    filepath.Join(d.DiskName, fname),
			Disk:       d.DiskName,
			MountNames: []string{filepath.Join("/dev", fname)},
		})
	}
	return out
}
