package ghw

import (
	"os"
	"path/filepath"

	"github.com/kairos-io/mount-drives/types"
)

type MultipathPartitionHandler struct {
	DiskName string
}

func NewMultipathPartitionHandler(diskName string) *MultipathPartitionHandler {
	return &MultipathPartitionHandler{DiskName: diskName}
}

var _ PartitionHandler = &MultipathPartitionHandler{}

func (m *MultipathPartitionHandler) GetPartitions(paths *Paths, logger *types.Logger) []PartitionRef {
	out := make([]PartitionRef, 0)

	// Multipath partitions are holders of the map: /sys/block/<disk>/holders/<holder>
	holdersPath := filepath.Join(paths.SysBlock, m.DiskName, "holders")
	logger.Logger.Debug().Str("path", holdersPath).Msg("Reading multipath holders")

	holders, err := os.ReadDir(holdersPath)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("failed to read holders directory")
		return out
	}

	for _, holder := range holders {
		partName := holder.Name()

		if !isMultipathPartition(holder, paths, logger) {
			logger.Logger.Debug().Str("partition", partName).Msg("Holder is not a multipath partition")
			continue
		}

		udevInfo, err := udevInfoPartition(paths, partName, logger)
		if err != nil {
			logger.Logger.Error().Err(err).Str("devNo", partName).Msg("Failed to get udev info")
			continue
		}

		mapperName, ok := udevInfo["DM_NAME"]
		if !ok {
			logger.Logger.Error().Str("devNo", partName).Msg("DM_NAME not found in udev info")
			continue
		}

		logger.Logger.Debug().Str("partition", partName).Str("mapper", mapperName).Msg("Found multipath partition")
		// It can be mounted either as /dev/mapper/<name> or as /dev/dm-<n>
		out = append(out, PartitionRef{
			Name:    partName,
			SysPath: partName,
			Disk:    m.DiskName,
			MountNames: []string{
				filepath.Join("/dev/mapper", mapperName),
				filepath.Join("/dev", partName),
			},
		})
	}

	return out
}
