package ghw

import (
	"iter"
	"os"
	"path/filepath"

	"github.com/kairos-io/mount-drives/types"
)

// Enumerator lists the partitions that could receive a mount table entry.
type Enumerator struct {
	Paths  *Paths
	Prober types.Prober
	Logger *types.Logger
}

func NewEnumerator(paths *Paths, prober types.Prober, logger *types.Logger) *Enumerator {
	if logger == nil {
		l := types.NewNullLogger()
		logger = &l
	}
	return &Enumerator{Paths: paths, Prober: prober, Logger: logger}
}

// Partitions yields every unmounted partition whose filesystem type and UUID
// could be resolved. Whole disks, loop devices and mounted partitions are never
// yielded. Every iteration reads live sysfs state again.
func (e *Enumerator) Partitions() iter.Seq[types.BlockPartition] {
	return func(yield func(types.BlockPartition) bool) {
		e.Logger.Logger.Debug().Str("path", e.Paths.SysBlock).Msg("Scanning for partitions")
		files, err := os.ReadDir(e.Paths.SysBlock)
		if err != nil {
			e.Logger.Logger.Error().Err(err).Str("path", e.Paths.SysBlock).Msg("failed to read block devices")
			return
		}
		for _, file := range files {
			dname := file.Name()
			if isIgnoredDevice(dname) {
				continue
			}
			// Handled while walking the holders of their multipath map
			if isMultipathPartition(file, e.Paths, e.Logger) {
				e.Logger.Logger.Debug().Str("file", dname).Msg("Skipping multipath partition")
				continue
			}
			for _, ref := range partitionHandlerFor(e.Paths, file, e.Logger).GetPartitions(e.Paths, e.Logger) {
				p, ok := e.inspect(ref)
				if !ok {
					continue
				}
				if !yield(p) {
					return
				}
			}
		}
	}
}

func (e *Enumerator) inspect(ref PartitionRef) (types.BlockPartition, bool) {
	log := e.Logger.Logger.With().Str("partition", ref.Name).Logger()
	if mp := mountPointOf(e.Paths, ref.MountNames, e.Logger); mp != "" {
		log.Debug().Str("mountpoint", mp).Msg("Skipping mounted partition")
		return types.BlockPartition{}, false
	}

	device := filepath.Join("/dev", ref.Name)
	res, err := e.Prober.Probe(device)
	if err != nil {
		log.Info().Err(err).Msg("Skipping partition, probe failed")
		return types.BlockPartition{}, false
	}
	fs := types.ParseFilesystem(res.FS)
	if res.UUID == "" || res.FS == "" {
		log.Info().Str("fs", res.FS).Str("uuid", res.UUID).Msg("Skipping partition, filesystem type or uuid unknown")
		return types.BlockPartition{}, false
	}

	return types.BlockPartition{
		Name:      ref.Name,
		Device:    device,
		Disk:      filepath.Join("/dev", ref.Disk),
		Kind:      types.KindPart,
		FS:        fs,
		UUID:      res.UUID,
		Label:     res.Label,
		SizeBytes: sizeBytes(e.Paths, ref.SysPath, e.Logger),
	}, true
}

// Collect drains the sequence into a slice, keeping only allowed filesystems.
func Collect(seq iter.Seq[types.BlockPartition], allowed []types.Filesystem) []types.BlockPartition {
	ok := map[types.Filesystem]bool{}
	for _, f := range allowed {
		ok[f] = true
	}
	out := make([]types.BlockPartition, 0)
	for p := range seq {
		if ok[p.FS] {
			out = append(out, p)
		}
	}
	return out
}
