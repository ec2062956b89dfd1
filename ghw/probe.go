package ghw

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kairos-io/mount-drives/types"
)

// UdevProber reads filesystem identity from the udev runtime database, which
// blkid already populated when udev processed the device.
type UdevProber struct {
	Paths  *Paths
	Logger *types.Logger
}

var _ types.Prober = &UdevProber{}

func (u *UdevProber) Probe(device string) (types.ProbeResult, error) {
	name := filepath.Base(device)
	sysPath, ok := sysPathFor(u.Paths, name)
	if !ok {
		return types.ProbeResult{}, fmt.Errorf("no sysfs entry for %s", device)
	}
	info, err := udevInfoPartition(u.Paths, sysPath, u.Logger)
	if err != nil {
		return types.ProbeResult{}, err
	}
	res := types.ProbeResult{
		FS:    info["ID_FS_TYPE"],
		UUID:  info["ID_FS_UUID"],
		Label: info["ID_FS_LABEL"],
	}
	u.Logger.Logger.Trace().Str("device", device).Interface("probe", res).Msg("Got udev probe result")
	return res, nil
}

// BlkidProber asks blkid directly, for systems where the udev database is
// not populated (containers, early boot).
type BlkidProber struct {
	Runner types.Runner
	Logger *types.Logger
}

var _ types.Prober = &BlkidProber{}

func (b *BlkidProber) Probe(device string) (types.ProbeResult, error) {
	out, err := b.Runner.Run("blkid", "-o", "export", device)
	if err != nil {
		return types.ProbeResult{}, fmt.Errorf("blkid %s: %w: %s", device, err, strings.TrimSpace(string(out)))
	}
	return parseBlkidExport(out), nil
}

// parseBlkidExport parses `blkid -o export` KEY=VALUE lines.
func parseBlkidExport(out []byte) types.ProbeResult {
	var res types.ProbeResult
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "TYPE":
			res.FS = value
		case "UUID":
			res.UUID = value
		case "LABEL":
			res.Label = value
		}
	}
	return res
}
