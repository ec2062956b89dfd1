package labels

import (
	"fmt"
	"strings"

	"github.com/kairos-io/mount-drives/types"
)

type relabelFunc func(device, label string) (string, []string)

// relabelers is the native relabel command of every supported filesystem.
var relabelers = map[types.Filesystem]relabelFunc{
	types.Ext4: func(device, label string) (string, []string) {
		return "e2label", []string{device, label}
	},
	types.Xfs: func(device, label string) (string, []string) {
		return "xfs_admin", []string{"-L", label, device}
	},
	types.Btrfs: func(device, label string) (string, []string) {
		return "btrfs", []string{"filesystem", "label", device, label}
	},
	types.Ntfs: func(device, label string) (string, []string) {
		return "ntfslabel", []string{device, label}
	},
}

// RelabelCommand returns the command relabeling device for the filesystem kind.
func RelabelCommand(fs types.Filesystem, device, label string) (string, []string, error) {
	f, ok := relabelers[fs]
	if !ok {
		return "", nil, fmt.Errorf("no relabel command for filesystem %s", fs)
	}
	cmd, args := f(device, label)
	return cmd, args, nil
}

// RelabelTools returns the tools needed to relabel the given kinds.
func RelabelTools(kinds ...types.Filesystem) []string {
	var tools []string
	for _, k := range kinds {
		if cmd, _, err := RelabelCommand(k, "", ""); err == nil {
			tools = append(tools, cmd)
		}
	}
	return tools
}

// Relabeler writes a new label to an unmounted filesystem.
type Relabeler interface {
	Relabel(fs types.Filesystem, device, label string) error
}

// CommandRelabeler runs the native relabel tool of each filesystem.
type CommandRelabeler struct {
	Runner types.Runner
	Logger *types.Logger
}

func (c *CommandRelabeler) Relabel(fs types.Filesystem, device, label string) error {
	cmd, args, err := RelabelCommand(fs, device, label)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrRelabel, err)
	}
	c.Logger.Logger.Debug().Str("device", device).Str("label", label).Str("command", cmd).Msg("Relabeling")
	out, err := c.Runner.Run(cmd, args...)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w: %s", types.ErrRelabel, cmd, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
