package fstab

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/kairos-io/mount-drives/types"
	"github.com/kairos-io/mount-drives/utils"
)

// Validator checks the structure of the mount table and, when the tool is
// available, runs an external verifier against it.
type Validator struct {
	FS     types.FS
	Runner types.Runner
	Logger *types.Logger
	// VerifyCommand is run after the structural checks, {fstab} is replaced by
	// the table path. Empty disables it.
	VerifyCommand string
}

// Validate returns nil or an error wrapping ErrValidation that lists every
// problem found.
func (v *Validator) Validate(path string) error {
	var result *multierror.Error

	table, err := Load(v.FS, path)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrValidation, err)
	}
	result = multierror.Append(result, structuralErrors(table)...)

	if err := v.verify(path); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		v.Logger.Logger.Warn().Str("fstab", path).Err(err).Msg("Mount table validation failed")
		return fmt.Errorf("%w: %w", types.ErrValidation, err)
	}
	v.Logger.Logger.Info().Str("fstab", path).Msg("Mount table validated")
	return nil
}

func structuralErrors(t *Table) []error {
	var errs []error
	uuids := map[string]int{}
	mountPoints := map[string]int{}
	for _, e := range t.Entries {
		if e.Fields < 4 || e.Fields > 6 {
			errs = append(errs, fmt.Errorf("line %d: expected 4 to 6 fields, got %d", e.Line, e.Fields))
			continue
		}
		if uuid, ok := strings.CutPrefix(e.Source, "UUID="); ok && strings.Trim(uuid, `"`) == "" {
			errs = append(errs, fmt.Errorf("line %d: empty UUID reference", e.Line))
		}
		if e.MountPoint != "none" && e.FSType != "swap" && !strings.HasPrefix(e.MountPoint, "/") {
			errs = append(errs, fmt.Errorf("line %d: mount point %q is not absolute", e.Line, e.MountPoint))
		}
		for _, f := range [][2]string{{"dump", e.Dump}, {"pass", e.Pass}} {
			if f[1] == "" {
				continue
			}
			if _, err := strconv.Atoi(f[1]); err != nil {
				errs = append(errs, fmt.Errorf("line %d: %s field %q is not a number", e.Line, f[0], f[1]))
			}
		}
		if uuid := e.UUID(); uuid != "" {
			if first, dup := uuids[uuid]; dup {
				errs = append(errs, fmt.Errorf("line %d: UUID %s already used on line %d", e.Line, uuid, first))
			} else {
				uuids[uuid] = e.Line
			}
		}
		if strings.HasPrefix(e.MountPoint, "/") {
			if first, dup := mountPoints[e.MountPoint]; dup {
				errs = append(errs, fmt.Errorf("line %d: mount point %s already used on line %d", e.Line, e.MountPoint, first))
			} else {
				mountPoints[e.MountPoint] = e.Line
			}
		}
	}
	return errs
}

func (v *Validator) verify(path string) error {
	if v.VerifyCommand == "" || v.Runner == nil {
		return nil
	}
	tool := utils.CommandName(v.VerifyCommand)
	if !utils.HasTool(v.Runner, tool) {
		v.Logger.Logger.Debug().Str("tool", tool).Msg("Verifier not installed, skipping")
		return nil
	}
	raw, err := v.FS.RawPath(path)
	if err != nil {
		return err
	}
	out, err := utils.SH(v.Runner, strings.ReplaceAll(v.VerifyCommand, "{fstab}", raw))
	if err != nil {
		return fmt.Errorf("%s: %w: %s", tool, err, out)
	}
	return nil
}
