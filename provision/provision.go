// Package provision runs the whole provisioning pass: enumerate, filter,
// back up, then label, prepare and write each partition, and finally
// validate and optionally mount what was written.
package provision

import (
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kairos-io/mount-drives/config"
	"github.com/kairos-io/mount-drives/constants"
	"github.com/kairos-io/mount-drives/fstab"
	"github.com/kairos-io/mount-drives/ghw"
	"github.com/kairos-io/mount-drives/labels"
	"github.com/kairos-io/mount-drives/mountopts"
	"github.com/kairos-io/mount-drives/prompt"
	"github.com/kairos-io/mount-drives/types"
	"github.com/kairos-io/mount-drives/utils"
	"k8s.io/mount-utils"
)

// PartitionSource yields the partitions of the machine, see ghw.Enumerator.
type PartitionSource interface {
	Partitions() iter.Seq[types.BlockPartition]
}

type Provisioner struct {
	Config   *config.Config
	FS       types.FS
	Runner   types.Runner
	Mounter  mount.Interface
	Prompter prompt.Prompter
	Source   PartitionSource
	Logger   *types.Logger

	// Optional, defaulted by New.
	Relabeler  labels.Relabeler
	Subvolumes mountopts.Subvolumes
	Now        func() time.Time
}

func New(cfg *config.Config, fsys types.FS, runner types.Runner, mounter mount.Interface, prompter prompt.Prompter, source PartitionSource, logger *types.Logger) *Provisioner {
	return &Provisioner{
		Config:     cfg,
		FS:         fsys,
		Runner:     runner,
		Mounter:    mounter,
		Prompter:   prompter,
		Source:     source,
		Logger:     logger,
		Relabeler:  &labels.CommandRelabeler{Runner: runner, Logger: logger},
		Subvolumes: mountopts.BtrfsSubvolumes{},
		Now:        time.Now,
	}
}

// run holds the state of a single pass.
type run struct {
	*Provisioner
	report   *types.Report
	table    *fstab.Table
	registry *labels.Registry
	resolver *labels.Resolver
	policy   *mountopts.Policy
	writer   *fstab.Writer
}

// Run executes one provisioning pass. The returned error is only set when the
// run was aborted; per partition failures, validation and activation problems
// are recorded in the report.
func (p *Provisioner) Run() (*types.Report, error) {
	r := &run{Provisioner: p, report: &types.Report{Results: []types.PartitionResult{}, Written: []types.MountEntry{}}}
	err := r.execute()
	if err != nil {
		r.report.Aborted = true
		p.Logger.Logger.Error().Err(err).Msg("Run aborted")
	}
	return r.report, err
}

func (r *run) execute() error {
	cfg := r.Config
	lock, err := utils.AcquireRunLock(r.FS, cfg.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			r.Logger.Logger.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	if cfg.Prober == constants.ProberBlkid {
		if err := utils.RequireTools(r.Runner, "blkid"); err != nil {
			return err
		}
	}

	candidates := ghw.Collect(r.Source.Partitions(), cfg.FilesystemKinds())
	r.Logger.Logger.Info().Int("candidates", len(candidates)).Msg("Partitions enumerated")

	r.table, err = fstab.Load(r.FS, cfg.Fstab)
	if err != nil {
		return fmt.Errorf("reading %s: %w", cfg.Fstab, err)
	}

	var pending []types.BlockPartition
	for _, part := range candidates {
		if r.table.HasUUID(part.UUID) {
			r.Logger.Logger.Info().Str("device", part.Device).Str("uuid", part.UUID).Msg("Already in mount table, no change")
			r.report.Results = append(r.report.Results, types.PartitionResult{
				Device: part.Device, UUID: part.UUID, Label: part.Label,
				Outcome: types.OutcomeUnchanged, Reason: types.ErrDuplicateEntry.Error(),
			})
			continue
		}
		pending = append(pending, part)
	}
	if len(pending) == 0 {
		r.Logger.Logger.Info().Msg("No changes")
		return nil
	}

	if err := utils.RequireTools(r.Runner, labels.RelabelTools(kindsOf(pending)...)...); err != nil {
		return err
	}

	r.seedRegistry(candidates)

	backup, err := fstab.NewBackupManager(r.FS, r.Logger).WithClock(r.Now).Backup(cfg.Fstab)
	if err != nil {
		return err
	}
	r.report.Backup = backup

	r.resolver = &labels.Resolver{Registry: r.registry, Prompter: r.Prompter, Relabeler: r.Relabeler, Logger: r.Logger}
	bootstrapper := mountopts.NewBootstrapper(r.FS, r.Mounter, cfg.WorkDir, r.Logger)
	bootstrapper.Subvolumes = r.Subvolumes
	r.policy = &mountopts.Policy{MountRoot: cfg.MountRoot, Bootstrapper: bootstrapper}
	r.writer = fstab.NewWriter(r.FS, cfg.Fstab, r.Logger)

	for _, part := range pending {
		res := r.provision(part)
		r.report.Results = append(r.report.Results, res)
		if res.Err != nil && types.IsFatal(res.Err) {
			return res.Err
		}
	}

	if !r.report.Changed() {
		r.Logger.Logger.Info().Msg("No entries written, skipping validation")
		return nil
	}
	r.validate()
	r.activate()
	return nil
}

// seedRegistry reserves the labels already in use: DiskN mount points of the
// table and canonical on-disk labels of the candidates. First owner wins.
func (r *run) seedRegistry(candidates []types.BlockPartition) {
	r.registry = labels.NewRegistry()
	for mp, owner := range r.table.MountPoints() {
		label := filepath.Base(mp)
		if filepath.Dir(mp) != filepath.Clean(r.Config.MountRoot) || !labels.IsCanonical(label) {
			continue
		}
		if err := r.registry.Register(label, owner); err != nil {
			r.Logger.Logger.Warn().Err(err).Str("mountpoint", mp).Msg("Mount point used twice in mount table")
		}
	}
	for _, part := range candidates {
		if !labels.IsCanonical(part.Label) {
			continue
		}
		if _, taken := r.registry.Owner(part.Label); !taken {
			_ = r.registry.Register(part.Label, part.UUID)
		}
	}
	r.Logger.Logger.Debug().Strs("labels", r.registry.Labels()).Msg("Labels in use")
}

// provision takes one partition through label, policy and write.
func (r *run) provision(part types.BlockPartition) types.PartitionResult {
	res := types.PartitionResult{Device: part.Device, UUID: part.UUID}
	log := r.Logger.Logger.With().Str("device", part.Device).Str("uuid", part.UUID).Logger()

	label, err := r.resolver.Resolve(part)
	if err != nil {
		return fail(res, err)
	}
	res.Label = label

	entry, err := r.policy.Entry(part, label)
	if err != nil {
		return fail(res, err)
	}
	res.MountPoint = entry.MountPoint

	if err := r.policy.Prepare(part, label); err != nil {
		log.Error().Err(err).Msg("Preparing partition failed, no entry written")
		return fail(res, err)
	}

	if err := r.writer.Append(entry); err != nil {
		return fail(res, err)
	}
	r.report.Written = append(r.report.Written, entry)
	res.Outcome = types.OutcomeWritten
	return res
}

func fail(res types.PartitionResult, err error) types.PartitionResult {
	res.Err = err
	res.Reason = err.Error()
	switch {
	case errors.Is(err, types.ErrLabelDeclined):
		res.Outcome = types.OutcomeSkipped
	case errors.Is(err, types.ErrDuplicateEntry):
		res.Outcome = types.OutcomeUnchanged
		res.Err = nil
	default:
		res.Outcome = types.OutcomeFailed
	}
	return res
}

func (r *run) validate() {
	v := &fstab.Validator{FS: r.FS, Runner: r.Runner, Logger: r.Logger, VerifyCommand: r.Config.VerifyCommand}
	err := v.Validate(r.Config.Fstab)
	r.report.Validated = err == nil
	r.report.ValidationErr = err
}

// activate mounts the written entries when configured to or confirmed.
// Nothing is mounted after a failed validation.
func (r *run) activate() {
	if r.report.ValidationErr != nil {
		r.Logger.Logger.Warn().Msg("Not activating mounts, mount table failed validation")
		return
	}
	ok := r.Config.Activate
	if !ok {
		var err error
		question := fmt.Sprintf("Mount the %d new entries now?", len(r.report.Written))
		ok, err = r.Prompter.Confirm(question, false)
		if err != nil {
			r.Logger.Logger.Warn().Err(err).Msg("Activation prompt failed")
			return
		}
	}
	if !ok {
		r.Logger.Logger.Info().Msg("New entries will be mounted on next boot")
		return
	}

	mounted := map[string]bool{}
	if mps, err := r.Mounter.List(); err == nil {
		for _, mp := range mps {
			mounted[mp.Path] = true
		}
	}

	var result *multierror.Error
	for _, e := range r.report.Written {
		target, err := r.FS.RawPath(e.MountPoint)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if mounted[target] {
			r.Logger.Logger.Debug().Str("mountpoint", e.MountPoint).Msg("Already mounted")
			continue
		}
		if err := r.Mounter.Mount(e.Source(), target, string(e.FS), strings.Split(e.Options, ",")); err != nil {
			result = multierror.Append(result, fmt.Errorf("mounting %s: %w", e.MountPoint, err))
			continue
		}
		r.Logger.Logger.Info().Str("mountpoint", e.MountPoint).Msg("Mounted")
		r.report.Activated = append(r.report.Activated, e.MountPoint)
	}
	r.report.ActivationErr = result.ErrorOrNil()
}

func kindsOf(parts []types.BlockPartition) []types.Filesystem {
	seen := map[types.Filesystem]bool{}
	var out []types.Filesystem
	for _, p := range parts {
		if !seen[p.FS] {
			seen[p.FS] = true
			out = append(out, p.FS)
		}
	}
	return out
}
