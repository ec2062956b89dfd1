package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/kairos-io/mount-drives/config"
	"github.com/kairos-io/mount-drives/constants"
	"github.com/kairos-io/mount-drives/fstab"
	"github.com/kairos-io/mount-drives/ghw"
	"github.com/kairos-io/mount-drives/prompt"
	"github.com/kairos-io/mount-drives/provision"
	"github.com/kairos-io/mount-drives/state"
	"github.com/kairos-io/mount-drives/types"
	"github.com/kairos-io/mount-drives/utils"
	"github.com/pterm/pterm"
	"github.com/twpayne/go-vfs/v4"
	"github.com/urfave/cli/v2"
	"k8s.io/mount-utils"
)

const (
	exitDone     = 0
	exitAborted  = 1
	exitProblems = 2
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "configuration file, drop-ins are read from config.d next to it",
		Value: constants.DefaultConfigFile,
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "trace, debug, info, warn or error",
	}
	quietFlag = &cli.BoolFlag{
		Name:  "quiet",
		Usage: "do not log to the console",
	}
	fstabFlag = &cli.StringFlag{
		Name:  "fstab",
		Usage: "mount table to provision",
	}
	mountRootFlag = &cli.StringFlag{
		Name:  "mount-root",
		Usage: "directory the DiskN mount points are created under",
	}
	proberFlag = &cli.StringFlag{
		Name:  "prober",
		Usage: "udev or blkid",
	}
	filesystemsFlag = &cli.StringSliceFlag{
		Name:  "filesystems",
		Usage: "filesystem kinds to provision",
	}
	ntfsFlag = &cli.BoolFlag{
		Name:  "ntfs",
		Usage: "also provision ntfs partitions",
	}
	yesFlag = &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "accept generated labels without asking",
	}
	activateFlag = &cli.BoolFlag{
		Name:  "activate",
		Usage: "mount new entries without asking",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "print JSON instead of a table",
	}
	queryFlag = &cli.StringFlag{
		Name:  "query",
		Usage: "jq expression evaluated against the inventory, e.g. 'partitions[].device'",
	}
	schemaFlag = &cli.BoolFlag{
		Name:  "schema",
		Usage: "print the JSON schema of the configuration file",
	}

	globalFlags = []cli.Flag{
		configFlag, logLevelFlag, quietFlag, fstabFlag, mountRootFlag, proberFlag,
		filesystemsFlag, ntfsFlag, yesFlag, activateFlag,
	}
)

func CliCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "run",
			Usage:  "provision every unmounted partition (default)",
			Flags:  []cli.Flag{yesFlag, activateFlag},
			Action: runAction,
		},
		{
			Name:   "scan",
			Usage:  "list the partitions a run would consider",
			Flags:  []cli.Flag{jsonFlag, queryFlag},
			Action: scanAction,
		},
		{
			Name:  "backup",
			Usage: "back up the mount table and print the backup path",
			Action: func(cCtx *cli.Context) error {
				e, err := setup(cCtx)
				if err != nil {
					return err
				}
				defer e.logger.Cleanup()
				name, err := fstab.NewBackupManager(e.fs, e.logger).Backup(e.cfg.Fstab)
				if err != nil {
					return cli.Exit(err, exitAborted)
				}
				fmt.Println(name)
				return nil
			},
		},
		{
			Name:  "validate",
			Usage: "check the mount table",
			Action: func(cCtx *cli.Context) error {
				e, err := setup(cCtx)
				if err != nil {
					return err
				}
				defer e.logger.Cleanup()
				v := &fstab.Validator{FS: e.fs, Runner: e.runner, Logger: e.logger, VerifyCommand: e.cfg.VerifyCommand}
				if err := v.Validate(e.cfg.Fstab); err != nil {
					return cli.Exit(err, exitProblems)
				}
				pterm.Success.Printfln("%s is valid", e.cfg.Fstab)
				return nil
			},
		},
		{
			Name:  "config",
			Usage: "print the effective configuration",
			Flags: []cli.Flag{schemaFlag},
			Action: func(cCtx *cli.Context) error {
				if cCtx.Bool(schemaFlag.Name) {
					schema, err := config.Schema()
					if err != nil {
						return cli.Exit(err, exitAborted)
					}
					fmt.Println(string(schema))
					return nil
				}
				e, err := setup(cCtx)
				if err != nil {
					return err
				}
				defer e.logger.Cleanup()
				s, err := e.cfg.String()
				if err != nil {
					return cli.Exit(err, exitAborted)
				}
				fmt.Print(s)
				return nil
			},
		},
	}
}

// env is what every command needs.
type env struct {
	cfg    *config.Config
	logger *types.Logger
	fs     types.FS
	runner types.Runner
}

func setup(cCtx *cli.Context) (*env, error) {
	fs := vfs.OSFS
	opts := config.DefaultOptions()
	if cCtx.IsSet(configFlag.Name) {
		opts.File = cCtx.String(configFlag.Name)
		opts.Required = true
		opts.DropInDir = filepath.Join(filepath.Dir(opts.File), "config.d")
	}
	cfg, err := config.Load(fs, opts)
	if err != nil {
		return nil, cli.Exit(err, exitAborted)
	}
	applyFlags(cCtx, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(err, exitAborted)
	}

	logger := types.NewLogger("mount-drives", cfg.LogLevel, cCtx.Bool(quietFlag.Name))
	logger.Logger.Debug().Strs("sources", cfg.Sources).Msg("Configuration loaded")
	return &env{
		cfg:    cfg,
		logger: &logger,
		fs:     fs,
		runner: &utils.RealRunner{Logger: &logger},
	}, nil
}

// applyFlags puts explicitly set flags on top of the loaded configuration.
func applyFlags(cCtx *cli.Context, cfg *config.Config) {
	if cCtx.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = cCtx.String(logLevelFlag.Name)
	}
	if cCtx.IsSet(fstabFlag.Name) {
		cfg.Fstab = cCtx.String(fstabFlag.Name)
	}
	if cCtx.IsSet(mountRootFlag.Name) {
		cfg.MountRoot = cCtx.String(mountRootFlag.Name)
	}
	if cCtx.IsSet(proberFlag.Name) {
		cfg.Prober = cCtx.String(proberFlag.Name)
	}
	if cCtx.IsSet(filesystemsFlag.Name) {
		cfg.Filesystems = cCtx.StringSlice(filesystemsFlag.Name)
	}
	if cCtx.Bool(ntfsFlag.Name) && !slices.Contains(cfg.Filesystems, string(types.Ntfs)) {
		cfg.Filesystems = append(cfg.Filesystems, string(types.Ntfs))
	}
	if cCtx.Bool(yesFlag.Name) {
		cfg.AssumeYes = true
	}
	if cCtx.Bool(activateFlag.Name) {
		cfg.Activate = true
	}
}

func (e *env) enumerator() *ghw.Enumerator {
	paths := ghw.NewPaths("")
	var prober types.Prober = &ghw.UdevProber{Paths: paths, Logger: e.logger}
	if e.cfg.Prober == constants.ProberBlkid {
		prober = &ghw.BlkidProber{Runner: e.runner, Logger: e.logger}
	}
	return ghw.NewEnumerator(paths, prober, e.logger)
}

func runAction(cCtx *cli.Context) error {
	e, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer e.logger.Cleanup()

	p := provision.New(e.cfg, e.fs, e.runner, mount.New(""), prompt.New(e.cfg.AssumeYes, e.logger), e.enumerator(), e.logger)
	report, err := p.Run()
	printReport(os.Stdout, report)
	return exitFor(report, err)
}

// exitFor maps a run to the process exit code: 1 when aborted, 2 when it
// finished with validation or activation problems.
func exitFor(report *types.Report, err error) error {
	switch {
	case err != nil:
		return cli.Exit(err, exitAborted)
	case report.Problems():
		return cli.Exit(errors.Join(report.ValidationErr, report.ActivationErr), exitProblems)
	}
	return nil
}

func printReport(w io.Writer, report *types.Report) {
	if len(report.Results) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Device", "UUID", "Label", "Mount point", "Outcome", "Reason"})
		for _, r := range report.Results {
			reason := r.Reason
			if r.Outcome == types.OutcomeWritten {
				reason = ""
			}
			t.AppendRow(table.Row{r.Device, r.UUID, r.Label, r.MountPoint, r.Outcome, reason})
		}
		t.Render()
	}

	printer := pterm.DefaultBasicText.WithWriter(w)
	switch {
	case report.Aborted:
		printer.Println(pterm.Error.Sprint("Run aborted, entries written so far were kept"))
	case !report.Changed():
		printer.Println(pterm.Info.Sprint("No changes"))
	default:
		printer.Println(pterm.Success.Sprintf("%d entries written", len(report.Written)))
	}
	if report.Backup != "" {
		printer.Println(pterm.Info.Sprintf("Backup: %s", report.Backup))
	}
	if report.ValidationErr != nil {
		printer.Println(pterm.Warning.Sprintf("Validation failed: %s", report.ValidationErr))
	}
	if report.ActivationErr != nil {
		printer.Println(pterm.Warning.Sprintf("Activation failed: %s", report.ActivationErr))
	}
}

func scanAction(cCtx *cli.Context) error {
	e, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer e.logger.Cleanup()

	parts := ghw.Collect(e.enumerator().Partitions(), e.cfg.FilesystemKinds())
	tbl, err := fstab.Load(e.fs, e.cfg.Fstab)
	if err != nil {
		return cli.Exit(err, exitAborted)
	}
	disks, err := state.GhwDisks{}.Describe()
	if err != nil {
		e.logger.Logger.Debug().Err(err).Msg("No disk details available")
	}
	inv := state.NewInventory(e.cfg.Fstab, e.cfg.MountRoot, parts, tbl, disks)

	switch {
	case cCtx.IsSet(queryFlag.Name):
		res, err := inv.Query(cCtx.String(queryFlag.Name))
		if err != nil {
			return cli.Exit(err, exitAborted)
		}
		fmt.Println(res)
	case cCtx.Bool(jsonFlag.Name):
		data, err := json.MarshalIndent(inv, "", "  ")
		if err != nil {
			return cli.Exit(err, exitAborted)
		}
		fmt.Println(string(data))
	default:
		inv.Render(os.Stdout)
	}
	return nil
}
