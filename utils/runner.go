package utils

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/kairos-io/mount-drives/types"
)

// RealRunner runs commands on the host. Every call is blocking and has no timeout.
type RealRunner struct {
	Logger *types.Logger
}

var _ types.Runner = &RealRunner{}

func (r *RealRunner) Run(command string, args ...string) ([]byte, error) {
	if r.Logger != nil {
		r.Logger.Logger.Debug().Str("command", command).Strs("args", args).Msg("running command")
	}
	out, err := exec.Command(command, args...).CombinedOutput()
	if err != nil && r.Logger != nil {
		r.Logger.Logger.Debug().Str("command", command).Str("output", string(out)).Err(err).Msg("command failed")
	}
	return out, err
}

func (r *RealRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// SH splits a shell-like command line and runs it through the runner.
// No shell is involved, so pipes and redirections are not supported.
func SH(runner types.Runner, line string) (string, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return "", fmt.Errorf("parsing command line %q: %w", line, err)
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command line")
	}
	out, err := runner.Run(fields[0], fields[1:]...)
	return strings.TrimSpace(string(out)), err
}

// CommandName returns the executable of a shell-like command line.
func CommandName(line string) string {
	fields, err := shlex.Split(line)
	if err != nil || len(fields) == 0 {
		return ""
	}
	return fields[0]
}
