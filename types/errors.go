package types

import "errors"

// Run-aborting failures. They touch shared state, so the whole run stops.
var (
	ErrToolMissing        = errors.New("required tool missing")
	ErrBackupFailure      = errors.New("mount table backup failed")
	ErrLabelLimitExceeded = errors.New("canonical label limit exceeded")
	ErrLocked             = errors.New("another run holds the lock")
)

// Partition-scoped failures. The partition is skipped and the run goes on.
var (
	ErrProbeIncomplete    = errors.New("filesystem type or uuid could not be determined")
	ErrDuplicateEntry     = errors.New("uuid already present in mount table")
	ErrLabelDeclined      = errors.New("generated label declined")
	ErrRelabel            = errors.New("relabel failed")
	ErrSubvolumeBootstrap = errors.New("btrfs subvolume bootstrap failed")
	ErrWrite              = errors.New("mount table append failed")
)

// ErrValidation is reported after the run and never aborts it.
var ErrValidation = errors.New("mount table validation failed")

// IsFatal reports whether err has to abort the remainder of the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrToolMissing) ||
		errors.Is(err, ErrBackupFailure) ||
		errors.Is(err, ErrLabelLimitExceeded) ||
		errors.Is(err, ErrLocked)
}
