package fstab

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/kairos-io/mount-drives/constants"
	"github.com/kairos-io/mount-drives/types"
)

// BackupManager copies the mount table aside before the first mutation of a run.
type BackupManager struct {
	FS     types.FS
	Logger *types.Logger
	// Now is the clock used to date backups, time.Now when nil.
	Now func() time.Time
}

func NewBackupManager(fsys types.FS, logger *types.Logger) *BackupManager {
	return &BackupManager{FS: fsys, Logger: logger, Now: time.Now}
}

// WithClock replaces the clock used to date backups. nil keeps the current one.
func (b *BackupManager) WithClock(now func() time.Time) *BackupManager {
	if now != nil {
		b.Now = now
	}
	return b
}

// BackupName returns the candidate name for the given sequence number.
// seq < 0 is the plain dated name.
func BackupName(path string, date time.Time, seq int) string {
	name := path + constants.BackupSuffix + date.Format(constants.BackupDateFormat)
	if seq >= 0 {
		name = fmt.Sprintf("%s_%d", name, seq)
	}
	return name
}

// Backup writes a full copy of path to the first unused backup name and
// returns it. Existing backups are never overwritten. Every failure wraps
// ErrBackupFailure.
func (b *BackupManager) Backup(path string) (string, error) {
	data, err := b.FS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", types.ErrBackupFailure, path, err)
	}
	perm := os.FileMode(constants.FilePerm)
	if fi, err := b.FS.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	date := now()

	for seq := -1; ; seq++ {
		name := BackupName(path, date, seq)
		f, err := b.FS.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if errors.Is(err, fs.ErrExist) {
			b.Logger.Logger.Debug().Str("backup", name).Msg("Backup name taken")
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: creating %s: %w", types.ErrBackupFailure, name, err)
		}
		if err := writeAndSync(f, data); err != nil {
			// A partial copy would pass for a valid backup later on
			_ = b.FS.Remove(name)
			return "", fmt.Errorf("%w: writing %s: %w", types.ErrBackupFailure, name, err)
		}
		b.Logger.Logger.Info().Str("fstab", path).Str("backup", name).Msg("Mount table backed up")
		return name, nil
	}
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
