package fstab

import (
	"fmt"
	"io"
	"os"

	"github.com/kairos-io/mount-drives/constants"
	"github.com/kairos-io/mount-drives/types"
	"github.com/twpayne/go-vfs/v4"
)

// Writer appends entries to the mount table, one open/write/close per entry.
type Writer struct {
	FS     types.FS
	Path   string
	Logger *types.Logger
}

func NewWriter(fsys types.FS, path string, logger *types.Logger) *Writer {
	return &Writer{FS: fsys, Path: path, Logger: logger}
}

// Append adds entry unless its UUID is already in the table, in which case
// ErrDuplicateEntry is returned and nothing is written. The mount point
// directory is created before the line is written.
func (w *Writer) Append(entry types.MountEntry) error {
	table, err := Load(w.FS, w.Path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", types.ErrWrite, w.Path, err)
	}
	if table.HasUUID(entry.UUID) {
		return fmt.Errorf("%w: %s", types.ErrDuplicateEntry, entry.UUID)
	}

	if err := vfs.MkdirAll(w.FS, entry.MountPoint, constants.DirPerm); err != nil {
		return fmt.Errorf("%w: creating mount point %s: %w", types.ErrWrite, entry.MountPoint, err)
	}

	line := entry.String() + "\n"
	needsNewline, err := w.missingTrailingNewline()
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrWrite, err)
	}
	if needsNewline {
		line = "\n" + line
	}

	f, err := w.FS.OpenFile(w.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, constants.FilePerm)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", types.ErrWrite, w.Path, err)
	}
	// Single write call, the line lands whole or not at all
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: appending to %s: %w", types.ErrWrite, w.Path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", types.ErrWrite, w.Path, err)
	}

	w.Logger.Logger.Info().Str("fstab", w.Path).Str("entry", entry.String()).Msg("Mount table entry appended")
	return nil
}

// missingTrailingNewline reports whether the table is non-empty and its last
// byte is not a newline.
func (w *Writer) missingTrailingNewline() (bool, error) {
	f, err := w.FS.OpenFile(w.Path, os.O_RDONLY, 0)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	if fi.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil && err != io.EOF {
		return false, err
	}
	return last[0] != '\n', nil
}
