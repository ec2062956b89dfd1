package utils

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/kairos-io/mount-drives/constants"
	"github.com/kairos-io/mount-drives/types"
	"github.com/twpayne/go-vfs/v4"
)

// RunLock keeps two provisioning runs from touching the mount table at the same time.
type RunLock struct {
	lock *flock.Flock
}

// AcquireRunLock takes the lock without waiting. A held lock is reported as ErrLocked.
func AcquireRunLock(fs types.FS, path string) (*RunLock, error) {
	if err := vfs.MkdirAll(fs, filepath.Dir(path), constants.DirPerm); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	raw, err := fs.RawPath(path)
	if err != nil {
		return nil, err
	}
	l := flock.New(raw)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrLocked, path)
	}
	return &RunLock{lock: l}, nil
}

func (r *RunLock) Release() error {
	if r == nil || r.lock == nil {
		return nil
	}
	return r.lock.Unlock()
}
