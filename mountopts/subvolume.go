package mountopts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go"
	"github.com/dennwc/btrfs"
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/kairos-io/mount-drives/constants"
	"github.com/kairos-io/mount-drives/types"
	"github.com/twpayne/go-vfs/v4"
	"k8s.io/mount-utils"
)

// Subvolumes inspects and creates btrfs subvolumes on a mounted filesystem.
// Paths are host paths.
type Subvolumes interface {
	Exists(path string) (bool, error)
	IsSubVolume(path string) (bool, error)
	Create(path string) error
}

// BtrfsSubvolumes talks to the kernel through btrfs ioctls.
type BtrfsSubvolumes struct{}

var _ Subvolumes = BtrfsSubvolumes{}

func (BtrfsSubvolumes) Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (BtrfsSubvolumes) IsSubVolume(path string) (bool, error) {
	return btrfs.IsSubVolume(path)
}

func (BtrfsSubvolumes) Create(path string) error {
	return btrfs.CreateSubVolume(path)
}

// Bootstrapper creates a named subvolume at the top level of a btrfs device.
type Bootstrapper struct {
	FS         types.FS
	Mounter    mount.Interface
	Subvolumes Subvolumes
	Logger     *types.Logger
	// WorkDir holds the private temporary mount points.
	WorkDir         string
	UnmountAttempts uint
	UnmountDelay    time.Duration
}

func NewBootstrapper(fsys types.FS, mounter mount.Interface, workDir string, logger *types.Logger) *Bootstrapper {
	return &Bootstrapper{
		FS:              fsys,
		Mounter:         mounter,
		Subvolumes:      BtrfsSubvolumes{},
		Logger:          logger,
		WorkDir:         workDir,
		UnmountAttempts: constants.UnmountAttempts,
		UnmountDelay:    constants.UnmountDelay,
	}
}

// Ensure mounts device on a fresh temporary directory, creates subvolume if it
// is not there yet and tears the mount down again. The teardown runs on every
// path, so a failure never leaves the device mounted. Errors wrap
// ErrSubvolumeBootstrap.
func (b *Bootstrapper) Ensure(device, subvolume string) (err error) {
	log := b.Logger.Logger.With().Str("device", device).Str("subvolume", subvolume).Logger()

	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrSubvolumeBootstrap, device, err)
	}
	tmp := filepath.Join(b.WorkDir, "btrfs-"+id.String())
	if err := vfs.MkdirAll(b.FS, tmp, constants.DirPerm); err != nil {
		return fmt.Errorf("%w: %s: creating %s: %w", types.ErrSubvolumeBootstrap, device, tmp, err)
	}
	target, err := b.FS.RawPath(tmp)
	if err != nil {
		_ = b.FS.Remove(tmp)
		return fmt.Errorf("%w: %s: %w", types.ErrSubvolumeBootstrap, device, err)
	}

	log.Debug().Str("target", target).Msg("Mounting btrfs top level")
	if err := b.Mounter.Mount(device, target, string(types.Btrfs), nil); err != nil {
		if rmErr := b.FS.Remove(tmp); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", tmp).Msg("Failed to remove temporary mount point")
		}
		return fmt.Errorf("%w: %s: mounting: %w", types.ErrSubvolumeBootstrap, device, err)
	}
	defer func() {
		tErr := b.teardown(tmp, target)
		switch {
		case tErr == nil:
		case err == nil:
			err = fmt.Errorf("%w: %s: %w", types.ErrSubvolumeBootstrap, device, tErr)
		default:
			err = multierror.Append(err, tErr)
		}
	}()

	path := filepath.Join(target, subvolume)
	exists, err := b.Subvolumes.Exists(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrSubvolumeBootstrap, device, err)
	}
	if exists {
		isSub, err := b.Subvolumes.IsSubVolume(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", types.ErrSubvolumeBootstrap, device, err)
		}
		if !isSub {
			return fmt.Errorf("%w: %s: %s exists and is not a subvolume", types.ErrSubvolumeBootstrap, device, subvolume)
		}
		log.Info().Msg("Subvolume already exists")
		return nil
	}

	if err := b.Subvolumes.Create(path); err != nil {
		return fmt.Errorf("%w: %s: creating %s: %w", types.ErrSubvolumeBootstrap, device, subvolume, err)
	}
	log.Info().Msg("Subvolume created")
	return nil
}

// teardown unmounts target and removes its directory. The directory is kept
// when the unmount fails: it still holds the mounted filesystem.
func (b *Bootstrapper) teardown(dir, target string) error {
	attempts := b.UnmountAttempts
	if attempts == 0 {
		attempts = constants.UnmountAttempts
	}
	err := retry.Do(
		func() error { return b.Mounter.Unmount(target) },
		retry.Attempts(attempts),
		retry.Delay(b.UnmountDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			b.Logger.Logger.Debug().Uint("attempt", n+1).Err(err).Str("target", target).Msg("Unmount failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("unmounting %s: %w", target, err)
	}
	if err := b.FS.Remove(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	return nil
}
