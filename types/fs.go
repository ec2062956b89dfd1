package types

import (
	"io/fs"
	"os"
)

// FS is the filesystem interface every component works against. It is
// satisfied by vfs.OSFS in production and by vfst.TestFS in tests.
type FS interface {
	Open(name string) (fs.File, error)
	Mkdir(name string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Lstat(name string) (os.FileInfo, error)
	RemoveAll(path string) error
	Remove(name string) error
	ReadFile(filename string) ([]byte, error)
	ReadDir(dirname string) ([]fs.DirEntry, error)
	RawPath(name string) (string, error)
	OpenFile(name string, flag int, perm fs.FileMode) (*os.File, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	Rename(oldpath, newpath string) error
}

// Runner runs external tools. It is the seam between the provisioner and
// the probing, relabel and verify commands.
type Runner interface {
	Run(command string, args ...string) ([]byte, error)
	LookPath(file string) (string, error)
}
