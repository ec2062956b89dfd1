package provision_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kairos-io/mount-drives/config"
	"github.com/kairos-io/mount-drives/ghw"
	ghwMocks "github.com/kairos-io/mount-drives/ghw/mocks"
	"github.com/kairos-io/mount-drives/prompt"
	"github.com/kairos-io/mount-drives/provision"
	"github.com/kairos-io/mount-drives/types"
	"github.com/kairos-io/mount-drives/utils"
	"github.com/kairos-io/mount-drives/utils/mocks"
	"github.com/twpayne/go-vfs/v4/vfst"
	"k8s.io/mount-utils"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestProvision(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "provision test suite")
}

const originalTable = "# static file system information\nUUID=aaaa-0000 / ext4 defaults 0 1\n"

// memSubvolumes keeps btrfs subvolumes in memory by name.
type memSubvolumes struct {
	existing  map[string]bool
	createErr error
}

func (m *memSubvolumes) Exists(path string) (bool, error) {
	return m.existing[filepath.Base(path)], nil
}

func (m *memSubvolumes) IsSubVolume(path string) (bool, error) {
	return m.existing[filepath.Base(path)], nil
}

func (m *memSubvolumes) Create(path string) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.existing[filepath.Base(path)] = true
	return nil
}

var _ = Describe("Provisioner", func() {
	var fs *vfst.TestFS
	var cleanup func()
	var ghwMock ghwMocks.GhwMock
	var runner *mocks.FakeRunner
	var mounter *mount.FakeMounter
	var subvolumes *memSubvolumes
	var cfg *config.Config
	var logger types.Logger
	var answer bool
	var questions []string
	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	newProvisioner := func() *provision.Provisioner {
		paths := ghwMock.Paths()
		enumerator := ghw.NewEnumerator(paths, &ghw.UdevProber{Paths: paths, Logger: &logger}, &logger)
		prompter := prompt.Func(func(message string, _ bool) (bool, error) {
			questions = append(questions, message)
			return answer, nil
		})
		p := provision.New(cfg, fs, runner, mounter, prompter, enumerator, &logger)
		p.Subvolumes = subvolumes
		p.Now = func() time.Time { return day }
		return p
	}

	readTable := func() string {
		data, err := fs.ReadFile("/etc/fstab")
		Expect(err).ToNot(HaveOccurred())
		return string(data)
	}

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/etc/fstab":        originalTable,
			"/run/mount-drives": &vfst.Dir{Perm: 0755},
		})
		Expect(err).ToNot(HaveOccurred())
		logger = types.NewNullLogger()
		ghwMock = ghwMocks.GhwMock{}
		mounter = mount.NewFakeMounter(nil)
		subvolumes = &memSubvolumes{existing: map[string]bool{}}
		cfg = config.DefaultConfig()
		answer = true
		questions = nil
		runner = mocks.NewFakeRunner()
		// Relabel tools update the udev database like the real ones do
		runner.SideEffect = func(command string, args ...string) ([]byte, error) {
			switch command {
			case "e2label", "ntfslabel":
				ghwMock.SetLabel(filepath.Base(args[0]), args[1])
			case "xfs_admin":
				ghwMock.SetLabel(filepath.Base(args[2]), args[1])
			case "btrfs":
				ghwMock.SetLabel(filepath.Base(args[2]), args[3])
			}
			return []byte{}, nil
		}
	})
	AfterEach(func() {
		ghwMock.Clean()
		cleanup()
	})

	Describe("Scenario A: unlabeled ext4 partition", func() {
		BeforeEach(func() {
			ghwMock.AddDisk(ghwMocks.Disk{
				Name: "sdb",
				Partitions: []*ghwMocks.Partition{
					{Name: "sdb1", FS: "ext4", UUID: "1111-AAAA", Size: 2048},
				},
			})
			ghwMock.CreateDevices()
		})

		It("Relabels, backs up and appends the entry", func() {
			report, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Aborted).To(BeFalse())
			Expect(questions).To(HaveLen(2))
			Expect(questions[0]).To(ContainSubstring("as Disk0"))
			Expect(runner.Ran("e2label /dev/sdb1 Disk0")).To(BeTrue())

			Expect(readTable()).To(Equal(originalTable +
				"UUID=1111-AAAA /mnt/Disk0 ext4 defaults,nofail,noatime,data=ordered,commit=60,errors=remount-ro 0 2\n"))
			fi, err := fs.Stat("/mnt/Disk0")
			Expect(err).ToNot(HaveOccurred())
			Expect(fi.IsDir()).To(BeTrue())

			Expect(report.Backup).To(Equal("/etc/fstab.bak_2024-03-09"))
			backup, err := fs.ReadFile(report.Backup)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(backup)).To(Equal(originalTable))

			Expect(report.Results).To(HaveLen(1))
			Expect(report.Results[0].Outcome).To(Equal(types.OutcomeWritten))
			Expect(report.Results[0].Label).To(Equal("Disk0"))
			Expect(report.Validated).To(BeTrue())
			Expect(runner.Ran("findmnt --verify")).To(BeTrue())
		})

		It("Is idempotent", func() {
			_, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			first := readTable()
			runner.ClearCmds()
			questions = nil

			report, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Changed()).To(BeFalse())
			Expect(report.Count(types.OutcomeUnchanged)).To(Equal(1))
			Expect(readTable()).To(Equal(first))
			Expect(runner.Cmds).To(BeEmpty())
			Expect(questions).To(BeEmpty())
		})

		It("Skips the partition when the label is declined", func() {
			answer = false
			report, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Count(types.OutcomeSkipped)).To(Equal(1))
			Expect(report.Changed()).To(BeFalse())
			Expect(readTable()).To(Equal(originalTable))
			Expect(runner.Ran("e2label")).To(BeFalse())
			Expect(runner.Ran("findmnt")).To(BeFalse())
		})

		It("Activates new entries when configured", func() {
			cfg.Activate = true
			report, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Activated).To(Equal([]string{"/mnt/Disk0"}))
			Expect(questions).To(HaveLen(1))
			target, _ := fs.RawPath("/mnt/Disk0")
			Expect(mounter.MountPoints).To(HaveLen(1))
			Expect(mounter.MountPoints[0].Device).To(Equal("UUID=1111-AAAA"))
			Expect(mounter.MountPoints[0].Path).To(Equal(target))
			Expect(mounter.MountPoints[0].Type).To(Equal("ext4"))
		})

		It("Does not activate when validation fails", func() {
			cfg.Activate = true
			base := runner.SideEffect
			runner.SideEffect = func(command string, args ...string) ([]byte, error) {
				if command == "findmnt" {
					return []byte("parse error"), errors.New("exit status 1")
				}
				return base(command, args...)
			}
			report, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Changed()).To(BeTrue())
			Expect(errors.Is(report.ValidationErr, types.ErrValidation)).To(BeTrue())
			Expect(report.Problems()).To(BeTrue())
			Expect(mounter.MountPoints).To(BeEmpty())
		})

		It("Aborts before any mutation when a relabel tool is missing", func() {
			runner.Missing = []string{"e2label"}
			report, err := newProvisioner().Run()
			Expect(errors.Is(err, types.ErrToolMissing)).To(BeTrue())
			Expect(report.Aborted).To(BeTrue())
			Expect(report.Backup).To(BeEmpty())
			Expect(readTable()).To(Equal(originalTable))
			_, statErr := fs.Stat("/etc/fstab.bak_2024-03-09")
			Expect(statErr).To(HaveOccurred())
		})

		It("Aborts when blkid is the prober and is missing", func() {
			cfg.Prober = "blkid"
			runner.Missing = []string{"blkid"}
			_, err := newProvisioner().Run()
			Expect(errors.Is(err, types.ErrToolMissing)).To(BeTrue())
		})

		It("Aborts when the mount table cannot be backed up", func() {
			Expect(fs.Chmod("/etc", 0555)).To(Succeed())
			defer func() { _ = fs.Chmod("/etc", 0755) }()
			report, err := newProvisioner().Run()
			if err == nil {
				Skip("running with privileges that ignore directory permissions")
			}
			Expect(errors.Is(err, types.ErrBackupFailure)).To(BeTrue())
			Expect(report.Aborted).To(BeTrue())
			Expect(runner.Ran("e2label")).To(BeFalse())
			Expect(readTable()).To(Equal(originalTable))
		})

		It("Refuses to run while another run holds the lock", func() {
			lock, err := utils.AcquireRunLock(fs, cfg.LockFile)
			Expect(err).ToNot(HaveOccurred())
			defer lock.Release()
			report, err := newProvisioner().Run()
			Expect(errors.Is(err, types.ErrLocked)).To(BeTrue())
			Expect(report.Aborted).To(BeTrue())
		})
	})

	Describe("Scenario B: partition already in the table", func() {
		It("Leaves the table unchanged", func() {
			table := originalTable + "UUID=1111-AAAA /data ext4 defaults 0 2\n"
			Expect(fs.WriteFile("/etc/fstab", []byte(table), 0644)).To(Succeed())
			ghwMock.AddDisk(ghwMocks.Disk{
				Name:       "sdb",
				Partitions: []*ghwMocks.Partition{{Name: "sdb1", FS: "ext4", UUID: "1111-AAAA"}},
			})
			ghwMock.CreateDevices()

			report, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Changed()).To(BeFalse())
			Expect(report.Results).To(HaveLen(1))
			Expect(report.Results[0].Outcome).To(Equal(types.OutcomeUnchanged))
			Expect(report.Backup).To(BeEmpty())
			Expect(readTable()).To(Equal(table))
		})
	})

	Describe("Scenario C: btrfs partition with a canonical label", func() {
		BeforeEach(func() {
			ghwMock.AddDisk(ghwMocks.Disk{
				Name:       "sdc",
				Partitions: []*ghwMocks.Partition{{Name: "sdc1", FS: "btrfs", UUID: "3333-CCCC", Label: "Disk3"}},
			})
			ghwMock.CreateDevices()
			// Keeps the activation prompt from mounting the new entry
			answer = false
		})

		It("Creates the subvolume and references it", func() {
			report, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			Expect(subvolumes.existing).To(HaveKey("@Disk3"))
			Expect(runner.Ran("btrfs filesystem label")).To(BeFalse())
			Expect(mounter.MountPoints).To(BeEmpty())
			entries, err := fs.ReadDir("/run/mount-drives")
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(BeEmpty())
			Expect(readTable()).To(ContainSubstring(
				"UUID=3333-CCCC /mnt/Disk3 btrfs defaults,nofail,noatime,compress=zstd:3,space_cache=v2,autodefrag,subvol=@Disk3 0 2\n"))
			Expect(report.Results[0].Outcome).To(Equal(types.OutcomeWritten))
		})

		It("Writes nothing when the subvolume cannot be created", func() {
			subvolumes.createErr = errors.New("no space left on device")
			report, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Results[0].Outcome).To(Equal(types.OutcomeFailed))
			Expect(errors.Is(report.Results[0].Err, types.ErrSubvolumeBootstrap)).To(BeTrue())
			Expect(mounter.MountPoints).To(BeEmpty())
			entries, _ := fs.ReadDir("/run/mount-drives")
			Expect(entries).To(BeEmpty())
			Expect(readTable()).ToNot(ContainSubstring("3333-CCCC"))
			Expect(report.Changed()).To(BeFalse())
		})
	})

	Describe("Label uniqueness", func() {
		It("Moves a partition whose canonical label is taken by the table", func() {
			Expect(fs.WriteFile("/etc/fstab", []byte(originalTable+"UUID=9999-ZZZZ /mnt/Disk0 xfs defaults 0 2\n"), 0644)).To(Succeed())
			ghwMock.AddDisk(ghwMocks.Disk{
				Name: "sdb",
				Partitions: []*ghwMocks.Partition{
					{Name: "sdb1", FS: "xfs", UUID: "1111-AAAA", Label: "Disk0"},
					{Name: "sdb2", FS: "ext4", UUID: "2222-BBBB", Label: "Disk1"},
					{Name: "sdb3", FS: "ext4", UUID: "3333-CCCC", Label: "backup"},
				},
			})
			ghwMock.CreateDevices()

			report, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			got := map[string]string{}
			for _, r := range report.Results {
				got[r.UUID] = r.Label
			}
			Expect(got).To(Equal(map[string]string{
				"1111-AAAA": "Disk2",
				"2222-BBBB": "Disk1",
				"3333-CCCC": "Disk3",
			}))
			Expect(runner.Ran("xfs_admin -L Disk2 /dev/sdb1")).To(BeTrue())
			Expect(runner.Ran("e2label /dev/sdb2")).To(BeFalse())
		})
	})

	Describe("Scenario D: label limit", func() {
		It("Aborts once every label is in use and keeps earlier entries", func() {
			var b strings.Builder
			b.WriteString(originalTable)
			for i := 0; i < 99; i++ {
				fmt.Fprintf(&b, "UUID=other-%d /mnt/Disk%d ext4 defaults 0 2\n", i, i)
			}
			Expect(fs.WriteFile("/etc/fstab", []byte(b.String()), 0644)).To(Succeed())
			ghwMock.AddDisk(ghwMocks.Disk{
				Name: "sdb",
				Partitions: []*ghwMocks.Partition{
					{Name: "sdb1", FS: "ext4", UUID: "1111-AAAA"},
					{Name: "sdb2", FS: "ext4", UUID: "2222-BBBB"},
				},
			})
			ghwMock.CreateDevices()

			report, err := newProvisioner().Run()
			Expect(errors.Is(err, types.ErrLabelLimitExceeded)).To(BeTrue())
			Expect(report.Aborted).To(BeTrue())
			Expect(report.Written).To(HaveLen(1))
			Expect(report.Written[0].MountPoint).To(Equal("/mnt/Disk99"))
			table := readTable()
			Expect(table).To(ContainSubstring("UUID=1111-AAAA /mnt/Disk99 ext4"))
			Expect(table).ToNot(ContainSubstring("2222-BBBB"))
			Expect(report.Validated).To(BeFalse())
		})
	})

	Describe("No candidates", func() {
		It("Reports no changes and takes no backup", func() {
			ghwMock.AddDisk(ghwMocks.Disk{
				Name:       "sda",
				Partitions: []*ghwMocks.Partition{{Name: "sda1", FS: "ext4", UUID: "aaaa-0000", MountPoint: "/"}},
			})
			ghwMock.CreateDevices()
			report, err := newProvisioner().Run()
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Results).To(BeEmpty())
			Expect(report.Backup).To(BeEmpty())
		})
	})
})
