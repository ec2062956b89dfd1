package fstab_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kairos-io/mount-drives/fstab"
	"github.com/kairos-io/mount-drives/types"
	"github.com/kairos-io/mount-drives/utils/mocks"
	"github.com/twpayne/go-vfs/v4/vfst"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestFstab(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "fstab test suite")
}

const baseTable = `# /etc/fstab: static file system information.
UUID=aaaa-0000 / ext4 defaults 0 1
UUID=bbbb-1111 /mnt/Disk0 xfs defaults,nofail 0 2
/dev/sdz1 /srv ext4 defaults 0 2
`

var _ = Describe("fstab", func() {
	var fs *vfst.TestFS
	var cleanup func()
	var logger types.Logger

	BeforeEach(func() {
		var err error
		logger = types.NewNullLogger()
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/etc/fstab": baseTable,
		})
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		cleanup()
	})

	Describe("Parse", func() {
		It("Parses entries and keeps comments as raw lines", func() {
			t, err := fstab.Parse(strings.NewReader(baseTable))
			Expect(err).ToNot(HaveOccurred())
			Expect(t.Lines).To(HaveLen(4))
			Expect(t.Entries).To(HaveLen(3))
			Expect(t.Entries[0].Line).To(Equal(2))
			Expect(t.Entries[0].UUID()).To(Equal("aaaa-0000"))
			Expect(t.Entries[1].MountPoint).To(Equal("/mnt/Disk0"))
			Expect(t.Entries[2].UUID()).To(BeEmpty())
		})
		It("Finds uuids by substring and ignores comments", func() {
			t, err := fstab.Parse(strings.NewReader(baseTable + "# UUID=cccc-2222 /old ext4 defaults 0 2\n"))
			Expect(err).ToNot(HaveOccurred())
			Expect(t.HasUUID("bbbb-1111")).To(BeTrue())
			Expect(t.HasUUID("cccc-2222")).To(BeFalse())
			Expect(t.HasUUID("")).To(BeFalse())
		})
		It("Maps mount points to their owner", func() {
			t, err := fstab.Parse(strings.NewReader(baseTable))
			Expect(err).ToNot(HaveOccurred())
			Expect(t.MountPoints()).To(Equal(map[string]string{
				"/":          "aaaa-0000",
				"/mnt/Disk0": "bbbb-1111",
				"/srv":       "/dev/sdz1",
			}))
		})
		It("Treats a missing table as empty", func() {
			t, err := fstab.Load(fs, "/etc/missing")
			Expect(err).ToNot(HaveOccurred())
			Expect(t.Entries).To(BeEmpty())
		})
	})

	Describe("BackupManager", func() {
		var b *fstab.BackupManager
		day := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
		BeforeEach(func() {
			b = fstab.NewBackupManager(fs, &logger)
			b.Now = func() time.Time { return day }
		})

		It("Copies the table to a dated name", func() {
			name, err := b.Backup("/etc/fstab")
			Expect(err).ToNot(HaveOccurred())
			Expect(name).To(Equal("/etc/fstab.bak_2024-03-09"))
			data, err := fs.ReadFile(name)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal(baseTable))
		})

		It("Never overwrites an existing backup", func() {
			Expect(fs.WriteFile("/etc/fstab.bak_2024-03-09", []byte("older"), 0644)).To(Succeed())
			Expect(fs.WriteFile("/etc/fstab.bak_2024-03-09_0", []byte("old"), 0644)).To(Succeed())

			name, err := b.Backup("/etc/fstab")
			Expect(err).ToNot(HaveOccurred())
			Expect(name).To(Equal("/etc/fstab.bak_2024-03-09_1"))

			data, err := fs.ReadFile("/etc/fstab.bak_2024-03-09")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal("older"))
			data, err = fs.ReadFile("/etc/fstab.bak_2024-03-09_0")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal("old"))
		})

		It("Fails with ErrBackupFailure when the table cannot be read", func() {
			_, err := b.Backup("/etc/nope")
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, types.ErrBackupFailure)).To(BeTrue())
			Expect(types.IsFatal(err)).To(BeTrue())
		})
	})

	Describe("Writer", func() {
		var w *fstab.Writer
		entry := types.MountEntry{
			UUID:       "1111-AAAA",
			MountPoint: "/mnt/Disk1",
			FS:         types.Ext4,
			Options:    "defaults,nofail,noatime,data=ordered,commit=60,errors=remount-ro",
			Dump:       0,
			Pass:       2,
		}
		BeforeEach(func() {
			w = fstab.NewWriter(fs, "/etc/fstab", &logger)
		})

		It("Appends one line and creates the mount point", func() {
			Expect(w.Append(entry)).To(Succeed())
			data, err := fs.ReadFile("/etc/fstab")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal(baseTable + "UUID=1111-AAAA /mnt/Disk1 ext4 defaults,nofail,noatime,data=ordered,commit=60,errors=remount-ro 0 2\n"))
			fi, err := fs.Stat("/mnt/Disk1")
			Expect(err).ToNot(HaveOccurred())
			Expect(fi.IsDir()).To(BeTrue())
		})

		It("Skips a uuid already in the table", func() {
			Expect(w.Append(entry)).To(Succeed())
			err := w.Append(entry)
			Expect(errors.Is(err, types.ErrDuplicateEntry)).To(BeTrue())
			data, _ := fs.ReadFile("/etc/fstab")
			Expect(strings.Count(string(data), "1111-AAAA")).To(Equal(1))
		})

		It("Terminates a last line without newline first", func() {
			Expect(fs.WriteFile("/etc/fstab", []byte("UUID=aaaa-0000 / ext4 defaults 0 1"), 0644)).To(Succeed())
			Expect(w.Append(entry)).To(Succeed())
			data, _ := fs.ReadFile("/etc/fstab")
			Expect(strings.Split(string(data), "\n")).To(HaveLen(3))
			Expect(string(data)).To(HavePrefix("UUID=aaaa-0000 / ext4 defaults 0 1\nUUID=1111-AAAA"))
		})

		It("Creates a missing table", func() {
			w = fstab.NewWriter(fs, "/etc/fstab.new", &logger)
			Expect(w.Append(entry)).To(Succeed())
			data, _ := fs.ReadFile("/etc/fstab.new")
			Expect(string(data)).To(Equal(entry.String() + "\n"))
		})
	})

	Describe("Validator", func() {
		var runner *mocks.FakeRunner
		var v *fstab.Validator
		BeforeEach(func() {
			runner = mocks.NewFakeRunner()
			v = &fstab.Validator{FS: fs, Runner: runner, Logger: &logger, VerifyCommand: "findmnt --verify --tab-file {fstab}"}
		})

		It("Accepts a well formed table and runs the verifier", func() {
			Expect(v.Validate("/etc/fstab")).To(Succeed())
			raw, _ := fs.RawPath("/etc/fstab")
			Expect(runner.Ran("findmnt --verify --tab-file " + raw)).To(BeTrue())
		})

		It("Skips the verifier when it is not installed", func() {
			runner.Missing = []string{"findmnt"}
			Expect(v.Validate("/etc/fstab")).To(Succeed())
			Expect(runner.Cmds).To(BeEmpty())
		})

		It("Reports every structural problem", func() {
			Expect(fs.WriteFile("/etc/fstab", []byte(baseTable+
				"UUID=bbbb-1111 /mnt/other xfs defaults 0 2\n"+
				"UUID=dddd-3333 /mnt/Disk0 ext4 defaults 0 x\n"+
				"broken line\n"), 0644)).To(Succeed())
			err := v.Validate("/etc/fstab")
			Expect(errors.Is(err, types.ErrValidation)).To(BeTrue())
			Expect(types.IsFatal(err)).To(BeFalse())
			Expect(err.Error()).To(ContainSubstring("line 5: UUID bbbb-1111 already used on line 3"))
			Expect(err.Error()).To(ContainSubstring(`line 6: pass field "x" is not a number`))
			Expect(err.Error()).To(ContainSubstring("line 6: mount point /mnt/Disk0 already used on line 3"))
			Expect(err.Error()).To(ContainSubstring("line 7: expected 4 to 6 fields, got 2"))
		})

		It("Reports a failing verifier", func() {
			runner.SideEffect = func(command string, args ...string) ([]byte, error) {
				return []byte("[E] unreachable source"), errors.New("exit status 1")
			}
			err := v.Validate("/etc/fstab")
			Expect(errors.Is(err, types.ErrValidation)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("unreachable source"))
		})
	})
})
