package mocks

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kairos-io/mount-drives/ghw"
)

// Disk describes a fake top level block device.
type Disk struct {
	Name       string
	UUID       string
	SizeBytes  uint64
	Partitions []*Partition
}

// Partition describes a fake partition; Size is in 512 byte sectors.
type Partition struct {
	Name       string
	FS         string
	UUID       string
	Label      string
	MountPoint string
	Size       uint64
}

// GhwMock is used to construct a fake disk to present to ghw when scanning block devices
// The way this works is ghw will use the existing files in the system to determine the different disks, partitions and
// mountpoints. It uses /sys/block, /proc/mounts and /run/udev/data to gather everything
// It also has an entrypoint to overwrite the root dir from which the paths are constructed so that allows us to override
// it easily and make it read from a different location.
// You can even just pass no disks to simulate a system in which there is no disk at all
type GhwMock struct {
	Chroot    string
	paths     *ghw.Paths
	disks     []Disk
	mounts    []string
	multipath bool
}

// AddDisk adds a disk to GhwMock
func (g *GhwMock) AddDisk(disk Disk) {
	g.disks = append(g.disks, disk)
}

// Paths returns the ghw paths pointing into the chroot, valid after CreateDevices.
func (g *GhwMock) Paths() *ghw.Paths {
	return g.paths
}

// AddPartitionToDisk will add a partition to the given disk and recreate all files
// It makes no effort checking if the disk exists
func (g *GhwMock) AddPartitionToDisk(diskName string, partition *Partition) {
	for i, disk := range g.disks {
		if disk.Name == diskName {
			g.disks[i].Partitions = append(g.disks[i].Partitions, partition)
			g.rebuild()
			return
		}
	}
}

// SetLabel mimics udev picking up a relabel: it rewrites ID_FS_LABEL of the partition
func (g *GhwMock) SetLabel(partitionName, label string) {
	for _, disk := range g.disks {
		for _, p := range disk.Partitions {
			if p.Name == partitionName {
				p.Label = label
			}
		}
	}
	g.rebuild()
}

// rebuild recreates every file in place so paths handed out earlier stay valid
func (g *GhwMock) rebuild() {
	_ = os.RemoveAll(g.Chroot)
	_ = os.MkdirAll(g.Chroot, 0755)
	if g.multipath {
		g.CreateMultipathDevices()
		return
	}
	g.CreateDevices()
}

// CreateDevices will create the chroot (once) and paths for ghw and then iterate over the disks and partitions and
// create the necessary files
func (g *GhwMock) CreateDevices() {
	if g.Chroot == "" {
		d, _ := os.MkdirTemp("", "ghwmock")
		g.Chroot = d
	}
	g.paths = ghw.NewPaths(g.Chroot)
	g.mounts = nil
	_ = os.MkdirAll(g.paths.SysBlock, 0755)
	_ = os.MkdirAll(g.paths.RunUdevData, 0755)
	// Create only the /proc/ dir, we add the mounts file afterwards
	procDir, _ := filepath.Split(g.paths.ProcMounts)
	_ = os.MkdirAll(procDir, 0755)
	for indexDisk, disk := range g.disks {
		diskPath := filepath.Join(g.paths.SysBlock, disk.Name)
		_ = os.Mkdir(diskPath, 0755)
		// The dev file holds the major:minor used to find the udev database entry
		_ = os.WriteFile(filepath.Join(diskPath, "dev"), []byte(fmt.Sprintf("%d:0\n", indexDisk)), 0644)
		_ = os.WriteFile(filepath.Join(diskPath, "size"), []byte(strconv.FormatUint(disk.SizeBytes, 10)), 0644)
		diskUdevData := []string{fmt.Sprintf("E:ID_PART_TABLE_UUID=%s\n", disk.UUID)}
		// isMultipathDevice looks for DM_NAME
		if strings.HasPrefix(disk.Name, "dm-") {
			diskUdevData = append(diskUdevData, fmt.Sprintf("E:DM_NAME=%s\n", disk.Name))
		}
		_ = os.WriteFile(filepath.Join(g.paths.RunUdevData, fmt.Sprintf("b%d:0", indexDisk)), []byte(strings.Join(diskUdevData, "")), 0644)
		for indexPart, partition := range disk.Partitions {
			_ = os.Mkdir(filepath.Join(diskPath, partition.Name), 0755)
			_ = os.WriteFile(filepath.Join(diskPath, partition.Name, "dev"), []byte(fmt.Sprintf("%d:6%d\n", indexDisk, indexPart)), 0644)
			_ = os.WriteFile(filepath.Join(diskPath, partition.Name, "size"), []byte(fmt.Sprintf("%d\n", partition.Size)), 0644)
			_ = os.WriteFile(filepath.Join(g.paths.RunUdevData, fmt.Sprintf("b%d:6%d", indexDisk, indexPart)), udevData(partition), 0644)
			g.addMount(filepath.Join("/dev", partition.Name), partition)
		}
	}
	g.writeMounts()
}

func udevData(partition *Partition, extra ...string) []byte {
	data := []string{fmt.Sprintf("E:ID_FS_LABEL=%s\n", partition.Label)}
	data = append(data, extra...)
	if partition.FS != "" {
		data = append(data, fmt.Sprintf("E:ID_FS_TYPE=%s\n", partition.FS))
	}
	if partition.UUID != "" {
		data = append(data, fmt.Sprintf("E:ID_FS_UUID=%s\n", partition.UUID))
	}
	return []byte(strings.Join(data, ""))
}

func (g *GhwMock) addMount(device string, partition *Partition) {
	if partition.MountPoint == "" {
		return
	}
	fs := partition.FS
	if fs == "" {
		fs = "ext4"
	}
	g.mounts = append(g.mounts, fmt.Sprintf("%s %s %s ro,relatime 0 0\n", device, partition.MountPoint, fs))
}

func (g *GhwMock) writeMounts() {
	_ = os.WriteFile(g.paths.ProcMounts, []byte(strings.Join(g.mounts, "")), 0644)
}

// RemovePartitionFromDisk will remove the files for a partition
// It makes no effort checking if the disk/partition/files exist
func (g *GhwMock) RemovePartitionFromDisk(diskName string, partitionName string) {
	var newMounts []string
	diskPath := filepath.Join(g.paths.SysBlock, diskName)
	devName, _ := os.ReadFile(filepath.Join(diskPath, partitionName, "dev"))
	_ = os.RemoveAll(filepath.Join(g.paths.RunUdevData, fmt.Sprintf("b%s", strings.TrimSpace(string(devName)))))
	_ = os.RemoveAll(filepath.Join(diskPath, partitionName))

	for _, mount := range g.mounts {
		fields := strings.Fields(mount)
		if fields[0] != filepath.Join("/dev", partitionName) {
			newMounts = append(newMounts, mount)
		}
	}
	g.mounts = newMounts
	g.writeMounts()
	for index, disk := range g.disks {
		if disk.Name == diskName {
			var newPartitions []*Partition
			for _, partition := range disk.Partitions {
				if partition.Name != partitionName {
					newPartitions = append(newPartitions, partition)
				}
			}
			g.disks[index].Partitions = newPartitions
		}
	}
}

// Clean will remove the chroot dir
func (g *GhwMock) Clean() {
	_ = os.Unsetenv("GHW_CHROOT")
	if g.Chroot != "" {
		_ = os.RemoveAll(g.Chroot)
	}
	g.Chroot = ""
}

// CreateMultipathDevices creates multipath device structure in the mock filesystem.
// Partitions of dm- disks are created as holders mounted through /dev/mapper/<name>.
func (g *GhwMock) CreateMultipathDevices() {
	g.multipath = true
	multipathPartitions := make(map[string][]*Partition)

	// dm partitions are not nested under their disk, create them after the basic layout
	for i := range g.disks {
		if strings.HasPrefix(g.disks[i].Name, "dm-") {
			multipathPartitions[g.disks[i].Name] = g.disks[i].Partitions
			g.disks[i].Partitions = nil
		}
	}

	g.CreateDevices()

	for indexDisk, disk := range g.disks {
		if !strings.HasPrefix(disk.Name, "dm-") {
			continue
		}
		diskPath := filepath.Join(g.paths.SysBlock, disk.Name)

		dmDir := filepath.Join(diskPath, "dm")
		_ = os.MkdirAll(dmDir, 0755)
		_ = os.WriteFile(filepath.Join(dmDir, "name"), []byte(fmt.Sprintf("mpath%d", indexDisk)), 0644)
		_ = os.MkdirAll(filepath.Join(diskPath, "holders"), 0755)
		slavesDir := filepath.Join(diskPath, "slaves")
		_ = os.MkdirAll(slavesDir, 0755)
		_ = os.WriteFile(filepath.Join(slavesDir, "sda"), []byte(""), 0644)
		_ = os.WriteFile(filepath.Join(slavesDir, "sdb"), []byte(""), 0644)

		for partIndex, partition := range multipathPartitions[disk.Name] {
			g.createMultipathPartition(disk.Name, partition, partIndex+1)
		}
		g.disks[indexDisk].Partitions = multipathPartitions[disk.Name]
	}
	g.writeMounts()
}

func (g *GhwMock) createMultipathPartition(parentDiskName string, partition *Partition, partNum int) {
	partitionSuffix := fmt.Sprintf("p%d", partNum)
	mapperName := fmt.Sprintf("%s%s", parentDiskName, partitionSuffix)

	// The partition is a top level device in /sys/block/
	partitionPath := filepath.Join(g.paths.SysBlock, partition.Name)
	_ = os.MkdirAll(partitionPath, 0755)

	partIndex := 100 + partNum
	_ = os.WriteFile(filepath.Join(partitionPath, "dev"), []byte(fmt.Sprintf("253:%d\n", partIndex)), 0644)
	_ = os.WriteFile(filepath.Join(partitionPath, "size"), []byte(fmt.Sprintf("%d\n", partition.Size)), 0644)
	_ = os.MkdirAll(filepath.Join(partitionPath, "dm"), 0755)
	_ = os.WriteFile(filepath.Join(partitionPath, "dm", "name"), []byte(mapperName), 0644)
	_ = os.MkdirAll(filepath.Join(partitionPath, "slaves"), 0755)
	_ = os.WriteFile(filepath.Join(partitionPath, "slaves", parentDiskName), []byte(""), 0644)

	_ = os.MkdirAll(filepath.Join(g.paths.SysBlock, parentDiskName, "holders", partition.Name), 0755)

	data := udevData(partition,
		fmt.Sprintf("E:DM_NAME=%s\n", mapperName),
		fmt.Sprintf("E:DM_PART=%d\n", partNum),
	)
	_ = os.WriteFile(filepath.Join(g.paths.RunUdevData, fmt.Sprintf("b253:%d", partIndex)), data, 0644)

	g.addMount(filepath.Join("/dev/mapper", mapperName), partition)
}
