package state

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kairos-io/mount-drives/fstab"
	"github.com/kairos-io/mount-drives/types"
)

func TestNewInventory(t *testing.T) {
	table, err := fstab.Parse(strings.NewReader("UUID=2222-BBBB /mnt/Disk3 btrfs defaults 0 2\n"))
	if err != nil {
		t.Fatal(err)
	}
	parts := []types.BlockPartition{
		{Device: "/dev/sdb1", Disk: "/dev/sdb", FS: types.Ext4, UUID: "1111-AAAA", Label: "my data", SizeBytes: 2 * 1024 * 1024 * 1024},
		{Device: "/dev/sdc1", Disk: "/dev/sdc", FS: types.Btrfs, UUID: "2222-BBBB", Label: "Disk3"},
	}
	disks := map[string]DiskInfo{"/dev/sdb": {Model: "WDC WD40EFRX"}}

	inv := NewInventory("/etc/fstab", "/mnt", parts, table, disks)
	if len(inv.Partitions) != 2 {
		t.Fatalf("got %d partitions", len(inv.Partitions))
	}
	if inv.Partitions[0].InTable || !inv.Partitions[1].InTable {
		t.Errorf("in_table not derived from the mount table: %+v", inv.Partitions)
	}
	if inv.Partitions[0].Canonical || !inv.Partitions[1].Canonical {
		t.Errorf("canonical not derived from the label: %+v", inv.Partitions)
	}
	if inv.Partitions[0].DiskInfo.Model != "WDC WD40EFRX" {
		t.Errorf("disk info not joined: %+v", inv.Partitions[0])
	}

	var b bytes.Buffer
	inv.Render(&b)
	out := b.String()
	for _, want := range []string{"/dev/sdb1", "2.0 GiB", "/dev/sdb (WDC WD40EFRX)", "mydata (new)", "Disk3", "yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered table misses %q:\n%s", want, out)
		}
	}
}
