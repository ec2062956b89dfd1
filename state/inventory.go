// Package state describes what a scan found: candidate partitions, their
// disks and whether the mount table already knows them.
package state

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/jaypipes/ghw"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/kairos-io/mount-drives/fstab"
	"github.com/kairos-io/mount-drives/labels"
	"github.com/kairos-io/mount-drives/types"
)

// DiskInfo is hardware detail about a whole disk.
type DiskInfo struct {
	Model  string `json:"model,omitempty"`
	Vendor string `json:"vendor,omitempty"`
	Serial string `json:"serial,omitempty"`
}

// DiskDescriber returns DiskInfo keyed by device path (/dev/sda).
type DiskDescriber interface {
	Describe() (map[string]DiskInfo, error)
}

// GhwDisks reads disk details from sysfs and udev.
type GhwDisks struct{}

func (GhwDisks) Describe() (map[string]DiskInfo, error) {
	blk, err := ghw.Block()
	if err != nil {
		return nil, err
	}
	out := map[string]DiskInfo{}
	for _, d := range blk.Disks {
		out[filepath.Join("/dev", d.Name)] = DiskInfo{
			Model:  d.Model,
			Vendor: d.Vendor,
			Serial: d.SerialNumber,
		}
	}
	return out, nil
}

type Partition struct {
	types.BlockPartition
	DiskInfo DiskInfo `json:"disk_info"`
	// InTable is set when the mount table already has an entry for the UUID.
	InTable bool `json:"in_table"`
	// Canonical is set when the on-disk label is already a DiskN label.
	Canonical bool `json:"canonical"`
}

type Inventory struct {
	Fstab      string      `json:"fstab"`
	MountRoot  string      `json:"mount_root"`
	Partitions []Partition `json:"partitions"`
}

// NewInventory joins the candidates with the mount table and disk details.
// disks may be nil.
func NewInventory(fstabPath, mountRoot string, parts []types.BlockPartition, table *fstab.Table, disks map[string]DiskInfo) Inventory {
	inv := Inventory{Fstab: fstabPath, MountRoot: mountRoot, Partitions: []Partition{}}
	for _, p := range parts {
		inv.Partitions = append(inv.Partitions, Partition{
			BlockPartition: p,
			DiskInfo:       disks[p.Disk],
			InTable:        table != nil && table.HasUUID(p.UUID),
			Canonical:      labels.IsCanonical(p.Label),
		})
	}
	return inv
}

// Render writes the inventory as a table.
func (i Inventory) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Device", "FS", "UUID", "Label", "Size", "Disk", "In fstab"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
	})
	for _, p := range i.Partitions {
		label := p.Label
		if label != "" && !p.Canonical {
			label = fmt.Sprintf("%s (new)", labels.Sanitize(label))
		}
		disk := p.Disk
		if p.DiskInfo.Model != "" {
			disk = fmt.Sprintf("%s (%s)", p.Disk, p.DiskInfo.Model)
		}
		inTable := ""
		if p.InTable {
			inTable = "yes"
		}
		t.AppendRow(table.Row{p.Device, p.FS, p.UUID, label, humanize.IBytes(p.SizeBytes), disk, inTable})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(i.Partitions)})
	t.Render()
}
