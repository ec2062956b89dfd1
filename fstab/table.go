// Package fstab reads, backs up, appends to and validates the mount table.
// Existing lines are never rewritten: the only mutation is an append.
package fstab

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"strings"

	"github.com/kairos-io/mount-drives/types"
)

// Entry is a parsed, non-comment mount table line. Fields keep the raw text
// as found in the file, Dump and Pass are optional.
type Entry struct {
	Line       int
	Source     string
	MountPoint string
	FSType     string
	Options    string
	Dump       string
	Pass       string
	Fields     int
}

// UUID returns the identifier of a UUID=... source, or "".
func (e Entry) UUID() string {
	if uuid, ok := strings.CutPrefix(e.Source, "UUID="); ok {
		return strings.Trim(uuid, `"`)
	}
	return ""
}

// Table is a snapshot of the mount table.
type Table struct {
	// Lines are the raw lines, comments and blanks included.
	Lines   []string
	Entries []Entry
}

// Parse reads a mount table. Malformed lines are kept as entries with a short
// field count so the validator can report them.
func Parse(r io.Reader) (*Table, error) {
	t := &Table{}
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Text()
		t.Lines = append(t.Lines, line)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		e := Entry{Line: n, Fields: len(fields)}
		for i, dst := range []*string{&e.Source, &e.MountPoint, &e.FSType, &e.Options, &e.Dump, &e.Pass} {
			if i < len(fields) {
				*dst = fields[i]
			}
		}
		t.Entries = append(t.Entries, e)
	}
	return t, scanner.Err()
}

// Load parses the mount table at path. A missing file is an empty table.
func Load(fsys types.FS, path string) (*Table, error) {
	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// HasUUID reports whether any entry line mentions uuid. A plain substring
// match is enough: UUIDs are unique tokens.
func (t *Table) HasUUID(uuid string) bool {
	if uuid == "" {
		return false
	}
	for _, line := range t.Lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Contains(trimmed, uuid) {
			return true
		}
	}
	return false
}

// MountPoints maps every mount point in the table to the owner of its entry:
// the UUID when the source is UUID=..., the raw source otherwise.
func (t *Table) MountPoints() map[string]string {
	out := map[string]string{}
	for _, e := range t.Entries {
		if e.MountPoint == "" {
			continue
		}
		owner := e.UUID()
		if owner == "" {
			owner = e.Source
		}
		out[e.MountPoint] = owner
	}
	return out
}
