package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kairos-io/mount-drives/constants"
	"github.com/kairos-io/mount-drives/types"
)

type valueKind int

const (
	kindString valueKind = iota
	kindBool
	kindList
)

// envKeys maps the suffix after MOUNT_DRIVES_ to the config key.
var envKeys = map[string]struct {
	key  string
	kind valueKind
}{
	"FSTAB":          {"fstab", kindString},
	"MOUNT_ROOT":     {"mount_root", kindString},
	"WORK_DIR":       {"work_dir", kindString},
	"LOCK_FILE":      {"lock_file", kindString},
	"FILESYSTEMS":    {"filesystems", kindList},
	"PROBER":         {"prober", kindString},
	"ASSUME_YES":     {"assume_yes", kindBool},
	"ACTIVATE":       {"activate", kindBool},
	"LOG_LEVEL":      {"log_level", kindString},
	"VERIFY_COMMAND": {"verify_command", kindString},
}

// envValues turns MOUNT_DRIVES_* variables into config values. Unknown
// variables are ignored, MOUNT_DRIVES_DEBUG belongs to the logger.
func envValues(lookup func(string) (string, bool)) Values {
	values := Values{}
	for suffix, k := range envKeys {
		raw, ok := lookup(constants.EnvPrefix + suffix)
		if !ok {
			continue
		}
		switch k.kind {
		case kindBool:
			if b, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
				values[k.key] = b
			} else {
				// Left as a string so the schema reports it
				values[k.key] = raw
			}
		case kindList:
			list := []interface{}{}
			for _, item := range strings.Split(raw, ",") {
				if item = strings.TrimSpace(item); item != "" {
					list = append(list, item)
				}
			}
			values[k.key] = list
		default:
			values[k.key] = raw
		}
	}
	return values
}

func envFileLayer(fsys types.FS, path string) (*Layer, error) {
	if path == "" {
		return &Layer{}, nil
	}
	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Layer{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	env, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return &Layer{Sources: []string{path}, Values: envValues(lookup)}, nil
}

func environLayer(lookup func(string) (string, bool)) *Layer {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	values := envValues(lookup)
	if len(values) == 0 {
		return &Layer{}
	}
	return &Layer{Sources: []string{"environment"}, Values: values}
}
