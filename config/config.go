// Package config loads the provisioner configuration from, in order of
// precedence: built-in defaults, the YAML config file and its drop-in
// directory, the environment file and MOUNT_DRIVES_* variables. CLI flags are
// applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kairos-io/mount-drives/constants"
	"github.com/kairos-io/mount-drives/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	_ struct{} `additionalProperties:"false"`

	Fstab         string   `yaml:"fstab" json:"fstab,omitempty" minLength:"1" description:"Mount table to provision"`
	MountRoot     string   `yaml:"mount_root" json:"mount_root,omitempty" pattern:"^/" description:"Directory the DiskN mount points are created under"`
	WorkDir       string   `yaml:"work_dir" json:"work_dir,omitempty" pattern:"^/" description:"Directory for temporary mount points"`
	LockFile      string   `yaml:"lock_file" json:"lock_file,omitempty" pattern:"^/" description:"Lock held for the duration of a run"`
	Filesystems   []string `yaml:"filesystems" json:"filesystems,omitempty" minItems:"1" uniqueItems:"true" description:"Filesystem kinds to provision: ext4, xfs, btrfs, ntfs"`
	Prober        string   `yaml:"prober" json:"prober,omitempty" enum:"udev,blkid" description:"How filesystem type, uuid and label are read"`
	AssumeYes     bool     `yaml:"assume_yes" json:"assume_yes,omitempty" description:"Accept generated labels without asking"`
	Activate      bool     `yaml:"activate" json:"activate,omitempty" description:"Mount new entries without asking"`
	LogLevel      string   `yaml:"log_level" json:"log_level,omitempty" enum:"trace,debug,info,warn,error" description:"Log level"`
	VerifyCommand string   `yaml:"verify_command" json:"verify_command,omitempty" description:"Mount table verifier, {fstab} is replaced by its path. Empty disables it"`

	// Sources lists where the values came from, most recent last.
	Sources []string `yaml:"-" json:"-"`
}

func DefaultConfig() *Config {
	fss := make([]string, 0, len(types.DefaultFilesystems))
	for _, f := range types.DefaultFilesystems {
		fss = append(fss, string(f))
	}
	return &Config{
		Fstab:         constants.DefaultFstab,
		MountRoot:     constants.DefaultMountRoot,
		WorkDir:       constants.DefaultWorkDir,
		LockFile:      constants.DefaultLockFile,
		Filesystems:   fss,
		Prober:        constants.ProberUdev,
		LogLevel:      constants.DefaultLogLevel,
		VerifyCommand: constants.DefaultVerifyCommand,
		Sources:       []string{"defaults"},
	}
}

// Options says where Load looks.
type Options struct {
	// File is the main YAML file. A missing file is only an error when
	// Required is set.
	File     string
	Required bool
	// DropInDir holds extra *.yaml files merged on top of File in name order.
	DropInDir string
	EnvFile   string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

func DefaultOptions() Options {
	return Options{
		File:      constants.DefaultConfigFile,
		DropInDir: filepath.Join(filepath.Dir(constants.DefaultConfigFile), "config.d"),
		EnvFile:   constants.DefaultEnvFile,
	}
}

// Load builds the configuration. The merged document is checked against the
// JSON schema before it is decoded.
func Load(fsys types.FS, o Options) (*Config, error) {
	layers := Layers{}

	if o.File != "" {
		l, err := readLayer(fsys, o.File)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !o.Required:
		case err != nil:
			return nil, err
		default:
			layers = append(layers, l)
		}
	}
	if o.DropInDir != "" {
		dropIns, err := readDropIns(fsys, o.DropInDir)
		if err != nil {
			return nil, err
		}
		layers = append(layers, dropIns...)
	}

	merged, err := layers.Merge()
	if err != nil {
		return nil, err
	}

	envFile, err := envFileLayer(fsys, o.EnvFile)
	if err != nil {
		return nil, err
	}
	merged.Override(envFile)
	merged.Override(environLayer(o.LookupEnv))

	if err := ValidateValues(merged.Values); err != nil {
		return nil, err
	}

	c := DefaultConfig()
	data, err := yaml.Marshal(merged.Values)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	c.Sources = append(c.Sources, merged.Sources...)
	return c, c.Validate()
}

func readLayer(fsys types.FS, path string) (*Layer, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l := &Layer{Sources: []string{path}, Values: Values{}}
	if err := yaml.Unmarshal(data, &l.Values); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return l, nil
}

func readDropIns(fsys types.FS, dir string) (Layers, error) {
	entries, err := fsys.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	layers := Layers{}
	for _, n := range names {
		l, err := readLayer(fsys, filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, nil
}

// Validate checks what the schema cannot express.
func (c *Config) Validate() error {
	if _, err := types.ParseFilesystems(c.Filesystems); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Prober != constants.ProberUdev && c.Prober != constants.ProberBlkid {
		return fmt.Errorf("invalid configuration: unknown prober %q", c.Prober)
	}
	if c.Fstab == "" || c.MountRoot == "" {
		return fmt.Errorf("invalid configuration: fstab and mount_root are required")
	}
	return nil
}

// FilesystemKinds returns the configured kinds. Call after Validate.
func (c *Config) FilesystemKinds() []types.Filesystem {
	kinds, _ := types.ParseFilesystems(c.Filesystems)
	return kinds
}

// String renders the effective configuration as YAML with its sources.
func (c *Config) String() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshalling the config to a string: %w", err)
	}
	var b strings.Builder
	b.WriteString("# Sources:\n")
	for _, s := range c.Sources {
		fmt.Fprintf(&b, "# - %s\n", s)
	}
	b.WriteString("\n")
	b.Write(data)
	return b.String(), nil
}
