package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lyndonlyu/distroconv/internal/redact"
)

// DefaultPath is where the convert command looks for its configuration.
const DefaultPath = "/etc/distroconv/config.yaml"

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type OpenJDKConfig struct {
	Package  string `yaml:"package"`
	StateDir string `yaml:"state_dir"`
}

type ShimConfig struct {
	Distro         string `yaml:"distro"`
	Major          int    `yaml:"major"`
	ProtectionFile string `yaml:"protection_file"`
}

type SpecialCasesConfig struct {
	Disabled []string      `yaml:"disabled"`
	OpenJDK  OpenJDKConfig `yaml:"openjdk"`
	Shim     ShimConfig    `yaml:"shim"`
}

// Command is one external step of the conversion pipeline. Touches lists the
// files it may modify; each is backed up before the command runs.
type Command struct {
	Name    string   `yaml:"name"`
	Argv    []string `yaml:"argv"`
	Touches []string `yaml:"touches"`
}

type PipelineConfig struct {
	Commands []Command `yaml:"commands"`
	// Redact masks credentials in logged command lines and output.
	Redact redact.Config `yaml:"redact"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

type Config struct {
	Root          string             `yaml:"root"`
	StateDir      string             `yaml:"state_dir"`
	SkipRootCheck bool               `yaml:"skip_root_check"`
	Preserve      []string           `yaml:"preserve"`
	Log           LogConfig          `yaml:"log"`
	SpecialCases  SpecialCasesConfig `yaml:"special_cases"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

func Default() *Config {
	return &Config{
		Root:     "/",
		StateDir: "/var/lib/distroconv",
		Preserve: []string{"/etc/os-release", "/etc/system-release"},
		Pipeline: PipelineConfig{Redact: redact.DefaultConfig()},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "/var/log/distroconv/distroconv.log",
		},
		SpecialCases: SpecialCasesConfig{
			OpenJDK: OpenJDKConfig{
				Package:  "java-1.7.0-openjdk",
				StateDir: "/var/lib/rpm-state/",
			},
			Shim: ShimConfig{
				Distro:         "ol",
				Major:          7,
				ProtectionFile: "/etc/yum/protected.d/shim-x64.conf",
			},
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Ensure defaults for zero values
	def := Default()
	if cfg.Root == "" {
		cfg.Root = def.Root
	}
	if cfg.StateDir == "" {
		cfg.StateDir = def.StateDir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.SpecialCases.OpenJDK.Package == "" {
		cfg.SpecialCases.OpenJDK.Package = def.SpecialCases.OpenJDK.Package
	}
	if cfg.SpecialCases.OpenJDK.StateDir == "" {
		cfg.SpecialCases.OpenJDK.StateDir = def.SpecialCases.OpenJDK.StateDir
	}
	if cfg.SpecialCases.Shim.Distro == "" {
		cfg.SpecialCases.Shim.Distro = def.SpecialCases.Shim.Distro
	}
	if cfg.SpecialCases.Shim.Major == 0 {
		cfg.SpecialCases.Shim.Major = def.SpecialCases.Shim.Major
	}
	if cfg.SpecialCases.Shim.ProtectionFile == "" {
		cfg.SpecialCases.Shim.ProtectionFile = def.SpecialCases.Shim.ProtectionFile
	}

	return cfg, nil
}

// Path joins p onto the configured root so tests and chroot conversions can
// point the engine at a staged filesystem.
func (c *Config) Path(p string) string {
	if c.Root == "" || c.Root == "/" {
		return p
	}
	return filepath.Join(c.Root, p)
}

func (c *Config) BackupDir() string {
	return filepath.Join(c.StateDir, "backup")
}

func (c *Config) DBPath() string {
	return filepath.Join(c.StateDir, "state.db")
}

func (c *Config) AuditDir() string {
	return filepath.Join(c.StateDir, "audit")
}

func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir, "distroconv.lock")
}

func (c *Config) AbortPath() string {
	return filepath.Join(c.StateDir, "ABORT")
}

func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.StateDir,
		c.BackupDir(),
		c.AuditDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
