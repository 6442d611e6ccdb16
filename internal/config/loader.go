package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".onionwire"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File is the YAML shape of the configuration file. Every field is
// optional; zero values mean "keep the current (default or flag) value".
//
// Durations use Go duration syntax ("5s", "2m30s").
type File struct {
	// TorBinary is the tor executable to launch.
	TorBinary string `yaml:"tor_binary,omitempty"`

	// DataDir is the bootstrap directory for tor state and identity.
	DataDir string `yaml:"data_dir,omitempty"`

	// ServicePort is the externally advertised hidden-service port.
	ServicePort int `yaml:"service_port,omitempty"`

	// LocalPort pins the loopback listener port (0 = ephemeral).
	LocalPort int `yaml:"local_port,omitempty"`

	// Bridges is an ordered list of bridge relay lines, passed through
	// unmodified to the tor process.
	Bridges []string `yaml:"bridges,omitempty"`

	// MaxRestartAttempts bounds automatic bootstrap recovery.
	MaxRestartAttempts int `yaml:"max_restart_attempts,omitempty"`

	// ShutdownTimeout bounds the shutdown sequence.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// BootstrapTimeout is the maximum time for one bootstrap attempt.
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout,omitempty"`

	// PublishTimeout is the maximum time to wait for endpoint publication.
	PublishTimeout time.Duration `yaml:"publish_timeout,omitempty"`

	// DialTimeout is the timeout for one outbound connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`

	// KeyBackupRetention is the number of rolling key backups to keep.
	KeyBackupRetention int `yaml:"key_backup_retention,omitempty"`

	// DBDir is the directory for the SQLite peer/run store.
	DBDir string `yaml:"db_dir,omitempty"`
}

// LoadConfigFile loads configuration overrides from a YAML file.
// If the file does not exist, it returns ErrConfigNotFound. Callers should
// handle this error based on whether the config file path was explicitly
// specified by the user.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}

	return &cf, nil
}

// Apply overlays the file's non-zero values onto the config.
// Fields absent from the file keep their current values.
func (f *File) Apply(cfg *Config) {
	if f.TorBinary != "" {
		cfg.TorBinary = f.TorBinary
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.ServicePort != 0 {
		cfg.ServicePort = f.ServicePort
	}
	if f.LocalPort != 0 {
		cfg.LocalPort = f.LocalPort
	}
	if len(f.Bridges) > 0 {
		cfg.Bridges = f.Bridges
	}
	if f.MaxRestartAttempts != 0 {
		cfg.MaxRestartAttempts = f.MaxRestartAttempts
	}
	if f.ShutdownTimeout != 0 {
		cfg.ShutdownTimeout = f.ShutdownTimeout
	}
	if f.BootstrapTimeout != 0 {
		cfg.BootstrapTimeout = f.BootstrapTimeout
	}
	if f.PublishTimeout != 0 {
		cfg.PublishTimeout = f.PublishTimeout
	}
	if f.DialTimeout != 0 {
		cfg.DialTimeout = f.DialTimeout
	}
	if f.KeyBackupRetention != 0 {
		cfg.KeyBackupRetention = f.KeyBackupRetention
	}
	if f.DBDir != "" {
		cfg.DBDir = f.DBDir
	}
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .onionwire in the current directory
// 3. Look for .onionwire in the user's home directory
//
// Returns the path to the configuration file if found, or empty string if
// not found.
func FindConfigFile(configPath string) string {
	// If explicit path is provided, use it
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	// Check current directory
	cwd, err := os.Getwd()
	if err == nil {
		cwdConfig := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(cwdConfig); err == nil {
			return cwdConfig
		}
	}

	// Check home directory
	home, err := os.UserHomeDir()
	if err == nil {
		homeConfig := filepath.Join(home, DefaultConfigFile)
		if _, err := os.Stat(homeConfig); err == nil {
			return homeConfig
		}
	}

	return ""
}
