package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestNewConfigDefaults tests that the constructor applies documented defaults.
func TestNewConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	if cfg.TorBinary != DefaultTorBinary {
		t.Errorf("TorBinary = %q, expected %q", cfg.TorBinary, DefaultTorBinary)
	}
	if cfg.ServicePort != DefaultServicePort {
		t.Errorf("ServicePort = %d, expected %d", cfg.ServicePort, DefaultServicePort)
	}
	if cfg.LocalPort != 0 {
		t.Errorf("LocalPort = %d, expected 0 (ephemeral)", cfg.LocalPort)
	}
	if cfg.MaxRestartAttempts != DefaultMaxRestartAttempts {
		t.Errorf("MaxRestartAttempts = %d, expected %d", cfg.MaxRestartAttempts, DefaultMaxRestartAttempts)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v, expected %v", cfg.ShutdownTimeout, DefaultShutdownTimeout)
	}
	if cfg.WorkerGrace != DefaultWorkerGrace {
		t.Errorf("WorkerGrace = %v, expected %v", cfg.WorkerGrace, DefaultWorkerGrace)
	}
	if cfg.KeyBackupRetention != DefaultKeyBackupRetention {
		t.Errorf("KeyBackupRetention = %d, expected %d", cfg.KeyBackupRetention, DefaultKeyBackupRetention)
	}
	if cfg.IdentityDirName != DefaultIdentityDirName {
		t.Errorf("IdentityDirName = %q, expected %q", cfg.IdentityDirName, DefaultIdentityDirName)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir should default to the XDG data directory")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

// TestConfigValidate tests validation of each invalid field.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty tor binary", func(c *Config) { c.TorBinary = "" }, ErrNoTorBinary},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, ErrNoDataDir},
		{"service port zero", func(c *Config) { c.ServicePort = 0 }, ErrInvalidServicePort},
		{"service port too large", func(c *Config) { c.ServicePort = 70000 }, ErrInvalidServicePort},
		{"negative local port", func(c *Config) { c.LocalPort = -1 }, ErrInvalidLocalPort},
		{"zero restart budget", func(c *Config) { c.MaxRestartAttempts = 0 }, ErrInvalidRestartBudget},
		{"negative backoff", func(c *Config) { c.RestartBackoff = -time.Second }, ErrInvalidBackoff},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, ErrInvalidShutdownTimeout},
		{"negative worker grace", func(c *Config) { c.WorkerGrace = -time.Millisecond }, ErrInvalidWorkerGrace},
		{"zero bootstrap timeout", func(c *Config) { c.BootstrapTimeout = 0 }, ErrInvalidTimeout},
		{"zero publish timeout", func(c *Config) { c.PublishTimeout = 0 }, ErrInvalidTimeout},
		{"zero dial timeout", func(c *Config) { c.DialTimeout = 0 }, ErrInvalidTimeout},
		{"zero backup retention", func(c *Config) { c.KeyBackupRetention = 0 }, ErrInvalidBackupRetention},
		{"empty bridge line", func(c *Config) { c.Bridges = []string{""} }, ErrEmptyBridgeLine},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() = %v, expected %v", err, tc.wantErr)
			}
		})
	}
}

// TestConfigDirectories tests the derived directory helpers.
func TestConfigDirectories(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.DataDir = "/var/lib/onionwire"

	if got := cfg.IdentityDir(); got != filepath.Join("/var/lib/onionwire", DefaultIdentityDirName) {
		t.Errorf("IdentityDir() = %q", got)
	}
	if got := cfg.TorDataDir(); got != filepath.Join("/var/lib/onionwire", "tor") {
		t.Errorf("TorDataDir() = %q", got)
	}
}

// TestLoadConfigFile tests YAML loading and overlay behavior.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("loads and applies overrides", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := filepath.Join(dir, DefaultConfigFile)
		content := `
tor_binary: /usr/local/bin/tor
service_port: 8333
bridges:
  - "obfs4 192.0.2.1:443 FINGERPRINT cert=abc iat-mode=0"
max_restart_attempts: 3
shutdown_timeout: 10s
`
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cf, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cfg := NewConfig()
		cf.Apply(cfg)

		if cfg.TorBinary != "/usr/local/bin/tor" {
			t.Errorf("TorBinary = %q", cfg.TorBinary)
		}
		if cfg.ServicePort != 8333 {
			t.Errorf("ServicePort = %d, expected 8333", cfg.ServicePort)
		}
		if len(cfg.Bridges) != 1 {
			t.Fatalf("Bridges = %v, expected one line", cfg.Bridges)
		}
		if cfg.MaxRestartAttempts != 3 {
			t.Errorf("MaxRestartAttempts = %d, expected 3", cfg.MaxRestartAttempts)
		}
		if cfg.ShutdownTimeout != 10*time.Second {
			t.Errorf("ShutdownTimeout = %v, expected 10s", cfg.ShutdownTimeout)
		}
		// Untouched fields keep their defaults.
		if cfg.KeyBackupRetention != DefaultKeyBackupRetention {
			t.Errorf("KeyBackupRetention = %d, expected default", cfg.KeyBackupRetention)
		}
	})

	t.Run("missing file returns ErrConfigNotFound", func(t *testing.T) {
		t.Parallel()

		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope"))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("malformed YAML returns error", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), DefaultConfigFile)
		if err := os.WriteFile(path, []byte("tor_binary: [unclosed"), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		if _, err := LoadConfigFile(path); err == nil {
			t.Error("expected error for malformed YAML")
		}
	})
}

// TestFindConfigFile tests the search order for the config file.
func TestFindConfigFile(t *testing.T) {
	t.Run("explicit path that exists", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(path, []byte("service_port: 1"), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		if got := FindConfigFile(path); got != path {
			t.Errorf("FindConfigFile(%q) = %q", path, got)
		}
	})

	t.Run("explicit path that does not exist", func(t *testing.T) {
		if got := FindConfigFile(filepath.Join(t.TempDir(), "missing")); got != "" {
			t.Errorf("expected empty path, got %q", got)
		}
	})

	t.Run("finds file in current directory", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, DefaultConfigFile)
		if err := os.WriteFile(path, []byte("service_port: 1"), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		t.Chdir(dir)

		got := FindConfigFile("")
		// Resolve symlinks before comparing; t.TempDir may be symlinked on macOS.
		wantResolved, _ := filepath.EvalSymlinks(path)
		gotResolved, _ := filepath.EvalSymlinks(got)
		if gotResolved != wantResolved {
			t.Errorf("FindConfigFile(\"\") = %q, expected %q", got, path)
		}
	})
}
