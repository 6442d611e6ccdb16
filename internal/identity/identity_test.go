package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onionwire/onionwire/internal/tor"
)

// TestGenerate tests fresh identity generation.
func TestGenerate(t *testing.T) {
	t.Parallel()

	id, err := Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !tor.IsValidV3Address(id.OnionHost()) {
		t.Errorf("OnionHost() = %q, not a valid v3 address", id.OnionHost())
	}
	if len(id.PublicKey()) != ed25519.PublicKeySize {
		t.Errorf("PublicKey() is %d bytes, expected %d", len(id.PublicKey()), ed25519.PublicKeySize)
	}

	rawKey, err := base64.StdEncoding.DecodeString(id.KeyBlob())
	if err != nil {
		t.Fatalf("KeyBlob() is not valid base64: %v", err)
	}
	if len(rawKey) != expandedKeySize {
		t.Errorf("decoded key blob is %d bytes, expected %d", len(rawKey), expandedKeySize)
	}

	// Clamping per RFC 8032: low bits of the scalar cleared, high bit set.
	if rawKey[0]&7 != 0 {
		t.Errorf("scalar byte 0 = %#x, low three bits must be clear", rawKey[0])
	}
	if rawKey[31]&128 != 0 {
		t.Errorf("scalar byte 31 = %#x, top bit must be clear", rawKey[31])
	}
	if rawKey[31]&64 == 0 {
		t.Errorf("scalar byte 31 = %#x, bit 6 must be set", rawKey[31])
	}
}

// TestExpandSeed tests deterministic key expansion.
func TestExpandSeed(t *testing.T) {
	t.Parallel()

	seed := make([]byte, ed25519.SeedSize)
	first := expandSeed(seed)
	second := expandSeed(seed)

	if string(first) != string(second) {
		t.Error("expansion of the same seed differs between calls")
	}
	if len(first) != expandedKeySize {
		t.Errorf("expanded key is %d bytes, expected %d", len(first), expandedKeySize)
	}
}

// TestSaveAndLoad tests the identity round trip through the filesystem.
func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	original, err := Generate()
	if err != nil {
		t.Fatalf("failed to generate: %v", err)
	}
	if err := original.Save(dir); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	if loaded.KeyBlob() != original.KeyBlob() {
		t.Error("loaded key blob differs from saved")
	}
	if loaded.OnionHost() != original.OnionHost() {
		t.Errorf("loaded hostname %q, expected %q", loaded.OnionHost(), original.OnionHost())
	}
	if !loaded.PublicKey().Equal(original.PublicKey()) {
		t.Error("loaded public key differs from saved")
	}

	// Key files must not be world readable.
	info, err := os.Stat(filepath.Join(dir, PrivateKeyFileName))
	if err != nil {
		t.Fatalf("failed to stat key file: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("private key file mode = %o, expected 0600", mode)
	}
}

// TestLoadErrors tests error handling for missing and corrupt identities.
func TestLoadErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing identity", func(t *testing.T) {
		t.Parallel()

		_, err := Load(t.TempDir())
		if !errors.Is(err, ErrNoIdentity) {
			t.Errorf("expected ErrNoIdentity, got %v", err)
		}
	})

	t.Run("invalid base64 key", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeIdentityFile(t, dir, PrivateKeyFileName, "not base64!!!")

		_, err := Load(dir)
		if !errors.Is(err, ErrCorruptIdentity) {
			t.Errorf("expected ErrCorruptIdentity, got %v", err)
		}
	})

	t.Run("truncated key blob", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeIdentityFile(t, dir, PrivateKeyFileName, base64.StdEncoding.EncodeToString(make([]byte, 32)))

		_, err := Load(dir)
		if !errors.Is(err, ErrCorruptIdentity) {
			t.Errorf("expected ErrCorruptIdentity, got %v", err)
		}
	})

	t.Run("missing public key file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeIdentityFile(t, dir, PrivateKeyFileName, base64.StdEncoding.EncodeToString(make([]byte, expandedKeySize)))

		_, err := Load(dir)
		if !errors.Is(err, ErrCorruptIdentity) {
			t.Errorf("expected ErrCorruptIdentity, got %v", err)
		}
	})

	t.Run("tampered hostname file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		id, err := Generate()
		if err != nil {
			t.Fatalf("failed to generate: %v", err)
		}
		if err := id.Save(dir); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
		writeIdentityFile(t, dir, HostnameFileName, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion")

		_, err = Load(dir)
		if !errors.Is(err, ErrCorruptIdentity) {
			t.Errorf("expected ErrCorruptIdentity, got %v", err)
		}
	})
}

// TestLoadOrCreate tests the create-then-reuse path.
func TestLoadOrCreate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	first, created, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true on first call")
	}

	second, created, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false on second call")
	}

	// The endpoint identity must survive across loads.
	if first.OnionHost() != second.OnionHost() {
		t.Errorf("hostname changed across loads: %q != %q", first.OnionHost(), second.OnionHost())
	}
}

// writeIdentityFile writes a single identity file for corruption tests.
func writeIdentityFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content+"\n"), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

// TestRollingBackup tests backup creation and retention pruning.
func TestRollingBackup(t *testing.T) {
	t.Parallel()

	t.Run("missing source is a no-op", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		if err := RollingBackup(dir, PrivateKeyFileName, 5); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if backups, _ := ListBackups(dir, PrivateKeyFileName); len(backups) != 0 {
			t.Errorf("expected no backups, got %d", len(backups))
		}
	})

	t.Run("backup preserves content", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeIdentityFile(t, dir, PrivateKeyFileName, "blob-v1")

		if err := RollingBackup(dir, PrivateKeyFileName, 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		backups, err := ListBackups(dir, PrivateKeyFileName)
		if err != nil {
			t.Fatalf("failed to list backups: %v", err)
		}
		if len(backups) != 1 {
			t.Fatalf("expected 1 backup, got %d", len(backups))
		}

		data, err := os.ReadFile(filepath.Join(dir, BackupDirName, backups[0]))
		if err != nil {
			t.Fatalf("failed to read backup: %v", err)
		}
		if got := strings.TrimSpace(string(data)); got != "blob-v1" {
			t.Errorf("backup content = %q, expected %q", got, "blob-v1")
		}
	})

	t.Run("retention prunes oldest", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeIdentityFile(t, dir, PrivateKeyFileName, "blob")

		const retain = 3
		for range retain + 4 {
			if err := RollingBackup(dir, PrivateKeyFileName, retain); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		backups, err := ListBackups(dir, PrivateKeyFileName)
		if err != nil {
			t.Fatalf("failed to list backups: %v", err)
		}
		if len(backups) != retain {
			t.Errorf("retained %d backups, expected %d", len(backups), retain)
		}
	})

	t.Run("same-second backups do not collide", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeIdentityFile(t, dir, PrivateKeyFileName, "blob")

		// Two rolls back to back land in the same timestamp bucket.
		if err := RollingBackup(dir, PrivateKeyFileName, 10); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := RollingBackup(dir, PrivateKeyFileName, 10); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		backups, err := ListBackups(dir, PrivateKeyFileName)
		if err != nil {
			t.Fatalf("failed to list backups: %v", err)
		}
		if len(backups) != 2 {
			t.Errorf("expected 2 backups, got %d", len(backups))
		}
	})
}
