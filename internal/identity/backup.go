package identity

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BackupDirName is the directory under the identity dir holding rolled
// copies of the key file.
const BackupDirName = "backups"

// DefaultBackupRetention is how many rolled copies are kept by default.
const DefaultBackupRetention = 20

// backupTimeFormat is the timestamp prefix of rolled file names. Second
// precision with a sortable layout, so lexicographic order is age order.
const backupTimeFormat = "20060102-150405"

// RollingBackup copies dir/name into dir/backups/ under a timestamped name
// and prunes the oldest copies so at most retain remain.
//
// It is called before every network start: if the key file is later
// corrupted or overwritten, an operator can restore the endpoint identity
// from a rolled copy. A missing source file is not an error - there is
// simply nothing to roll yet.
func RollingBackup(dir, name string, retain int) error {
	if retain <= 0 {
		retain = DefaultBackupRetention
	}

	src := filepath.Join(dir, name)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}

	backupDir := filepath.Join(dir, BackupDirName)
	if err := os.MkdirAll(backupDir, 0700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	stamp := time.Now().Format(backupTimeFormat)
	dst := filepath.Join(backupDir, stamp+"_"+name)

	// Same-second restarts would collide on the timestamp; disambiguate
	// with a numeric suffix instead of overwriting an existing copy.
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		dst = filepath.Join(backupDir, fmt.Sprintf("%s_%d_%s", stamp, i, name))
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}

	return pruneBackups(backupDir, name, retain)
}

// ListBackups returns the rolled copies of name under dir/backups/,
// oldest first. A missing backup directory yields an empty list.
func ListBackups(dir, name string) ([]string, error) {
	backupDir := filepath.Join(dir, BackupDirName)
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), "_"+name) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// pruneBackups removes the oldest rolled copies beyond the retention bound.
func pruneBackups(backupDir, name string, retain int) error {
	names, err := ListBackups(filepath.Dir(backupDir), name)
	if err != nil {
		return err
	}
	if len(names) <= retain {
		return nil
	}

	for _, stale := range names[:len(names)-retain] {
		if err := os.Remove(filepath.Join(backupDir, stale)); err != nil {
			return fmt.Errorf("failed to prune backup %s: %w", stale, err)
		}
	}
	return nil
}

// copyFile copies src to dst preserving the key file's restrictive mode.
func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // Path is inside our own data dir
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600) //nolint:gosec // Path is inside our own data dir
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()           //nolint:errcheck // The copy error is the interesting one
		_ = os.Remove(dst)        //nolint:errcheck // Remove the partial copy
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}
