package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nasriyasoftware/cachify/cerrors"
)

// LocalDriver persists backups as plain files under
// <baseDir>/cachify/backups/<flavor>-<basename>.backup.
type LocalDriver struct {
	baseDir string
}

// NewLocalDriver creates a driver rooted at baseDir.
func NewLocalDriver(baseDir string) *LocalDriver {
	return &LocalDriver{baseDir: baseDir}
}

// Name implements Driver.
func (d *LocalDriver) Name() string { return "local" }

// Backup writes r to <baseDir>/cachify/backups/<flavor>-<args[0]>.backup.
func (d *LocalDriver) Backup(ctx context.Context, flavor string, r io.Reader, args ...string) error {
	if len(args) < 1 {
		return cerrors.ErrValidation.WithDetails("local driver requires a backup name argument")
	}
	path, err := d.resolvePath(flavor, args[0])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

// Restore opens the backup file named by args[0] for flavor.
func (d *LocalDriver) Restore(ctx context.Context, flavor string, args ...string) (io.ReadCloser, error) {
	if len(args) < 1 {
		return nil, cerrors.ErrValidation.WithDetails("local driver requires a backup name argument")
	}
	path, err := d.resolvePath(flavor, args[0])
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (d *LocalDriver) resolvePath(flavor, basename string) (string, error) {
	if err := validateBasename(basename); err != nil {
		return "", err
	}
	dir := filepath.Join(d.baseDir, "cachify", "backups")
	return filepath.Join(dir, fmt.Sprintf("%s-%s.backup", flavor, basename)), nil
}

// validateBasename enforces the filename sanitization rules before any
// write is attempted.
func validateBasename(name string) error {
	if name == "" {
		return cerrors.ErrValidation.WithDetails("backup name must not be empty")
	}
	if name == "." || name == ".." {
		return cerrors.ErrValidation.WithDetails("backup name must not be \".\" or \"..\"")
	}
	if strings.Contains(name, "..") {
		return cerrors.ErrValidation.WithDetails("backup name must not contain \"..\"")
	}
	if strings.ContainsAny(name, `/\`) {
		return cerrors.ErrValidation.WithDetails("backup name must not contain path separators")
	}
	for _, r := range name {
		if r <= 0x1F {
			return cerrors.ErrValidation.WithDetails("backup name must not contain control characters")
		}
	}
	if strings.ContainsAny(name, `<>:"|?*`) {
		return cerrors.ErrValidation.WithDetails("backup name must not contain reserved characters")
	}
	return nil
}
