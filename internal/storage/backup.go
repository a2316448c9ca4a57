package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxAutoBackups is how many automatic backups are retained.
const maxAutoBackups = 5

// ErrBackupUnavailable is returned when the database has no file to back up.
var ErrBackupUnavailable = errors.New("backups require a file-backed database")

// BackupDir returns the directory holding backups of this database.
func (s *SQLiteStorage) BackupDir() string {
	return filepath.Join(filepath.Dir(s.dbPath), "backups")
}

// Backup writes a consistent copy of the database to
// <dir>/backups/<tag>.db and returns its path.
func (s *SQLiteStorage) Backup(ctx context.Context, tag string) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if s.dbPath == ":memory:" {
		return "", ErrBackupUnavailable
	}
	if tag == "" {
		tag = "backup-" + time.Now().Format("2006-01-02-150405")
	}
	if strings.ContainsAny(tag, `'"/;\`) || strings.Contains(tag, "..") {
		return "", fmt.Errorf("invalid backup tag %q", tag)
	}

	dir := s.BackupDir()
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve backup directory: %w", err)
	}
	dest := filepath.Join(absDir, tag+".db")
	if strings.ContainsAny(dest, `'";`) {
		return "", fmt.Errorf("invalid backup path %q", dest)
	}
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("backup %s already exists", dest)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	// #nosec G201 - dest is validated above
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return "", fmt.Errorf("failed to back up database: %w", classify(err))
	}

	slog.Info("Created database backup", "path", dest)
	return dest, nil
}

// AutoBackup creates a backup named after the operation about to run and
// prunes older automatic backups.
func (s *SQLiteStorage) AutoBackup(ctx context.Context, operation string) (string, error) {
	path, err := s.Backup(ctx, fmt.Sprintf("auto-%s-%s", operation, time.Now().Format("2006-01-02-150405")))
	if err != nil {
		return "", fmt.Errorf("failed to create automatic backup: %w", err)
	}

	if err := s.pruneAutoBackups(); err != nil {
		// Non-fatal: log but continue
		slog.Warn("failed to clean up old automatic backups", "error", err)
	}
	return path, nil
}

func (s *SQLiteStorage) pruneAutoBackups() error {
	entries, err := os.ReadDir(s.BackupDir())
	if err != nil {
		return err
	}

	var autos []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "auto-") && strings.HasSuffix(e.Name(), ".db") {
			autos = append(autos, e.Name())
		}
	}
	if len(autos) <= maxAutoBackups {
		return nil
	}

	// Oldest first.
	sort.Slice(autos, func(i, j int) bool {
		return modTime(filepath.Join(s.BackupDir(), autos[i])).Before(modTime(filepath.Join(s.BackupDir(), autos[j])))
	})
	for _, name := range autos[:len(autos)-maxAutoBackups] {
		if err := os.Remove(filepath.Join(s.BackupDir(), name)); err != nil {
			slog.Debug("failed to delete old automatic backup", "error", err, "backup", name)
		}
	}
	return nil
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// PendingMigrations reports how many migrations have not been applied.
func (s *SQLiteStorage) PendingMigrations(ctx context.Context) (int, error) {
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}
	pending := 0
	for _, m := range migrations {
		if m.Version > version {
			pending++
		}
	}
	return pending, nil
}
