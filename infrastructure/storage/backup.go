package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// fileFormatHeaderSize is the length of the SQLite file-format header
// ("SQLite format 3\000"), the 16-byte magic §4.1/§6.2 require backup and
// restore sources to begin with.
const fileFormatHeaderSize = 16

// sqliteFileFormatHeader is the fixed magic every valid SQLite database
// file begins with.
var sqliteFileFormatHeader = []byte("SQLite format 3\x00")

// backupTimestampLayout produces the YYYYMMDD_HHMMSS component of
// fluxion_backup_YYYYMMDD_HHMMSS.<ext> (§6.2).
const backupTimestampLayout = "20060102_150405"

// BackupInfo describes one file in the backups directory (Expansion
// list_backups, §4.1).
type BackupInfo struct {
	Path     string
	Size     int64
	Modified time.Time
}

// Backup checkpoints the WAL into the main file, copies it to a temp
// sibling in dir, verifies the copy's size and file-format header, then
// renames it atomically to the timestamped final name. Any failure
// removes the temp file and returns an error; the primary file is never
// left in an intermediate state (§4.1).
func (e *Engine) Backup(ctx context.Context, dir string, now time.Time) (path string, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failed"
		}
		e.metrics.RecordBackup(outcome, time.Since(start))
	}()

	if _, err = e.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("checkpoint WAL: %w", err)
	}

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backups directory: %w", err)
	}

	ext := filepath.Ext(e.path)
	if ext == "" {
		ext = ".db"
	}
	finalName := fmt.Sprintf("fluxion_backup_%s%s", now.Format(backupTimestampLayout), ext)
	finalPath := filepath.Join(dir, finalName)
	tempPath := finalPath + ".tmp"

	if copyErr := copyFile(e.path, tempPath); copyErr != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("copy store to temp backup file: %w", copyErr)
	}

	if verifyErr := verifyStoreFile(tempPath); verifyErr != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("verify backup file: %w", verifyErr)
	}

	if renameErr := os.Rename(tempPath, finalPath); renameErr != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename backup into place: %w", renameErr)
	}

	e.logf("backup written to %s", finalPath)
	return finalPath, nil
}

// Restore verifies source begins with the 16-byte SQLite file-format
// header, copies the current primary file aside as a pre-restore safety
// net (if it exists), then overwrites the primary with source (§4.1).
// The Engine must be closed before calling Restore — the method operates
// on files directly, not through the open connection pool.
func Restore(primaryPath, sourcePath string) error {
	if err := verifyStoreFile(sourcePath); err != nil {
		return fmt.Errorf("verify restore source: %w", err)
	}

	if _, err := os.Stat(primaryPath); err == nil {
		safetyPath := primaryPath + ".pre-restore"
		if err := copyFile(primaryPath, safetyPath); err != nil {
			return fmt.Errorf("copy primary aside before restore: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat primary store file: %w", err)
	}

	if err := copyFile(sourcePath, primaryPath); err != nil {
		return fmt.Errorf("overwrite primary with restore source: %w", err)
	}

	return nil
}

// ListBackups enumerates dir's backup files, newest first (Expansion,
// §4.1).
func ListBackups(dir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backups directory: %w", err)
	}

	infos := make([]BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, BackupInfo{
			Path:     filepath.Join(dir, entry.Name()),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Modified.After(infos[j].Modified) })
	return infos, nil
}

func verifyStoreFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, fileFormatHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("read file-format header from %s: %w", path, err)
	}
	for i, b := range sqliteFileFormatHeader {
		if header[i] != b {
			return fmt.Errorf("%s does not begin with the SQLite file-format header", path)
		}
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
