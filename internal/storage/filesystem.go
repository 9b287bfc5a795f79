package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/natefinch/atomic"
	"github.com/zeebo/blake3"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// CopyFile copies the contents of srcPath to destPath. The destination is
// written to a sibling temporary file and renamed into place, so readers
// never observe a partially written file.
func CopyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	if err := atomic.WriteFile(destPath, srcFile); err != nil {
		return err
	}

	// atomic creates its temporary file with 0600.
	return os.Chmod(destPath, fileMode)
}

// MoveFile renames srcPath to destPath, falling back to copy and delete
// when the two paths live on different filesystems.
func MoveFile(srcPath string, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := CopyFile(srcPath, destPath); err != nil {
		return err
	}

	// Best-effort cleanup of the source file; ignore ENOENT in case
	// something else already removed it.
	if err := os.Remove(srcPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveFile deletes the regular file at path. A missing file is not an
// error; directories, links and other non-regular entries are refused.
func RemoveFile(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegularFile, info.Mode().Type())
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// EnsureDir creates path and any missing parents.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, dirMode); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", path)
	}
	return nil
}

// isReadableFile reports whether path is a regular file that can be opened
// for reading.
func isReadableFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// DigestFile returns the hex encoded BLAKE3 digest of the file at path.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ContentPath lays out a digest as a two level fan-out directory tree,
// e.g. "ab/cd/abcdef...<ext>". The result uses forward slashes.
func ContentPath(digest string, ext string) (string, error) {
	if len(digest) < 4 {
		return "", fmt.Errorf("invalid digest length: %d", len(digest))
	}
	return filepath.ToSlash(filepath.Join(digest[:2], digest[2:4], digest+ext)), nil
}
