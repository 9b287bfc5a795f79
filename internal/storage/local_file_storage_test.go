package storage_test

import (
	"encoding/hex"
	"errors"
	"filestore/internal/storage"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T, opts ...storage.Option) *storage.LocalFileStorage {
	t.Helper()

	engine := storage.New(t.TempDir(), opts...)
	require.NoError(t, engine.Initialize(), "Initialize error")
	return engine
}

// stageFile writes payload into the temp area and returns an info that
// points at relPath with the staged file attached.
func stageFile(t *testing.T, engine *storage.LocalFileStorage, relPath string, payload []byte) storage.StorageFileInfo {
	t.Helper()

	info, err := engine.Describe(relPath)
	require.NoError(t, err, "Describe error")

	tempPath := engine.TempPath(relPath)
	require.NoError(t, os.WriteFile(tempPath, payload, 0o644), "writing staged file")
	return info.WithTempPath(tempPath)
}

func TestInitializeCreatesDirectories(t *testing.T) {
	t.Parallel()

	webDir := t.TempDir()
	engine := storage.New(webDir)
	require.NoError(t, engine.Initialize())

	for _, dir := range storage.StorageDirs() {
		info, err := os.Stat(filepath.Join(webDir, dir))
		require.NoErrorf(t, err, "expected %s to exist", dir)
		require.True(t, info.IsDir())
	}

	// A second call is harmless.
	require.NoError(t, engine.Initialize())
}

func TestInitializeFailsFast(t *testing.T) {
	t.Parallel()

	// A regular file where the storage directory should be.
	webDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(webDir, storage.StorageDirName), []byte("x"), 0o644))

	engine := storage.New(webDir)
	require.Error(t, engine.Initialize(), "expected Initialize to fail")

	info := stageInfoWithoutEngine(t, engine)
	err := engine.Put(info)
	require.ErrorIs(t, err, storage.ErrNotInitialized)
}

func stageInfoWithoutEngine(t *testing.T, engine *storage.LocalFileStorage) storage.StorageFileInfo {
	t.Helper()
	info, err := engine.Describe("ab/file.txt")
	require.NoError(t, err)
	return info.WithTempPath(filepath.Join(t.TempDir(), "file.txt"))
}

func TestTakeDescribesFile(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t, storage.WithBaseURL("https://cdn.example.com/files"))

	hash, err := storage.Base64Codec{}.Encode("ab/cd/abcdef.jpg")
	require.NoError(t, err)

	info, err := engine.Take(hash)
	require.NoError(t, err, "Take error")
	require.Equal(t, hash, info.Hash)
	require.Equal(t, "ab/cd", info.RelativePath)
	require.Equal(t, "abcdef.jpg", info.FileName)
	require.Equal(t, "https://cdn.example.com/files/ab/cd/abcdef.jpg", info.PublicURL)
	require.Equal(t, filepath.Join(engine.Root(), "ab", "cd", "abcdef.jpg"), info.AbsolutePath)
	require.Equal(t, filepath.Join(engine.TempDir(), "abcdef.jpg"), info.TempAbsolutePath)
	require.False(t, info.Exists)
}

func TestTakeDefaultBaseURL(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	info, err := engine.Describe("file.txt")
	require.NoError(t, err)
	require.Equal(t, ".", info.RelativePath)
	require.Equal(t, storage.DefaultBaseURL+"/file.txt", info.PublicURL)
}

func TestTakeRejectsTempArea(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	hash, err := storage.Base64Codec{}.Encode("temp/secret.jpg")
	require.NoError(t, err)

	_, err = engine.Take(hash)
	var decodeErr *storage.DecodeError
	require.True(t, errors.As(err, &decodeErr), "expected DecodeError, got %v", err)
	require.False(t, engine.IsExists(hash))
}

func TestPutExistsAndTempIndependence(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	payload := []byte("hello local storage")
	info := stageFile(t, engine, "ab/cd/abcd1234.txt", payload)

	require.False(t, engine.IsExists(info.Hash))
	require.NoError(t, engine.Put(info), "Put error")
	require.True(t, engine.IsExists(info.Hash), "expected file to exist after Put")

	require.NoError(t, engine.RemoveFromTemp(info), "RemoveFromTemp error")
	_, err := os.Stat(info.TempAbsolutePath)
	require.ErrorIs(t, err, fs.ErrNotExist, "temp file should be gone")

	require.True(t, engine.IsExists(info.Hash), "permanent copy must survive temp cleanup")
	got, err := os.ReadFile(info.AbsolutePath)
	require.NoError(t, err)
	require.Equal(t, payload, got, "payload mismatch")

	perm, err := os.Stat(info.AbsolutePath)
	require.NoError(t, err)
	require.Equal(t, fs.FileMode(0o644), perm.Mode().Perm())

	taken, err := engine.Take(info.Hash)
	require.NoError(t, err)
	require.True(t, taken.Exists)
}

func TestPutMissingTempFile(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	info, err := engine.Describe("ab/missing.txt")
	require.NoError(t, err)

	err = engine.Put(info.WithTempPath(filepath.Join(engine.TempDir(), "nope.txt")))
	var storageErr *storage.StorageError
	require.True(t, errors.As(err, &storageErr), "expected StorageError, got %v", err)
	require.Equal(t, "put", storageErr.Op)
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.False(t, engine.IsExists(info.Hash))
}

func TestPutIsIdempotentForSameHash(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	first := stageFile(t, engine, "ab/same.txt", []byte("payload"))
	require.NoError(t, engine.Put(first))

	second := stageFile(t, engine, "ab/same.txt", []byte("payload"))
	require.NoError(t, engine.Put(second))

	entries, err := os.ReadDir(filepath.Join(engine.Root(), "ab"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover partial files expected")
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	info := stageFile(t, engine, "ab/remove-me.txt", []byte("bye"))
	require.NoError(t, engine.Put(info))
	require.True(t, engine.IsExists(info.Hash))

	require.NoError(t, engine.Remove(info.Hash), "first Remove")
	require.False(t, engine.IsExists(info.Hash))

	require.NoError(t, engine.Remove(info.Hash), "second Remove should not error")
	require.False(t, engine.IsExists(info.Hash))
}

func TestRemoveRefusesDirectories(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	info := stageFile(t, engine, "ab/cd/leaf.txt", []byte("leaf"))
	require.NoError(t, engine.Put(info))
	require.NoError(t, engine.Remove(info.Hash))

	dir, err := engine.Describe("ab/cd")
	require.NoError(t, err)
	require.False(t, dir.Exists)

	err = engine.Remove(dir.Hash)
	var storageErr *storage.StorageError
	require.True(t, errors.As(err, &storageErr), "expected StorageError, got %v", err)
	require.ErrorIs(t, err, storage.ErrNotRegularFile)

	stat, err := os.Stat(filepath.Join(engine.Root(), "ab", "cd"))
	require.NoError(t, err, "fan-out directory must survive")
	require.True(t, stat.IsDir())
}

func TestRemoveMalformedHash(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	err := engine.Remove("../../etc")
	var decodeErr *storage.DecodeError
	require.True(t, errors.As(err, &decodeErr), "expected DecodeError, got %v", err)
}

func TestCopyToTempMissingSource(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	info, err := engine.Describe("ab/ghost.txt")
	require.NoError(t, err)

	err = engine.CopyToTemp(info.WithTempPath(engine.TempPath("ghost.txt")))
	var storageErr *storage.StorageError
	require.True(t, errors.As(err, &storageErr), "expected StorageError, got %v", err)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCopyToTempIsByteIdentical(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	payload := []byte(strings.Repeat("0123456789abcdef", 4096))
	info := stageFile(t, engine, "ab/cd/big.bin", payload)
	require.NoError(t, engine.Put(info))
	require.NoError(t, engine.RemoveFromTemp(info))

	staged := info.WithTempPath(engine.TempPath(info.FileName))
	require.NoError(t, engine.CopyToTemp(staged), "CopyToTemp error")

	got, err := os.ReadFile(staged.TempAbsolutePath)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// The staged copy is independent of the permanent file.
	permInfo, err := os.Stat(info.AbsolutePath)
	require.NoError(t, err)
	tempInfo, err := os.Stat(staged.TempAbsolutePath)
	require.NoError(t, err)
	require.False(t, os.SameFile(permInfo, tempInfo), "staged copy must not be a hard link")
}

func TestCopyToTempRejectsPathOutsideTemp(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	info := stageFile(t, engine, "ab/file.txt", []byte("x"))
	require.NoError(t, engine.Put(info))

	err := engine.CopyToTemp(info.WithTempPath(filepath.Join(engine.Root(), "elsewhere.txt")))
	require.Error(t, err)
}

func TestRemoveFromTempIsIdempotent(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	info := stageFile(t, engine, "ab/file.txt", []byte("x"))

	require.NoError(t, engine.RemoveFromTemp(info))
	require.NoError(t, engine.RemoveFromTemp(info), "second RemoveFromTemp should succeed")
	require.NoError(t, engine.RemoveFromTemp(storage.StorageFileInfo{}), "empty info should be a no-op")
}

func TestRemoveFromTempRefusesPermanentFiles(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	info := stageFile(t, engine, "ab/keep.txt", []byte("keep"))
	require.NoError(t, engine.Put(info))

	err := engine.RemoveFromTemp(info.WithTempPath(info.AbsolutePath))
	require.Error(t, err)
	require.True(t, engine.IsExists(info.Hash))
}

func TestStageMovesFileIntoTemp(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t)
	src := filepath.Join(t.TempDir(), "upload.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))

	staged, err := engine.Stage(src, "upload.png")
	require.NoError(t, err)
	require.Equal(t, engine.TempDir(), filepath.Dir(staged))
	require.Equal(t, ".png", filepath.Ext(staged))

	_, err = os.Stat(src)
	require.ErrorIs(t, err, fs.ErrNotExist, "source should have been moved")
}

func TestContentPath(t *testing.T) {
	t.Parallel()

	p, err := storage.ContentPath("abcdef0123", ".jpg")
	require.NoError(t, err)
	require.Equal(t, "ab/cd/abcdef0123.jpg", p)

	_, err = storage.ContentPath("abc", ".jpg")
	require.Error(t, err, "expected error for too-short digest")
}

func TestDigestFileIsStable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o644))

	da, err := storage.DigestFile(a)
	require.NoError(t, err)
	db, err := storage.DigestFile(b)
	require.NoError(t, err)
	require.Equal(t, da, db)
	require.Len(t, da, 64)
}

type hexCodec struct{}

func (hexCodec) Encode(relPath string) (string, error) {
	return hex.EncodeToString([]byte(relPath)), nil
}

func (hexCodec) Decode(hash string) (string, error) {
	raw, err := hex.DecodeString(hash)
	return string(raw), err
}

func TestCustomCodecStillGuardsPaths(t *testing.T) {
	t.Parallel()

	engine := newTestStorage(t, storage.WithCodec(hexCodec{}))

	info, err := engine.Describe("ab/cd/file.txt")
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString([]byte("ab/cd/file.txt")), info.Hash)
	require.Equal(t, "ab/cd", info.RelativePath)
	require.Equal(t, "file.txt", info.FileName)

	for _, p := range []string{"../escape", "/etc/passwd", "temp/x.txt"} {
		_, err := engine.Take(hex.EncodeToString([]byte(p)))
		var decodeErr *storage.DecodeError
		require.True(t, errors.As(err, &decodeErr), "%s: expected DecodeError, got %v", p, err)
	}
}
