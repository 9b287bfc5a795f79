package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	// StorageDirName is the directory below the web root holding all
	// permanent files.
	StorageDirName = "storage"

	// TempDirName is the staging directory inside StorageDirName.
	TempDirName = "temp"

	// DefaultBaseURL is used for public URLs when no base URL is configured.
	DefaultBaseURL = "http://localhost:9000"
)

// LocalFileStorage stores files on the local filesystem under
// <webDir>/storage, addressed by hashes that the configured Codec decodes
// into relative paths. Files are processed in <webDir>/storage/temp before
// being committed.
type LocalFileStorage struct {
	webDir  string
	baseURL string
	codec   Codec
	ready   atomic.Bool
}

type Option func(*LocalFileStorage)

// WithBaseURL sets the prefix of generated public URLs.
func WithBaseURL(baseURL string) Option {
	return func(s *LocalFileStorage) {
		s.baseURL = baseURL
	}
}

// WithCodec replaces the default Base64Codec.
func WithCodec(codec Codec) Option {
	return func(s *LocalFileStorage) {
		s.codec = codec
	}
}

// New creates a LocalFileStorage rooted at webDir. No filesystem access
// happens until Initialize is called.
func New(webDir string, opts ...Option) *LocalFileStorage {
	s := &LocalFileStorage{
		webDir:  webDir,
		baseURL: DefaultBaseURL,
		codec:   Base64Codec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.baseURL == "" {
		s.baseURL = DefaultBaseURL
	}
	return s
}

// StorageDirs lists the directories, relative to the web root, that must
// exist before the engine can serve requests.
func StorageDirs() []string {
	return []string{
		StorageDirName,
		filepath.Join(StorageDirName, TempDirName),
	}
}

// Initialize creates the storage and temp directories. Any failure is a
// configuration problem and is returned as is; the engine stays unusable.
func (s *LocalFileStorage) Initialize() error {
	if s.webDir == "" {
		return errors.New("storage web dir must not be empty")
	}

	webDir, err := filepath.Abs(s.webDir)
	if err != nil {
		return fmt.Errorf("resolve storage web dir: %w", err)
	}
	s.webDir = webDir

	for _, dir := range StorageDirs() {
		p := filepath.Join(s.webDir, dir)
		if err := EnsureDir(p); err != nil {
			return fmt.Errorf("cannot create storage dir %s: %w", p, err)
		}
	}

	s.ready.Store(true)
	slog.Debug("Storage initialized", "root", s.Root())
	return nil
}

// Root returns the absolute directory holding permanent files.
func (s *LocalFileStorage) Root() string {
	return filepath.Join(s.webDir, StorageDirName)
}

// TempDir returns the staging directory.
func (s *LocalFileStorage) TempDir() string {
	return filepath.Join(s.webDir, StorageDirName, TempDirName)
}

// TempPath returns a fresh, unused staging path that keeps the extension
// of name.
func (s *LocalFileStorage) TempPath(name string) string {
	return filepath.Join(s.TempDir(), uuid.NewString()+path.Ext(name))
}

// resolve decodes hash into a relative path that is safe to use below the
// storage root.
func (s *LocalFileStorage) resolve(hash string) (string, error) {
	relPath, err := s.codec.Decode(hash)
	if err != nil {
		return "", err
	}

	relPath, reason := cleanRelative(relPath)
	if reason == "" && isReserved(relPath) {
		reason = "path points into the temp area"
	}
	if reason != "" {
		return "", &DecodeError{Hash: hash, Reason: reason}
	}
	return relPath, nil
}

func isReserved(relPath string) bool {
	return relPath == TempDirName || strings.HasPrefix(relPath, TempDirName+"/")
}

func (s *LocalFileStorage) absolute(relPath string) string {
	return filepath.Join(s.Root(), filepath.FromSlash(relPath))
}

func (s *LocalFileStorage) publicURL(relPath string) string {
	u, err := url.JoinPath(s.baseURL, relPath)
	if err != nil {
		return strings.TrimSuffix(s.baseURL, "/") + "/" + relPath
	}
	return u
}

// IsExists reports whether the permanent file for hash exists and can be
// read. Malformed hashes never exist.
func (s *LocalFileStorage) IsExists(hash string) bool {
	relPath, err := s.resolve(hash)
	if err != nil {
		return false
	}
	return isReadableFile(s.absolute(relPath))
}

// Take describes the file addressed by hash. The only filesystem access is
// the existence check.
func (s *LocalFileStorage) Take(hash string) (StorageFileInfo, error) {
	relPath, err := s.resolve(hash)
	if err != nil {
		return StorageFileInfo{}, err
	}
	return s.info(hash, relPath), nil
}

// Describe builds the info for relPath, which does not need to exist yet.
func (s *LocalFileStorage) Describe(relPath string) (StorageFileInfo, error) {
	hash, err := s.codec.Encode(relPath)
	if err != nil {
		return StorageFileInfo{}, err
	}
	return s.Take(hash)
}

func (s *LocalFileStorage) info(hash string, relPath string) StorageFileInfo {
	dir, file := path.Split(relPath)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "."
	}

	abs := s.absolute(relPath)
	return StorageFileInfo{
		Hash:             hash,
		RelativePath:     dir,
		FileName:         file,
		PublicURL:        s.publicURL(relPath),
		AbsolutePath:     abs,
		TempAbsolutePath: filepath.Join(s.TempDir(), file),
		Exists:           isReadableFile(abs),
	}
}

// Put commits the staged file of info to its permanent location. Since
// the location is derived from the content, an existing permanent file is
// left untouched.
func (s *LocalFileStorage) Put(info StorageFileInfo) error {
	const op = "put"
	if !s.ready.Load() {
		return storageErr(op, info.Hash, "", ErrNotInitialized)
	}

	relPath, reason := cleanRelative(info.Path())
	if reason == "" && isReserved(relPath) {
		reason = "path points into the temp area"
	}
	if reason != "" {
		return storageErr(op, info.Hash, info.Path(), errors.New(reason))
	}

	if info.TempAbsolutePath == "" {
		return storageErr(op, info.Hash, "", errors.New("no staged file"))
	}
	if _, err := os.Stat(info.TempAbsolutePath); err != nil {
		return storageErr(op, info.Hash, info.TempAbsolutePath, err)
	}

	dest := s.absolute(relPath)
	if isReadableFile(dest) {
		slog.Debug("Put skipped, file already stored", "hash", info.Hash, "path", relPath)
		return nil
	}

	if err := EnsureDir(filepath.Dir(dest)); err != nil {
		return storageErr(op, info.Hash, filepath.Dir(dest), err)
	}
	if err := CopyFile(info.TempAbsolutePath, dest); err != nil {
		return storageErr(op, info.Hash, dest, err)
	}

	slog.Debug("Stored file", "hash", info.Hash, "path", relPath)
	return nil
}

// Remove deletes the permanent file for hash. Removing a file that does
// not exist succeeds.
func (s *LocalFileStorage) Remove(hash string) error {
	const op = "remove"
	if !s.ready.Load() {
		return storageErr(op, hash, "", ErrNotInitialized)
	}

	relPath, err := s.resolve(hash)
	if err != nil {
		return err
	}

	abs := s.absolute(relPath)
	if err := RemoveFile(abs); err != nil {
		return storageErr(op, hash, abs, err)
	}

	slog.Debug("Removed file", "hash", hash, "path", relPath)
	return nil
}

// CopyToTemp stages a byte-for-byte copy of the permanent file at
// info.TempAbsolutePath.
func (s *LocalFileStorage) CopyToTemp(info StorageFileInfo) error {
	const op = "copy to temp"
	if !s.ready.Load() {
		return storageErr(op, info.Hash, "", ErrNotInitialized)
	}

	relPath, err := s.resolve(info.Hash)
	if err != nil {
		return err
	}
	if err := s.checkTempPath(info.TempAbsolutePath); err != nil {
		return storageErr(op, info.Hash, info.TempAbsolutePath, err)
	}

	src := s.absolute(relPath)
	if !isReadableFile(src) {
		return storageErr(op, info.Hash, src, fs.ErrNotExist)
	}
	if err := CopyFile(src, info.TempAbsolutePath); err != nil {
		return storageErr(op, info.Hash, info.TempAbsolutePath, err)
	}
	return nil
}

// RemoveFromTemp deletes the staged copy of info, if any.
func (s *LocalFileStorage) RemoveFromTemp(info StorageFileInfo) error {
	const op = "remove from temp"
	if info.TempAbsolutePath == "" {
		return nil
	}
	if err := s.checkTempPath(info.TempAbsolutePath); err != nil {
		return storageErr(op, info.Hash, info.TempAbsolutePath, err)
	}
	if err := RemoveFile(info.TempAbsolutePath); err != nil {
		return storageErr(op, info.Hash, info.TempAbsolutePath, err)
	}
	return nil
}

// Stage moves an externally created file into the temp area and returns
// its new location.
func (s *LocalFileStorage) Stage(srcPath string, name string) (string, error) {
	const op = "stage"
	if !s.ready.Load() {
		return "", storageErr(op, "", srcPath, ErrNotInitialized)
	}

	dest := s.TempPath(name)
	if err := MoveFile(srcPath, dest); err != nil {
		return "", storageErr(op, "", srcPath, err)
	}
	return dest, nil
}

// checkTempPath refuses staging paths outside the temp area so that temp
// cleanup can never delete permanent files.
func (s *LocalFileStorage) checkTempPath(p string) error {
	if p == "" {
		return errors.New("no temp path")
	}
	rel, err := filepath.Rel(s.TempDir(), p)
	if err != nil {
		return err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.New("path is outside the temp area")
	}
	return nil
}
