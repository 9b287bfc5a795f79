package storage

import "filestore/internal/storage"

// StorageEngine defines the interface for a storage backend that keeps
// files addressed by opaque hashes and stages them in a temp area while
// they are processed.
type StorageEngine interface {
	// IsExists reports whether the permanent file for hash exists and is
	// readable.
	IsExists(hash string) bool

	// Take describes the file addressed by hash.
	Take(hash string) (storage.StorageFileInfo, error)

	// Describe builds the info for a relative path that may not be stored
	// yet.
	Describe(relPath string) (storage.StorageFileInfo, error)

	// Put commits the staged file of info to its permanent location.
	Put(info storage.StorageFileInfo) error

	// Remove deletes the permanent file for hash. Removing a missing file
	// succeeds.
	Remove(hash string) error

	// CopyToTemp stages a copy of the permanent file at
	// info.TempAbsolutePath.
	CopyToTemp(info storage.StorageFileInfo) error

	// RemoveFromTemp deletes the staged copy of info. It succeeds when the
	// staged copy is already gone.
	RemoveFromTemp(info storage.StorageFileInfo) error

	// Stage moves an external file into the temp area.
	Stage(srcPath string, name string) (string, error)

	// TempPath returns a fresh staging path keeping the extension of name.
	TempPath(name string) string
}

var _ StorageEngine = (*storage.LocalFileStorage)(nil)
