package storage

import "path"

// StorageFileInfo describes where a stored file lives and whether it is
// currently present. It is assembled fresh for every lookup and passed by
// value; callers derive modified copies with the With* methods.
type StorageFileInfo struct {
	Hash string

	// RelativePath is the directory of the file relative to the storage
	// root, using forward slashes. It is "." for files stored at the root.
	RelativePath string
	FileName     string
	PublicURL    string

	// AbsolutePath is the permanent location on disk.
	AbsolutePath string

	// TempAbsolutePath is where the file is staged while it is processed.
	TempAbsolutePath string

	Exists bool
}

// Path returns the slash separated path of the file relative to the
// storage root.
func (i StorageFileInfo) Path() string {
	return path.Join(i.RelativePath, i.FileName)
}

// Ext returns the filename extension including the leading dot.
func (i StorageFileInfo) Ext() string {
	return path.Ext(i.FileName)
}

// WithTempPath returns a copy of the info staged at tempPath.
func (i StorageFileInfo) WithTempPath(tempPath string) StorageFileInfo {
	i.TempAbsolutePath = tempPath
	return i
}
