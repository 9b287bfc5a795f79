package upload

import (
	"context"
	"fmt"
	"os"
)

// LocalUploader normalizes an upload record that the web layer has already
// parsed and written to disk.
type LocalUploader struct {
	file UploadedFile
}

func NewLocalUploader(file UploadedFile) *LocalUploader {
	return &LocalUploader{file: file}
}

func (u *LocalUploader) BuildIntake(_ context.Context, kind string, _ map[string]string) (*FileIntake, error) {
	f := u.file
	if f.Error != ErrCodeOK {
		return nil, &UploadError{Op: "build intake", Source: f.Name, Err: fmt.Errorf("%w: error code %d", ErrUploadRejected, f.Error)}
	}
	if f.TempName == "" {
		return nil, &UploadError{Op: "build intake", Source: f.Name, Err: fmt.Errorf("%w: no temp file", ErrUploadRejected)}
	}

	info, err := os.Stat(f.TempName)
	if err != nil {
		return nil, &UploadError{Op: "build intake", Source: f.Name, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &UploadError{Op: "build intake", Source: f.Name, Err: fmt.Errorf("%w: temp file is not a regular file", ErrUploadRejected)}
	}

	if f.Name == "" {
		f.Name = info.Name()
	}
	f.Size = info.Size()
	if f.Type == "" {
		f.Type = TypeByExtension(f.Name)
	}

	return &FileIntake{Kind: kind, Source: f.Name, File: f}, nil
}
