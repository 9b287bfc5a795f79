// Package upload turns upload sources into normalized intake records that
// the storage layer can stage.
package upload

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"os"
	"path"
	"strings"
)

// URLConfigName is the configuration key holding the source URL of a
// remote upload.
const URLConfigName = "url"

// Error codes carried by UploadedFile, mirroring the codes web frameworks
// report for multipart uploads.
const (
	ErrCodeOK        = 0
	ErrCodeIniSize   = 1
	ErrCodeFormSize  = 2
	ErrCodePartial   = 3
	ErrCodeNoFile    = 4
	ErrCodeNoTempDir = 6
	ErrCodeCantWrite = 7
	ErrCodeExtension = 8
)

const defaultContentType = "application/octet-stream"

var (
	ErrMissingURL     = errors.New("source url is not configured")
	ErrInvalidURL     = errors.New("source url is invalid")
	ErrUploadRejected = errors.New("upload was rejected")
)

// UploadedFile is the upload record produced by the web layer or by a
// remote fetch.
type UploadedFile struct {
	Name     string
	TempName string
	Size     int64
	Type     string
	Error    int
}

// FileIntake is a normalized description of a file about to be stored.
type FileIntake struct {
	// Kind names the entity the file will be attached to.
	Kind string
	// Source describes where the bytes came from, e.g. a URL.
	Source string
	File   UploadedFile
}

// Discard deletes the temp file of an intake that will not be ingested.
func (i *FileIntake) Discard() error {
	if i == nil || i.File.TempName == "" {
		return nil
	}
	if err := os.Remove(i.File.TempName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Uploader builds an intake record for kind from cfg.
type Uploader interface {
	BuildIntake(ctx context.Context, kind string, cfg map[string]string) (*FileIntake, error)
}

// UploadError reports a failure to acquire upload bytes.
type UploadError struct {
	Op     string
	Source string
	Err    error
}

func (e *UploadError) Error() string {
	msg := "upload " + e.Op
	if e.Source != "" {
		msg += " " + e.Source
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UploadError) Unwrap() error { return e.Err }

// TypeByExtension infers a MIME type from the extension of name only.
func TypeByExtension(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return defaultContentType
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return defaultContentType
	}
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		return mediaType
	}
	return t
}

var (
	_ Uploader  = (*RemoteUploader)(nil)
	_ Uploader  = (*LocalUploader)(nil)
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*S3Transport)(nil)
	_ Transport = SchemeTransport(nil)
)
