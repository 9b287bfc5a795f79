package upload

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
)

// RemoteUploader fetches the file named by the "url" configuration value
// through a Transport.
type RemoteUploader struct {
	transport Transport
}

func NewRemoteUploader(transport Transport) *RemoteUploader {
	return &RemoteUploader{transport: transport}
}

// BuildIntake downloads the configured URL and describes the result. The
// filename comes from the last URL path segment and the MIME type from its
// extension; headers sent by the remote side are ignored. No intake is
// returned on failure.
func (u *RemoteUploader) BuildIntake(ctx context.Context, kind string, cfg map[string]string) (*FileIntake, error) {
	raw := strings.TrimSpace(cfg[URLConfigName])
	if raw == "" {
		return nil, &UploadError{Op: "build intake", Err: ErrMissingURL}
	}

	src, err := url.Parse(raw)
	if err != nil {
		return nil, &UploadError{Op: "build intake", Source: raw, Err: fmt.Errorf("%w: %v", ErrInvalidURL, err)}
	}
	if !src.IsAbs() || src.Host == "" {
		return nil, &UploadError{Op: "build intake", Source: raw, Err: fmt.Errorf("%w: absolute url with host required", ErrInvalidURL)}
	}

	name := path.Base(src.Path)
	if name == "." || name == "/" {
		return nil, &UploadError{Op: "build intake", Source: raw, Err: fmt.Errorf("%w: no filename in path", ErrInvalidURL)}
	}

	tempPath, err := u.transport.Fetch(ctx, src.String())
	if err != nil {
		return nil, &UploadError{Op: "download", Source: raw, Err: err}
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, &UploadError{Op: "download", Source: raw, Err: err}
	}

	slog.Info("Downloaded remote file", "url", raw, "name", name, "size", humanize.Bytes(uint64(info.Size())))

	return &FileIntake{
		Kind:   kind,
		Source: raw,
		File: UploadedFile{
			Name:     name,
			TempName: tempPath,
			Size:     info.Size(),
			Type:     TypeByExtension(name),
			Error:    ErrCodeOK,
		},
	}, nil
}
