package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	maxErrorBodyBytes  = 8 * 1024
	defaultHTTPTimeout = 5 * time.Minute
)

var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Transport downloads a remote resource into a local file and returns its
// path. Implementations do not retry.
type Transport interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// HTTPTransport downloads http and https URLs into Dir.
type HTTPTransport struct {
	Client *http.Client
	// Dir receives downloaded files. Empty means the OS temp dir.
	Dir string
}

func NewHTTPTransport(dir string) *HTTPTransport {
	return &HTTPTransport{
		Client: &http.Client{Timeout: defaultHTTPTimeout},
		Dir:    dir,
	}
}

func (t *HTTPTransport) Fetch(ctx context.Context, rawURL string) (string, error) {
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return "", fmt.Errorf("download failed: %s: %s", resp.Status, msg)
		}
		return "", fmt.Errorf("download failed: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(t.Dir, "download-*"+extOf(req.URL))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp: %w", err)
	}
	return tmpPath, nil
}

// SchemeTransport dispatches to a Transport by URL scheme.
type SchemeTransport map[string]Transport

func (t SchemeTransport) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	next, ok := t[strings.ToLower(u.Scheme)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return next.Fetch(ctx, rawURL)
}

func extOf(u *url.URL) string {
	ext := path.Ext(u.Path)
	if strings.ContainsAny(ext, `/\*`) {
		return ""
	}
	return ext
}
