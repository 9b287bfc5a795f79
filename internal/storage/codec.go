package storage

import (
	"encoding/base64"
	"path"
	"strings"
)

// Codec converts between public hashes and relative paths under the
// storage root. Implementations must be stateless and Decode(Encode(p))
// must return p for every path accepted by Encode.
type Codec interface {
	Encode(relPath string) (string, error)
	Decode(hash string) (string, error)
}

// Base64Codec encodes the cleaned, slash separated relative path with
// unpadded URL-safe base64, so hashes can appear in URLs and filenames
// without escaping.
type Base64Codec struct{}

func (Base64Codec) Encode(relPath string) (string, error) {
	clean, reason := cleanRelative(relPath)
	if reason != "" {
		return "", &DecodeError{Hash: relPath, Reason: reason}
	}
	return base64.RawURLEncoding.EncodeToString([]byte(clean)), nil
}

func (Base64Codec) Decode(hash string) (string, error) {
	if hash == "" {
		return "", &DecodeError{Hash: hash, Reason: "empty hash"}
	}

	raw, err := base64.RawURLEncoding.DecodeString(hash)
	if err != nil {
		return "", &DecodeError{Hash: hash, Reason: "malformed encoding", Err: err}
	}

	clean, reason := cleanRelative(string(raw))
	if reason != "" {
		return "", &DecodeError{Hash: hash, Reason: reason}
	}
	return clean, nil
}

// cleanRelative normalizes p and returns a non-empty reason when it cannot
// be used as a location below the storage root.
func cleanRelative(p string) (string, string) {
	switch {
	case p == "":
		return "", "empty path"
	case strings.ContainsRune(p, 0):
		return "", "path contains NUL byte"
	case strings.ContainsRune(p, '\\'):
		return "", "path contains backslash"
	case strings.HasPrefix(p, "/"):
		return "", "path is absolute"
	}

	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", "path escapes storage root"
	}
	return clean, ""
}
