package core

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"filestore/internal/storage"
)

// Stored files never change once written, so clients may cache them
// forever.
const immutableCacheControl = "public, max-age=31536000, immutable"

// Server exposes the permanent storage tree over HTTP. The temp area is
// never reachable.
type Server struct {
	service *Service
}

func NewServer(service *Service) *Server {
	return &Server{service: service}
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request, relPath string) {
	info, err := s.service.Describe(relPath)
	if err != nil {
		var decodeErr *storage.DecodeError
		if errors.As(err, &decodeErr) {
			http.NotFound(w, r)
			return
		}
		slog.Error("Failed to resolve file", "path", relPath, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !info.Exists {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(info.AbsolutePath)
	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("Failed to open file", "hash", info.Hash, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || !stat.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("ETag", `"`+info.Hash+`"`)
	w.Header().Set("Cache-Control", immutableCacheControl)
	http.ServeContent(w, r, info.FileName, stat.ModTime(), f)
}
