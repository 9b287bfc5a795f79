package core

import (
	"net/http"
)

// Handler returns an http.Handler serving stored files at their public
// URL paths.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{path...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleFileGet(w, r, r.PathValue("path"))
	})
	mux.HandleFunc("HEAD /{path...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleFileGet(w, r, r.PathValue("path"))
	})

	// Add middleware
	handler := SlashFix(mux)
	handler = LogRequest(handler)
	handler = Recoverer(handler)
	return handler
}
