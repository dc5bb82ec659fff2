package api

import (
	"net/http"
	"time"
)

// ReloadHandler drops the cached catalog so the next session start fetches it
// from the CMS. Running sessions keep their snapshot.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "reload"
	const method = "POST"

	s.Catalog.Invalidate()
	s.Logger.Info("catalog cache invalidated")

	s.observe(endpoint, method, http.StatusNoContent, start)
	w.WriteHeader(http.StatusNoContent)
}
