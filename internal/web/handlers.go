package web

import "net/http"

// handleHealth reports liveness. It does not touch the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleIngestStatus returns the current state of the batch limiter.
// Used for monitoring and to check if the system can accept more uploads.
func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Limiter().Status())
}
