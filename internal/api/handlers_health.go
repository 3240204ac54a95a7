package api

import "net/http"

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"storage":             s.cfg.StorageName,
		"password_configured": s.cfg.PasswordHash != "",
	})
}
