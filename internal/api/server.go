// Package api is the daemon's HTTP surface: loopback-only, bearer
// authenticated, rate limited at the edge.
package api

import (
	"github.com/gorilla/mux"

	"github.com/agentify/agentifyd/internal/ratelimit"
)

// SetupRoutes builds the router. /health skips auth so process
// supervisors can probe liveness without the token.
func (h *Handler) SetupRoutes(limiter *ratelimit.Limiter, perMinute int) *mux.Router {
	r := mux.NewRouter()
	r.Use(LoopbackOnly, CORS)

	r.HandleFunc("/health", h.Health).Methods("GET", "OPTIONS")

	authed := r.PathPrefix("/").Subrouter()
	authed.Use(BearerAuth(h.token), RateLimit(limiter, perMinute))

	authed.HandleFunc("/status", h.Status).Methods("GET")
	authed.HandleFunc("/show", h.Show).Methods("POST")
	authed.HandleFunc("/hide", h.Hide).Methods("POST")

	authed.HandleFunc("/tabs", h.ListTabs).Methods("GET")
	authed.HandleFunc("/tabs/create", h.CreateTab).Methods("POST")
	authed.HandleFunc("/tabs/close", h.CloseTab).Methods("POST")

	authed.HandleFunc("/navigate", h.Navigate).Methods("POST")
	authed.HandleFunc("/ensure-ready", h.EnsureReady).Methods("POST")
	authed.HandleFunc("/query", h.Query).Methods("POST")
	authed.HandleFunc("/send", h.Send).Methods("POST")
	authed.HandleFunc("/stop", h.Stop).Methods("POST")
	authed.HandleFunc("/read-page", h.ReadPage).Methods("POST")
	authed.HandleFunc("/download-images", h.DownloadImages).Methods("POST")

	authed.HandleFunc("/config", h.GetConfig).Methods("GET")
	authed.HandleFunc("/config", h.SetConfig).Methods("POST")

	authed.HandleFunc("/profiles", h.ListProfiles).Methods("GET")
	authed.HandleFunc("/profiles/{name}/export", h.ExportProfile).Methods("POST")
	authed.HandleFunc("/profiles/{name}/import", h.ImportProfile).Methods("POST")
	authed.HandleFunc("/profiles/{name}", h.DeleteProfile).Methods("DELETE")

	authed.HandleFunc("/rotate-token", h.RotateToken).Methods("POST")
	authed.HandleFunc("/shutdown", h.Shutdown).Methods("POST")

	authed.HandleFunc("/events", h.Events).Methods("GET")

	return r
}
