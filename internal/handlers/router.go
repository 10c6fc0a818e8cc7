package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mkarpov/foliosync/internal/buildinfo"
	"github.com/mkarpov/foliosync/internal/config"
	"github.com/mkarpov/foliosync/internal/database"
	"github.com/mkarpov/foliosync/internal/middleware"
	"github.com/mkarpov/foliosync/internal/reconciler"
	ws "github.com/mkarpov/foliosync/internal/websocket"
)

// Router wraps the mux router with its collaborators.
type Router struct {
	*mux.Router
	db  *database.DB
	cfg *config.Config
}

// NewRouter creates the HTTP router with all routes. db may be nil when the
// server runs on the in-memory store.
func NewRouter(db *database.DB, cfg *config.Config, rec *reconciler.Reconciler, hub *ws.Hub) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		db:     db,
		cfg:    cfg,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/auth").Subrouter()
	authHandler := NewAuthHandler(db, cfg)
	authHandler.RegisterRoutes(auth)

	// Sync routes (protected)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(cfg.JWTSecret))
	syncHandler := NewSyncHandler(rec)
	syncHandler.RegisterRoutes(api)

	// Device notification channel (protected)
	wsRoute := r.PathPrefix("/ws").Subrouter()
	wsRoute.Use(middleware.Auth(cfg.JWTSecret))
	wsRoute.HandleFunc("", func(w http.ResponseWriter, req *http.Request) {
		userID, ok := middleware.UserID(req)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Missing user identity")
			return
		}
		ws.ServeWS(hub, userID, w, req)
	}).Methods("GET")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"store":     r.cfg.StoreMode,
		"buildTime": buildinfo.BuildTime,
		"startTime": buildinfo.StartTime,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
