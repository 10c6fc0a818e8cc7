package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mkarpov/foliosync/internal/middleware"
	"github.com/mkarpov/foliosync/internal/models"
	"github.com/mkarpov/foliosync/internal/reconciler"
)

// SyncHandler handles synchronization requests
type SyncHandler struct {
	rec *reconciler.Reconciler
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(rec *reconciler.Reconciler) *SyncHandler {
	return &SyncHandler{rec: rec}
}

// RegisterRoutes registers sync routes on an authenticated subrouter.
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sync/upload", sh.Upload).Methods("POST")
	r.HandleFunc("/sync/download", sh.Download).Methods("GET")
	r.HandleFunc("/sync/status", sh.Status).Methods("GET")
	r.HandleFunc("/sync/batch", sh.Batch).Methods("POST")
}

// Upload merges a client's pending changes and snapshot into the user's
// document and returns the post-merge server view. Conflicts come back with
// success=false and requiresResolution=true, not as an HTTP error.
func (sh *SyncHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	var req models.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	resp, err := sh.rec.Merge(r.Context(), userID, req)
	if err != nil {
		var valErr *reconciler.ValidationError
		if errors.As(err, &valErr) {
			respondError(w, http.StatusBadRequest, valErr.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Download returns the user's current server snapshot.
func (sh *SyncHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	resp, err := sh.rec.Snapshot(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Status returns the last sync time and per-collection counts.
func (sh *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	status, err := sh.rec.Status(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Batch imports holdings wholesale, replacing or merging per the replaceAll
// flag.
func (sh *SyncHandler) Batch(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	var req models.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	resp, err := sh.rec.ApplyBatch(r.Context(), userID, req)
	if err != nil {
		var valErr *reconciler.ValidationError
		if errors.As(err, &valErr) {
			respondError(w, http.StatusBadRequest, valErr.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
