package blob

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// maxBlobSize bounds uploads accepted by Handler.
const maxBlobSize = 64 << 20

// LocalStore is a content-addressed store that can answer membership.
type LocalStore interface {
	Store
	Has(ctx context.Context, id string) (bool, error)
}

// Handler serves the publisher and aggregator HTTP API over a local store,
// for development networks and tests.
type Handler struct {
	store  LocalStore
	logger *slog.Logger
}

// NewHandler creates a handler backed by store.
func NewHandler(store LocalStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Register mounts the blob routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /v1/blobs", h.HandlePut)
	mux.HandleFunc("GET /v1/blobs/{blobID}", h.HandleGet)
}

// HandlePut handles PUT /v1/blobs.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBlobSize+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(data) > maxBlobSize {
		http.Error(w, "blob too large", http.StatusRequestEntityTooLarge)
		return
	}

	ctx := r.Context()
	id, err := ComputeID(data)
	if err != nil {
		http.Error(w, "failed to compute blob id", http.StatusInternalServerError)
		return
	}

	exists, err := h.store.Has(ctx, id)
	if err != nil {
		h.logger.Error("failed to check blob", "blob", id, "error", err)
		http.Error(w, "failed to check blob", http.StatusInternalServerError)
		return
	}

	var resp any
	if exists {
		resp = map[string]any{
			"alreadyCertified": map[string]any{"blobId": id},
		}
	} else {
		if _, err := h.store.Upload(ctx, data); err != nil {
			h.logger.Error("failed to store blob", "blob", id, "error", err)
			http.Error(w, "failed to store blob", http.StatusInternalServerError)
			return
		}
		resp = map[string]any{
			"newlyCreated": map[string]any{
				"blobObject": map[string]any{"blobId": id, "size": len(data)},
			},
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleGet handles GET /v1/blobs/{blobID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("blobID")
	if err := ValidateID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	exists, err := h.store.Has(ctx, id)
	if err != nil {
		h.logger.Error("failed to check blob", "blob", id, "error", err)
		http.Error(w, "failed to check blob", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "blob not found", http.StatusNotFound)
		return
	}

	data, err := h.store.Fetch(ctx, id)
	if err != nil {
		h.logger.Error("failed to read blob", "blob", id, "error", err)
		http.Error(w, "failed to read blob", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}
