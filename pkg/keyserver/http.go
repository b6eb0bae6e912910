package keyserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/relves/proofvault/pkg/capabilities"
	"github.com/relves/proofvault/pkg/seal"
)

const maxRequestSize = 1 << 20

// HTTPHandler exposes a key server over HTTP.
type HTTPHandler struct {
	server seal.KeyServer
	logger *slog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(server seal.KeyServer, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{server: server, logger: logger}
}

// Register mounts the key-server routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/service", h.HandleService)
	mux.HandleFunc("POST /v1/fetch_key", h.HandleFetchKey)
}

// ErrorResponse is the body of a refused request.
type ErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// HandleService handles GET /v1/service.
func (h *HTTPHandler) HandleService(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.server.Info())
}

// HandleFetchKey handles POST /v1/fetch_key.
func (h *HTTPHandler) HandleFetchKey(w http.ResponseWriter, r *http.Request) {
	var req seal.FetchKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Name:    capabilities.FailureInvalidRequest,
			Message: "invalid JSON: " + err.Error(),
		})
		return
	}

	resp, err := h.server.FetchKey(r.Context(), &req)
	if err != nil {
		var kse *seal.KeyServerError
		if errors.As(err, &kse) {
			writeJSON(w, statusFor(kse.Name), ErrorResponse{Name: kse.Name, Message: kse.Message})
			return
		}
		h.logger.Error("fetch key failed", "request_id", req.RequestID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Name:    capabilities.FailureInternal,
			Message: "internal error",
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(name string) int {
	switch name {
	case capabilities.FailureNoAccess:
		return http.StatusForbidden
	case capabilities.FailureInvalidCertificate, capabilities.FailureSessionExpired, capabilities.FailureInvalidDelegation:
		return http.StatusUnauthorized
	case capabilities.FailureInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
