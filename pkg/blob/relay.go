package blob

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/relves/proofvault/pkg/types"
)

// byteArray decodes either a JSON array of byte values or a base64 string.
type byteArray []byte

func (b *byteArray) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		*b = decoded
		return nil
	}

	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// RelayRequest is the body of POST /api/blob-upload.
type RelayRequest struct {
	Blob      byteArray `json:"blob"`
	Publisher string    `json:"publisher"`
}

// RelayResponse is the success body of POST /api/blob-upload.
type RelayResponse struct {
	BlobID string `json:"blobId"`
}

// relayError is the failure body of POST /api/blob-upload.
type relayError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// StoreFactory creates a store writing to publisher.
type StoreFactory func(publisher string) (Store, error)

// RelayHandler forwards uploads from clients that cannot reach a publisher
// directly. Only configured publishers are accepted.
type RelayHandler struct {
	allowed map[string]bool
	factory StoreFactory
	logger  *slog.Logger
}

// NewRelayHandler creates a relay for the allowed publishers. A nil factory
// uses HTTPStore.
func NewRelayHandler(allowed []string, factory StoreFactory, logger *slog.Logger) *RelayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = func(publisher string) (Store, error) {
			return NewHTTPStore(HTTPConfig{Publisher: publisher, Logger: logger})
		}
	}
	set := make(map[string]bool, len(allowed))
	for _, p := range allowed {
		set[strings.TrimRight(p, "/")] = true
	}
	return &RelayHandler{allowed: set, factory: factory, logger: logger}
}

// ServeHTTP handles POST /api/blob-upload.
func (h *RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, relayError{Error: "method not allowed"})
		return
	}

	var req RelayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4*maxBlobSize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, relayError{Error: "Invalid JSON body", Details: err.Error()})
		return
	}
	if len(req.Blob) == 0 || req.Publisher == "" {
		writeJSON(w, http.StatusBadRequest, relayError{Error: "Missing data"})
		return
	}

	publisher := strings.TrimRight(req.Publisher, "/")
	if !h.allowed[publisher] {
		writeJSON(w, http.StatusBadRequest, relayError{Error: "publisher not allowed"})
		return
	}

	store, err := h.factory(publisher)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, relayError{Error: "Upload failed", Details: err.Error()})
		return
	}

	id, err := store.Upload(r.Context(), req.Blob)
	if err != nil {
		h.logger.Error("relay upload failed", "publisher", publisher, "size", len(req.Blob), "error", err)
		details := ""
		var terr *types.Error
		if errors.As(err, &terr) && terr.Err != nil {
			details = terr.Err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, relayError{Error: err.Error(), Details: details})
		return
	}

	h.logger.Info("relayed blob upload", "publisher", publisher, "blob", id, "size", len(req.Blob))
	writeJSON(w, http.StatusOK, RelayResponse{BlobID: id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
