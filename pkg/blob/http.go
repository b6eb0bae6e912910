package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relves/proofvault/pkg/types"
)

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 4 << 10

// HTTPConfig configures an HTTPStore.
type HTTPConfig struct {
	// Publisher is the write endpoint base URL.
	Publisher string

	// Readers are the interchangeable read endpoint base URLs, primary first.
	// At most two are used. Default: the publisher.
	Readers []string

	// Epochs is the storage duration requested on upload. Zero leaves it to
	// the publisher default.
	Epochs int

	// HTTPClient performs requests. Default: 30s timeout client.
	HTTPClient *http.Client

	// Logger for structured logging.
	// Default: slog.Default()
	Logger *slog.Logger
}

// HTTPStore talks to a publisher/aggregator blob service.
// Uploads use PUT {publisher}/v1/blobs and reads GET {reader}/v1/blobs/{id}.
type HTTPStore struct {
	publisher  string
	readers    []string
	epochs     int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPStore creates a store for the given endpoints.
func NewHTTPStore(cfg HTTPConfig) (*HTTPStore, error) {
	if cfg.Publisher == "" {
		return nil, fmt.Errorf("publisher URL is required")
	}
	if len(cfg.Readers) == 0 {
		cfg.Readers = []string{cfg.Publisher}
	}
	if len(cfg.Readers) > 2 {
		cfg.Readers = cfg.Readers[:2]
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	readers := make([]string, len(cfg.Readers))
	for i, r := range cfg.Readers {
		readers[i] = strings.TrimRight(r, "/")
	}

	return &HTTPStore{
		publisher:  strings.TrimRight(cfg.Publisher, "/"),
		readers:    readers,
		epochs:     cfg.Epochs,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

// storeResponse covers the response shapes a publisher may return.
type storeResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified"`
	BlobID string `json:"blobId"`
}

// blobID returns the identifier from the first shape that carries one.
func (r storeResponse) blobID() string {
	if r.NewlyCreated != nil && r.NewlyCreated.BlobObject.BlobID != "" {
		return r.NewlyCreated.BlobObject.BlobID
	}
	if r.AlreadyCertified != nil && r.AlreadyCertified.BlobID != "" {
		return r.AlreadyCertified.BlobID
	}
	return r.BlobID
}

// Upload stores data through the publisher.
func (s *HTTPStore) Upload(ctx context.Context, data []byte) (string, error) {
	endpoint := s.publisher + "/v1/blobs"
	if s.epochs > 0 {
		endpoint += "?" + url.Values{"epochs": {fmt.Sprint(s.epochs)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", types.NewError(types.CodeUpload, "upload", "failed to create request", err).
			With("endpoint", s.publisher)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", types.NewError(types.CodeUpload, "upload", "publisher request failed", err).
			With("endpoint", s.publisher)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		uerr := types.Errorf(types.CodeUpload, "upload", "publisher rejected blob").With("endpoint", s.publisher)
		uerr.Status = resp.StatusCode
		uerr.Body = string(body)
		return "", uerr
	}

	var result storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", types.NewError(types.CodeUpload, "upload", "failed to decode publisher response", err).
			With("endpoint", s.publisher)
	}

	id := result.blobID()
	if id == "" {
		return "", types.Errorf(types.CodeUpload, "upload", "publisher response carries no blob id").
			With("endpoint", s.publisher)
	}

	s.logger.Debug("uploaded blob", "blob", id, "size", len(data))
	return id, nil
}

// Fetch reads id from the primary reader and, on failure, once from the
// secondary.
func (s *HTTPStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var lastErr error
	for i, endpoint := range s.readers {
		data, err := s.fetchFrom(ctx, endpoint, id)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(s.readers) {
			s.logger.Warn("blob read failed, trying fallback endpoint",
				"blob", id, "endpoint", endpoint, "fallback", s.readers[i+1], "error", err)
		}
	}
	return nil, lastErr
}

func (s *HTTPStore) fetchFrom(ctx context.Context, endpoint, id string) ([]byte, error) {
	u := endpoint + "/v1/blobs/" + url.PathEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, types.NewError(types.CodeFetch, "fetch", "failed to create request", err).
			With("blob", id).With("endpoint", endpoint)
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.CodeFetch, "fetch", "read request failed", err).
			With("blob", id).With("endpoint", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		ferr := types.Errorf(types.CodeFetch, "fetch", "read endpoint returned an error").
			With("blob", id).With("endpoint", endpoint)
		ferr.Status = resp.StatusCode
		ferr.Body = string(body)
		return nil, ferr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.CodeFetch, "fetch", "failed to read response", err).
			With("blob", id).With("endpoint", endpoint)
	}
	return data, nil
}

// IsNotFound reports whether err is a fetch that ended in a 404.
func IsNotFound(err error) bool {
	var e *types.Error
	return errors.As(err, &e) && e.Code == types.CodeFetch && e.Status == http.StatusNotFound
}

var _ Store = (*HTTPStore)(nil)
