package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relves/proofvault/pkg/types"
)

// Inference is the output of the analysis model with its attestation.
type Inference struct {
	Output      string `json:"output"`
	Attestation string `json:"proof"`
}

// Inferer runs the analysis model over a plaintext document.
type Inferer interface {
	Infer(ctx context.Context, document []byte) (*Inference, error)
}

// InferFunc adapts a function to Inferer.
type InferFunc func(ctx context.Context, document []byte) (*Inference, error)

func (f InferFunc) Infer(ctx context.Context, document []byte) (*Inference, error) {
	return f(ctx, document)
}

// HTTPInferer posts documents to an inference endpoint.
type HTTPInferer struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPInferer creates an inferer for endpoint. A nil httpClient uses one
// with a two minute timeout.
func NewHTTPInferer(endpoint string, httpClient *http.Client) (*HTTPInferer, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("inference endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPInferer{endpoint: endpoint, httpClient: httpClient}, nil
}

type inferRequest struct {
	Input string `json:"input"`
}

func (h *HTTPInferer) Infer(ctx context.Context, document []byte) (*Inference, error) {
	const op = "infer"
	body, err := json.Marshal(inferRequest{Input: string(document)})
	if err != nil {
		return nil, fmt.Errorf("encode inference request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.CodeNetwork, op, "post document", err).With("endpoint", h.endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, types.NewError(types.CodeNetwork, op, "read response", err).With("endpoint", h.endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		e := types.Errorf(types.CodeNetwork, op, "inference endpoint returned status %d", resp.StatusCode).
			With("endpoint", h.endpoint)
		e.Status = resp.StatusCode
		e.Body = strings.TrimSpace(string(respBody))
		return nil, e
	}

	var out Inference
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, types.NewError(types.CodeNetwork, op, "decode response", err).With("endpoint", h.endpoint)
	}
	if out.Attestation == "" {
		return nil, types.Errorf(types.CodeValidation, op, "response carries no attestation").With("endpoint", h.endpoint)
	}
	return &out, nil
}
