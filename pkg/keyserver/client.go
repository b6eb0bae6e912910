package keyserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relves/proofvault/pkg/capabilities"
	"github.com/relves/proofvault/pkg/seal"
	"github.com/relves/proofvault/pkg/types"
)

// Client is a seal.KeyServer reached over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	info       seal.KeyServerInfo
}

// Dial fetches the service description of the key server at baseURL.
func Dial(ctx context.Context, baseURL string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/service", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.CodeNetwork, "dial key server", "request failed", err).With("endpoint", c.baseURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e := types.Errorf(types.CodeNetwork, "dial key server", "unexpected status").With("endpoint", c.baseURL)
		e.Status, e.Body = resp.StatusCode, string(body)
		return nil, e
	}
	if err := json.NewDecoder(resp.Body).Decode(&c.info); err != nil {
		return nil, fmt.Errorf("decode service info: %w", err)
	}
	if c.info.URL == "" {
		c.info.URL = c.baseURL
	}
	return c, nil
}

// Info returns the description fetched by Dial.
func (c *Client) Info() seal.KeyServerInfo {
	return c.info
}

// FetchKey posts req to the key server.
func (c *Client) FetchKey(ctx context.Context, fk *seal.FetchKeyRequest) (*seal.FetchKeyResponse, error) {
	body, err := json.Marshal(fk)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/fetch_key", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.CodeNetwork, "fetch key", "request failed", err).With("endpoint", c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &er) == nil && er.Name != "" && er.Name != capabilities.FailureInternal {
			return nil, &seal.KeyServerError{Server: c.info.ObjectID, Name: er.Name, Message: er.Message}
		}
		e := types.Errorf(types.CodeNetwork, "fetch key", "unexpected status").With("endpoint", c.baseURL)
		e.Status, e.Body = resp.StatusCode, string(raw)
		return nil, e
	}

	var out seal.FetchKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
