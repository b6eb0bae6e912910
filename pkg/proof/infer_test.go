package proof_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/proofvault/pkg/proof"
	"github.com/relves/proofvault/pkg/types"
)

func TestHTTPInferer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req struct {
			Input string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "glucose,120\nhdl,55", req.Input)
		json.NewEncoder(w).Encode(map[string]string{"output": "ok", "proof": "att"})
	}))
	defer srv.Close()

	inf, err := proof.NewHTTPInferer(srv.URL, srv.Client())
	require.NoError(t, err)
	out, err := inf.Infer(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, &proof.Inference{Output: "ok", Attestation: "att"}, out)
}

func TestHTTPInferer_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			http.Error(w, "busy", http.StatusServiceUnavailable)
		case "/unattested":
			json.NewEncoder(w).Encode(map[string]string{"output": "ok"})
		}
	}))
	defer srv.Close()

	down, err := proof.NewHTTPInferer(srv.URL+"/down", srv.Client())
	require.NoError(t, err)
	_, err = down.Infer(context.Background(), report)
	var te *types.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.CodeNetwork, te.Code)
	assert.Equal(t, http.StatusServiceUnavailable, te.Status)
	assert.Equal(t, "busy", te.Body)

	unattested, err := proof.NewHTTPInferer(srv.URL+"/unattested", srv.Client())
	require.NoError(t, err)
	_, err = unattested.Infer(context.Background(), report)
	assert.True(t, errors.Is(err, types.ErrValidation))

	_, err = proof.NewHTTPInferer(" ", nil)
	assert.Error(t, err)
}
