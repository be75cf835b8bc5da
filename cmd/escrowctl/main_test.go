package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func useTempState(t *testing.T) {
	dir := t.TempDir()
	prevDir, prevPath := escrowDataDir, statePath
	escrowDataDir = dir
	statePath = filepath.Join(dir, "state.json")
	t.Cleanup(func() {
		escrowDataDir, statePath = prevDir, prevPath
	})
}

func TestState(t *testing.T) {
	useTempState(t)

	_, err := getState()
	require.Error(t, err)

	require.NoError(t, setState(map[string]string{"rpcserver": "localhost:9080"}))
	require.NoError(t, setState(map[string]string{"node": "bob"}))

	state, err := getState()
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"rpcserver": "localhost:9080",
		"node":      "bob",
	}, state)
}

func TestClient(t *testing.T) {
	useTempState(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/bob/v1/trades/trade-1/payment-sent":
			require.Equal(t, http.MethodPost, r.Method)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "trade-1"})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "trade not found"})
		}
	}))
	defer server.Close()

	_, err := getClient()
	require.Error(t, err)

	require.NoError(t, setState(map[string]string{"rpcserver": server.URL}))
	_, err = getClient()
	require.Error(t, err)

	require.NoError(t, setState(map[string]string{"node": "bob"}))
	c, err := getClient()
	require.NoError(t, err)

	resp, err := c.do(http.MethodPost, "/trades/trade-1/payment-sent", nil)
	require.NoError(t, err)
	require.Contains(t, string(resp), "trade-1")

	_, err = c.do(http.MethodGet, "/trades/missing", nil)
	require.EqualError(t, err, "trade not found (404)")
}
