package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"wagateway/core/config"
)

func TestBridgeSendText(t *testing.T) {
	var got bridgeSend
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewBridge(config.BridgeConfig{URL: srv.URL})
	err := b.SendText(context.Background(), "5511999000111", "hello there")
	require.NoError(t, err)
	require.Equal(t, "5511999000111", got.To)
	require.Equal(t, "hello there", got.Text)
}

func TestBridgeSendTextErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not connected", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewBridge(config.BridgeConfig{URL: srv.URL})
	err := b.SendText(context.Background(), "5511999000111", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}
