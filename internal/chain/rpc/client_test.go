package rpc

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/market-indexer/internal/metrics"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(srv.URL, logger)
}

func TestClient_BlockNumber(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	})
	okBefore := testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues("eth_blockNumber", "ok"))

	head, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(16), head)

	okAfter := testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues("eth_blockNumber", "ok"))
	assert.Equal(t, 1.0, okAfter-okBefore)
}

func TestClient_RPCErrorCountsAsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"rate limited"}}`))
	})
	errBefore := testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues("eth_blockNumber", "error"))

	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)

	errAfter := testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues("eth_blockNumber", "error"))
	assert.Equal(t, 1.0, errAfter-errBefore)
}

func TestClient_HTTPStatusErrorSurfaces(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http status 502")
}
