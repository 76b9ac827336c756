// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fastflight/fastflight-go/pkg/config"
	"github.com/fastflight/fastflight-go/pkg/ferror"
)

type fakeClient struct {
	body  []byte
	err   error
	types map[string]string

	gotTicket []byte
}

func (c *fakeClient) GetByteStream(ctx context.Context, req any) (io.ReadCloser, error) {
	c.gotTicket = req.([]byte)
	if c.err != nil {
		return nil, c.err
	}
	return io.NopCloser(bytes.NewReader(c.body)), nil
}

func (c *fakeClient) RegisteredDataTypes() map[string]string { return c.types }

func newTestGateway(client StreamClient, keys ...string) *Gateway {
	cfg := config.Gateway{
		Host:         "127.0.0.1",
		Port:         0,
		RoutePrefix:  "/fastflight",
		ValidAPIKeys: keys,
	}
	return New(cfg, client, zap.NewNop())
}

func TestStreamForwardsBytes(t *testing.T) {
	t.Parallel()

	client := &fakeClient{body: []byte("arrow-ipc-bytes")}
	g := newTestGateway(client)

	req := httptest.NewRequest(http.MethodPost, "/fastflight/stream", strings.NewReader(`{"param_type":"x"}`))
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, arrowStreamContentType, rec.Header().Get("Content-Type"))
	require.Equal(t, "arrow-ipc-bytes", rec.Body.String())
	require.JSONEq(t, `{"param_type":"x"}`, string(client.gotTicket))
}

func TestStreamEmptyBody(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&fakeClient{})
	req := httptest.NewRequest(http.MethodPost, "/fastflight/stream", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "BadTicket")
}

func TestStreamErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind ferror.Kind
		want int
	}{
		{ferror.BadTicket, http.StatusBadRequest},
		{ferror.InvalidParam, http.StatusBadRequest},
		{ferror.UnknownParamType, http.StatusNotFound},
		{ferror.Unavailable, http.StatusNotFound},
		{ferror.Timeout, http.StatusGatewayTimeout},
		{ferror.ResourceExhausted, http.StatusServiceUnavailable},
		{ferror.CircuitOpen, http.StatusServiceUnavailable},
		{ferror.Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		g := newTestGateway(&fakeClient{err: ferror.New(tc.kind, "boom")})
		req := httptest.NewRequest(http.MethodPost, "/fastflight/stream", strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		g.Router().ServeHTTP(rec, req)
		require.Equal(t, tc.want, rec.Code, "kind %s", tc.kind)
		require.Contains(t, rec.Body.String(), string(tc.kind))
	}
}

func TestTypesEndpoint(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&fakeClient{types: map[string]string{"demo.Sample": "sample service"}})
	req := httptest.NewRequest(http.MethodGet, "/fastflight/types", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"demo.Sample":"sample service"}`, rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&fakeClient{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointToggle(t *testing.T) {
	t.Parallel()

	cfg := config.Gateway{Host: "127.0.0.1", RoutePrefix: "/fastflight", MetricsEnabled: true}
	g := New(cfg, &fakeClient{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	cfg.MetricsEnabled = false
	g = New(cfg, &fakeClient{}, zap.NewNop())
	rec = httptest.NewRecorder()
	g.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&fakeClient{body: []byte("ok")}, "alpha", "beta")

	// Missing key.
	req := httptest.NewRequest(http.MethodPost, "/fastflight/stream", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong key.
	req = httptest.NewRequest(http.MethodPost, "/fastflight/stream", strings.NewReader("{}"))
	req.Header.Set("X-API-Key", "gamma")
	rec = httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Valid key.
	req = httptest.NewRequest(http.MethodPost, "/fastflight/stream", strings.NewReader("{}"))
	req.Header.Set("X-API-Key", "beta")
	rec = httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health stays open regardless of keys.
	rec = httptest.NewRecorder()
	g.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuthDisabledWhenUnconfigured(t *testing.T) {
	t.Parallel()

	g := newTestGateway(&fakeClient{body: []byte("ok")})
	req := httptest.NewRequest(http.MethodPost, "/fastflight/stream", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
