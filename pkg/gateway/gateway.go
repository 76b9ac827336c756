// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway re-exposes Flight streams as ordinary HTTP byte responses:
// a POST endpoint forwards raw parameter JSON through the resilient client
// and streams the Arrow IPC bytes back verbatim.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fastflight/fastflight-go/pkg/config"
	"github.com/fastflight/fastflight-go/pkg/ferror"
)

// arrowStreamContentType identifies an Arrow IPC stream response body.
const arrowStreamContentType = "application/vnd.apache.arrow.stream"

const apiKeyHeader = "X-API-Key"

// StreamClient is the slice of the resilient client the gateway needs.
type StreamClient interface {
	GetByteStream(ctx context.Context, req any) (io.ReadCloser, error)
	RegisteredDataTypes() map[string]string
}

// Gateway is the HTTP front to one Flight server.
type Gateway struct {
	cfg    config.Gateway
	client StreamClient
	logger *zap.Logger
	srv    *http.Server
}

func New(cfg config.Gateway, client StreamClient, logger *zap.Logger) *Gateway {
	g := &Gateway{cfg: cfg, client: client, logger: logger}
	g.srv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           g.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Router builds the route table; exposed for tests.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", g.handleHealth).Methods(http.MethodGet)
	if g.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix(g.cfg.RoutePrefix).Subrouter()
	api.Use(g.requireAPIKey)
	api.HandleFunc("/stream", g.handleStream).Methods(http.MethodPost)
	api.HandleFunc("/types", g.handleTypes).Methods(http.MethodGet)
	return r
}

// Start serves until Shutdown; TLS when a certificate pair is configured.
func (g *Gateway) Start() error {
	g.logger.Info("serving http gateway",
		zap.String("addr", g.cfg.Addr()),
		zap.String("prefix", g.cfg.RoutePrefix),
		zap.Bool("auth", len(g.cfg.ValidAPIKeys) > 0),
		zap.Bool("metrics", g.cfg.MetricsEnabled),
	)
	var err error
	if g.cfg.TLSCert != "" && g.cfg.TLSKey != "" {
		err = g.srv.ListenAndServeTLS(g.cfg.TLSCert, g.cfg.TLSKey)
	} else {
		err = g.srv.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("http gateway shutting down")
	return g.srv.Shutdown(ctx)
}

// requireAPIKey enforces the X-API-Key header. An empty configured key list
// disables auth entirely.
func (g *Gateway) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(g.cfg.ValidAPIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			g.writeError(w, ferror.New(ferror.Unauthenticated, "missing X-API-Key header"))
			return
		}
		for _, valid := range g.cfg.ValidAPIKeys {
			if key == valid {
				next.ServeHTTP(w, r)
				return
			}
		}
		g.writeError(w, ferror.New(ferror.Forbidden, "invalid API key"))
	})
}

// handleStream forwards the request body to the Flight server as an opaque
// ticket and streams the IPC bytes back without decoding them.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.writeError(w, ferror.Wrap(ferror.BadTicket, "reading request body", err))
		return
	}
	if len(body) == 0 {
		g.writeError(w, ferror.New(ferror.BadTicket, "empty request body"))
		return
	}

	stream, err := g.client.GetByteStream(r.Context(), body)
	if err != nil {
		g.writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", arrowStreamContentType)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 64*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				g.logger.Debug("client went away mid-stream", zap.Error(werr))
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			// Headers are already out; all we can do is cut the stream.
			g.logger.Error("stream failed mid-response", zap.Error(err))
			return
		}
	}
}

func (g *Gateway) handleTypes(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.client.RegisteredDataTypes())
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	status := ferror.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", zap.Error(err))
	} else {
		g.logger.Debug("request rejected", zap.Error(err))
	}
	g.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(ferror.KindOf(err)),
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("encoding response", zap.Error(err))
	}
}
