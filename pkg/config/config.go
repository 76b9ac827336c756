// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads component settings from FASTFLIGHT_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv seeds the environment from a .env file. A missing file is not
// an error; already-set variables win over file values.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Logging configures the process logger.
type Logging struct {
	Level  string
	Format string // "plain" or "json"
}

func LoggingFromEnv() Logging {
	return Logging{
		Level:  envString("FASTFLIGHT_LOGGING_LEVEL", "info"),
		Format: envString("FASTFLIGHT_LOGGING_FORMAT", "plain"),
	}
}

// FlightServer configures the columnar streaming server.
type FlightServer struct {
	Host      string
	Port      int
	LogLevel  string
	AuthToken string
	TLSCert   string
	TLSKey    string
}

func FlightServerFromEnv() (FlightServer, error) {
	port, err := envInt("FASTFLIGHT_SERVER_PORT", 8815)
	if err != nil {
		return FlightServer{}, err
	}
	return FlightServer{
		Host:      envString("FASTFLIGHT_SERVER_HOST", "0.0.0.0"),
		Port:      port,
		LogLevel:  envString("FASTFLIGHT_SERVER_LOG_LEVEL", "info"),
		AuthToken: envString("FASTFLIGHT_SERVER_AUTH_TOKEN", ""),
		TLSCert:   envString("FASTFLIGHT_SERVER_TLS_CERT_PATH", ""),
		TLSKey:    envString("FASTFLIGHT_SERVER_TLS_KEY_PATH", ""),
	}, nil
}

// Addr is the host:port the server binds.
func (c FlightServer) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Location is the client-facing URI for this server.
func (c FlightServer) Location() string {
	scheme := "grpc"
	if c.TLSCert != "" && c.TLSKey != "" {
		scheme = "grpc+tls"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Gateway configures the HTTP re-exposure of the Flight streams.
type Gateway struct {
	Host           string
	Port           int
	RoutePrefix    string
	ValidAPIKeys   []string
	TLSCert        string
	TLSKey         string
	MetricsEnabled bool
	FlightLocation string
}

func GatewayFromEnv() (Gateway, error) {
	port, err := envInt("FASTFLIGHT_API_PORT", 8000)
	if err != nil {
		return Gateway{}, err
	}
	metrics, err := envBool("FASTFLIGHT_API_METRICS_ENABLED", true)
	if err != nil {
		return Gateway{}, err
	}
	return Gateway{
		Host:           envString("FASTFLIGHT_API_HOST", "0.0.0.0"),
		Port:           port,
		RoutePrefix:    envString("FASTFLIGHT_API_ROUTE_PREFIX", "/fastflight"),
		ValidAPIKeys:   envList("FASTFLIGHT_API_VALID_API_KEYS"),
		TLSCert:        envString("FASTFLIGHT_API_TLS_CERT_PATH", ""),
		TLSKey:         envString("FASTFLIGHT_API_TLS_KEY_PATH", ""),
		MetricsEnabled: metrics,
		FlightLocation: envString("FASTFLIGHT_API_FLIGHT_LOCATION", "grpc://localhost:8815"),
	}, nil
}

func (c Gateway) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Client configures the resilient client pool.
type Client struct {
	PoolSize int
	// Preset selects a resilience profile: default, high_availability, batch.
	Preset string
}

func ClientFromEnv() (Client, error) {
	size, err := envInt("FASTFLIGHT_CLIENT_POOL_SIZE", 10)
	if err != nil {
		return Client{}, err
	}
	return Client{
		PoolSize: size,
		Preset:   envString("FASTFLIGHT_CLIENT_RESILIENCE_PRESET", "default"),
	}, nil
}

// Partition configures the time-series dispatch layer.
type Partition struct {
	Enabled        bool
	MaxWorkers     int
	ClusterAddress string
}

func PartitionFromEnv() (Partition, error) {
	enabled, err := envBool("FASTFLIGHT_PARTITION_ENABLED", true)
	if err != nil {
		return Partition{}, err
	}
	workers, err := envInt("FASTFLIGHT_PARTITION_MAX_WORKERS", 8)
	if err != nil {
		return Partition{}, err
	}
	return Partition{
		Enabled:        enabled,
		MaxWorkers:     workers,
		ClusterAddress: envString("FASTFLIGHT_PARTITION_CLUSTER_ADDRESS", ""),
	}, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

// envList splits a comma-separated value, dropping empty elements.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
