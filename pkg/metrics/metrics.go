// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics declares the Prometheus collectors shared by the Flight
// server, the client pool, and the resilience layer. All collectors register
// against the default registry so the gateway's /metrics endpoint exposes
// everything in one scrape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ServerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_server_requests_total",
		Help: "Total number of requests to the Flight server.",
	}, []string{"method", "status"})

	ServerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flight_server_request_duration_seconds",
		Help:    "Histogram of Flight server request latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	ServerActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flight_server_active_connections",
		Help: "Number of currently active requests on the Flight server.",
	})

	ServerBytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_server_bytes_transferred",
		Help: "Total number of bytes transferred by the Flight server.",
	}, []string{"method", "direction"})

	PoolAcquiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bouncer_connections_acquired_total",
		Help: "Total number of connections acquired from the bouncer pool.",
	})

	PoolReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bouncer_connections_released_total",
		Help: "Total number of connections released back to the bouncer pool.",
	})

	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bouncer_pool_size",
		Help: "Configured size of the bouncer connection pool.",
	})

	PoolAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bouncer_pool_available_connections",
		Help: "Current number of available connections in the bouncer pool.",
	})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bouncer_circuit_breaker_state",
		Help: "State of the circuit breaker: 0 closed, 1 open, 2 half-open.",
	}, []string{"circuit_name"})

	BreakerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bouncer_circuit_breaker_failures_total",
		Help: "Total number of failures tracked by the circuit breaker.",
	}, []string{"circuit_name"})

	BreakerSuccessesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bouncer_circuit_breaker_successes_total",
		Help: "Total number of successes tracked by the circuit breaker.",
	}, []string{"circuit_name"})
)
