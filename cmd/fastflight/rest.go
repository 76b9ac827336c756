// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fastflight/fastflight-go/pkg/client"
	"github.com/fastflight/fastflight-go/pkg/config"
	"github.com/fastflight/fastflight-go/pkg/gateway"
	"github.com/fastflight/fastflight-go/pkg/logging"
	"github.com/fastflight/fastflight-go/pkg/resilience"
	"github.com/fastflight/fastflight-go/pkg/services/demo"
)

func newRestServerCmd() *cobra.Command {
	var host string
	var port int
	var flightLocation string
	var prefix string

	cmd := &cobra.Command{
		Use:   "start-rest-server",
		Short: "Start the HTTP gateway in front of a Flight server",
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.GatewayFromEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("flight-location") {
				cfg.FlightLocation = flightLocation
			}
			if cmd.Flags().Changed("prefix") {
				cfg.RoutePrefix = prefix
			}
			return runRestServer(cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "bind host")
	cmd.Flags().IntVar(&port, "port", 8000, "bind port")
	cmd.Flags().StringVar(&flightLocation, "flight-location", "grpc://localhost:8815", "Flight server to forward to")
	cmd.Flags().StringVar(&prefix, "prefix", "/fastflight", "route prefix")
	return cmd
}

func runRestServer(cfg config.Gateway) error {
	logCfg := config.LoggingFromEnv()
	logger, err := logging.Setup("rest-gateway", logCfg.Level, logCfg.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	clientCfg, err := config.ClientFromEnv()
	if err != nil {
		return err
	}
	bouncer, err := client.NewBouncer(cfg.FlightLocation,
		client.WithPoolSize(clientCfg.PoolSize),
		client.WithResilience(resilience.PresetConfig(clientCfg.Preset)),
		client.WithRegisteredTypes(demo.Describe()),
		client.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() { _ = bouncer.Close() }()

	g := gateway.New(cfg, bouncer, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		logger.Info("signal received", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
	}()

	return g.Start()
}
