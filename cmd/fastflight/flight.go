// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fastflight/fastflight-go/pkg/config"
	"github.com/fastflight/fastflight-go/pkg/core"
	"github.com/fastflight/fastflight-go/pkg/logging"
	"github.com/fastflight/fastflight-go/pkg/server"
	"github.com/fastflight/fastflight-go/pkg/services/demo"
)

func newFlightServerCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "start-flight-server",
		Short: "Start the Arrow Flight data server",
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.FlightServerFromEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			return runFlightServer(cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "bind host")
	cmd.Flags().IntVar(&port, "port", 8815, "bind port")
	return cmd
}

func runFlightServer(cfg config.FlightServer) error {
	logger, err := logging.Setup("flight-server", cfg.LogLevel, config.LoggingFromEnv().Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := demo.Register(core.DefaultRegistry()); err != nil {
		return err
	}

	partCfg, err := config.PartitionFromEnv()
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithPartitioning(server.PartitionConfig{
			Enabled:        partCfg.Enabled,
			MaxWorkers:     partCfg.MaxWorkers,
			PreserveOrder:  true,
			ClusterAddress: partCfg.ClusterAddress,
		}),
	}
	if cfg.AuthToken != "" {
		opts = append(opts, server.WithAuthTokens(cfg.AuthToken))
	}
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		opts = append(opts, server.WithTLS(cfg.TLSCert, cfg.TLSKey))
	}

	s := server.New(opts...)
	if err := s.Init(cfg.Addr()); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		logger.Info("signal received", zap.String("signal", sig.String()))
		s.Shutdown()
	}()

	logger.Info("starting flight server", zap.String("location", cfg.Location()))
	return s.Serve()
}
