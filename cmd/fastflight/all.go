// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// shutdownGrace bounds how long children get between SIGTERM and SIGKILL.
const shutdownGrace = 10 * time.Second

func newStartAllCmd() *cobra.Command {
	var apiHost string
	var apiPort int
	var flightHost string
	var flightPort int
	var prefix string

	cmd := &cobra.Command{
		Use:   "start-all",
		Short: "Start the Flight server and the HTTP gateway as supervised subprocesses",
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			self, err := os.Executable()
			if err != nil {
				return err
			}

			flightLocation := fmt.Sprintf("grpc://%s:%d", flightHost, flightPort)
			flightProc := exec.Command(self, "start-flight-server",
				"--env-file", envFile,
				"--host", flightHost,
				"--port", fmt.Sprint(flightPort),
			)
			restProc := exec.Command(self, "start-rest-server",
				"--env-file", envFile,
				"--host", apiHost,
				"--port", fmt.Sprint(apiPort),
				"--flight-location", flightLocation,
				"--prefix", prefix,
			)
			return supervise(flightProc, restProc)
		},
	}
	cmd.Flags().StringVar(&apiHost, "api-host", "0.0.0.0", "gateway bind host")
	cmd.Flags().IntVar(&apiPort, "api-port", 8000, "gateway bind port")
	cmd.Flags().StringVar(&flightHost, "flight-host", "0.0.0.0", "flight server bind host")
	cmd.Flags().IntVar(&flightPort, "flight-port", 8815, "flight server bind port")
	cmd.Flags().StringVar(&prefix, "prefix", "/fastflight", "gateway route prefix")
	return cmd
}

// supervise runs the children, forwards SIGINT/SIGTERM, and gives them a
// bounded grace period before SIGKILL. It returns when both have exited.
func supervise(procs ...*exec.Cmd) error {
	done := make(chan error, len(procs))
	for _, p := range procs {
		p.Stdout = os.Stdout
		p.Stderr = os.Stderr
		if err := p.Start(); err != nil {
			terminateAll(procs)
			return err
		}
		proc := p
		go func() { done <- proc.Wait() }()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var errs error
	exited := 0
	for exited < len(procs) {
		select {
		case sig := <-stop:
			fmt.Fprintf(os.Stderr, "signal %s received, stopping children\n", sig)
			terminateAll(procs)

			killTimer := time.AfterFunc(shutdownGrace, func() {
				for _, p := range procs {
					if p.Process != nil {
						_ = p.Process.Kill()
					}
				}
			})
			defer killTimer.Stop()
		case err := <-done:
			exited++
			errs = multierr.Append(errs, err)
			// One child dying takes the other down with it.
			if exited < len(procs) {
				terminateAll(procs)
			}
		}
	}
	return errs
}

func terminateAll(procs []*exec.Cmd) {
	for _, p := range procs {
		if p.Process != nil {
			_ = p.Process.Signal(syscall.SIGTERM)
		}
	}
}
