// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Command fastflight manages the FastFlight data plane: the Flight server,
// the HTTP gateway, or both under one supervisor.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "fastflight",
		Short:        "FastFlight columnar data-serving middleware",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("env-file", ".env", "path to a .env file with FASTFLIGHT_* settings")

	root.AddCommand(newFlightServerCmd())
	root.AddCommand(newRestServerCmd())
	root.AddCommand(newStartAllCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
