// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"plain", "json", "console", ""} {
		logger, err := Setup("test", "debug", format)
		require.NoError(t, err, "format %q", format)
		require.NotNil(t, logger)
	}

	_, err := Setup("test", "not-a-level", "plain")
	require.Error(t, err)

	_, err = Setup("test", "info", "xml")
	require.Error(t, err)
}
