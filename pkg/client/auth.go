// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/apache/arrow/go/v12/arrow/flight"
)

// tokenAuthHandler implements the Flight handshake for shared bearer-token
// auth: the token is sent as the handshake payload and echoed back by the
// server as the session identity.
type tokenAuthHandler struct {
	token    string
	identity string
}

func (h *tokenAuthHandler) Authenticate(ctx context.Context, conn flight.AuthConn) error {
	if err := conn.Send([]byte(h.token)); err != nil {
		return err
	}
	identity, err := conn.Read()
	if err != nil {
		return err
	}
	h.identity = string(identity)
	return nil
}

func (h *tokenAuthHandler) GetToken(ctx context.Context) (string, error) {
	return h.identity, nil
}
