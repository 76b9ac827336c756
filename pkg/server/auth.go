// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"crypto/subtle"

	"github.com/apache/arrow/go/v12/arrow/flight"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// tokenAuthHandler validates the shared bearer token during the Flight
// handshake and on every subsequent call. The validated token doubles as the
// peer identity.
type tokenAuthHandler struct {
	validTokens map[string]struct{}
	logger      *zap.Logger
}

func newTokenAuthHandler(tokens []string, logger *zap.Logger) *tokenAuthHandler {
	valid := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		valid[t] = struct{}{}
	}
	if len(valid) == 0 {
		logger.Warn("auth handler configured with no valid tokens; all handshakes will fail")
	}
	return &tokenAuthHandler{validTokens: valid, logger: logger}
}

func (h *tokenAuthHandler) Authenticate(conn flight.AuthConn) error {
	token, err := conn.Read()
	if err != nil {
		return status.Error(codes.Unauthenticated, "Unauthenticated: no token provided")
	}
	if !h.valid(string(token)) {
		return status.Error(codes.Unauthenticated, "Unauthenticated: invalid token")
	}
	return conn.Send(token)
}

func (h *tokenAuthHandler) IsValid(token string) (interface{}, error) {
	if !h.valid(token) {
		return nil, status.Error(codes.Unauthenticated, "Unauthenticated: token is no longer valid")
	}
	return token, nil
}

func (h *tokenAuthHandler) valid(token string) bool {
	if token == "" {
		return false
	}
	for t := range h.validTokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return true
		}
	}
	return false
}
