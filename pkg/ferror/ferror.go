// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package ferror defines the closed set of error kinds used across the
// FastFlight wire boundary. Native errors are converted to a Kind at every
// boundary; retry policy, circuit-breaker monitoring, and the HTTP gateway's
// status mapping all operate on kinds, never on concrete error types.
package ferror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind identifies one failure category on the wire.
type Kind string

const (
	BadTicket         Kind = "BadTicket"
	UnknownParamType  Kind = "UnknownParamType"
	InvalidParam      Kind = "InvalidParam"
	Unavailable       Kind = "Unavailable"
	Unauthenticated   Kind = "Unauthenticated"
	Forbidden         Kind = "Forbidden"
	Connection        Kind = "Connection"
	Timeout           Kind = "Timeout"
	Serialization     Kind = "Serialization"
	DataService       Kind = "DataService"
	ResourceExhausted Kind = "ResourceExhausted"
	CircuitOpen       Kind = "CircuitOpen"
	RetryExhausted    Kind = "RetryExhausted"
	Internal          Kind = "Internal"
)

// Error carries a kind, a message, an optional cause, and free-form details.
type Error struct {
	kind    Kind
	msg     string
	cause   error
	details map[string]string

	// RetryAfter is advisory, set on CircuitOpen rejections.
	RetryAfter time.Duration
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap converts err into kind, preserving the original message in the
// details field. A nil err returns nil. An err that already carries a kind
// is returned unchanged so conversion at nested boundaries is idempotent.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{
		kind:    kind,
		msg:     msg,
		cause:   err,
		details: map[string]string{"original_error": err.Error()},
	}
}

// NewWrap always builds a fresh Error of the given kind around err, unlike
// Wrap, which preserves an existing kind. Used where an outer kind must
// replace the inner one, such as RetryExhausted around the last attempt.
func NewWrap(kind Kind, msg string, err error) *Error {
	e := &Error{kind: kind, msg: msg, cause: err}
	if err != nil {
		e.details = map[string]string{"original_error": err.Error()}
	}
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

// WithDetail returns e with an extra detail attached.
func (e *Error) WithDetail(key, value string) *Error {
	if e.details == nil {
		e.details = map[string]string{}
	}
	e.details[key] = value
	return e
}

func (e *Error) Detail(key string) string { return e.details[key] }

// KindOf extracts the kind from any error; non-kinded errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return Internal
}

// grpcCodes maps each kind to its transport-level status code.
var grpcCodes = map[Kind]codes.Code{
	BadTicket:         codes.InvalidArgument,
	UnknownParamType:  codes.Unavailable,
	InvalidParam:      codes.InvalidArgument,
	Unavailable:       codes.Unavailable,
	Unauthenticated:   codes.Unauthenticated,
	Forbidden:         codes.PermissionDenied,
	Connection:        codes.Unavailable,
	Timeout:           codes.DeadlineExceeded,
	Serialization:     codes.Internal,
	DataService:       codes.Internal,
	ResourceExhausted: codes.ResourceExhausted,
	CircuitOpen:       codes.Unavailable,
	RetryExhausted:    codes.Unavailable,
	Internal:          codes.Internal,
}

// GRPCStatus renders err as a gRPC status whose message is prefixed with the
// kind name, so the far side can recover the kind without a side channel.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if !errors.As(err, &fe) {
		fe = Wrap(Internal, "unexpected error", err)
	}
	code, ok := grpcCodes[fe.kind]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, fmt.Sprintf("%s: %s", fe.kind, fe.message()))
}

func (e *Error) message() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// FromGRPC converts a transport error back into a kinded error. The kind is
// recovered from the message prefix when present; otherwise it is inferred
// from the status code.
func FromGRPC(err error) *Error {
	if err == nil {
		return nil
	}
	// Readers wrap the stream's status error in their own message; take the
	// status from the wrapped error itself so its kind prefix stays intact.
	var st *status.Status
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) && se.GRPCStatus() != nil {
		st = se.GRPCStatus()
	} else {
		s, ok := status.FromError(err)
		if !ok {
			return Wrap(Connection, "transport failure", err)
		}
		st = s
	}
	msg := st.Message()
	if kind, rest, found := splitKindPrefix(msg); found {
		return &Error{kind: kind, msg: rest, cause: err}
	}
	var kind Kind
	switch st.Code() {
	case codes.InvalidArgument:
		kind = BadTicket
	case codes.NotFound:
		kind = Unavailable
	case codes.Unavailable:
		// Bare Unavailable without a kind prefix is the transport talking,
		// not the server: treat it as a connectivity failure so the retry
		// policy applies. Server-side Unavailable carries its prefix.
		kind = Connection
	case codes.Unauthenticated:
		kind = Unauthenticated
	case codes.PermissionDenied:
		kind = Forbidden
	case codes.DeadlineExceeded:
		kind = Timeout
	case codes.ResourceExhausted:
		kind = ResourceExhausted
	case codes.Canceled:
		kind = Timeout
	default:
		kind = Connection
	}
	return &Error{kind: kind, msg: msg, cause: err}
}

var knownKinds = map[Kind]struct{}{
	BadTicket: {}, UnknownParamType: {}, InvalidParam: {}, Unavailable: {},
	Unauthenticated: {}, Forbidden: {}, Connection: {}, Timeout: {},
	Serialization: {}, DataService: {}, ResourceExhausted: {}, CircuitOpen: {},
	RetryExhausted: {}, Internal: {},
}

func splitKindPrefix(msg string) (Kind, string, bool) {
	name, rest, found := strings.Cut(msg, ": ")
	if !found {
		return "", msg, false
	}
	kind := Kind(name)
	if _, ok := knownKinds[kind]; !ok {
		return "", msg, false
	}
	return kind, rest, true
}

// HTTPStatus maps a kind to the gateway's response code. UnknownParamType and
// Unavailable both map to 404: the request named a type this deployment does
// not serve. 503 is reserved for backpressure and breaker rejections.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case BadTicket, InvalidParam:
		return http.StatusBadRequest
	case UnknownParamType, Unavailable:
		return http.StatusNotFound
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Timeout:
		return http.StatusGatewayTimeout
	case ResourceExhausted, CircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
