// Package rpc implements the authorization chain and the procedures exposed
// by the service: an ordered stack of guards (public, authenticated, freshly
// verified, role gated, scope gated) evaluated against a per-call context,
// plus the operations built on top of them.
package rpc

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error is a typed denial or failure produced by a guard or procedure. The
// code follows gRPC conventions so the same taxonomy serves any transport;
// HTTPStatus maps it for the HTTP surface.
type Error struct {
	Code    codes.Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// GRPCStatus lets status.FromError recover the code without unwrapping.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// Is matches any *Error with the same code, so handlers can dispatch with
// errors.Is against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus translates the denial code for the HTTP surface.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.InvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is dispatch. Denials constructed per call carry their
// own messages but share codes with these.
var (
	ErrUnauthenticated = &Error{Code: codes.Unauthenticated, Message: "authentication required"}
	ErrForbidden       = &Error{Code: codes.PermissionDenied, Message: "permission denied"}
	ErrNotFound        = &Error{Code: codes.NotFound, Message: "not found"}
	ErrConflict        = &Error{Code: codes.FailedPrecondition, Message: "conflict"}
	ErrInvalidInput    = &Error{Code: codes.InvalidArgument, Message: "invalid input"}
)

func unauthenticated(msg string) *Error {
	return &Error{Code: codes.Unauthenticated, Message: msg}
}

func forbidden(msg string) *Error {
	return &Error{Code: codes.PermissionDenied, Message: msg}
}

func notFound(msg string) *Error {
	return &Error{Code: codes.NotFound, Message: msg}
}

func conflict(msg string) *Error {
	return &Error{Code: codes.FailedPrecondition, Message: msg}
}

func invalidInput(msg string) *Error {
	return &Error{Code: codes.InvalidArgument, Message: msg}
}

func internal(msg string) *Error {
	return &Error{Code: codes.Internal, Message: msg}
}
