// ABOUTME: Error taxonomy shared by the authentication engine and its transports
// ABOUTME: Each error carries a machine-readable kind, a caller-safe message and an internal cause

package apierr

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies an error for the caller.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindMethodNotAllowed
	KindUnsupportedMediaType
	KindDependencyFailed
	KindNotImplemented
	KindTooManyRequests
)

// StatusDependencyFailed is the WebDAV "Failed Dependency" status used for broken links between rows.
const StatusDependencyFailed = http.StatusFailedDependency

// String returns the title used in problem documents.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFoundError"
	case KindConflict:
		return "ConflictError"
	case KindBadRequest:
		return "BadRequestError"
	case KindUnauthorized:
		return "UnauthorizedError"
	case KindForbidden:
		return "ForbiddenError"
	case KindMethodNotAllowed:
		return "MethodNotAllowedError"
	case KindUnsupportedMediaType:
		return "UnsupportedMediaTypeError"
	case KindDependencyFailed:
		return "DependencyFailedError"
	case KindNotImplemented:
		return "NotImplementedError"
	case KindTooManyRequests:
		return "TooManyRequestsError"
	default:
		return "InternalServerError"
	}
}

// HTTPStatus maps the kind to a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindDependencyFailed:
		return StatusDependencyFailed
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps the kind to a gRPC status code.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindNotFound:
		return codes.NotFound
	case KindConflict:
		return codes.AlreadyExists
	case KindBadRequest:
		return codes.InvalidArgument
	case KindUnauthorized:
		return codes.Unauthenticated
	case KindForbidden:
		return codes.PermissionDenied
	case KindMethodNotAllowed, KindUnsupportedMediaType, KindNotImplemented:
		return codes.Unimplemented
	case KindDependencyFailed:
		return codes.FailedPrecondition
	case KindTooManyRequests:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// Error is an error with a kind. Message is safe to show to callers;
// Err is kept for server-side diagnostics only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind that keeps cause for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func NotFound(message string) *Error         { return New(KindNotFound, message) }
func Conflict(message string) *Error         { return New(KindConflict, message) }
func BadRequest(message string) *Error       { return New(KindBadRequest, message) }
func Unauthorized(message string) *Error     { return New(KindUnauthorized, message) }
func Forbidden(message string) *Error        { return New(KindForbidden, message) }
func DependencyFailed(message string) *Error { return New(KindDependencyFailed, message) }
func Internal(message string) *Error         { return New(KindInternal, message) }
func NotImplemented(message string) *Error   { return New(KindNotImplemented, message) }
func TooManyRequests(message string) *Error  { return New(KindTooManyRequests, message) }

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for errors without one.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// GRPCStatus converts err into a gRPC status error without leaking its cause.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	e, ok := As(err)
	if !ok {
		return status.Error(codes.Internal, internalMessage)
	}
	return status.Error(e.Kind.GRPCCode(), e.Message)
}
