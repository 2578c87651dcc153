// Package errors provides standardized error handling for the Tycho API.
//
// Errors are categorized by an opaque Kind rather than a free-form string
// code. Each Kind maps to exactly one HTTP status and one recovery posture,
// matching the taxonomy the engine, parser, projector, driver, and registry
// all raise into.
package errors

import (
	"fmt"
	"net/http"
)

// Kind identifies the category of failure a component raised.
type Kind string

const (
	// InvalidCompose means the submitted compose document or request body
	// could not be used: bad YAML, no services, a service without an image,
	// a malformed entrypoint/ports/expose entry, an undecodable request
	// body, or a delete/modify without a guid. Compose keys the parser does
	// not recognise are ignored, not rejected.
	InvalidCompose Kind = "INVALID_COMPOSE"

	// InvalidVolumeSpec means a volume reference does not use the pvc://
	// scheme or is missing its mount path.
	InvalidVolumeSpec Kind = "INVALID_VOLUME_SPEC"

	// UnknownService means a requested service exposure names a container
	// that the compose document does not declare.
	UnknownService Kind = "UNKNOWN_SERVICE"

	// TemplateError means rendering a manifest template failed: a missing
	// template file, an undefined variable, or a template syntax error.
	TemplateError Kind = "TEMPLATE_ERROR"

	// ContextNotFound means the registry document has no context for the
	// requested product.
	ContextNotFound Kind = "CONTEXT_NOT_FOUND"

	// BaseNotFound means an `extends` reference named a base context that
	// the registry document does not define.
	BaseNotFound Kind = "BASE_NOT_FOUND"

	// AppNotAuthorized means the requested app id is not in the resolved
	// product context's app catalog.
	AppNotAuthorized Kind = "APP_NOT_AUTHORIZED"

	// StartError means the orchestrator driver failed to bring a system up;
	// callers should assume partial resources may have been created and
	// reclaimed.
	StartError Kind = "START_ERROR"

	// DeleteError means the orchestrator driver failed to tear a system
	// down completely; some resources may remain.
	DeleteError Kind = "DELETE_ERROR"

	// Timeout means an operation did not complete within its deadline.
	Timeout Kind = "TIMEOUT"

	// Internal is the catch-all for failures that don't fit any named Kind.
	Internal Kind = "INTERNAL"
)

// AppError is the error type every Tycho component returns across its
// public boundary.
type AppError struct {
	// Kind is the machine-readable failure category.
	Kind Kind `json:"kind"`

	// Message is a human-readable description suitable for clients.
	Message string `json:"message"`

	// Details carries the wrapped underlying error's message, if any.
	Details string `json:"details,omitempty"`

	// StatusCode is the HTTP status to return; derived from Kind.
	StatusCode int `json:"-"`

	// cause is the original error Wrap was given, if any. Kept separate
	// from Details so errors.Is/errors.As can still traverse into it.
	cause error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the original wrapped error, making AppError compatible
// with errors.Is/errors.As across the cause chain rather than just at the
// AppError value itself.
func (e *AppError) Unwrap() error {
	return e.cause
}

// ErrorResponse is the JSON body written on any non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

func statusFor(kind Kind) int {
	switch kind {
	case InvalidCompose, InvalidVolumeSpec, UnknownService:
		return http.StatusBadRequest
	case AppNotAuthorized:
		return http.StatusForbidden
	case ContextNotFound, BaseNotFound, TemplateError, StartError, DeleteError, Internal:
		return http.StatusInternalServerError
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError of the given kind.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, StatusCode: statusFor(kind)}
}

// NewWithDetails creates an AppError carrying extra debugging context.
func NewWithDetails(kind Kind, message, details string) *AppError {
	return &AppError{Kind: kind, Message: message, Details: details, StatusCode: statusFor(kind)}
}

// Wrap wraps an underlying error under the given kind, preserving it as the
// cause so errors.Is/errors.As can traverse into it via Unwrap.
func Wrap(kind Kind, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	appErr := NewWithDetails(kind, message, details)
	appErr.cause = err
	return appErr
}

// ToResponse converts an AppError to its wire representation.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   string(e.Kind),
		Message: e.Message,
		Kind:    string(e.Kind),
		Details: e.Details,
	}
}

// Common constructors, one per Kind, mirroring how each component raises it.

func InvalidComposeErr(message string) *AppError {
	return New(InvalidCompose, message)
}

func InvalidVolumeSpecErr(message string) *AppError {
	return New(InvalidVolumeSpec, message)
}

func UnknownServiceErr(name string) *AppError {
	return New(UnknownService, fmt.Sprintf("service %q is not defined in this system", name))
}

func TemplateErr(templateID string, err error) *AppError {
	return Wrap(TemplateError, fmt.Sprintf("failed to render template %q", templateID), err)
}

func ContextNotFoundErr(product string) *AppError {
	return New(ContextNotFound, fmt.Sprintf("no registry context for product %q", product))
}

func BaseNotFoundErr(base string) *AppError {
	return New(BaseNotFound, fmt.Sprintf("extends base %q not found", base))
}

func AppNotAuthorizedErr(appID string) *AppError {
	return New(AppNotAuthorized, fmt.Sprintf("app %q is not available in this product context", appID))
}

func StartErr(err error) *AppError {
	return Wrap(StartError, "failed to start system", err)
}

func DeleteErr(err error) *AppError {
	return Wrap(DeleteError, "failed to delete system", err)
}

func TimeoutErr(op string) *AppError {
	return New(Timeout, fmt.Sprintf("%s did not complete before its deadline", op))
}

func InternalErr(err error) *AppError {
	return Wrap(Internal, "internal error", err)
}
