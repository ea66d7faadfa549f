// Package models contains data structures for the application's domain models.
package models

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

// NewAccessDeniedError builds the error returned when an authenticated caller
// lacks the role or ownership required for an operation.
func NewAccessDeniedError(message string) *AppError {
	return &AppError{
		Code:    "ACCESS_DENIED",
		Message: message,
	}
}

// NewIssuerBlockedError builds the issuer-gate error. The message is
// issuer-status-specific so callers can tell a suspension from a not-yet-live
// issuer.
func NewIssuerBlockedError(status IssuerStatus) *AppError {
	msg := "issuer does not permit this operation"
	switch status {
	case IssuerStatusSuspended:
		msg = "issuer is suspended; no changes are permitted"
	case IssuerStatusPending:
		msg = "issuer is not yet live; transaction-affecting changes are not permitted"
	}
	return &AppError{
		Code:    "ISSUER_ACCESS_BLOCKED",
		Message: msg,
	}
}

// Action-token verification errors. All three are terminal and user-visible so
// the confirmation page can explain why the emailed link no longer works.
func NewInvalidTokenError() *AppError {
	return &AppError{
		Code:    "INVALID_TOKEN",
		Message: "this action link is not valid for the given request",
	}
}

func NewTokenExpiredError() *AppError {
	return &AppError{
		Code:    "TOKEN_EXPIRED",
		Message: "this action link has expired",
	}
}

func NewTokenAlreadyUsedError() *AppError {
	return &AppError{
		Code:    "TOKEN_ALREADY_USED",
		Message: "this action link has already been used",
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "Internal server error",
		Err:     err,
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	if appErr, ok := err.(*AppError); ok {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
