package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeInvalidCredentials ErrorType = "invalid_credentials"
	ErrorTypeAccountNotEligible ErrorType = "account_not_eligible"
	ErrorTypeInvalidToken       ErrorType = "invalid_token"
	ErrorTypePrincipalGone      ErrorType = "principal_gone"
	ErrorTypeUnauthenticated    ErrorType = "unauthenticated"
	ErrorTypeForbidden          ErrorType = "forbidden"
	ErrorTypeConfig             ErrorType = "config"
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeInternal           ErrorType = "internal"
)

// DomainError represents a structured error with additional context.
// Err carries the internal reason and is never shown to clients.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. Compare with errors.Is; never return them directly
// when a reason needs to travel with the error, use the New* constructors instead.
var (
	ErrInvalidCredentials = NewDomainError(ErrorTypeInvalidCredentials, "invalid credentials", nil)
	ErrAccountNotEligible = NewDomainError(ErrorTypeAccountNotEligible, "account is not eligible to sign in", nil)
	ErrInvalidToken       = NewDomainError(ErrorTypeInvalidToken, "invalid or expired token", nil)
	ErrPrincipalGone      = NewDomainError(ErrorTypePrincipalGone, "principal no longer exists", nil)
	ErrUnauthenticated    = NewDomainError(ErrorTypeUnauthenticated, "authentication required", nil)
	ErrForbidden          = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrConfig             = NewDomainError(ErrorTypeConfig, "invalid configuration", nil)

	ErrInvalidInput       = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidRole        = NewDomainError(ErrorTypeValidation, "invalid role", nil)
	ErrInvalidStatus      = NewDomainError(ErrorTypeValidation, "invalid status", nil)
	ErrDuplicatePrincipal = NewDomainError(ErrorTypeConflict, "principal already exists", nil)
	ErrPrincipalNotFound  = NewDomainError(ErrorTypeNotFound, "principal not found", nil)

	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// NewInvalidCredentialsError is identical for unknown identifiers and wrong secrets.
func NewInvalidCredentialsError() error {
	return NewDomainError(ErrorTypeInvalidCredentials, ErrInvalidCredentials.Message, nil)
}

// NewAccountNotEligibleError reports a principal whose status blocks sign in
func NewAccountNotEligibleError(reason error) error {
	return NewDomainError(ErrorTypeAccountNotEligible, ErrAccountNotEligible.Message, reason)
}

// NewInvalidTokenError wraps the internal verification reason
func NewInvalidTokenError(reason error) error {
	return NewDomainError(ErrorTypeInvalidToken, ErrInvalidToken.Message, reason)
}

// NewPrincipalGoneError reports a refresh for a missing or soft-deleted principal
func NewPrincipalGoneError() error {
	return NewDomainError(ErrorTypePrincipalGone, ErrPrincipalGone.Message, nil)
}

// NewUnauthenticatedError wraps the reason a request carried no usable credential
func NewUnauthenticatedError(reason error) error {
	return NewDomainError(ErrorTypeUnauthenticated, ErrUnauthenticated.Message, reason)
}

// NewForbiddenError wraps the internal denial reason
func NewForbiddenError(reason error) error {
	return NewDomainError(ErrorTypeForbidden, ErrForbidden.Message, reason)
}

// NewConfigError reports a missing or inconsistent setting
func NewConfigError(message string) error {
	return NewDomainError(ErrorTypeConfig, message, nil)
}

// NewValidationError reports invalid caller input
func NewValidationError(message string) error {
	return NewDomainError(ErrorTypeValidation, message, nil)
}

// Error type checking helper functions

// IsInvalidCredentialsError checks if an error is an invalid credentials error
func IsInvalidCredentialsError(err error) bool {
	return GetErrorType(err) == ErrorTypeInvalidCredentials
}

// IsAccountNotEligibleError checks if an error is an account eligibility error
func IsAccountNotEligibleError(err error) bool {
	return GetErrorType(err) == ErrorTypeAccountNotEligible
}

// IsInvalidTokenError checks if an error is an invalid token error
func IsInvalidTokenError(err error) bool {
	return GetErrorType(err) == ErrorTypeInvalidToken
}

// IsPrincipalGoneError checks if an error is a principal gone error
func IsPrincipalGoneError(err error) bool {
	return GetErrorType(err) == ErrorTypePrincipalGone
}

// IsUnauthenticatedError checks if an error is an unauthenticated error
func IsUnauthenticatedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthenticated
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsConfigError checks if an error is a configuration error
func IsConfigError(err error) bool {
	return GetErrorType(err) == ErrorTypeConfig
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the client-facing message of a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ErrInternal.Message
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error. Store and hashing
// failures always go through here so they never surface as a domain kind.
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
