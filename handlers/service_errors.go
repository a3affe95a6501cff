package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/sessionguard/services"
	"github.com/upb/sessionguard/utils"
)

// HandleServiceError maps domain errors to HTTP responses. Only the
// client-facing message is written; the wrapped reason goes to the log.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	message := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var writeErr error
	switch {
	case services.IsInvalidCredentialsError(err),
		services.IsInvalidTokenError(err),
		services.IsPrincipalGoneError(err),
		services.IsUnauthenticatedError(err):
		logger.Info("request not authenticated", zap.Error(err))
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsAccountNotEligibleError(err), services.IsForbiddenError(err):
		logger.Info("request forbidden", zap.Error(err))
		writeErr = utils.WriteForbidden(w, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, message, details)

	case services.IsConfigError(err), services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles errors from request decoding and validation
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	message := "validation failed"
	if !utils.IsValidationError(err) {
		message = err.Error()
	}
	if err := utils.WriteBadRequest(w, message, utils.FieldDetails(err)); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
