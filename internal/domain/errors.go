package domain

import (
	"errors"
	"fmt"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
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

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// ErrContractViolation is returned when a chunk or feature vector does not
// have the fixed shape the classifier was trained on.
var ErrContractViolation = errors.New("contract violation")

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid or missing API key",
		StatusCode: 401,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: 404,
	}

	ErrAnalysisNotFound = &AppError{
		Code:       "ANALYSIS_NOT_FOUND",
		Message:    "Analysis not found",
		StatusCode: 404,
	}

	ErrAnalysisNotFinished = &AppError{
		Code:       "ANALYSIS_NOT_FINISHED",
		Message:    "Analysis has not finished yet",
		StatusCode: 409,
	}

	ErrAnalysisFinished = &AppError{
		Code:       "ANALYSIS_FINISHED",
		Message:    "Analysis already finished",
		StatusCode: 409,
	}

	ErrInvalidVideo = &AppError{
		Code:       "INVALID_VIDEO",
		Message:    "Invalid video format or corrupted file",
		StatusCode: 422,
	}

	ErrInvalidVerdictMode = &AppError{
		Code:       "INVALID_VERDICT_MODE",
		Message:    "Verdict mode must be threshold or majority",
		StatusCode: 422,
	}

	ErrNoFingerprint = &AppError{
		Code:       "NO_FINGERPRINT",
		Message:    "Analysis has no feature fingerprint",
		StatusCode: 422,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded, please try again later",
		StatusCode: 429,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: 422,
	}

	ErrProviderUnavailable = &AppError{
		Code:       "PROVIDER_UNAVAILABLE",
		Message:    "Analysis provider is unavailable",
		StatusCode: 503,
	}

	ErrShuttingDown = &AppError{
		Code:       "SHUTTING_DOWN",
		Message:    "Server is shutting down",
		StatusCode: 503,
	}
)
