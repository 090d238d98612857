package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SyncErrorBadInput        = "FINSYNC_BAD_INPUT"
	SyncErrorProviderUnknown = "FINSYNC_PROVIDER_UNKNOWN"
	SyncErrorAuthFailed      = "FINSYNC_AUTH_FAILED"
	SyncErrorConfigInvalid   = "FINSYNC_CONFIG_INVALID"
	SyncErrorVaultFailure    = "FINSYNC_VAULT_FAILURE"
	SyncErrorProviderDown    = "FINSYNC_PROVIDER_UNAVAILABLE"
	SyncErrorRateLimited     = "FINSYNC_RATE_LIMITED"
	SyncErrorMalformedData   = "FINSYNC_MALFORMED_DATA"
	SyncErrorAlreadyRunning  = "FINSYNC_SYNC_RUNNING"
	SyncErrorInternal        = "FINSYNC_INTERNAL_ERROR"
)

// NewTransientError marks provider unavailability: timeouts, 5xx, resets.
// The resilience wrapper retries these; everything else short-circuits.
func NewTransientError(message string, cause error) *goerrors.Error {
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryExternal, message).
			WithTextCode(SyncErrorProviderDown).
			WithCode(http.StatusBadGateway)
	}
	return goerrors.New(message, goerrors.CategoryExternal).
		WithTextCode(SyncErrorProviderDown).
		WithCode(http.StatusBadGateway)
}

// NewAuthorizationError marks an expired or rejected credential. One
// refresh attempt is allowed; after that the connection requires re-auth.
func NewAuthorizationError(message string, cause error) *goerrors.Error {
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryAuth, message).
			WithTextCode(SyncErrorAuthFailed).
			WithCode(http.StatusUnauthorized)
	}
	return goerrors.New(message, goerrors.CategoryAuth).
		WithTextCode(SyncErrorAuthFailed).
		WithCode(http.StatusUnauthorized)
}

// NewConfigurationError is fatal and non-retryable: missing client id,
// missing vault key, undecryptable ciphertext. Fails before any network
// call.
func NewConfigurationError(message string, cause error) *goerrors.Error {
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryBadInput, message).
			WithTextCode(SyncErrorConfigInvalid).
			WithCode(http.StatusPreconditionFailed)
	}
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithTextCode(SyncErrorConfigInvalid).
		WithCode(http.StatusPreconditionFailed)
}

// NewDataError marks a single malformed provider movement. The offending
// row is skipped and logged; it never aborts the batch.
func NewDataError(message string, cause error) *goerrors.Error {
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryValidation, message).
			WithTextCode(SyncErrorMalformedData).
			WithCode(http.StatusUnprocessableEntity)
	}
	return goerrors.New(message, goerrors.CategoryValidation).
		WithTextCode(SyncErrorMalformedData).
		WithCode(http.StatusUnprocessableEntity)
}

// NewConflictError marks an operation rejected because another run holds
// the same resource, such as an overlapping sync for one connection.
func NewConflictError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithTextCode(SyncErrorAlreadyRunning).
		WithCode(http.StatusConflict)
}

func IsConflict(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryConflict ||
			richErr.TextCode == SyncErrorAlreadyRunning
	}
	return false
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.TextCode {
		case SyncErrorProviderDown, SyncErrorRateLimited:
			return true
		case SyncErrorAuthFailed, SyncErrorConfigInvalid, SyncErrorMalformedData, SyncErrorBadInput:
			return false
		}
		return richErr.Category == goerrors.CategoryExternal ||
			richErr.Category == goerrors.CategoryRateLimit
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "temporarily unavailable")
}

func IsAuthorization(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryAuth ||
			richErr.Category == goerrors.CategoryAuthz ||
			richErr.TextCode == SyncErrorAuthFailed
	}
	return false
}

func IsConfiguration(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == SyncErrorConfigInvalid ||
			richErr.TextCode == SyncErrorVaultFailure
	}
	return false
}

func IsData(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == SyncErrorMalformedData
	}
	return false
}

func syncErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSyncErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "provider") && strings.Contains(msg, "not registered"):
		return newSyncError(err.Error(), goerrors.CategoryNotFound, SyncErrorProviderUnknown)
	case strings.Contains(msg, "connection not found"):
		return newSyncError(err.Error(), goerrors.CategoryNotFound, SyncErrorBadInput)
	case strings.Contains(msg, "sync already running"), strings.Contains(msg, "sync in progress"):
		return newSyncError(err.Error(), goerrors.CategoryConflict, SyncErrorAlreadyRunning)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return newSyncError(err.Error(), goerrors.CategoryRateLimit, SyncErrorRateLimited)
	case strings.Contains(msg, "decrypt"), strings.Contains(msg, "vault"):
		return newSyncError(err.Error(), goerrors.CategoryInternal, SyncErrorVaultFailure)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newSyncError(err.Error(), goerrors.CategoryBadInput, SyncErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSyncErrorEnvelope(mapped)
}

func newSyncError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureSyncErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureSyncErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = syncHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSyncTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultSyncTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return SyncErrorBadInput
	case goerrors.CategoryNotFound:
		return SyncErrorProviderUnknown
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return SyncErrorAuthFailed
	case goerrors.CategoryConflict:
		return SyncErrorAlreadyRunning
	case goerrors.CategoryRateLimit:
		return SyncErrorRateLimited
	case goerrors.CategoryExternal:
		return SyncErrorProviderDown
	default:
		return SyncErrorInternal
	}
}

func syncHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
