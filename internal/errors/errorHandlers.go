package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"studypal_go_backend/internal/ledger"
	"studypal_go_backend/internal/tutor"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeBadRequest          ErrorType = "BAD_REQUEST"
	ErrorTypeUnauthorized        ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden           ErrorType = "FORBIDDEN"
	ErrorTypeNotFound            ErrorType = "NOT_FOUND"
	ErrorTypeLimitReached        ErrorType = "LIMIT_REACHED"
	ErrorTypeUnavailable         ErrorType = "SERVICE_UNAVAILABLE"
	ErrorTypeInternalServerError ErrorType = "INTERNAL_SERVER_ERROR"
)

// CustomError represents a custom error with associated HTTP status code and type
type CustomError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Internal   error
}

// Error implements the error interface
func (e *CustomError) Error() string {
	return e.Message
}

func newError(errType ErrorType, message string, statusCode int, internal error) *CustomError {
	return &CustomError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// New400Error creates a new bad request error
func New400Error(message string) *CustomError {
	return newError(ErrorTypeBadRequest, message, http.StatusBadRequest, nil)
}

// New401Error creates a new unauthorized error
func New401Error() *CustomError {
	return newError(ErrorTypeUnauthorized, "Unauthorized access", http.StatusUnauthorized, nil)
}

// New403Error creates a new forbidden error
func New403Error(message string) *CustomError {
	return newError(ErrorTypeForbidden, message, http.StatusForbidden, nil)
}

// New404Error creates a new not found error
func New404Error(message string) *CustomError {
	return newError(ErrorTypeNotFound, message, http.StatusNotFound, nil)
}

// New500Error creates a new internal server error
func New500Error(internal error) *CustomError {
	return newError(ErrorTypeInternalServerError, "An unexpected error occurred", http.StatusInternalServerError, internal)
}

// fromDomain translates well-known sentinel errors into HTTP-shaped ones.
func fromDomain(err error) (*CustomError, bool) {
	switch {
	case stderrors.Is(err, ledger.ErrLimitExceeded):
		return newError(ErrorTypeLimitReached, "Daily question limit reached", http.StatusTooManyRequests, err), true
	case stderrors.Is(err, ledger.ErrStorageUnavailable):
		return newError(ErrorTypeUnavailable, "Usage tracking is temporarily unavailable", http.StatusServiceUnavailable, err), true
	case stderrors.Is(err, tutor.ErrSessionNotFound):
		return newError(ErrorTypeNotFound, "Session not found", http.StatusNotFound, err), true
	case stderrors.Is(err, tutor.ErrEmptySubmission):
		return newError(ErrorTypeBadRequest, "Question must not be empty", http.StatusBadRequest, err), true
	}
	return nil, false
}

// HandleError handles the error and sends an appropriate JSON response
func HandleError(c *gin.Context, err error) {
	customErr, ok := err.(*CustomError)
	if !ok {
		if customErr, ok = fromDomain(err); !ok {
			customErr = New500Error(err)
		}
	}

	// Log internal server errors
	if customErr.Type == ErrorTypeInternalServerError {
		log.Error().
			Err(customErr.Internal).
			Str("url", c.Request.URL.String()).
			Msg("Internal Server Error")
	}

	c.JSON(customErr.StatusCode, gin.H{
		"error": gin.H{
			"type":    customErr.Type,
			"message": customErr.Message,
		},
	})
}
