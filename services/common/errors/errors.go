package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an error for the caller. Only NotFound, Validation and
// Persistence ever reach a client; cache and broker faults are absorbed.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindPersistence Kind = "persistence"
	KindUnavailable Kind = "unavailable"
	KindCacheFault  Kind = "cache_fault"
	KindBrokerFault Kind = "broker_fault"
	KindInternal    Kind = "internal"
)

// Error represents an application error
type Error struct {
	Code    int               `json:"code"`
	Kind    Kind              `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so errors.Is(err, ErrNotFound) works for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a new Error
func New(code int, kind Kind, message string, err error) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, KindNotFound, message, nil)
}

// Validation carries per-field messages keyed by the JSON field name.
func Validation(message string, fields map[string]string) *Error {
	e := New(http.StatusBadRequest, KindValidation, message, nil)
	e.Fields = fields
	return e
}

func Persistence(message string, err error) *Error {
	return New(http.StatusInternalServerError, KindPersistence, message, err)
}

// Unavailable is a persistence failure caused by the store being unreachable.
func Unavailable(message string, err error) *Error {
	return New(http.StatusServiceUnavailable, KindUnavailable, message, err)
}

func CacheFault(op string, err error) *Error {
	return New(http.StatusInternalServerError, KindCacheFault, "cache "+op+" failed", err)
}

func BrokerFault(op string, err error) *Error {
	return New(http.StatusInternalServerError, KindBrokerFault, "broker "+op+" failed", err)
}

// Sentinels for errors.Is comparisons. Never mutate these.
var (
	ErrNotFound    = New(http.StatusNotFound, KindNotFound, "Not found", nil)
	ErrValidation  = New(http.StatusBadRequest, KindValidation, "Validation error", nil)
	ErrPersistence = New(http.StatusInternalServerError, KindPersistence, "Database query error", nil)
	ErrUnavailable = New(http.StatusServiceUnavailable, KindUnavailable, "Service unavailable", nil)
	ErrCacheFault  = New(http.StatusInternalServerError, KindCacheFault, "Cache fault", nil)
	ErrBrokerFault = New(http.StatusInternalServerError, KindBrokerFault, "Broker fault", nil)
)

// IsNotFound reports whether err is, or wraps, a not-found error.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

// From returns err as an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return New(http.StatusInternalServerError, KindInternal, "Internal server error", err)
}

// Error middleware for Gin
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		appErr := From(c.Errors.Last().Err)
		body := gin.H{"error": appErr.Message, "kind": appErr.Kind}
		if len(appErr.Fields) > 0 {
			body["fields"] = appErr.Fields
		}
		c.AbortWithStatusJSON(appErr.Code, body)
	}
}
