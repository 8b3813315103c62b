// Package errors defines the catalog's error taxonomy: sentinel errors that
// every typed error unwraps to, an AppError carrying an HTTP status for the
// API adapter, and IOError for directory and file access failures.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrParse         = errors.New("parse error")
	ErrBuild         = errors.New("index build error")
	ErrIO            = errors.New("i/o error")
	ErrBusy          = errors.New("ingestion run already in progress")
	ErrNotFound      = errors.New("record not found")
	ErrUninitialized = errors.New("catalog index not initialized")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternal      = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IOError reports a failed filesystem operation on a catalog directory or
// file. It always matches ErrIO.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// NewIOError wraps err as an IOError for the given operation and path.
func NewIOError(op, path string, err error) *IOError {
	return &IOError{Op: op, Path: path, Err: err}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrUninitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
