// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-chat.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the server.
var (
	ErrConnClosed       = errors.New("connection is closed")
	ErrWouldBlock       = errors.New("operation would block")
	ErrStageClosed      = errors.New("stage is closed")
	ErrNotOwner         = errors.New("connection is owned by another stage")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotSupported     = errors.New("operation not supported")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrNotFound         = errors.New("resource not found")
	ErrRoomNotEmpty     = errors.New("room is not empty")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrBackendDown      = errors.New("backend unavailable")
)

// ErrorCode represents specific error conditions in the server.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeProtocol
	ErrCodeIO
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeNotSupported:
		return "not_supported"
	case ErrCodeAlreadyExists:
		return "already_exists"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeProtocol:
		return "protocol"
	case ErrCodeIO:
		return "io"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the wrapped cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap creates a structured error around cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	e := NewError(code, message)
	e.Err = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the ErrorCode of err, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrAlreadyExists):
		return ErrCodeAlreadyExists
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument
	case errors.Is(err, ErrNotSupported):
		return ErrCodeNotSupported
	}
	return ErrCodeInternal
}
