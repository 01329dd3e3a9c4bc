/*
Package errs provides custom error types and application-level error code constants.

This file defines the CustomError struct, which implements the standard Go error interface
and carries a business code, a user-facing message, and the HTTP status used when the
error is returned from a REST endpoint. The same struct is reused for realtime error events.
*/
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"fnchat/internal/pkg/logx"
)

// CustomError is the custom error structure used throughout the application.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int `json:"code"`

	// Message is the user-facing error description.
	Message string `json:"message"`

	// Status is the HTTP status code used when the error leaves through the REST layer.
	Status int `json:"-"`
}

// Error implements the standard Go error interface.
func (e *CustomError) Error() string {
	return fmt.Sprintf("error code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// NewError builds a *CustomError from a predefined code. Details are used as printf
// arguments when the message template contains a verb. Unknown codes fall back to ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	tmpl, ok := errorMap[code]
	if !ok {
		logx.Warn("Unknown error code requested", "requested_code", code)
		tmpl = errorMap[ErrUnknown]
	}

	customErr := tmpl
	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if len(details) == 0 {
		return &customErr
	}

	if code == ErrUnknown {
		if cause, ok := details[0].(error); ok {
			logx.Error(cause, "Handling ErrUnknown with underlying error")
		}
		return &customErr
	}

	if strings.Contains(customErr.Message, "%") {
		customErr.Message = fmt.Sprintf(customErr.Message, details...)
	}

	return &customErr
}

// As extracts a *CustomError from err. Any other non-nil error is reported as ErrUnknown.
func As(err error) *CustomError {
	if err == nil {
		return nil
	}

	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr
	}

	return NewError(ErrUnknown, err)
}
