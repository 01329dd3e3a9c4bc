/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrFormParseFailed:      {Code: ErrFormParseFailed, Message: "Failed to process submitted data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room and Content Business Logic Errors
	ErrRoomNotFound:          {Code: ErrRoomNotFound, Message: "Raum nicht gefunden."},
	ErrRoomLocked:            {Code: ErrRoomLocked, Message: "Dieser Raum ist gesperrt."},
	ErrWrongRoomPassword:     {Code: ErrWrongRoomPassword, Message: "Falsches Passwort."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Nachricht ist zu lang (max. %d Zeichen)."},

	// 3xxx: User, Session, and Security Errors
	ErrWeakPassword:     {Code: ErrWeakPassword, Message: "Passwort muss mindestens %d Zeichen lang sein."},
	ErrPasswordMismatch: {Code: ErrPasswordMismatch, Message: "Dieser Name ist geschützt. Passwort falsch.", Status: http.StatusUnauthorized},
	ErrUnauthorized:     {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrNotRegistered:    {Code: ErrNotRegistered, Message: "Für diesen Namen ist kein Passwort hinterlegt."},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
