/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrFormParseFailed indicates failure to parse multipart or URL-encoded form data.
	ErrFormParseFailed = 1005

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room and Content Business Logic Errors
const (
	// ErrRoomNotFound indicates that the requested room id is not part of the room catalog.
	ErrRoomNotFound = 2103

	// ErrRoomLocked indicates that the room is locked and the caller's role is not privileged.
	ErrRoomLocked = 2105

	// ErrWrongRoomPassword indicates that the password supplied for a private room does not match.
	ErrWrongRoomPassword = 2106

	// ErrMessageContentTooLong indicates that the user's message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrWeakPassword indicates that the password is shorter than the minimum or the name is empty.
	ErrWeakPassword = 3005

	// ErrPasswordMismatch indicates that a protected display name was claimed with the wrong password.
	ErrPasswordMismatch = 3006

	// ErrUnauthorized indicates that the request carries no valid session.
	ErrUnauthorized = 3007

	// ErrNotRegistered indicates that the session user has no stored credential.
	ErrNotRegistered = 3008
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
