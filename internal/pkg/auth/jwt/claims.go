package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set stored in the session cookie.
// The cookie never carries user data itself; it only binds the browser to an opaque
// server-side session token, signed so that it cannot be guessed or forged.
type Payload struct {
	jwt.StandardClaims

	// SessionID is the opaque token of the server-side session.
	SessionID string `json:"sid"`
}
