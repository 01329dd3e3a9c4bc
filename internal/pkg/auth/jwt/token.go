package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// SessionCookieExpiration bounds how long a signed session cookie is accepted.
	// The server-side session usually ends much earlier (logout or away timeout).
	SessionCookieExpiration = 7 * 24 * time.Hour

	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "fnchat"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry, or shape checks.
var ErrInvalidToken = errors.New("invalid or expired token")

// GenerateToken signs a token binding the given session id.
func GenerateToken(sessionID string, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload := &Payload{
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(duration).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    TokenIssuer,
		},
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken validates tokenString and returns its payload.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.SessionID == "" || claims.Issuer != TokenIssuer {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
