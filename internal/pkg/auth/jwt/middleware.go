package jwt

import (
	"context"
	"net/http"
	"time"

	"fnchat/internal/pkg/logx"
)

type contextKey string

const (
	// ContextSessionKey is the key under which the parsed *Payload is stored in the request context.
	ContextSessionKey contextKey = "session_payload"

	// CookieName is the name of the session cookie.
	CookieName = "sessionId"

	// QueryParam is the fallback query parameter carrying the signed token right after login,
	// before the browser has stored the cookie.
	QueryParam = "sid"
)

// SessionExtractorMiddleware reads the signed session token from the cookie (or the `sid`
// query fallback) and injects its Payload into the context. It never rejects a request;
// handlers decide whether a session is required.
func SessionExtractorMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""
			if cookie, err := r.Cookie(CookieName); err == nil {
				raw = cookie.Value
			}
			if raw == "" {
				raw = r.URL.Query().Get(QueryParam)
			}

			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			payload, err := ParseToken(raw, secretKey)
			if err != nil {
				logx.Debug("Invalid session token, treating as anonymous", "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ContextSessionKey, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPayloadFromContext returns the session payload, or nil for anonymous requests.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextSessionKey).(*Payload)
	if !ok {
		return nil
	}
	return payload
}

// SetSessionCookie writes the session cookie carrying token.
func SetSessionCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(SessionCookieExpiration),
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
