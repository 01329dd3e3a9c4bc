package handler

import (
	"net/http"

	"fnchat/internal/app/chat"
	"fnchat/internal/app/identity"
	"fnchat/internal/configs"
	"fnchat/internal/pkg/auth/jwt"
)

// AppDeps carries everything the HTTP handlers need.
type AppDeps struct {
	Coordinator *chat.Coordinator
	Identity    *identity.Store
	Config      *configs.AppConfig
}

// secureCookies reports whether cookies should carry the Secure flag.
func (d *AppDeps) secureCookies() bool {
	return !d.Config.IsDevelopment()
}

// sessionToken returns the coordinator session token of the request, or "".
func sessionToken(r *http.Request) string {
	payload := jwt.GetPayloadFromContext(r)
	if payload == nil {
		return ""
	}
	return payload.SessionID
}
