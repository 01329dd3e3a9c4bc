/*
Package handler provides the HTTP handlers and routing setup for the chat server.
*/
package handler

import (
	"net/http"
	"net/url"
	"strings"

	"fnchat/internal/pkg/auth/jwt"
	"fnchat/internal/pkg/errs"
	"fnchat/internal/pkg/logx"
	"fnchat/internal/pkg/req"
	"fnchat/internal/pkg/resp"
)

type LoginInput struct {
	Username string `json:"username" form:"username"`
	Gender   string `json:"gender" form:"gender"`
	Password string `json:"password" form:"password"`
}

// HandleLogin creates a session for the submitted name and redirects into the chat.
// A name with a stored credential requires the matching password; form posts are sent back
// to the login page, JSON clients get ErrPasswordMismatch.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.Bind(w, r, &input); customErr != nil {
			logx.Warn("login: invalid body", "code", customErr.Code)
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		username := strings.TrimSpace(input.Username)
		gender := strings.TrimSpace(input.Gender)
		if username == "" || gender == "" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		if deps.Identity.IsRegistered(username) {
			if input.Password == "" || !deps.Identity.Verify(username, input.Password) {
				logx.Warn("login: password mismatch for protected name", "username", username)
				if req.IsJSON(r) {
					resp.RespondError(w, r, errs.NewError(errs.ErrPasswordMismatch))
					return
				}
				http.Redirect(w, r, "/?error=password", http.StatusFound)
				return
			}
			username = deps.Identity.CanonicalName(username)
		}

		sessionID, err := deps.Coordinator.Login(r.Context(), username, gender)
		if err != nil {
			logx.Error(err, "login: session creation failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		token, err := jwt.GenerateToken(sessionID, deps.Config.SessionSecret, jwt.SessionCookieExpiration)
		if err != nil {
			logx.Error(err, "login: token generation failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		jwt.SetSessionCookie(w, token, deps.secureCookies())

		logx.Info("login: session started", "username", username)
		http.Redirect(w, r, "/chat?"+jwt.QueryParam+"="+url.QueryEscape(token), http.StatusFound)
	}
}

// HandleLogout ends the session immediately, without a grace window.
func HandleLogout(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := sessionToken(r); token != "" {
			if _, err := deps.Coordinator.Logout(r.Context(), token); err != nil {
				logx.Error(err, "logout: coordinator unavailable")
			}
		}

		jwt.ClearSessionCookie(w, deps.secureCookies())
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

// HandleMe reports the login and away state of the current session.
func HandleMe(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			resp.RespondSuccess(w, r, map[string]any{"loggedIn": false})
			return
		}

		status, err := deps.Coordinator.Status(r.Context(), token)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		if !status.LoggedIn {
			resp.RespondSuccess(w, r, map[string]any{"loggedIn": false})
			return
		}

		resp.RespondSuccess(w, r, status)
	}
}
