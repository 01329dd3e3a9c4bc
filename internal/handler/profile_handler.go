package handler

import (
	"errors"
	"net/http"

	"fnchat/internal/app/identity"
	"fnchat/internal/pkg/errs"
	"fnchat/internal/pkg/logx"
	"fnchat/internal/pkg/req"
	"fnchat/internal/pkg/resp"
)

type RegisterUsernameInput struct {
	Password string `json:"password" form:"password"`
}

// sessionUser resolves the username of the request's session or writes ErrUnauthorized.
func sessionUser(deps *AppDeps, w http.ResponseWriter, r *http.Request) (string, bool) {
	token := sessionToken(r)
	if token == "" {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
		return "", false
	}

	username, ok, err := deps.Coordinator.SessionUser(r.Context(), token)
	if err != nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
		return "", false
	}
	if !ok {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
		return "", false
	}

	return username, true
}

// HandleRegisterUsername stores or replaces the password protecting the session's name.
func HandleRegisterUsername(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := sessionUser(deps, w, r)
		if !ok {
			return
		}

		var input RegisterUsernameInput
		if customErr := req.Bind(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		err := deps.Identity.Register(username, input.Password)
		switch {
		case err == nil:
		case errors.Is(err, identity.ErrWeakPassword):
			resp.RespondError(w, r, errs.NewError(errs.ErrWeakPassword, identity.MinPasswordLength))
			return
		case errors.Is(err, identity.ErrPasswordTooLong):
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		default:
			logx.Error(err, "register-username: failed", "username", username)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"username": deps.Identity.CanonicalName(username),
		})
	}
}

// HandleProfileInfo reports whether the session's name is password protected.
func HandleProfileInfo(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := sessionUser(deps, w, r)
		if !ok {
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"username":    username,
			"hasPassword": deps.Identity.HasPassword(username),
		})
	}
}

// HandleProfileShowPassword returns the stored clear-text password of the session's name.
func HandleProfileShowPassword(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := sessionUser(deps, w, r)
		if !ok {
			return
		}

		password, found := deps.Identity.PlainPassword(username)
		if !found {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotRegistered))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"password": password})
	}
}
