package handler

import (
	"net/http"

	"fnchat/internal/app/chat"
	"fnchat/internal/pkg/auth/jwt"
	"fnchat/internal/pkg/errs"
	"fnchat/internal/pkg/logx"
	"fnchat/internal/pkg/resp"
)

// Views the browser renders for the page endpoints.
const (
	ViewLogin   = "login"
	ViewRelogin = "relogin"
	ViewChat    = "chat"
)

// ReloginParam confirms the relogin prompt on /chat.
const ReloginParam = "relogin"

// PageView tells the browser which page to show.
type PageView struct {
	View     string `json:"view"`
	Username string `json:"username,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

func viewFor(view string, status chat.Status) PageView {
	return PageView{View: view, Username: status.Username, Gender: status.Gender}
}

// pageStatus returns the state of the request's session. LoggedIn is false without one.
func pageStatus(deps *AppDeps, w http.ResponseWriter, r *http.Request) (chat.Status, bool) {
	token := sessionToken(r)
	if token == "" {
		return chat.Status{}, true
	}

	status, err := deps.Coordinator.Status(r.Context(), token)
	if err != nil {
		logx.Error(err, "page: coordinator unavailable", "path", r.URL.Path)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return chat.Status{}, false
	}
	return status, true
}

// HandleIndex decides between the login form, the relogin prompt and the chat.
func HandleIndex(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, ok := pageStatus(deps, w, r)
		if !ok {
			return
		}

		switch {
		case !status.LoggedIn:
			resp.RespondSuccess(w, r, PageView{View: ViewLogin})
		case status.Away:
			resp.RespondSuccess(w, r, viewFor(ViewRelogin, status))
		default:
			http.Redirect(w, r, "/chat", http.StatusFound)
		}
	}
}

// HandleChat opens the chat for a live session. A user inside the grace window gets the
// relogin prompt until it is confirmed with relogin=1.
func HandleChat(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, ok := pageStatus(deps, w, r)
		if !ok {
			return
		}

		if !status.LoggedIn {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		if status.Away && r.URL.Query().Get(ReloginParam) != "1" {
			resp.RespondSuccess(w, r, viewFor(ViewRelogin, status))
			return
		}

		// First visit after login: the token arrived in the sid parameter only.
		if _, err := r.Cookie(jwt.CookieName); err != nil {
			if sid := r.URL.Query().Get(jwt.QueryParam); sid != "" {
				jwt.SetSessionCookie(w, sid, deps.secureCookies())
			}
		}

		resp.RespondSuccess(w, r, viewFor(ViewChat, status))
	}
}

// HandleRelogin shows the relogin prompt while the session is inside its grace window.
func HandleRelogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, ok := pageStatus(deps, w, r)
		if !ok {
			return
		}

		if !status.LoggedIn || !status.Away {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		resp.RespondSuccess(w, r, viewFor(ViewRelogin, status))
	}
}
