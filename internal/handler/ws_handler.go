package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"fnchat/internal/app/chat"
	"fnchat/internal/pkg/errs"
	"fnchat/internal/pkg/logx"
	"fnchat/internal/pkg/resp"
)

// HandleWebSocket upgrades the request and runs the client pumps until the socket closes.
// The user is announced later by the client's register-user frame.
func HandleWebSocket(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Outlives the hijacked request so the final disconnect is always delivered.
		ctx := context.WithoutCancel(r.Context())

		// The connection is bound to the login behind the cookie (or sid); without one it
		// stays anonymous and cannot take a protected name.
		connection, err := deps.Coordinator.Attach(ctx, sessionToken(r))
		if err != nil {
			logx.Error(err, "WebSocket rejected: coordinator unavailable")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Warn("Failed to upgrade connection to WebSocket", "error", err.Error())
			if derr := deps.Coordinator.Disconnect(ctx, connection.ID); derr != nil {
				logx.Error(derr, "Failed to detach connection after upgrade failure")
			}
			return
		}

		client := chat.NewClient(ctx, deps.Coordinator, conn, connection)

		go client.WritePump()

		logx.Info("WebSocket connection established", "conn_id", connection.ID)

		client.ReadPump()
	}
}
