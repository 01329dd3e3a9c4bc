package handler

import (
	"net/http"

	"fnchat/internal/pkg/errs"
	"fnchat/internal/pkg/resp"
)

// HandleListRooms returns every room with its live occupancy. Passwords are never included.
func HandleListRooms(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := deps.Coordinator.RoomList(r.Context())
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		resp.RespondSuccess(w, r, rooms)
	}
}
