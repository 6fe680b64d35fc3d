package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/umar/roomrelay/internal/auth"
	"github.com/umar/roomrelay/internal/messaging"
	"github.com/umar/roomrelay/internal/models"
)

type createRoomRequest struct {
	Name       *string         `json:"name"`
	Type       models.RoomKind `json:"type"`
	InviteeIDs []int64         `json:"invitee_ids"`
}

type inviteRequest struct {
	UserID int64 `json:"user_id"`
}

func ListRooms(rooms *messaging.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.UserIDFromContext(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		list, err := rooms.ListMyRooms(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func CreateRoom(rooms *messaging.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.UserIDFromContext(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, invalid("invalid request body"))
			return
		}

		room, err := rooms.CreateRoom(r.Context(), userID, messaging.CreateRoomRequest{
			Name:       req.Name,
			Kind:       req.Type,
			InviteeIDs: req.InviteeIDs,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, room)
	}
}

func GetRoom(rooms *messaging.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.UserIDFromContext(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		roomID, err := pathID(r, "roomId")
		if err != nil {
			writeError(w, err)
			return
		}

		room, err := rooms.GetRoom(r.Context(), userID, roomID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func InviteMember(rooms *messaging.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.UserIDFromContext(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		roomID, err := pathID(r, "roomId")
		if err != nil {
			writeError(w, err)
			return
		}

		var req inviteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
			writeError(w, invalid("user_id is required"))
			return
		}

		if err := rooms.InviteMember(r.Context(), userID, roomID, req.UserID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "invited"})
	}
}

func LeaveRoom(rooms *messaging.RoomService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.UserIDFromContext(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		roomID, err := pathID(r, "roomId")
		if err != nil {
			writeError(w, err)
			return
		}

		if err := rooms.LeaveRoom(r.Context(), userID, roomID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
