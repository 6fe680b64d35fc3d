package handlers

import (
	"net/http"

	"github.com/umar/roomrelay/internal/messaging"
)

func ListOnline(presence messaging.PresenceTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := presence.ListOnline(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]int64{"user_ids": ids})
	}
}

func UserPresence(presence messaging.PresenceTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r, "userId")
		if err != nil {
			writeError(w, err)
			return
		}
		online, err := presence.IsOnline(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "online": online})
	}
}
