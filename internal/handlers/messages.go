package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/umar/roomrelay/internal/auth"
	"github.com/umar/roomrelay/internal/messaging"
)

func GetMessages(messages *messaging.MessageService) http.HandlerFunc {
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

		var cursor *int64
		if s := r.URL.Query().Get("cursor"); s != "" {
			c, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				writeError(w, invalid("invalid cursor"))
				return
			}
			cursor = &c
		}

		limit := messaging.DefaultPageSize
		if s := r.URL.Query().Get("limit"); s != "" {
			l, err := strconv.Atoi(s)
			if err != nil {
				writeError(w, invalid("invalid limit"))
				return
			}
			limit = l
		}

		page, err := messages.GetMessages(r.Context(), userID, roomID, cursor, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func MarkAsRead(messages *messaging.MessageService) http.HandlerFunc {
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

		ack, err := messages.MarkAsRead(r.Context(), userID, roomID)
		if errors.Is(err, messaging.ErrPublishFailed) {
			// the counter is already reset; only the live notification was lost
			slog.Warn("read ack not published", "room_id", roomID, "user_id", userID, "error", err)
			err = nil
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}
