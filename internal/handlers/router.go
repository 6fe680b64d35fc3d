package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/umar/roomrelay/internal/apperror"
	"github.com/umar/roomrelay/internal/auth"
	"github.com/umar/roomrelay/internal/messaging"
	"github.com/umar/roomrelay/internal/middleware"
)

type API struct {
	Rooms    *messaging.RoomService
	Messages *messaging.MessageService
	Presence messaging.PresenceTracker
	Users    auth.UserStore
	Tokens   *auth.TokenService
	Checks   map[string]Check
	// WS serves the websocket upgrade; it authenticates on its own.
	WS          http.Handler
	CORSOrigins []string
}

var errRouteNotFound = &apperror.Error{Code: "NOT_FOUND", Message: "route not found"}

func NewRouter(api API) http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": errRouteNotFound.Code, "message": errRouteNotFound.Message})
	})

	router.HandleFunc("/health", Health(api.Checks)).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/register", auth.RegisterHandler(api.Users, api.Tokens)).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", auth.LoginHandler(api.Users, api.Tokens)).Methods(http.MethodPost)
	if api.WS != nil {
		router.Handle("/ws", api.WS).Methods(http.MethodGet)
	}

	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(auth.JWTMiddleware(api.Tokens))

	protected.HandleFunc("/auth/me", auth.MeHandler(api.Users)).Methods(http.MethodGet)
	protected.HandleFunc("/users/me", auth.MeHandler(api.Users)).Methods(http.MethodGet)
	protected.HandleFunc("/users/me", auth.UpdateProfileHandler(api.Users)).Methods(http.MethodPatch)
	protected.HandleFunc("/rooms", ListRooms(api.Rooms)).Methods(http.MethodGet)
	protected.HandleFunc("/rooms", CreateRoom(api.Rooms)).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{roomId:[0-9]+}", GetRoom(api.Rooms)).Methods(http.MethodGet)
	protected.HandleFunc("/rooms/{roomId:[0-9]+}/members", InviteMember(api.Rooms)).Methods(http.MethodPost)
	protected.HandleFunc("/rooms/{roomId:[0-9]+}/members/me", LeaveRoom(api.Rooms)).Methods(http.MethodDelete)
	protected.HandleFunc("/rooms/{roomId:[0-9]+}/messages", GetMessages(api.Messages)).Methods(http.MethodGet)
	protected.HandleFunc("/rooms/{roomId:[0-9]+}/messages/read", MarkAsRead(api.Messages)).Methods(http.MethodPost)
	protected.HandleFunc("/presence", ListOnline(api.Presence)).Methods(http.MethodGet)
	protected.HandleFunc("/presence/{userId:[0-9]+}", UserPresence(api.Presence)).Methods(http.MethodGet)

	var h http.Handler = router
	h = middleware.Logging(h)
	h = middleware.Recover(h)
	if len(api.CORSOrigins) > 0 {
		h = middleware.CORS(api.CORSOrigins)(h)
	}
	return h
}
