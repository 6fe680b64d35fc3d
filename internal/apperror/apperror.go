// Package apperror defines the error kinds shared by the HTTP surface and the
// websocket gateway. Every kind carries a stable code that clients can match on.
package apperror

import (
	"errors"
	"net/http"
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

const CodeInternal = "INTERNAL_ERROR"

var (
	ErrInvalidInput      = &Error{Code: "INVALID_INPUT", Message: "invalid input"}
	ErrUnauthenticated   = &Error{Code: "UNAUTHORIZED", Message: "authentication required"}
	ErrUserNotFound      = &Error{Code: "USER_NOT_FOUND", Message: "user not found"}
	ErrEmailTaken        = &Error{Code: "EMAIL_ALREADY_EXISTS", Message: "email already in use"}
	ErrInvalidPassword   = &Error{Code: "INVALID_PASSWORD", Message: "invalid password"}
	ErrInvalidCredential = &Error{Code: "INVALID_TOKEN", Message: "invalid token"}
	ErrExpiredCredential = &Error{Code: "EXPIRED_TOKEN", Message: "token expired"}
	ErrRoomNotFound      = &Error{Code: "CHAT_ROOM_NOT_FOUND", Message: "chat room not found"}
	ErrAlreadyJoinedRoom = &Error{Code: "ALREADY_JOINED_ROOM", Message: "already a member of this room"}
	ErrNotRoomMember     = &Error{Code: "NOT_ROOM_MEMBER", Message: "not a member of this room"}
)

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message for err. Errors that are not an
// *Error never leak their text.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps err to the response status the HTTP surface uses for it.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrInvalidInput.Code:
		return http.StatusBadRequest
	case ErrUnauthenticated.Code, ErrInvalidPassword.Code, ErrInvalidCredential.Code, ErrExpiredCredential.Code:
		return http.StatusUnauthorized
	case ErrNotRoomMember.Code:
		return http.StatusForbidden
	case ErrUserNotFound.Code, ErrRoomNotFound.Code:
		return http.StatusNotFound
	case ErrEmailTaken.Code, ErrAlreadyJoinedRoom.Code:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
