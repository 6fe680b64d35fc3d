package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/umar/roomrelay/internal/apperror"
	"github.com/umar/roomrelay/internal/models"
	"golang.org/x/crypto/bcrypt"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	// UpdateProfile persists u's nickname and profile image.
	UpdateProfile(ctx context.Context, u *models.User) error
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

const maxNicknameLen = 50

// profileRequest is a partial update: nil fields are left unchanged and an
// empty profile_image_url clears the image.
type profileRequest struct {
	Nickname        *string `json:"nickname"`
	ProfileImageURL *string `json:"profile_image_url"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperror.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{
		"code":    apperror.CodeOf(err),
		"message": apperror.MessageOf(err),
	})
}

func invalid(msg string) error {
	return &apperror.Error{Code: apperror.ErrInvalidInput.Code, Message: msg}
}

func RegisterHandler(users UserStore, tokens *TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, invalid("invalid request body"))
			return
		}

		req.Email = strings.TrimSpace(req.Email)
		req.Nickname = strings.TrimSpace(req.Nickname)

		if req.Email == "" || req.Nickname == "" || req.Password == "" {
			writeError(w, invalid("email, nickname, and password are required"))
			return
		}
		if utf8.RuneCountInString(req.Nickname) > maxNicknameLen {
			writeError(w, invalid("nickname must be at most 50 characters"))
			return
		}
		if _, err := mail.ParseAddress(req.Email); err != nil {
			writeError(w, invalid("invalid email address"))
			return
		}
		if len(req.Password) < 6 {
			writeError(w, invalid("password must be at least 6 characters"))
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, fmt.Errorf("failed to hash password: %w", err))
			return
		}

		user := &models.User{Email: req.Email, Nickname: req.Nickname, PasswordHash: string(hash)}
		if err := users.CreateUser(r.Context(), user); err != nil {
			writeError(w, err)
			return
		}

		token, err := tokens.GenerateToken(user)
		if err != nil {
			writeError(w, err)
			return
		}

		slog.Info("user registered", "user_id", user.ID)
		writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
	}
}

func LoginHandler(users UserStore, tokens *TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, invalid("invalid request body"))
			return
		}

		if req.Email == "" || req.Password == "" {
			writeError(w, invalid("email and password are required"))
			return
		}

		user, err := users.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
		if err != nil {
			writeError(w, err)
			return
		}
		if user == nil {
			writeError(w, apperror.ErrUserNotFound)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			writeError(w, apperror.ErrInvalidPassword)
			return
		}

		token, err := tokens.GenerateToken(user)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
	}
}

func MeHandler(users UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		user, err := users.GetUserByID(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		if user == nil {
			writeError(w, apperror.ErrUserNotFound)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func UpdateProfileHandler(users UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		var req profileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, invalid("invalid request body"))
			return
		}
		if req.Nickname == nil && req.ProfileImageURL == nil {
			writeError(w, invalid("nickname or profile_image_url is required"))
			return
		}

		user, err := users.GetUserByID(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		if user == nil {
			writeError(w, apperror.ErrUserNotFound)
			return
		}

		if req.Nickname != nil {
			nick := strings.TrimSpace(*req.Nickname)
			if nick == "" {
				writeError(w, invalid("nickname must not be blank"))
				return
			}
			if utf8.RuneCountInString(nick) > maxNicknameLen {
				writeError(w, invalid("nickname must be at most 50 characters"))
				return
			}
			user.Nickname = nick
		}
		if req.ProfileImageURL != nil {
			raw := strings.TrimSpace(*req.ProfileImageURL)
			if raw == "" {
				user.ProfileImageURL = nil
			} else {
				if !validImageURL(raw) {
					writeError(w, invalid("profile_image_url must be an absolute http(s) URL"))
					return
				}
				user.ProfileImageURL = &raw
			}
		}

		if err := users.UpdateProfile(r.Context(), user); err != nil {
			writeError(w, err)
			return
		}

		slog.Info("profile updated", "user_id", user.ID)
		writeJSON(w, http.StatusOK, user)
	}
}

func validImageURL(raw string) bool {
	if len(raw) > 512 {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
