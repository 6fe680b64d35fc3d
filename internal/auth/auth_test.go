package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umar/roomrelay/internal/apperror"
	"github.com/umar/roomrelay/internal/gormstore"
	"github.com/umar/roomrelay/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokenService("secret", time.Hour)
	token, err := tokens.GenerateToken(&models.User{ID: 7, Nickname: "alice"})
	require.NoError(t, err)

	claims, err := tokens.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "alice", claims.Nickname)
}

func TestValidateTokenFailures(t *testing.T) {
	tokens := NewTokenService("secret", time.Hour)
	expired := &TokenService{secret: []byte("secret"), ttl: -time.Minute}
	other := NewTokenService("other-secret", time.Hour)

	expiredToken, err := expired.GenerateToken(&models.User{ID: 1})
	require.NoError(t, err)
	foreignToken, err := other.GenerateToken(&models.User{ID: 1})
	require.NoError(t, err)
	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tcases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: apperror.ErrUnauthenticated},
		{name: "garbage", token: "not-a-token", want: apperror.ErrInvalidCredential},
		{name: "expired", token: expiredToken, want: apperror.ErrExpiredCredential},
		{name: "wrong secret", token: foreignToken, want: apperror.ErrInvalidCredential},
		{name: "alg none", token: noneToken, want: apperror.ErrInvalidCredential},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tokens.ValidateToken(tc.token)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestJWTMiddleware(t *testing.T) {
	tokens := NewTokenService("secret", time.Hour)
	token, err := tokens.GenerateToken(&models.User{ID: 42})
	require.NoError(t, err)

	var seen int64
	h := JWTMiddleware(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), seen)

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"code":"UNAUTHORIZED","message":"authentication required"}`, rec.Body.String())

	_, err = UserIDFromContext(context.Background())
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
}

func postJSON(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data)))
	return rec
}

func TestRegisterLoginMe(t *testing.T) {
	store, err := gormstore.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	tokens := NewTokenService("secret", time.Hour)

	register := RegisterHandler(store, tokens)
	login := LoginHandler(store, tokens)

	rec := postJSON(t, register, map[string]string{"email": "a@example.com", "password": "secret1", "nickname": "alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.User.Nickname)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = postJSON(t, register, map[string]string{"email": "a@example.com", "password": "secret1", "nickname": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "EMAIL_ALREADY_EXISTS")

	rec = postJSON(t, register, map[string]string{"email": "b@example.com", "password": "123", "nickname": "bob"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, login, map[string]string{"email": "a@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_PASSWORD")

	rec = postJSON(t, login, map[string]string{"email": "nobody@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = postJSON(t, login, map[string]string{"email": "a@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	me := JWTMiddleware(tokens)(MeHandler(store))
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	me.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"nickname":"alice"`)
}

func TestUpdateProfile(t *testing.T) {
	store, err := gormstore.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	tokens := NewTokenService("secret", time.Hour)

	user := &models.User{Email: "p@example.com", Nickname: "pat", PasswordHash: "x"}
	require.NoError(t, store.CreateUser(context.Background(), user))
	token, err := tokens.GenerateToken(user)
	require.NoError(t, err)

	h := JWTMiddleware(tokens)(UpdateProfileHandler(store))
	patch := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/users/me", bytes.NewBufferString(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "empty body", body: `{}`, status: http.StatusBadRequest},
		{name: "malformed json", body: `{`, status: http.StatusBadRequest},
		{name: "blank nickname", body: `{"nickname":"   "}`, status: http.StatusBadRequest},
		{name: "long nickname", body: `{"nickname":"` + strings.Repeat("n", 51) + `"}`, status: http.StatusBadRequest},
		{name: "relative url", body: `{"profile_image_url":"/img.png"}`, status: http.StatusBadRequest},
		{name: "unsupported scheme", body: `{"profile_image_url":"ftp://example.com/a.png"}`, status: http.StatusBadRequest},
		{name: "both fields", body: `{"nickname":" patty ","profile_image_url":"https://cdn.example.com/p.png"}`, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := patch(tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	got, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "patty", got.Nickname)
	require.NotNil(t, got.ProfileImageURL)
	assert.Equal(t, "https://cdn.example.com/p.png", *got.ProfileImageURL)

	rec := patch(`{"profile_image_url":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"profile_image_url":null`)
	assert.Contains(t, rec.Body.String(), `"nickname":"patty"`)
}
