package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/apikit/internal/crypto"
	"github.com/iudanet/apikit/internal/devserver/jwt"
	"github.com/iudanet/apikit/internal/devserver/storage"
	"github.com/iudanet/apikit/pkg/api"
)

// AuthHandler обрабатывает запросы авторизации
type AuthHandler struct {
	logger *slog.Logger
	users  storage.UserStore
	tokens storage.TokenStore
	jwtCfg jwt.Config
}

// NewAuthHandler создает новый handler для авторизации
func NewAuthHandler(logger *slog.Logger, users storage.UserStore, tokens storage.TokenStore, jwtCfg jwt.Config) *AuthHandler {
	return &AuthHandler{
		logger: logger,
		users:  users,
		tokens: tokens,
		jwtCfg: jwtCfg,
	}
}

// Signup обрабатывает POST /auth/signup
// Регистрация нового пользователя, сразу открывает сессию
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.ErrorContext(ctx, "failed to decode signup request", slog.Any("error", err))
		sendError(h.logger, w, api.CodeValidation, "invalid request body", http.StatusBadRequest)
		return
	}

	if !strings.Contains(req.Email, "@") {
		sendError(h.logger, w, api.CodeValidation, "a valid email is required", http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		sendError(h.logger, w, api.CodeValidation, "password is required", http.StatusBadRequest)
		return
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate salt", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	hash, err := crypto.DeriveKey(req.Password, salt)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	user := &storage.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: base64.StdEncoding.EncodeToString(hash),
		Salt:         base64.StdEncoding.EncodeToString(salt),
		Roles:        []string{"user"},
		CreatedAt:    time.Now(),
	}

	if err := h.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			h.logger.WarnContext(ctx, "user already exists", slog.String("email", req.Email))
			sendError(h.logger, w, api.CodeConflict, "email already taken", http.StatusConflict)
			return
		}
		h.logger.ErrorContext(ctx, "failed to create user", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "user registered successfully",
		slog.String("email", req.Email),
		slog.String("user_id", user.ID))

	h.openSession(ctx, w, user, http.StatusCreated)
}

// Login обрабатывает POST /auth/login
// Аутентификация пользователя
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.ErrorContext(ctx, "failed to decode login request", slog.Any("error", err))
		sendError(h.logger, w, api.CodeValidation, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			h.logger.WarnContext(ctx, "login failed: user not found", slog.String("email", req.Email))
			sendError(h.logger, w, api.CodeUnauthorized, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	if !h.verifyPassword(user, req.Password) {
		h.logger.WarnContext(ctx, "login failed: invalid password", slog.String("email", req.Email))
		sendError(h.logger, w, api.CodeUnauthorized, "invalid credentials", http.StatusUnauthorized)
		return
	}

	now := time.Now()
	if err := h.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		// Не критичная ошибка, логируем но не прерываем
		h.logger.WarnContext(ctx, "failed to update last login", slog.Any("error", err))
	}

	h.logger.InfoContext(ctx, "user logged in successfully",
		slog.String("email", req.Email),
		slog.String("user_id", user.ID))

	h.openSession(ctx, w, user, http.StatusOK)
}

// Grant обрабатывает POST /auth/token
// Выдача нового access token по refresh token
func (h *AuthHandler) Grant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	refreshValue := extractRefreshToken(r)
	if refreshValue == "" {
		sendError(h.logger, w, api.CodeUnauthorized, "refresh token is required", http.StatusUnauthorized)
		return
	}

	stored, err := h.tokens.GetRefreshToken(ctx, refreshValue)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			h.logger.WarnContext(ctx, "refresh token not found")
			sendError(h.logger, w, api.CodeUnauthorized, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get refresh token", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	if time.Now().After(stored.ExpiresAt) {
		h.logger.WarnContext(ctx, "refresh token expired", slog.String("user_id", stored.UserID))
		sendError(h.logger, w, api.CodeUnauthorized, "refresh token expired", http.StatusUnauthorized)
		return
	}

	user, err := h.users.GetUserByID(ctx, stored.UserID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	accessToken, expiresAt, err := jwt.GenerateAccessToken(h.jwtCfg, user.ID, user.Email, user.Roles)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate access token", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "access token granted", slog.String("user_id", user.ID))

	resp := api.SessionResponse{
		AccessToken: &api.TokenPayload{
			Value:     accessToken,
			Email:     user.Email,
			Roles:     user.Roles,
			ExpiresAt: expiresAt,
		},
	}
	sendJSON(h.logger, w, resp, http.StatusOK)
}

// Logout обрабатывает POST /auth/logout
// Выход пользователя (удаление всех refresh tokens)
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accessToken := bearerToken(r)
	if accessToken == "" {
		sendError(h.logger, w, api.CodeUnauthorized, "Authorization header is required", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateAccessToken(h.jwtCfg, accessToken)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid access token", slog.Any("error", err))
		sendError(h.logger, w, api.CodeUnauthorized, "invalid or expired access token", http.StatusUnauthorized)
		return
	}

	deletedCount, err := h.tokens.DeleteUserTokens(ctx, claims.Subject)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to delete user tokens", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "user logged out successfully",
		slog.String("user_id", claims.Subject),
		slog.Int("tokens_deleted", deletedCount))

	w.WriteHeader(http.StatusNoContent)
}

// openSession выдает пару токенов и отправляет session ответ
func (h *AuthHandler) openSession(ctx context.Context, w http.ResponseWriter, user *storage.User, statusCode int) {
	accessToken, expiresAt, err := jwt.GenerateAccessToken(h.jwtCfg, user.ID, user.Email, user.Roles)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate access token", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	refreshToken, refreshExpiresAt, err := jwt.GenerateRefreshToken(h.jwtCfg)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate refresh token", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	token := &storage.RefreshToken{
		Token:     refreshToken,
		UserID:    user.ID,
		ExpiresAt: refreshExpiresAt,
		CreatedAt: time.Now(),
	}
	if err := h.tokens.SaveRefreshToken(ctx, token); err != nil {
		h.logger.ErrorContext(ctx, "failed to save refresh token", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.SessionResponse{
		UserData: userData(user),
		AccessToken: &api.TokenPayload{
			Value:     accessToken,
			Email:     user.Email,
			Roles:     user.Roles,
			ExpiresAt: expiresAt,
		},
		RefreshToken: &api.TokenPayload{
			Value:     refreshToken,
			ExpiresAt: refreshExpiresAt.UnixMilli(),
		},
	}
	sendJSON(h.logger, w, resp, statusCode)
}

// verifyPassword сравнивает пароль с сохраненным argon2id хешем
func (h *AuthHandler) verifyPassword(user *storage.User, password string) bool {
	salt, err := base64.StdEncoding.DecodeString(user.Salt)
	if err != nil {
		return false
	}
	stored, err := base64.StdEncoding.DecodeString(user.PasswordHash)
	if err != nil {
		return false
	}

	derived, err := crypto.DeriveKey(password, salt)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(derived, stored) == 1
}

// userData собирает публичный профиль пользователя
func userData(user *storage.User) json.RawMessage {
	profile := map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"roles": user.Roles,
	}
	if user.Name != "" {
		profile["name"] = user.Name
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return nil
	}
	return data
}

// extractRefreshToken достает refresh token из заголовка, query параметра
// или Authorization header - все три варианта, которые умеет слать SDK
func extractRefreshToken(r *http.Request) string {
	if value := r.Header.Get("X-Refresh-Token"); value != "" {
		return value
	}
	if value := r.URL.Query().Get("refresh_token"); value != "" {
		return value
	}
	return bearerToken(r)
}

// bearerToken извлекает токен из Authorization: Bearer заголовка
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if len(authHeader) <= len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return authHeader[len(bearerPrefix):]
}
