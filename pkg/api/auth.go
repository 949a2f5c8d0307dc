// Package api содержит wire форматы dev сервера. Формы совпадают с тем,
// что ожидает клиентский SDK: session и grant ответы несут userData и
// токены, ошибки несут машинный код и человекочитаемое сообщение.
package api

import "encoding/json"

// SignupRequest представляет запрос на регистрацию нового пользователя
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// LoginRequest представляет запрос на аутентификацию
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenPayload представляет один выданный токен с метаданными
type TokenPayload struct {
	Value     string   `json:"value"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	ExpiresAt int64    `json:"expiresAt,omitempty"` // epoch milliseconds
}

// SessionResponse представляет ответ login/signup/grant endpoints
type SessionResponse struct {
	UserData     json.RawMessage `json:"userData,omitempty"`
	AccessToken  *TokenPayload   `json:"accessToken,omitempty"`
	RefreshToken *TokenPayload   `json:"refreshToken,omitempty"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // машинный код, например ERR_UNAUTHORIZED
	Message string `json:"message,omitempty"` // дополнительное сообщение
}

// Стандартные коды ошибок
const (
	CodeValidation   = "ERR_VALIDATION"
	CodeUnauthorized = "ERR_UNAUTHORIZED"
	CodeConflict     = "ERR_CONFLICT"
	CodeNotFound     = "ERR_NOT_FOUND"
	CodeServer       = "ERR_SERVER"
	CodeRateLimit    = "ERR_RATE_LIMIT"
)
