package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signTestJWT создает подписанный HS256 токен с указанными claims
func signTestJWT(t *testing.T, email string, roles []string, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":   "user-1",
		"email": email,
		"exp":   expiresAt.Unix(),
	}
	if roles != nil {
		claims["roles"] = roles
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestDefaultValid_Threshold(t *testing.T) {
	now := time.Now()
	threshold := 10 * time.Second

	tests := []struct {
		name      string
		token     TokenInfo
		wantValid bool
	}{
		{
			name:      "empty value",
			token:     TokenInfo{Value: "", ExpiresAt: now.Add(time.Hour).UnixMilli()},
			wantValid: false,
		},
		{
			name:      "well before expiry",
			token:     TokenInfo{Value: "tok", ExpiresAt: now.Add(time.Hour).UnixMilli()},
			wantValid: true,
		},
		{
			// Граница эксклюзивная: ровно threshold до истечения - уже невалиден
			name:      "exactly threshold away",
			token:     TokenInfo{Value: "tok", ExpiresAt: now.Add(threshold).UnixMilli()},
			wantValid: false,
		},
		{
			name:      "just past threshold",
			token:     TokenInfo{Value: "tok", ExpiresAt: now.Add(threshold + time.Second).UnixMilli()},
			wantValid: true,
		},
		{
			name:      "already expired",
			token:     TokenInfo{Value: "tok", ExpiresAt: now.Add(-time.Minute).UnixMilli()},
			wantValid: false,
		},
		{
			// Нет информации о сроке жизни и это не JWT - считаем бессрочным
			name:      "opaque token without expiry",
			token:     TokenInfo{Value: "opaque"},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantValid, defaultValid(tt.token, threshold, now))
		})
	}
}

func TestDefaultValid_JWTExpiryFallback(t *testing.T) {
	now := time.Now()

	expired := signTestJWT(t, "u@example.com", nil, now.Add(-time.Minute))
	fresh := signTestJWT(t, "u@example.com", nil, now.Add(time.Hour))

	assert.False(t, defaultValid(TokenInfo{Value: expired}, 0, now))
	assert.True(t, defaultValid(TokenInfo{Value: fresh}, 0, now))
}

func TestParseAccessClaims(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	value := signTestJWT(t, "admin@example.com", []string{"admin", "editor"}, expiresAt)

	token, err := ParseAccessClaims(value)
	require.NoError(t, err)

	assert.Equal(t, value, token.Value)
	assert.Equal(t, "admin@example.com", token.Email)
	assert.Equal(t, []string{"admin", "editor"}, token.Roles)
	assert.Equal(t, expiresAt.UnixMilli(), token.ExpiresAt)
}

func TestParseAccessClaims_NotAJWT(t *testing.T) {
	_, err := ParseAccessClaims("opaque-token")
	assert.Error(t, err)
}

func TestAccessToken_UnmarshalFlexible(t *testing.T) {
	// Структурная форма
	var structured AccessToken
	err := json.Unmarshal([]byte(`{"value":"v1","email":"a@b.c","expiresAt":123,"roles":["x"]}`), &structured)
	require.NoError(t, err)
	assert.Equal(t, AccessToken{Value: "v1", Email: "a@b.c", ExpiresAt: 123, Roles: []string{"x"}}, structured)

	// Голая строка
	var bare AccessToken
	err = json.Unmarshal([]byte(`"just-a-token"`), &bare)
	require.NoError(t, err)
	assert.Equal(t, "just-a-token", bare.Value)

	// Голая строка с JWT: метаданные поднимаются из claims
	signed := signTestJWT(t, "jwt@example.com", nil, time.Now().Add(time.Hour))
	var fromJWT AccessToken
	err = json.Unmarshal([]byte(`"`+signed+`"`), &fromJWT)
	require.NoError(t, err)
	assert.Equal(t, signed, fromJWT.Value)
	assert.Equal(t, "jwt@example.com", fromJWT.Email)
	assert.NotZero(t, fromJWT.ExpiresAt)
}

func TestRefreshToken_UnmarshalFlexible(t *testing.T) {
	var structured RefreshToken
	err := json.Unmarshal([]byte(`{"value":"r1","expiresAt":456}`), &structured)
	require.NoError(t, err)
	assert.Equal(t, RefreshToken{Value: "r1", ExpiresAt: 456}, structured)

	var bare RefreshToken
	err = json.Unmarshal([]byte(`"r2"`), &bare)
	require.NoError(t, err)
	assert.Equal(t, RefreshToken{Value: "r2"}, bare)
}

func TestCustomValidatorOverride(t *testing.T) {
	c, err := New(Config{
		API: APIConfig{Domain: "example.com"},
		Auth: AuthConfig{
			// Кастомный валидатор полностью заменяет встроенный:
			// даже просроченный токен считается валидным
			Validator: func(kind TokenKind, token TokenInfo, threshold time.Duration) bool {
				return token.Value != ""
			},
		},
	})
	require.NoError(t, err)

	expired := TokenInfo{Value: "tok", ExpiresAt: time.Now().Add(-time.Hour).UnixMilli()}
	assert.True(t, c.validates(KindAccess, expired))
}
