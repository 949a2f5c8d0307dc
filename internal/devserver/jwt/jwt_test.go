package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Secret:     []byte("test-secret-key"),
		Issuer:     "apikit-dev",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	cfg := testConfig()

	token, expiresAt, err := GenerateAccessToken(cfg, "user-1", "u@example.com", []string{"admin"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Срок действия в миллисекундах и в пределах TTL
	assert.Greater(t, expiresAt, time.Now().UnixMilli())
	assert.LessOrEqual(t, expiresAt, time.Now().Add(cfg.AccessTTL).UnixMilli())

	claims, err := ValidateAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "u@example.com", claims.Email)
	assert.Equal(t, []string{"admin"}, claims.Roles)
	assert.Equal(t, "apikit-dev", claims.Issuer)
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	cfg := testConfig()

	token, _, err := GenerateAccessToken(cfg, "user-1", "u@example.com", nil)
	require.NoError(t, err)

	other := cfg
	other.Secret = []byte("different-secret")

	_, err = ValidateAccessToken(other, token)
	require.Error(t, err)
}

func TestValidateAccessToken_Expired(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = -time.Minute

	token, _, err := GenerateAccessToken(cfg, "user-1", "u@example.com", nil)
	require.NoError(t, err)

	_, err = ValidateAccessToken(cfg, token)
	require.Error(t, err)
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	_, err := ValidateAccessToken(testConfig(), "not.a.token")
	require.Error(t, err)
}

func TestGenerateRefreshToken_Unique(t *testing.T) {
	cfg := testConfig()

	first, expiresAt, err := GenerateRefreshToken(cfg)
	require.NoError(t, err)
	second, _, err := GenerateRefreshToken(cfg)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, expiresAt.After(time.Now()))
}
