package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/apikit/client"
	"github.com/iudanet/apikit/internal/devserver/storage/sqlite"
	"github.com/iudanet/apikit/pkg/api"
	"github.com/iudanet/apikit/realtime"
	clientstorage "github.com/iudanet/apikit/storage"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := New(Config{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Secret:  "test-secret",
		Version: "test",
		// Высокий лимит, чтобы тесты не упирались в rate limiter
		RateLimit: 10000,
	}, store, store)

	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)

	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decodeSession(t *testing.T, resp *http.Response) api.SessionResponse {
	t.Helper()

	var session api.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	return session
}

func TestSignupFlow(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/auth/signup", api.SignupRequest{
		Email:    "u@example.com",
		Password: "secret",
		Name:     "User",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	session := decodeSession(t, resp)
	require.NotNil(t, session.AccessToken)
	require.NotNil(t, session.RefreshToken)
	assert.Equal(t, "u@example.com", session.AccessToken.Email)
	assert.Greater(t, session.AccessToken.ExpiresAt, time.Now().UnixMilli())
	assert.JSONEq(t, `{"email":"u@example.com"}`, onlyEmail(t, session.UserData))

	// Повторная регистрация того же email отклоняется
	resp = postJSON(t, ts.URL+"/auth/signup", api.SignupRequest{
		Email:    "u@example.com",
		Password: "other",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var errResp api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, api.CodeConflict, errResp.Error)
}

// onlyEmail выделяет поле email из userData для сравнения
func onlyEmail(t *testing.T, userData json.RawMessage) string {
	t.Helper()

	var profile map[string]any
	require.NoError(t, json.Unmarshal(userData, &profile))
	out, err := json.Marshal(map[string]any{"email": profile["email"]})
	require.NoError(t, err)
	return string(out)
}

func TestLoginAndProfile(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/auth/signup", api.SignupRequest{
		Email:    "u@example.com",
		Password: "secret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Неверный пароль
	resp = postJSON(t, ts.URL+"/auth/login", api.LoginRequest{
		Email:    "u@example.com",
		Password: "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Верные учетные данные
	resp = postJSON(t, ts.URL+"/auth/login", api.LoginRequest{
		Email:    "u@example.com",
		Password: "secret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := decodeSession(t, resp)
	require.NotNil(t, session.AccessToken)

	// Профиль по access токену
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/users/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken.Value)

	profileResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = profileResp.Body.Close() }()
	require.Equal(t, http.StatusOK, profileResp.StatusCode)

	var profile map[string]any
	require.NoError(t, json.NewDecoder(profileResp.Body).Decode(&profile))
	assert.Equal(t, "u@example.com", profile["email"])

	// Без токена профиль недоступен
	noAuth, err := http.Get(ts.URL + "/users/me")
	require.NoError(t, err)
	defer func() { _ = noAuth.Body.Close() }()
	require.Equal(t, http.StatusUnauthorized, noAuth.StatusCode)
}

func TestGrantAndLogout(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/auth/signup", api.SignupRequest{
		Email:    "u@example.com",
		Password: "secret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	session := decodeSession(t, resp)

	// Grant по refresh токену в заголовке
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/auth/token", nil)
	require.NoError(t, err)
	req.Header.Set("X-Refresh-Token", session.RefreshToken.Value)

	grantResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = grantResp.Body.Close() }()
	require.Equal(t, http.StatusOK, grantResp.StatusCode)

	granted := decodeSession(t, grantResp)
	require.NotNil(t, granted.AccessToken)
	assert.NotEmpty(t, granted.AccessToken.Value)

	// Logout удаляет refresh токены
	logoutReq, err := http.NewRequest(http.MethodPost, ts.URL+"/auth/logout", nil)
	require.NoError(t, err)
	logoutReq.Header.Set("Authorization", "Bearer "+session.AccessToken.Value)

	logoutResp, err := http.DefaultClient.Do(logoutReq)
	require.NoError(t, err)
	defer func() { _ = logoutResp.Body.Close() }()
	require.Equal(t, http.StatusNoContent, logoutResp.StatusCode)

	// После logout grant по старому refresh токену отклоняется
	retry, err := http.NewRequest(http.MethodPost, ts.URL+"/auth/token", nil)
	require.NoError(t, err)
	retry.Header.Set("X-Refresh-Token", session.RefreshToken.Value)

	retryResp, err := http.DefaultClient.Do(retry)
	require.NoError(t, err)
	defer func() { _ = retryResp.Body.Close() }()
	require.Equal(t, http.StatusUnauthorized, retryResp.StatusCode)
}

// Полный цикл через клиентский SDK: login, профиль, realtime, logout
func TestClientSDKIntegration(t *testing.T) {
	_, ts := newTestServer(t)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/auth/signup", api.SignupRequest{
		Email:    "sdk@example.com",
		Password: "secret",
		Name:     "SDK User",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	store := clientstorage.NewMemory()
	cfg := client.Config{
		API:   client.APIConfig{Domain: host, Port: port},
		Store: store,
		Realtime: &realtime.Config{
			Domain:        host,
			Port:          port,
			Namespace:     "events",
			RetryInterval: 20 * time.Millisecond,
		},
	}
	cfg.Auth.FetchProfile = client.Static(client.Descriptor{URL: "users/me", WithAccessToken: true})
	cfg.Auth.Login = client.Static(client.Descriptor{URL: "auth/login", Method: http.MethodPost})
	cfg.Auth.Logout = client.Static(client.Descriptor{URL: "auth/logout", Method: http.MethodPost, WithAccessToken: true})
	cfg.Auth.GrantAccessToken = client.Static(client.Descriptor{
		URL:              "auth/token",
		Method:           http.MethodPost,
		WithRefreshToken: true,
	})
	cfg.Auth.RefreshHeader = "X-Refresh-Token"

	c, err := client.New(cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	c.Load(context.Background())

	require.False(t, c.HasAuth())

	user, err := c.Login(context.Background(), api.LoginRequest{
		Email:    "sdk@example.com",
		Password: "secret",
	})
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, c.HasAuth())

	// Профиль через обычный запрос с access токеном
	profileRaw, err := c.Get(context.Background(), "users/me", nil)
	require.NoError(t, err)

	var profile map[string]any
	require.NoError(t, json.Unmarshal(profileRaw, &profile))
	assert.Equal(t, "sdk@example.com", profile["email"])

	// Realtime канал поднялся и получил версию сервера
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state := c.Realtime().State(); state.IsConnected && state.Version == "test" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	state := c.Realtime().State()
	assert.True(t, state.IsConnected)
	assert.Equal(t, "test", state.Version)

	// Сохраняем refresh токен до logout, чтобы проверить отзыв на сервере
	var stored struct {
		Value string `json:"value"`
	}
	raw, err := store.Get(context.Background(), "refreshToken")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.NotEmpty(t, stored.Value)

	require.NoError(t, c.Logout(context.Background()))
	assert.False(t, c.HasAuth())

	// Logout прошел на сервере: старый refresh токен больше не работает
	revoked, err := http.NewRequest(http.MethodPost, ts.URL+"/auth/token", nil)
	require.NoError(t, err)
	revoked.Header.Set("X-Refresh-Token", stored.Value)

	revokedResp, err := http.DefaultClient.Do(revoked)
	require.NoError(t, err)
	defer func() { _ = revokedResp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, revokedResp.StatusCode)
}
