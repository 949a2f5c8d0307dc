// Package client implements the unified API client: token lifecycle with
// single-flight consolidation, a declarative request pipeline with
// credential attachment and error normalization, a derived-auth state
// machine, and optional wiring of a realtime event channel. Instances are
// created by an explicit factory; there is no package-level singleton, so
// tests can run independent clients side by side.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iudanet/apikit/deferred"
	"github.com/iudanet/apikit/logging"
	"github.com/iudanet/apikit/pubsub"
	"github.com/iudanet/apikit/realtime"
	"github.com/iudanet/apikit/storage"
)

// KeyChange re-exports the storage change type for OnKeyChange callbacks.
type KeyChange = storage.KeyChange

// Client owns all mutable auth state. Internals are mutated exclusively by
// its own methods; every external read returns a snapshot or derived value.
type Client struct {
	cfg       Config
	log       *slog.Logger
	transport Transport
	keys      *storage.KeyStore

	stateSubs *pubsub.Registry[State]
	tokenSubs *pubsub.Registry[Tokens]

	rt *realtime.Channel

	loadOnce sync.Once

	mu              sync.Mutex
	access          *AccessToken
	refresh         *RefreshToken
	user            json.RawMessage
	inflight        map[TokenKind]*deferred.Deferred[string]
	pendingRequests int
	loaded          bool
}

// New creates a client from the config. No I/O happens here; call Load to
// run initialization (profile fetch and session restore).
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		log:       cfg.Logger.With(logging.SubsystemKey, "client"),
		transport: cfg.Transport,
		keys:      storage.NewKeyStore(cfg.Store),
		stateSubs: pubsub.New[State](),
		tokenSubs: pubsub.New[Tokens](),
		inflight:  make(map[TokenKind]*deferred.Deferred[string]),
	}

	if cfg.Realtime != nil {
		cfg.Realtime.Logger = cfg.Logger.With(logging.SubsystemKey, "realtime")
		c.rt = realtime.New(*cfg.Realtime, c.realtimePredicate())
	}

	return c, nil
}

// NewLoaded creates a client and runs initialization before returning it.
func NewLoaded(ctx context.Context, cfg Config) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	c.Load(ctx)
	return c, nil
}

// Load runs initialization: it tries to restore a session by fetching the
// user profile, purges auth state when no session exists, and marks the
// client loaded. Profile fetch failures are swallowed and treated as "no
// session" - Load never fails. The loaded flag transitions once; repeated
// calls are no-ops, including concurrent ones: initialization runs exactly
// once and concurrent callers block until the single run completes.
func (c *Client) Load(ctx context.Context) {
	c.loadOnce.Do(func() { c.load(ctx) })
}

func (c *Client) load(ctx context.Context) {
	profile, err := c.fetchProfile(ctx)
	if err != nil {
		c.log.Debug("no session during initialization", "error", err)
	}

	if profile == nil {
		// Нет сессии: подчищаем все авторизационные данные
		c.resetAuth(ctx)
	} else {
		c.setUser(ctx, profile)
	}

	c.mu.Lock()
	c.loaded = true
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	// Первая публикация состояния: до этого момента уведомления подавлены
	c.stateSubs.Publish(snapshot)
	c.reconcileRealtime()
}

// fetchProfile obtains the current user profile through the configured
// override or the FetchProfile descriptor. Returns (nil, nil) when no
// profile source is configured.
func (c *Client) fetchProfile(ctx context.Context) (json.RawMessage, error) {
	if c.cfg.Auth.ProfileLoader != nil {
		return c.cfg.Auth.ProfileLoader(ctx, c)
	}

	if c.cfg.Auth.FetchProfile == nil {
		return nil, nil
	}

	body, err := c.Request(ctx, c.cfg.Auth.FetchProfile())
	if err != nil {
		return nil, err
	}
	return body, nil
}

// User returns the last known user profile, or nil.
func (c *Client) User() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Login authenticates with the configured login descriptor. credentials
// replace the descriptor body when non-nil. On success the returned session
// (tokens and profile) is consolidated and persisted.
func (c *Client) Login(ctx context.Context, credentials any) (json.RawMessage, error) {
	return c.establishSession(ctx, c.cfg.Auth.Login, "login", credentials)
}

// Signup registers a new account via the configured signup descriptor and
// consolidates the returned session exactly like Login.
func (c *Client) Signup(ctx context.Context, credentials any) (json.RawMessage, error) {
	return c.establishSession(ctx, c.cfg.Auth.Signup, "signup", credentials)
}

func (c *Client) establishSession(ctx context.Context, endpoint Endpoint, name string, credentials any) (json.RawMessage, error) {
	if endpoint == nil {
		return nil, fmt.Errorf("%s descriptor is not configured", name)
	}

	desc := endpoint()
	if credentials != nil {
		desc.Body = credentials
	}

	body, err := c.Request(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}

	var payload grantPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", name, err)
	}

	if payload.AccessToken != nil {
		if _, err := c.consolidateAccess(ctx, payload.AccessToken); err != nil {
			return nil, fmt.Errorf("failed to consolidate access token: %w", err)
		}
	}
	if payload.RefreshToken != nil {
		if _, err := c.consolidateRefresh(ctx, payload.RefreshToken); err != nil {
			return nil, fmt.Errorf("failed to consolidate refresh token: %w", err)
		}
	}

	user := payload.UserData
	if user == nil {
		// Ответ без userData: профиль добираем отдельным запросом
		user, err = c.fetchProfile(ctx)
		if err != nil {
			c.log.Debug("failed to fetch profile after session", "error", err)
		}
	}
	c.setUser(ctx, user)

	return user, nil
}

// Logout notifies the server through the configured logout descriptor (best
// effort, a failure there never blocks the local logout) and purges all
// auth state.
func (c *Client) Logout(ctx context.Context) error {
	if c.cfg.Auth.Logout != nil {
		if _, err := c.Request(ctx, c.cfg.Auth.Logout()); err != nil {
			// Не прерываем logout, если сервер недоступен
			c.log.Warn("failed to logout on server", "error", err)
		}
	}

	c.resetAuth(ctx)
	return nil
}

// ReloadUser re-fetches the user profile and replaces the stored one.
func (c *Client) ReloadUser(ctx context.Context) (json.RawMessage, error) {
	profile, err := c.fetchProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reload user: %w", err)
	}

	c.setUser(ctx, profile)
	return profile, nil
}

// SetUser replaces the user profile manually. A nil profile clears it and
// deletes the persisted field.
func (c *Client) SetUser(ctx context.Context, profile json.RawMessage) {
	c.setUser(ctx, profile)
}

// setUser updates userData, write-through persists it, notifies state
// subscribers, and reconciles the realtime channel.
func (c *Client) setUser(ctx context.Context, profile json.RawMessage) {
	if profile == nil {
		if err := c.keys.DeleteKey(ctx, c.cfg.Keys.UserData); err != nil {
			c.log.Warn("failed to delete persisted user data", "error", err)
		}
	} else {
		if err := c.keys.SetKey(ctx, c.cfg.Keys.UserData, profile); err != nil {
			c.log.Warn("failed to persist user data", "error", err)
		}
	}

	c.mu.Lock()
	c.user = profile
	c.mu.Unlock()

	c.notifyState()
	c.reconcileRealtime()
}

// resetAuth purges everything: in-memory tokens, the three persisted
// fields, and the user profile. Called on unrecoverable token failure and
// on logout.
func (c *Client) resetAuth(ctx context.Context) {
	if _, err := c.consolidateAccess(ctx, nil); err != nil {
		c.log.Warn("failed to clear access token", "error", err)
	}
	if _, err := c.consolidateRefresh(ctx, nil); err != nil {
		c.log.Warn("failed to clear refresh token", "error", err)
	}

	c.setUser(ctx, nil)
}

// Realtime returns the managed event channel, or nil when not configured.
func (c *Client) Realtime() *realtime.Channel {
	return c.rt
}

// realtimePredicate adapts the configured existence predicate to the
// channel's parameterless form. Default: the channel should exist while the
// client holds an authenticated session.
func (c *Client) realtimePredicate() func() bool {
	return func() bool {
		state := c.State()
		if !state.IsLoaded {
			return false
		}
		if c.cfg.RealtimeWhen != nil {
			return c.cfg.RealtimeWhen(state)
		}
		return state.HasAuth
	}
}

func (c *Client) reconcileRealtime() {
	if c.rt != nil {
		c.rt.Reconcile()
	}
}

// Close releases the realtime channel and the storage backend.
func (c *Client) Close() error {
	if c.rt != nil {
		if err := c.rt.Close(); err != nil {
			c.log.Warn("failed to close realtime channel", "error", err)
		}
	}
	return c.keys.Store().Close()
}
