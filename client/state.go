package client

import (
	"encoding/json"
	"time"
)

// State is the observable client state. HasAuth is derived from the user
// profile and token validity at snapshot time, it is never stored
// independently, so it cannot drift out of sync with the tokens.
type State struct {
	User                json.RawMessage
	IsLoaded            bool
	IsPerformingRequest bool
	HasAuth             bool
}

// snapshotLocked builds a State snapshot. Callers hold c.mu.
func (c *Client) snapshotLocked() State {
	return State{
		User:                c.user,
		IsLoaded:            c.loaded,
		IsPerformingRequest: c.pendingRequests > 0,
		HasAuth:             c.hasAuthLocked(),
	}
}

// hasAuthLocked computes the derived auth flag: user profile present and the
// access token (plus the refresh token when configured) currently validates.
func (c *Client) hasAuthLocked() bool {
	if c.user == nil {
		return false
	}
	if !c.validates(KindAccess, c.tokenInfoLocked(KindAccess)) {
		return false
	}
	if c.cfg.Auth.RequireValidRefresh && !c.validates(KindRefresh, c.tokenInfoLocked(KindRefresh)) {
		return false
	}
	return true
}

// State returns the current state snapshot.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// HasAuth reports whether the client currently holds an authenticated
// session. Recomputed on every call.
func (c *Client) HasAuth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasAuthLocked()
}

// OnStateChange subscribes to state snapshots. Notifications start only
// after initialization completes; mutations before IsLoaded never leak.
func (c *Client) OnStateChange(fn func(State)) func() {
	return c.stateSubs.Subscribe(fn)
}

// OnTokensChange subscribes to token pair changes. A change to either token
// is observable exactly once per change.
func (c *Client) OnTokensChange(fn func(Tokens)) func() {
	return c.tokenSubs.Subscribe(fn)
}

// OnKeyChange subscribes to changes of one persisted storage key.
func (c *Client) OnKeyChange(key string, fn func(change KeyChange)) func() {
	return c.keys.Subscribe(key, fn)
}

// notifyState publishes the current snapshot unless initialization is still
// in progress.
func (c *Client) notifyState() {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.stateSubs.Publish(snapshot)
}

// beginRequest marks one request in flight when tracking is enabled.
func (c *Client) beginRequest() {
	if !c.cfg.TrackRequests {
		return
	}

	c.mu.Lock()
	c.pendingRequests++
	c.mu.Unlock()
	c.notifyState()
}

// endRequest clears the in-flight mark set by beginRequest.
func (c *Client) endRequest() {
	if !c.cfg.TrackRequests {
		return
	}

	c.mu.Lock()
	if c.pendingRequests > 0 {
		c.pendingRequests--
	}
	c.mu.Unlock()
	c.notifyState()
}

// validates applies the configured validator, or the built-in check, to one
// token slot.
func (c *Client) validates(kind TokenKind, info TokenInfo) bool {
	threshold := c.threshold(kind)

	// Кастомный валидатор полностью заменяет встроенную проверку
	if c.cfg.Auth.Validator != nil {
		return c.cfg.Auth.Validator(kind, info, threshold)
	}
	return defaultValid(info, threshold, time.Now())
}

func (c *Client) threshold(kind TokenKind) time.Duration {
	if kind == KindRefresh {
		return c.cfg.Auth.RefreshValidity
	}
	return c.cfg.Auth.AccessValidity
}

// tokenInfoLocked returns the validator view of one in-memory token slot.
// Callers hold c.mu.
func (c *Client) tokenInfoLocked(kind TokenKind) TokenInfo {
	switch kind {
	case KindRefresh:
		if c.refresh == nil {
			return TokenInfo{}
		}
		return TokenInfo{Value: c.refresh.Value, ExpiresAt: c.refresh.ExpiresAt}
	default:
		if c.access == nil {
			return TokenInfo{}
		}
		return TokenInfo{Value: c.access.Value, ExpiresAt: c.access.ExpiresAt}
	}
}
