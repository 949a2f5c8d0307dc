package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iudanet/apikit/deferred"
)

// GetAccessToken returns a currently valid access token value, consolidating
// it from memory, storage, or the grant endpoint. Concurrent calls while an
// acquisition is in flight coalesce onto the same result.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	return c.getToken(ctx, KindAccess)
}

// GetRefreshToken returns a currently valid refresh token value, with the
// same coalescing behavior as GetAccessToken.
func (c *Client) GetRefreshToken(ctx context.Context) (string, error) {
	return c.getToken(ctx, KindRefresh)
}

// Tokens returns a snapshot of the current in-memory token pair.
func (c *Client) Tokens() Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Tokens{Access: c.access, Refresh: c.refresh}
}

// getToken is the single-flight entry point of the acquisition engine.
// The first caller per token kind opens an in-flight slot and performs the
// acquisition; every caller arriving before settlement waits on the same
// Deferred and observes the same value or rejection.
func (c *Client) getToken(ctx context.Context, kind TokenKind) (string, error) {
	c.mu.Lock()
	if d := c.inflight[kind]; d != nil {
		c.mu.Unlock()
		return d.Result(ctx)
	}

	d := deferred.New[string]()
	c.inflight[kind] = d
	c.mu.Unlock()

	value, err := c.acquireToken(ctx, kind)

	// Сначала settle, потом очищаем слот: ожидающие получают результат,
	// а новый вызов после очистки начнет свежий цикл
	if err != nil {
		d.Reject(err)
	} else {
		d.Resolve(value)
	}

	c.mu.Lock()
	delete(c.inflight, kind)
	c.mu.Unlock()

	return value, err
}

// acquireToken walks the source chain: in-memory token, persisted token,
// extractor (refresh only), remote grant.
func (c *Client) acquireToken(ctx context.Context, kind TokenKind) (string, error) {
	// 1. Токен в памяти
	c.mu.Lock()
	info := c.tokenInfoLocked(kind)
	c.mu.Unlock()

	if c.validates(kind, info) {
		return info.Value, nil
	}

	// 2. Токен в хранилище
	if kind == KindAccess {
		if tok := c.loadStoredAccess(ctx); tok != nil &&
			c.validates(kind, TokenInfo{Value: tok.Value, ExpiresAt: tok.ExpiresAt}) {
			return c.consolidateAccess(ctx, tok)
		}
	} else {
		if tok := c.loadStoredRefresh(ctx); tok != nil &&
			c.validates(kind, TokenInfo{Value: tok.Value, ExpiresAt: tok.ExpiresAt}) {
			return c.consolidateRefresh(ctx, tok)
		}
	}

	// 3. Внешний источник refresh токена (для access не применяется)
	if kind == KindRefresh && c.cfg.Auth.RefreshTokenExtractor != nil {
		if value, cleanup, ok := c.cfg.Auth.RefreshTokenExtractor(ctx); ok && value != "" {
			consolidated, err := c.consolidateRefresh(ctx, &RefreshToken{Value: value})
			if err != nil {
				return "", err
			}
			if cleanup != nil {
				cleanup()
			}
			return consolidated, nil
		}
	}

	// 4. Удаленный grant endpoint
	endpoint := c.grantEndpoint(kind)
	if endpoint == nil {
		return "", fmt.Errorf("%w for %s token", ErrNoAcquisitionMethod, kind)
	}

	desc := endpoint()
	if (kind == KindAccess && desc.WithAccessToken) || (kind == KindRefresh && desc.WithRefreshToken) {
		return "", fmt.Errorf("%w (%s)", ErrRecursiveGrant, kind)
	}

	body, err := c.Request(ctx, desc)
	if err != nil {
		if c.cfg.Auth.InvalidateOnError {
			c.log.Warn("token grant failed, invalidating auth state", "kind", kind, "error", err)
			c.resetAuth(ctx)
		}
		return "", fmt.Errorf("%s token grant failed: %w", kind, err)
	}

	var payload grantPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode %s token grant response: %w", kind, err)
	}

	if kind == KindAccess {
		if payload.AccessToken == nil || payload.AccessToken.Value == "" {
			return "", fmt.Errorf("access token grant response carries no token")
		}
		return c.consolidateAccess(ctx, payload.AccessToken)
	}

	if payload.RefreshToken == nil || payload.RefreshToken.Value == "" {
		return "", fmt.Errorf("refresh token grant response carries no token")
	}
	return c.consolidateRefresh(ctx, payload.RefreshToken)
}

// grantEndpoint returns the configured grant descriptor source for a kind.
func (c *Client) grantEndpoint(kind TokenKind) Endpoint {
	if kind == KindRefresh {
		return c.cfg.Auth.GrantRefreshToken
	}
	return c.cfg.Auth.GrantAccessToken
}

// loadStoredAccess reads the persisted access token. Read failures are
// logged and treated as a miss so the grant chain continues.
func (c *Client) loadStoredAccess(ctx context.Context) *AccessToken {
	var tok AccessToken
	found, err := c.keys.GetKey(ctx, c.cfg.Keys.AccessToken, &tok)
	if err != nil {
		c.log.Debug("failed to load persisted access token", "error", err)
		return nil
	}
	if !found {
		return nil
	}
	return &tok
}

// loadStoredRefresh reads the persisted refresh token.
func (c *Client) loadStoredRefresh(ctx context.Context) *RefreshToken {
	var tok RefreshToken
	found, err := c.keys.GetKey(ctx, c.cfg.Keys.RefreshToken, &tok)
	if err != nil {
		c.log.Debug("failed to load persisted refresh token", "error", err)
		return nil
	}
	if !found {
		return nil
	}
	return &tok
}

// consolidateAccess persists and adopts a new access token: write-through to
// storage, in-memory update, token pair notification on real change. A nil
// token clears the slot and deletes the persisted field.
func (c *Client) consolidateAccess(ctx context.Context, token *AccessToken) (string, error) {
	if token != nil && token.ExpiresAt == 0 {
		// Срок жизни без явных метаданных поднимаем из самого JWT
		if parsed, err := ParseAccessClaims(token.Value); err == nil {
			enriched := *token
			enriched.ExpiresAt = parsed.ExpiresAt
			if enriched.Email == "" {
				enriched.Email = parsed.Email
			}
			if enriched.Roles == nil {
				enriched.Roles = parsed.Roles
			}
			token = &enriched
		}
	}

	if err := c.persistToken(ctx, c.cfg.Keys.AccessToken, token == nil, token); err != nil {
		return "", err
	}

	c.mu.Lock()
	changed := !accessEqual(c.access, token)
	c.access = token
	tokens := Tokens{Access: c.access, Refresh: c.refresh}
	c.mu.Unlock()

	if changed {
		c.tokenSubs.Publish(tokens)
	}

	if token == nil {
		return "", nil
	}
	return token.Value, nil
}

// consolidateRefresh is the refresh-token counterpart of consolidateAccess.
func (c *Client) consolidateRefresh(ctx context.Context, token *RefreshToken) (string, error) {
	if err := c.persistToken(ctx, c.cfg.Keys.RefreshToken, token == nil, token); err != nil {
		return "", err
	}

	c.mu.Lock()
	changed := !refreshEqual(c.refresh, token)
	c.refresh = token
	tokens := Tokens{Access: c.access, Refresh: c.refresh}
	c.mu.Unlock()

	if changed {
		c.tokenSubs.Publish(tokens)
	}

	if token == nil {
		return "", nil
	}
	return token.Value, nil
}

// persistToken writes the token through to storage; a cleared token deletes
// the persisted field instead.
func (c *Client) persistToken(ctx context.Context, key string, cleared bool, token any) error {
	if cleared {
		if err := c.keys.DeleteKey(ctx, key); err != nil {
			return fmt.Errorf("failed to delete persisted token: %w", err)
		}
		return nil
	}

	if err := c.keys.SetKey(ctx, key, token); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	return nil
}

// grantPayload is the accepted response shape of grant and session
// endpoints. Token fields accept both structured objects and bare strings.
type grantPayload struct {
	UserData     json.RawMessage `json:"userData,omitempty"`
	AccessToken  *AccessToken    `json:"accessToken,omitempty"`
	RefreshToken *RefreshToken   `json:"refreshToken,omitempty"`
}

func accessEqual(a, b *AccessToken) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Value != b.Value || a.Email != b.Email || a.ExpiresAt != b.ExpiresAt {
		return false
	}
	if len(a.Roles) != len(b.Roles) {
		return false
	}
	for i := range a.Roles {
		if a.Roles[i] != b.Roles[i] {
			return false
		}
	}
	return true
}

func refreshEqual(a, b *RefreshToken) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Value == b.Value && a.ExpiresAt == b.ExpiresAt
}
