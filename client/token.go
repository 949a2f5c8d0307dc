package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind identifies one of the two independent token slots of the client.
type TokenKind string

const (
	// KindAccess is the short-lived bearer credential authorizing API calls.
	KindAccess TokenKind = "access"
	// KindRefresh is the longer-lived credential used to mint access tokens.
	KindRefresh TokenKind = "refresh"
)

// AccessToken is the bearer credential with its metadata. Immutable once
// issued: the client replaces it wholesale, never mutates it in place.
type AccessToken struct {
	Value     string   `json:"value"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	ExpiresAt int64    `json:"expiresAt,omitempty"` // epoch ms
}

// UnmarshalJSON accepts either the structured form or a bare token string.
// For a bare JWT string the expiry and identity claims are lifted from the
// token itself.
func (t *AccessToken) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err == nil {
		if parsed, parseErr := ParseAccessClaims(value); parseErr == nil {
			*t = *parsed
		} else {
			*t = AccessToken{Value: value}
		}
		return nil
	}

	type plain AccessToken
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = AccessToken(p)
	return nil
}

// RefreshToken is an opaque credential, optionally carrying its own expiry.
type RefreshToken struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expiresAt,omitempty"` // epoch ms, 0 = unknown
}

// UnmarshalJSON accepts either the structured form or a bare token string.
func (t *RefreshToken) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err == nil {
		*t = RefreshToken{Value: value}
		return nil
	}

	type plain RefreshToken
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = RefreshToken(p)
	return nil
}

// Tokens is the snapshot of the current token pair published to subscribers.
// Both fields may be nil.
type Tokens struct {
	Access  *AccessToken
	Refresh *RefreshToken
}

// TokenInfo is the validator's view of one token slot.
type TokenInfo struct {
	Value     string
	ExpiresAt int64 // epoch ms, 0 = unknown
}

// Validator decides token freshness. When configured it fully overrides the
// built-in check, it is never combined with it.
type Validator func(kind TokenKind, token TokenInfo, threshold time.Duration) bool

// defaultValid is the built-in freshness check: non-empty value and expiry
// further than threshold in the future. The threshold is a safety margin
// subtracted from the remaining lifetime; a token exactly threshold away
// from expiry is already invalid. When no expiry metadata is present the
// value is inspected as a JWT; a token with no known expiry at all is
// treated as non-expiring.
func defaultValid(token TokenInfo, threshold time.Duration, now time.Time) bool {
	if token.Value == "" {
		return false
	}

	expiresAt := token.ExpiresAt
	if expiresAt == 0 {
		if exp, ok := jwtExpiry(token.Value); ok {
			expiresAt = exp
		}
	}
	if expiresAt == 0 {
		return true
	}

	// Граница эксклюзивная: expiresAt - threshold должен быть строго в будущем
	return expiresAt-threshold.Milliseconds() > now.UnixMilli()
}

// accessClaims is the set of claims the client understands in access tokens.
type accessClaims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// ParseAccessClaims extracts identity metadata and expiry from a JWT access
// token. The signature is deliberately not verified: the client is not the
// token's audience, it only mirrors claims the server already vouched for.
func ParseAccessClaims(value string) (*AccessToken, error) {
	var claims accessClaims

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(value, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	token := &AccessToken{
		Value: value,
		Email: claims.Email,
		Roles: claims.Roles,
	}
	if claims.ExpiresAt != nil {
		token.ExpiresAt = claims.ExpiresAt.UnixMilli()
	}
	if token.Email == "" {
		token.Email = claims.Subject
	}

	return token, nil
}

// jwtExpiry returns the exp claim of a JWT value in epoch ms.
func jwtExpiry(value string) (int64, bool) {
	var claims jwt.RegisteredClaims

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(value, &claims); err != nil {
		return 0, false
	}
	if claims.ExpiresAt == nil {
		return 0, false
	}
	return claims.ExpiresAt.UnixMilli(), true
}
