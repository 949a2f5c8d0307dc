package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/iudanet/apikit/logging"
	"github.com/iudanet/apikit/realtime"
	"github.com/iudanet/apikit/storage"
)

// Descriptor declares one API request. Only URL is required.
type Descriptor struct {
	Header http.Header
	Params url.Values
	Body   any
	URL    string
	Method string // default GET

	// WithAccessToken attaches the access credential (acquiring it first)
	WithAccessToken bool
	// WithRefreshToken attaches the refresh credential; placement requires
	// Auth.RefreshHeader or Auth.RefreshParam to be set
	WithRefreshToken bool
	// RawErrors disables normalization, the transport failure is returned as-is
	RawErrors bool
}

// Endpoint produces a request descriptor. Static descriptors are wrapped
// with Static; dynamic ones recompute the descriptor on every use.
type Endpoint func() Descriptor

// Static wraps a fixed descriptor as an Endpoint.
func Static(d Descriptor) Endpoint {
	return func() Descriptor { return d }
}

// APIConfig composes the base URL of the remote API.
type APIConfig struct {
	Domain    string // required, e.g. "api.example.com"
	Namespace string // optional path prefix, e.g. "api/v1"
	Port      int    // optional, 0 keeps the scheme default
	Secure    bool   // true selects https
}

// BaseURL returns the composed root URL without a trailing slash.
func (c APIConfig) BaseURL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}

	base := fmt.Sprintf("%s://%s", scheme, c.Domain)
	if c.Port != 0 {
		base = fmt.Sprintf("%s:%d", base, c.Port)
	}
	if c.Namespace != "" {
		base = base + "/" + trimSlashes(c.Namespace)
	}
	return base
}

// StorageKeys names the persisted fields. An empty name disables persistence
// of that field entirely (writes become no-ops).
type StorageKeys struct {
	AccessToken  string
	RefreshToken string
	UserData     string
}

// DefaultStorageKeys are used when the config leaves Keys zero.
var DefaultStorageKeys = StorageKeys{
	AccessToken:  "accessToken",
	RefreshToken: "refreshToken",
	UserData:     "userData",
}

// AuthConfig tunes the token acquisition engine.
type AuthConfig struct {
	// Request descriptors; nil descriptors disable the corresponding flow
	FetchProfile      Endpoint
	GrantAccessToken  Endpoint
	GrantRefreshToken Endpoint
	Login             Endpoint
	Signup            Endpoint
	Logout            Endpoint

	// ProfileLoader overrides the FetchProfile descriptor completely
	ProfileLoader func(ctx context.Context, c *Client) (json.RawMessage, error)

	// Validator overrides the built-in freshness check completely
	Validator Validator

	// RefreshTokenExtractor is an extra refresh token source consulted before
	// the grant endpoint (the embedding application decides where the value
	// comes from, e.g. a startup URL). The returned cleanup runs after the
	// token is consolidated and may be nil.
	RefreshTokenExtractor func(ctx context.Context) (value string, cleanup func(), ok bool)

	// AccessHeader carries the access token; empty means
	// "Authorization: Bearer <token>"
	AccessHeader string
	// RefreshHeader carries the refresh token when set
	RefreshHeader string
	// RefreshParam carries the refresh token as a query parameter when set
	RefreshParam string

	// Validity thresholds (safety margins before nominal expiry)
	AccessValidity  time.Duration
	RefreshValidity time.Duration

	// InvalidateOnError resets all auth state when a grant request fails
	InvalidateOnError bool

	// RequireValidRefresh makes HasAuth demand a valid refresh token too
	RequireValidRefresh bool
}

// Config assembles a Client. Zero values select sane defaults where they
// exist; API.Domain is the only strictly required field.
type Config struct {
	API      APIConfig
	Auth     AuthConfig
	Keys     StorageKeys
	Realtime *realtime.Config

	// Store is the persistence backend; defaults to storage.NewMemory()
	Store storage.Store
	// Transport defaults to NewHTTPTransport(RequestTimeout)
	Transport Transport
	// Logger defaults to slog.Default()
	Logger *slog.Logger
	// Debug wraps Logger with the tuning filter (minimum level plus a
	// per-subsystem suppression list); nil leaves the logger untouched
	Debug *logging.Config

	// Defaults supply fallback Method and Body plus base Header and Params
	// values merged into every descriptor (descriptor wins). URL, the
	// credential flags, and RawErrors are never defaulted.
	Defaults Descriptor

	// RequestTimeout applies to individual HTTP calls of the default
	// transport; the acquisition engine itself is never timed out
	RequestTimeout time.Duration

	// CacheTTL is accepted for configuration compatibility but response
	// caching is not implemented
	CacheTTL time.Duration

	// TrackRequests toggles the IsPerformingRequest state flag around
	// every in-flight request
	TrackRequests bool

	// RealtimeWhen decides whether the realtime channel should currently
	// exist; default is "while HasAuth"
	RealtimeWhen func(State) bool
}

const defaultRequestTimeout = 30 * time.Second

// validate checks required fields and fills defaults in place.
func (c *Config) validate() error {
	if c.API.Domain == "" {
		return fmt.Errorf("config: API.Domain is required")
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Transport == nil {
		c.Transport = NewHTTPTransport(c.RequestTimeout)
	}
	if c.Store == nil {
		c.Store = storage.NewMemory()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Debug != nil {
		c.Logger = slog.New(logging.Wrap(c.Logger.Handler(), *c.Debug))
	}
	if c.Keys == (StorageKeys{}) {
		c.Keys = DefaultStorageKeys
	}

	return nil
}

func trimSlashes(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
