package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Request executes one declarative request descriptor: merges configured
// defaults, normalizes the URL, attaches requested credentials (acquiring
// them first), performs the transport call, and normalizes any failure into
// *Error unless the descriptor opts out with RawErrors.
func (c *Client) Request(ctx context.Context, desc Descriptor) (json.RawMessage, error) {
	c.beginRequest()
	defer c.endRequest()

	merged := c.mergeDefaults(desc)

	fullURL, err := c.resolveURL(merged.URL)
	if err != nil {
		if merged.RawErrors {
			return nil, err
		}
		return nil, normalizeError(err, merged.Method, merged.URL)
	}

	req := &TransportRequest{
		Method: merged.Method,
		URL:    fullURL,
		Header: cloneHeader(merged.Header),
		Params: cloneValues(merged.Params),
		Body:   merged.Body,
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if err := c.attachCredentials(ctx, merged, req); err != nil {
		if merged.RawErrors {
			return nil, err
		}
		return nil, normalizeError(err, req.Method, fullURL)
	}

	body, err := c.transport.Send(ctx, req)
	if err != nil {
		if merged.RawErrors {
			return nil, err
		}
		return nil, normalizeError(err, req.Method, fullURL)
	}

	return body, nil
}

// Get выполняет GET запрос
func (c *Client) Get(ctx context.Context, u string, params url.Values) (json.RawMessage, error) {
	return c.Request(ctx, Descriptor{URL: u, Method: http.MethodGet, Params: params, WithAccessToken: true})
}

// Post выполняет POST запрос
func (c *Client) Post(ctx context.Context, u string, body any) (json.RawMessage, error) {
	return c.Request(ctx, Descriptor{URL: u, Method: http.MethodPost, Body: body, WithAccessToken: true})
}

// Put выполняет PUT запрос
func (c *Client) Put(ctx context.Context, u string, body any) (json.RawMessage, error) {
	return c.Request(ctx, Descriptor{URL: u, Method: http.MethodPut, Body: body, WithAccessToken: true})
}

// Patch выполняет PATCH запрос
func (c *Client) Patch(ctx context.Context, u string, body any) (json.RawMessage, error) {
	return c.Request(ctx, Descriptor{URL: u, Method: http.MethodPatch, Body: body, WithAccessToken: true})
}

// Delete выполняет DELETE запрос
func (c *Client) Delete(ctx context.Context, u string) (json.RawMessage, error) {
	return c.Request(ctx, Descriptor{URL: u, Method: http.MethodDelete, WithAccessToken: true})
}

// mergeDefaults merges the configured request defaults into a descriptor:
// Method and Body fall back to the defaults, Header and Params values are
// combined key by key with the descriptor winning. URL, the credential
// flags, and RawErrors always come from the descriptor alone.
func (c *Client) mergeDefaults(desc Descriptor) Descriptor {
	defaults := c.cfg.Defaults

	if desc.Method == "" {
		desc.Method = defaults.Method
	}
	if desc.Body == nil {
		desc.Body = defaults.Body
	}

	if len(defaults.Header) > 0 {
		merged := cloneHeader(defaults.Header)
		for key, values := range desc.Header {
			merged[key] = values
		}
		desc.Header = merged
	}

	if len(defaults.Params) > 0 {
		merged := cloneValues(defaults.Params)
		for key, values := range desc.Params {
			merged[key] = values
		}
		desc.Params = merged
	}

	return desc
}

// resolveURL normalizes the descriptor URL: absolute URLs pass through,
// relative paths are trimmed of surrounding slashes, percent-encoded, and
// appended to the configured base URL.
func (c *Client) resolveURL(raw string) (string, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw, nil
	}

	base, err := url.Parse(c.cfg.API.BaseURL())
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}

	path := trimSlashes(raw)
	if path != "" {
		// url.URL сам выполняет percent-encoding сегментов при сериализации
		base.Path = strings.TrimSuffix(base.Path, "/") + "/" + path
	}

	return base.String(), nil
}

// attachCredentials acquires and places the requested tokens.
func (c *Client) attachCredentials(ctx context.Context, desc Descriptor, req *TransportRequest) error {
	if req.Header == nil {
		req.Header = http.Header{}
	}

	if desc.WithAccessToken {
		token, err := c.GetAccessToken(ctx)
		if err != nil {
			return err
		}

		if c.cfg.Auth.AccessHeader != "" {
			req.Header.Set(c.cfg.Auth.AccessHeader, token)
		} else {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	if desc.WithRefreshToken {
		if c.cfg.Auth.RefreshHeader == "" && c.cfg.Auth.RefreshParam == "" {
			c.log.Warn("refresh token requested but neither RefreshHeader nor RefreshParam is configured, token not attached", "url", desc.URL)
			return nil
		}

		token, err := c.GetRefreshToken(ctx)
		if err != nil {
			return err
		}

		if c.cfg.Auth.RefreshHeader != "" {
			req.Header.Set(c.cfg.Auth.RefreshHeader, token)
		}
		if c.cfg.Auth.RefreshParam != "" {
			if req.Params == nil {
				req.Params = url.Values{}
			}
			req.Params.Set(c.cfg.Auth.RefreshParam, token)
		}
	}

	return nil
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := make(http.Header, len(h))
	for key, values := range h {
		copied := make([]string, len(values))
		copy(copied, values)
		out[key] = copied
	}
	return out
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for key, values := range v {
		copied := make([]string, len(values))
		copy(copied, values)
		out[key] = copied
	}
	return out
}
