package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

//go:generate moq -out transport_mock.go . Transport

// Transport executes one HTTP exchange. Implementations return the raw
// response body on success; failures that carry a server response are
// reported as *TransportError.
type Transport interface {
	Send(ctx context.Context, req *TransportRequest) ([]byte, error)
}

// TransportRequest is the fully resolved request handed to the transport.
type TransportRequest struct {
	Header http.Header
	Params url.Values
	Body   any
	Method string
	URL    string
}

// TransportError describes a failed HTTP exchange that received a response.
// Network failures without a response are plain wrapped errors.
type TransportError struct {
	Err        error
	Header     http.Header
	Body       []byte
	StatusCode int
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPTransport is the default Transport built on net/http with JSON bodies.
type HTTPTransport struct {
	httpClient *http.Client
}

// Compile-time check that HTTPTransport implements Transport
var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates the default transport. A zero timeout means the
// net/http default of no timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовок Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// Send выполняет HTTP запрос
func (t *HTTPTransport) Send(ctx context.Context, req *TransportRequest) ([]byte, error) {
	fullURL := req.URL
	if len(req.Params) > 0 {
		parsed, err := url.Parse(fullURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse url: %w", err)
		}

		query := parsed.Query()
		for key, values := range req.Params {
			for _, v := range values {
				query.Add(key, v)
			}
		}
		parsed.RawQuery = query.Encode()
		fullURL = parsed.String()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		jsonData, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
			Err:        fmt.Errorf("request failed with status %d", resp.StatusCode),
		}
	}

	return respBody, nil
}
