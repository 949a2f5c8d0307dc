package client

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeError_TransportWithResponse(t *testing.T) {
	te := &TransportError{
		StatusCode: http.StatusForbidden,
		Body:       []byte(`{"error":"ERR_FORBIDDEN","message":"no access to resource"}`),
		Err:        errors.New("request failed with status 403"),
	}

	norm := normalizeError(te, http.MethodGet, "https://api.example.com/users")

	assert.Equal(t, http.StatusForbidden, norm.StatusCode)
	assert.Equal(t, "ERR_FORBIDDEN", norm.Code)
	assert.Equal(t, "no access to resource", norm.Message)
	assert.Equal(t, http.MethodGet, norm.Method)
	assert.Equal(t, "https://api.example.com/users", norm.URL)
	assert.JSONEq(t, `{"error":"ERR_FORBIDDEN","message":"no access to resource"}`, string(norm.Response))
}

func TestNormalizeError_TransportNonJSONBody(t *testing.T) {
	te := &TransportError{
		StatusCode: http.StatusBadGateway,
		Body:       []byte("Bad Gateway"),
		Err:        errors.New("request failed with status 502"),
	}

	norm := normalizeError(te, http.MethodPost, "https://api.example.com/items")

	assert.Equal(t, http.StatusBadGateway, norm.StatusCode)
	assert.Empty(t, norm.Code)
	assert.Equal(t, "request failed with status 502", norm.Message)
}

// Сетевая ошибка без ответа сервера: generic server error с placeholder статусом
func TestNormalizeError_NoResponse(t *testing.T) {
	norm := normalizeError(errors.New("dial tcp: connection refused"), http.MethodGet, "https://down.example.com")

	assert.Equal(t, serverErrorStatus, norm.StatusCode)
	assert.Equal(t, "ERR_SERVER", norm.Code)
	assert.Equal(t, "dial tcp: connection refused", norm.Message)
}

func TestNormalizeError_NilError(t *testing.T) {
	norm := normalizeError(nil, http.MethodGet, "u")

	assert.Equal(t, serverErrorStatus, norm.StatusCode)
	assert.Equal(t, "server error", norm.Message)
}

// Уже нормализованная ошибка проходит без повторной обертки
func TestNormalizeError_AlreadyNormalized(t *testing.T) {
	original := &Error{StatusCode: 404, Code: "ERR_NOT_FOUND", Message: "gone"}

	norm := normalizeError(original, http.MethodGet, "u")
	assert.Same(t, original, norm)
}

func TestError_ErrorString(t *testing.T) {
	withCode := &Error{StatusCode: 401, Code: "ERR_UNAUTHORIZED", Message: "token expired"}
	assert.Equal(t, "server error (401) ERR_UNAUTHORIZED: token expired", withCode.Error())

	withoutCode := &Error{StatusCode: 500, Message: "boom"}
	assert.Equal(t, "server error (500): boom", withoutCode.Error())
}

func TestError_AsTarget(t *testing.T) {
	var err error = &Error{StatusCode: 418, Message: "teapot"}

	var norm *Error
	require.ErrorAs(t, err, &norm)
	assert.Equal(t, 418, norm.StatusCode)
}
