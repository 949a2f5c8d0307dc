package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors of the token acquisition engine.
var (
	// ErrNoAcquisitionMethod is returned when no token source (memory,
	// storage, grant endpoint) could produce a usable token.
	ErrNoAcquisitionMethod = errors.New("no token acquisition method available")

	// ErrRecursiveGrant is returned when a grant descriptor requests the
	// same token kind it is supposed to produce.
	ErrRecursiveGrant = errors.New("grant descriptor must not require the token kind it grants")
)

// Placeholder status used when a failure carries no server response.
const serverErrorStatus = 500

// Error is the uniform error shape every failed request is normalized to.
// Callers can always rely on these fields regardless of what actually went
// wrong underneath.
type Error struct {
	Response   json.RawMessage `json:"response,omitempty"`
	Code       string          `json:"error"`
	Message    string          `json:"message"`
	Method     string          `json:"method,omitempty"`
	URL        string          `json:"url,omitempty"`
	StatusCode int             `json:"statusCode"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error (%d) %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// errorBody is the wire shape of structured failure responses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// normalizeError collapses any failure into *Error: transport errors with a
// server response keep its status and parsed body, everything else becomes a
// generic server fault.
func normalizeError(err error, method, url string) *Error {
	// Уже нормализованная ошибка проходит как есть
	var norm *Error
	if errors.As(err, &norm) {
		return norm
	}

	// Ошибка транспорта с ответом сервера
	var te *TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		out := &Error{
			StatusCode: te.StatusCode,
			Message:    te.Err.Error(),
			Method:     method,
			URL:        url,
		}
		if len(te.Body) > 0 {
			out.Response = json.RawMessage(te.Body)

			var body errorBody
			if jsonErr := json.Unmarshal(te.Body, &body); jsonErr == nil {
				out.Code = body.Error
				if body.Message != "" {
					out.Message = body.Message
				}
			}
		}
		return out
	}

	// Сетевая ошибка без ответа или любой другой runtime fault:
	// generic server error с фиксированным placeholder статусом
	message := "server error"
	if err != nil {
		message = err.Error()
	}

	return &Error{
		StatusCode: serverErrorStatus,
		Code:       "ERR_SERVER",
		Message:    message,
		Method:     method,
		URL:        url,
	}
}
