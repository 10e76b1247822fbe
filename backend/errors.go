package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/itsneelabh/hitlchat/core"
)

// APIError is a non-2xx answer from the backend. It unwraps to the core
// sentinel matching the status class so callers can use errors.Is.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s: status %d (%s): %s", e.Method, e.Path, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Unwrap maps the status code to a core sentinel error
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode >= 500:
		return core.ErrConnectionFailed
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return core.ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return core.ErrNotFound
	case e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests:
		return core.ErrTimeout
	default:
		return core.ErrRequestFailed
	}
}

// IsAPIError checks if err carries a backend status response.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// StatusCode returns the HTTP status of an APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func newAPIError(method, path string, resp *http.Response) *APIError {
	apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(data) == 0 {
		return apiErr
	}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = body.Error
	apiErr.Code = body.Code
	return apiErr
}
