package printapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 64 << 10

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
	// RequestID is the X-Request-ID sent with the failed request.
	RequestID string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// UserMessage returns the server-provided message, or the HTTP status text.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// IsStatus reports whether err is an *Error with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == status
}

func readAPIError(res *http.Response) error {
	apiErr := &Error{Status: res.StatusCode}
	if res.Request != nil {
		apiErr.RequestID = res.Request.Header.Get(requestIDHeader)
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Message) != "" {
		apiErr.Message = strings.TrimSpace(payload.Message)
		return apiErr
	}
	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "<") {
		apiErr.Message = text
	}
	return apiErr
}
