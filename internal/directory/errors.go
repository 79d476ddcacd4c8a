package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrValidation matches 400 and 422 answers (e.g. a malformed date).
	ErrValidation = errors.New("directory: validation failed")
	// ErrNotFound matches 404 answers.
	ErrNotFound = errors.New("directory: not found")
	// ErrDenied matches 401/403 answers and refused admin verification.
	ErrDenied = errors.New("directory: access denied")
)

// StatusError is a non-success answer from the directory.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("directory: status %d", e.Code)
	}
	return fmt.Sprintf("directory: status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Code == http.StatusBadRequest || e.Code == http.StatusUnprocessableEntity
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrDenied:
		return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
	}
	return false
}

// statusError builds a StatusError, taking the message from the JSON
// body's "error" or "message" field when present.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(data, &body) == nil {
		msg = body.Error
		if msg == "" {
			msg = body.Message
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(http.StatusText(resp.StatusCode))
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

// UserMessage turns a directory error into text fit for a notice.
func UserMessage(err error) string {
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return "The events service is unavailable. Please try again."
}
