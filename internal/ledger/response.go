package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnavailable wraps every transport failure: timeouts, refused
	// connections, DNS errors. Ledger 4xx/5xx answers are not errors.
	ErrUnavailable = errors.New("ledger unavailable")

	ErrEmptyBody     = errors.New("ledger returned an empty body")
	ErrMalformedBody = errors.New("ledger returned a malformed body")
)

// Response is the raw result of a ledger call. Callers must check
// StatusCode (or OK) before trusting Body.
type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Empty reports the empty-success marker: a body with nothing in it.
func (r *Response) Empty() bool {
	return len(bytes.TrimSpace(r.Body)) == 0
}

func (r *Response) Decode(v any) error {
	if r.Empty() {
		return ErrEmptyBody
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return nil
}

// Detail extracts the human readable message of an error answer. The ledger
// uses either "detail" or "message", as a string or a list of {msg} objects.
func (r *Response) Detail() string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(r.Body, &payload); err != nil {
		return strings.TrimSpace(string(r.Body))
	}
	for _, key := range []string{"detail", "message"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(raw, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	return ""
}

// Err turns a non-2xx answer into an *APIError. It returns nil for success.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &APIError{StatusCode: r.StatusCode, Detail: r.Detail()}
}

// APIError is a ledger-level rejection: the request reached the ledger and
// the ledger said no.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("ledger returned status %d", e.StatusCode)
}

func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// ServerSide reports a 5xx answer, which is shown like a transport failure.
func (e *APIError) ServerSide() bool { return e.StatusCode >= 500 }
