package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-200 answer from the server, usually an RFC 7807 problem
type APIError struct {
	StatusCode int
	Type       string
	Title      string
	Detail     string
	TraceID    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("activation server returned %d: %s", e.StatusCode, msg)
}

// Blocked reports whether the server locked this client out after failed attempts
func (e *APIError) Blocked() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// RejectedError is a {success:false, message} answer outside activation itself
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "request rejected: " + e.Message
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var problem struct {
			Type    string `json:"type"`
			Title   string `json:"title"`
			Detail  string `json:"detail"`
			TraceID string `json:"trace_id"`
		}
		if err := json.Unmarshal(body, &problem); err == nil {
			apiErr.Type = problem.Type
			apiErr.Title = problem.Title
			apiErr.Detail = problem.Detail
			apiErr.TraceID = problem.TraceID
		}
	}

	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
		apiErr.RetryAfter = time.Duration(seconds) * time.Second
	}
	return apiErr
}

// ErrNotActivated means no token is stored locally
var ErrNotActivated = errors.New("device is not activated locally")
