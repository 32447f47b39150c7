package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// UserIDHeader carries the caller identity on REST requests
const UserIDHeader = "X-User-ID"

// NewJSONRequest creates a new HTTP request with JSON body
func NewJSONRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewUserRequest is NewJSONRequest issued as userID
func NewUserRequest(t *testing.T, method, url, userID string, body interface{}) *http.Request {
	t.Helper()
	req := NewJSONRequest(t, method, url, body)
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	return req
}

// DecodeJSON decodes JSON response body into the given struct
func DecodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var result T
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode JSON response: %v. Body: %s", err, w.Body.String())
	}
	return result
}

// AssertJSONError fails if the response doesn't carry the expected status and error message
func AssertJSONError(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedMsg string) {
	t.Helper()
	if w.Code != expectedStatus {
		t.Errorf("expected status %d, got %d. Body: %s", expectedStatus, w.Code, w.Body.String())
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v. Body: %s", err, w.Body.String())
	}
	if !strings.Contains(body.Error, expectedMsg) {
		t.Errorf("expected error message %q in response, got: %q", expectedMsg, body.Error)
	}
}
