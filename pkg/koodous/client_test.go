// ABOUTME: Unit tests for Koodous client construction and request plumbing
// ABOUTME: Covers options, headers, URL resolution, error decoding and metrics hooks

package koodous

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hikmaai-io/hikmaai-koodous/internal/observability"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		token   string
		opts    []Option
		wantErr bool
	}{
		{name: "defaults", token: "abc"},
		{name: "empty token", token: "  ", wantErr: true},
		{name: "empty base url", token: "abc", opts: []Option{WithBaseURL("")}, wantErr: true},
		{name: "unsupported scheme", token: "abc", opts: []Option{WithBaseURL("ftp://example.com")}, wantErr: true},
		{name: "zero page size", token: "abc", opts: []Option{WithPageSize(0)}, wantErr: true},
		{name: "negative timeout", token: "abc", opts: []Option{WithTimeout(-time.Second)}, wantErr: true},
		{name: "custom base url", token: "abc", opts: []Option{WithBaseURL("http://localhost:8000/api/")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.token, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c, err := New("abc")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if c.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), DefaultBaseURL)
	}
	if c.PageSize() != DefaultPageSize {
		t.Errorf("PageSize() = %d, want %d", c.PageSize(), DefaultPageSize)
	}
}

func TestClient_RequestHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(t, w, http.StatusOK, User{Username: "analyst"})
	}), WithUserAgent("test-agent/1.0"))

	ctx := observability.WithCorrelationID(context.Background(), "corr-123")
	if _, err := client.MyUser(ctx); err != nil {
		t.Fatalf("MyUser() error: %v", err)
	}

	checks := map[string]string{
		"Authorization":    "Token " + testToken,
		"Accept":           "application/json",
		"User-Agent":       "test-agent/1.0",
		"X-Correlation-Id": "corr-123",
	}
	for header, want := range checks {
		if v := got.Get(header); v != want {
			t.Errorf("header %s = %q, want %q", header, v, want)
		}
	}
}

func TestClient_GeneratesCorrelationID(t *testing.T) {
	t.Parallel()

	var id string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = r.Header.Get(observability.CorrelationIDHeader)
		writeJSON(t, w, http.StatusOK, User{})
	}))

	if _, err := client.MyUser(context.Background()); err != nil {
		t.Fatalf("MyUser() error: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("correlation id %q is not a UUID", id)
	}
}

func TestClient_Resolve(t *testing.T) {
	t.Parallel()

	client, err := New("abc", WithBaseURL("https://api.example.com/v1/"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		name    string
		req     request
		want    string
		wantErr bool
	}{
		{
			name: "relative path keeps base prefix",
			req:  request{ref: "apks/abc/analysis"},
			want: "https://api.example.com/v1/apks/abc/analysis",
		},
		{
			name: "query merged",
			req:  request{ref: "apks", query: url.Values{"search": {"whatsapp"}}},
			want: "https://api.example.com/v1/apks?search=whatsapp",
		},
		{
			name: "same-host next link",
			req:  request{ref: "https://api.example.com/v1/apks?page=2"},
			want: "https://api.example.com/v1/apks?page=2",
		},
		{
			name:    "same host downgraded to http",
			req:     request{ref: "http://api.example.com/v1/apks?page=2"},
			wantErr: true,
		},
		{
			name: "scheme compared case-insensitively",
			req:  request{ref: "HTTPS://api.example.com/v1/apks?page=2"},
			want: "https://api.example.com/v1/apks?page=2",
		},
		{
			name:    "uppercase scheme on foreign host",
			req:     request{ref: "HTTPS://evil.example.org/apks?page=2"},
			wantErr: true,
		},
		{
			name:    "non-http scheme",
			req:     request{ref: "ftp://api.example.com/v1/apks", external: true},
			wantErr: true,
		},
		{
			name:    "foreign host with credentials",
			req:     request{ref: "https://evil.example.org/apks?page=2"},
			wantErr: true,
		},
		{
			name: "foreign host without credentials",
			req:  request{ref: "https://storage.example.org/blob?sig=x", external: true},
			want: "https://storage.example.org/blob?sig=x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := client.resolve(tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_ErrorMessageFromBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "detail field", status: 403, body: `{"detail":"Invalid token."}`, wantMsg: "Invalid token."},
		{name: "message field", status: 500, body: `{"message":"boom"}`, wantMsg: "boom"},
		{name: "error field", status: 502, body: `{"error":"upstream"}`, wantMsg: "upstream"},
		{name: "plain text", status: 503, body: "maintenance", wantMsg: "maintenance"},
		{name: "empty body", status: 401, body: "", wantMsg: "401 Unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := client.MyUser(context.Background())
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("MyUser() error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
			if apiErr.Operation != "get current user" {
				t.Errorf("Operation = %q", apiErr.Operation)
			}
		})
	}
}

func TestClient_MalformedJSON(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"username":`))
	}))

	_, err := client.MyUser(context.Background())
	if err == nil || !contains(err.Error(), "decode response") {
		t.Errorf("MyUser() error = %v, want decode error", err)
	}
}

func TestAPIError_Predicates(t *testing.T) {
	t.Parallel()

	err404 := newAPIError("get analysis", 404, "Not found.")
	err401 := newAPIError("search", 401, "unauthorized")
	err409 := newAPIError("get upload url", 409, "exists")

	if !IsNotFound(err404) {
		t.Error("expected IsNotFound for 404")
	}
	if IsNotFound(err401) {
		t.Error("did not expect IsNotFound for 401")
	}
	if !IsUnauthorized(err401) {
		t.Error("expected IsUnauthorized for 401")
	}
	if !IsConflict(err409) {
		t.Error("expected IsConflict for 409")
	}
	if IsConflict(errors.New("plain")) {
		t.Error("did not expect IsConflict for plain error")
	}

	want := "get analysis: HTTP 404: Not found."
	if err404.Error() != want {
		t.Errorf("Error() = %q, want %q", err404.Error(), want)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "server error", err: newAPIError("x", 503, "down"), want: true},
		{name: "rate limited", err: newAPIError("x", 429, "slow down"), want: true},
		{name: "not found", err: newAPIError("x", 404, "nope"), want: false},
		{name: "transport", err: &TransportError{Operation: "x", Err: errors.New("connection refused")}, want: true},
		{name: "canceled transport", err: &TransportError{Operation: "x", Err: context.Canceled}, want: false},
		{name: "conflict sentinel", err: ErrAlreadyExists, want: false},
		{name: "wrapped download 5xx", err: errors.Join(ErrDownloadFailed, newAPIError("x", 500, "e")), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls map[string][]int
}

func (f *fakeRecorder) RecordCall(operation string, statusCode int, _ time.Duration, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string][]int)
	}
	f.calls[operation] = append(f.calls[operation], statusCode)
}

func TestClient_Recorder(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/analysts/current" {
			writeJSON(t, w, http.StatusOK, User{Username: "a"})
			return
		}
		http.NotFound(w, r)
	}), WithRecorder(rec))

	ctx := context.Background()
	_, _ = client.MyUser(ctx)
	_, _ = client.GetPublicRuleset(ctx, 1)

	if got := rec.calls["get current user"]; len(got) != 1 || got[0] != 200 {
		t.Errorf("get current user calls = %v", got)
	}
	if got := rec.calls["get public ruleset"]; len(got) != 1 || got[0] != 404 {
		t.Errorf("get public ruleset calls = %v", got)
	}
}
