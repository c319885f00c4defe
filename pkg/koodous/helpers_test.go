// ABOUTME: Shared helpers for Koodous client tests
// ABOUTME: Builds clients against httptest servers and canned JSON responses

package koodous

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	testToken  = "test-token"
	testSHA256 = "ce5db3ec259792f80680ad2217af240d10fb4e1939226087d835cf4b2b837111"
)

// newTestClient starts handler behind an httptest server and returns a client for it.
func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithBaseURL(server.URL)}, opts...)
	client, err := New(testToken, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return client, server
}

// writeJSON writes v with the given status.
func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encoding response: %v", err)
	}
}

// requireToken fails the test when the request does not carry the token.
func requireToken(t *testing.T, r *http.Request) {
	t.Helper()

	if got := r.Header.Get("Authorization"); got != "Token "+testToken {
		t.Errorf("Authorization = %q, want %q", got, "Token "+testToken)
	}
}

// apkPage builds n APK summaries whose digests start at offset.
func apkPage(offset, n int) []APK {
	apks := make([]APK, 0, n)
	for i := offset; i < offset+n; i++ {
		apks = append(apks, APK{
			SHA256:      fmt.Sprintf("%064x", i+1),
			PackageName: fmt.Sprintf("com.example.app%d", i),
		})
	}
	return apks
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

func jsonNumber(s string) json.Number {
	return json.Number(s)
}
