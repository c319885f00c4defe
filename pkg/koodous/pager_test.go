// ABOUTME: Unit tests for the pagination engine
// ABOUTME: Covers loop detection, empty pages and query propagation

package koodous

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
)

func TestPager_DetectsLoop(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every page points at the second one.
		writeJSON(t, w, http.StatusOK, page[APK]{
			Count:   10,
			Next:    "http://" + r.Host + "/apks?page=2",
			Results: apkPage(0, 1),
		})
	}))

	p := newPager[APK](client, "search", "apks", nil)
	ctx := context.Background()

	for i := range 2 {
		items, ok, err := p.Next(ctx)
		if err != nil || !ok || len(items) != 1 {
			t.Fatalf("Next() #%d = %d items, %v, %v", i+1, len(items), ok, err)
		}
	}

	_, ok, err := p.Next(ctx)
	if ok || err == nil || !strings.Contains(err.Error(), "pagination loop") {
		t.Errorf("third Next() = %v, %v; want loop error", ok, err)
	}

	_, ok, err = p.Next(ctx)
	if ok || err != nil {
		t.Errorf("fourth Next() = %v, %v; want exhausted", ok, err)
	}
}

func TestPager_EmptyPageEnds(t *testing.T) {
	t.Parallel()

	var requests int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// A next link with no results must not be followed.
		writeJSON(t, w, http.StatusOK, page[APK]{Next: "http://" + r.Host + "/apks?page=2", Results: []APK{}})
	}))

	got, err := newPager[APK](client, "search", "apks", nil).collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("collect() error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("collect() = %#v, want empty non-nil slice", got)
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}
}

func TestPager_QueryOnlyOnFirstPage(t *testing.T) {
	t.Parallel()

	var queries []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		next := ""
		if r.URL.Query().Get("cursor") == "" {
			next = "http://" + r.Host + "/apks?cursor=b"
		}
		writeJSON(t, w, http.StatusOK, page[APK]{Next: next, Results: apkPage(len(queries), 1)})
	}))

	got, err := client.searchPager("app").collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("collect() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("collect() returned %d items, want 2", len(got))
	}
	if !strings.Contains(queries[0], "search=app") {
		t.Errorf("first query = %q, want search term", queries[0])
	}
	if queries[1] != "cursor=b" {
		t.Errorf("second query = %q, want next link verbatim", queries[1])
	}
}

func TestPager_RefusesForeignNextLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		next func(host string) string
	}{
		{
			name: "foreign host",
			next: func(string) string { return "https://evil.example.com/apks?page=2" },
		},
		{
			name: "same host, other scheme",
			next: func(host string) string { return "https://" + host + "/apks?page=2" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var requests atomic.Int32
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				writeJSON(t, w, http.StatusOK, page[APK]{Next: tt.next(r.Host), Results: apkPage(0, 1)})
			}))

			var errs int
			for _, err := range client.IterSearch(context.Background(), "x") {
				if err != nil {
					errs++
				}
			}
			if errs != 1 {
				t.Errorf("errors = %d, want 1", errs)
			}
			if got := requests.Load(); got != 1 {
				t.Errorf("requests = %d, want only the first page", got)
			}
		})
	}
}
