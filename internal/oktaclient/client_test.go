package oktaclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func testContext() context.Context {
	return context.Background()
}

func TestGetCollectionFollowsLinkPagination(t *testing.T) {
	pages := [][]map[string]string{
		{{"id": "1"}, {"id": "2"}},
		{{"id": "3"}},
	}
	var callCount int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := callCount
		callCount++
		if idx == 0 {
			w.Header().Set("Link", `<http://`+r.Host+`/api/v1/users?page=2>; rel="next"`)
		}
		json.NewEncoder(w).Encode(pages[idx])
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &APITokenAuthenticator{Token: "tok"}, 5*time.Second, 100, nil)

	items, err := c.GetCollection(testContext(), "/api/v1/users", url.Values{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items across 2 pages, got %d", len(items))
	}
}

func TestGetCollectionRespectsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{{"id": "1"}, {"id": "2"}, {"id": "3"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &APITokenAuthenticator{Token: "tok"}, 5*time.Second, 100, nil)

	items, err := c.GetCollection(testContext(), "/api/v1/users", url.Values{}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected truncation to 2 items, got %d", len(items))
	}
}

func TestGetCollectionMaxPagesExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<http://`+r.Host+`/api/v1/users?page=next>; rel="next"`)
		json.NewEncoder(w).Encode([]map[string]string{{"id": "x"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &APITokenAuthenticator{Token: "tok"}, 5*time.Second, 2, nil)

	_, err := c.GetCollection(testContext(), "/api/v1/users", url.Values{}, 0)
	if err == nil {
		t.Fatal("expected MaxPagesExceededError")
	}
	if _, ok := err.(*MaxPagesExceededError); !ok {
		t.Fatalf("expected *MaxPagesExceededError, got %T: %v", err, err)
	}
}

func TestRateLimitConcurrentRegimeRetriesThenSucceeds(t *testing.T) {
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt == 1 {
			w.Header().Set("X-Rate-Limit-Limit", "0")
			w.Header().Set("X-Rate-Limit-Remaining", "0")
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode([]map[string]string{{"id": "1"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &APITokenAuthenticator{Token: "tok"}, 5*time.Second, 100, nil)

	items, err := c.GetCollection(testContext(), "/api/v1/users", url.Values{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item after retry, got %d", len(items))
	}
	if attempt != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempt)
	}
}

func TestIsConcurrentRegime(t *testing.T) {
	h := http.Header{}
	h.Set("X-Rate-Limit-Limit", "0")
	h.Set("X-Rate-Limit-Remaining", "0")
	info := parseRateLimitHeaders(h)
	if !isConcurrentRegime(info, h) {
		t.Fatal("expected concurrent regime when limit and remaining are both 0")
	}

	h2 := http.Header{}
	h2.Set("X-Rate-Limit-Limit", "600")
	h2.Set("X-Rate-Limit-Remaining", "0")
	info2 := parseRateLimitHeaders(h2)
	if isConcurrentRegime(info2, h2) {
		t.Fatal("expected org-wide regime when limit is nonzero")
	}
}

func TestRateLimitWaitCapsAndJitter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "9999")

	concurrentWait := rateLimitWait(h, true)
	if concurrentWait < concurrentRetryCapSec*time.Second || concurrentWait > (concurrentRetryCapSec+3)*time.Second {
		t.Errorf("expected concurrent wait capped near %ds with up to 3s jitter, got %s", concurrentRetryCapSec, concurrentWait)
	}

	orgWait := rateLimitWait(h, false)
	if orgWait != orgWideRetryCapSec*time.Second {
		t.Errorf("expected org-wide wait capped at %ds, got %s", orgWideRetryCapSec, orgWait)
	}
}

func TestNextPageURL(t *testing.T) {
	link := `<https://acme.okta.com/api/v1/users?after=abc>; rel="next"`
	if got := nextPageURL(link); got != "https://acme.okta.com/api/v1/users?after=abc" {
		t.Errorf("got %q", got)
	}
	if got := nextPageURL(""); got != "" {
		t.Errorf("expected empty string for missing header, got %q", got)
	}
	if got := nextPageURL(`<https://x>; rel="self"`); got != "" {
		t.Errorf("expected empty string when no rel=next present, got %q", got)
	}
}

func TestNormalizeResponseWrapperShapes(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want int
	}{
		{"direct array", []any{map[string]any{"id": "1"}}, 1},
		{"value wrapper", map[string]any{"value": []any{map[string]any{"id": "1"}, map[string]any{"id": "2"}}}, 2},
		{"items wrapper", map[string]any{"items": []any{map[string]any{"id": "1"}}}, 1},
		{"embedded wrapper", map[string]any{"_embedded": map[string]any{"users": []any{map[string]any{"id": "1"}}}}, 1},
		{"single resource", map[string]any{"id": "1", "login": "a@b.com"}, 1},
		{"metadata only", map[string]any{"totalCount": float64(0), "_links": map[string]any{}}, 0},
		{"nil", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeResponse(tc.in)
			list, ok := got.([]any)
			if !ok {
				t.Fatalf("expected []any, got %T", got)
			}
			if len(list) != tc.want {
				t.Errorf("expected %d items, got %d", tc.want, len(list))
			}
		})
	}
}
