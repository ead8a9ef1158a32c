package decision

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"worldloom.ai/internal/sim/tuning"
)

func testClient(t *testing.T, endpoint string, timeoutSeconds int) *Client {
	t.Helper()
	cfg := tuning.Defaults().Decision
	cfg.Endpoint = endpoint
	cfg.Model = "test-model"
	if timeoutSeconds > 0 {
		cfg.TimeoutSeconds = timeoutSeconds
	}
	return NewClient(cfg, log.New(os.Stderr, "[decision-test] ", 0))
}

func TestDecideExtractsChatContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"success\":true}"}}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 0)
	got, err := c.Decide(context.Background(), "ctx", "look", "k1", "")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if got != `{"success":true}` {
		t.Fatalf("content = %q", got)
	}
}

func TestDecideClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusBadRequest, KindBadRequest},
		{http.StatusInternalServerError, KindUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := testClient(t, srv.URL, 0)
		_, err := c.Decide(context.Background(), "ctx", "look", "", "")
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := ClassifyError(err); got != tc.want {
			t.Fatalf("status %d: kind = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestDecideTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := testClient(t, srv.URL, 1)
	c.timeout = 50 * time.Millisecond
	_, err := c.Decide(context.Background(), "ctx", "look", "", "")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if got := ClassifyError(err); got != KindTimeout {
		t.Fatalf("kind = %v, want timeout", got)
	}
}

func TestDecideNoEndpoint(t *testing.T) {
	c := testClient(t, "", 0)
	c.endpoint = ""
	_, err := c.Decide(context.Background(), "ctx", "look", "", "")
	if err == nil {
		t.Fatalf("expected error without endpoint")
	}
	if got := ClassifyError(err); got != KindUnavailable {
		t.Fatalf("kind = %v, want unavailable", got)
	}
}

func TestUserMessagesDistinct(t *testing.T) {
	kinds := []ErrorKind{KindAuth, KindRateLimit, KindTimeout, KindBadRequest, KindUnavailable}
	seen := map[string]ErrorKind{}
	for _, k := range kinds {
		msg := UserMessage(k)
		if msg == "" {
			t.Fatalf("empty message for %v", k)
		}
		if prev, dup := seen[msg]; dup {
			t.Fatalf("kinds %v and %v share message %q", prev, k, msg)
		}
		seen[msg] = k
	}
}
