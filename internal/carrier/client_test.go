package carrier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asiabot/asiabot/internal/logging"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(Options{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Proxies: &ProxyPool{},
		Timeout: 2 * time.Second,
		Logger:  logging.Discard(),
	})
	client.retryDelay = time.Millisecond
	return client, srv
}

func TestExecuteRetriesTransportFailuresThreeTimes(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		// Kill the connection mid-response to force a transport error.
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("server does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Options{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Proxies: &ProxyPool{},
		Logger:  logging.Discard(),
	})
	client.retryDelay = time.Millisecond

	_, err := client.Execute(context.Background(), http.MethodGet, "/v1/login-screen", nil, nil)

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Attempts != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", te.Attempts)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestExecuteDoesNotRetryHTTPErrors(t *testing.T) {
	var attempts atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.Execute(context.Background(), http.MethodGet, "/v2/home", nil, nil)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", se.Status)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
	if !IsAuthError(err) {
		t.Fatal("403 should classify as an auth error")
	}
}

func TestExecuteMergesHeadersOverDefaults(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-ODP-API-KEY"); got != "test-key" {
			t.Errorf("missing default api key header, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("per-request header not applied, got %q", got)
		}
		if got := r.Header.Get("X-FROM-APP"); got != "odp" {
			t.Errorf("fingerprint header missing, got %q", got)
		}
		w.Write([]byte(`{}`))
	}))

	_, err := client.Execute(context.Background(), http.MethodGet, "/v2/home", map[string]string{
		"Authorization": "Bearer abc",
	}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestSessionCookieFromJarAndRawHeader(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc123", Path: "/"})
		w.Write([]byte(`{}`))
	}))

	resp, err := client.Execute(context.Background(), http.MethodGet, "/v1/login-screen", nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := resp.SessionCookie(); got != "JSESSIONID=abc123" {
		t.Fatalf("unexpected cookie from jar: %q", got)
	}

	raw := &Response{Headers: http.Header{"Set-Cookie": []string{"sid=xyz; Path=/; HttpOnly"}}}
	if got := raw.SessionCookie(); got != "sid=xyz" {
		t.Fatalf("unexpected cookie from raw header: %q", got)
	}

	empty := &Response{Headers: http.Header{}}
	if got := empty.SessionCookie(); got != "" {
		t.Fatalf("expected empty cookie, got %q", got)
	}
}

func TestExecuteDoesNotReplayCookiesBetweenCalls(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Cookie"); got != "" {
			t.Errorf("independent call carried cookie %q", got)
		}
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "user-a-session", Path: "/"})
		w.Write([]byte(`{}`))
	}))

	for i := 0; i < 2; i++ {
		if _, err := client.Execute(context.Background(), http.MethodGet, "/v1/login-screen", nil, nil); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
}

func TestBalanceExtraction(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    float64
		ok      bool
	}{
		{"mainBalance number", map[string]any{"mainBalance": 1500.0}, 1500, true},
		{"balance fallback", map[string]any{"balance": "250.5"}, 250.5, true},
		{"mainBalance wins", map[string]any{"mainBalance": 10.0, "balance": 20.0}, 10, true},
		{"missing", map[string]any{"other": 1.0}, 0, false},
		{"unparseable string", map[string]any{"balance": "n/a"}, 0, false},
	}

	for _, tc := range cases {
		got, ok := extractBalance(tc.payload)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%s: got (%v, %v), want (%v, %v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRefreshTokensOmitsAuthorization(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("refresh must not carry Authorization, got %q", got)
		}
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh"}`))
	}))

	pair, err := client.RefreshTokens(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !pair.Valid() || pair.AccessToken != "new-access" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
}

func TestTransportErrorSanitizedWhenProxied(t *testing.T) {
	proxied := &TransportError{Attempts: 3, Proxied: true, Err: errors.New("dial 10.0.0.2:8080: refused")}
	if msg := proxied.Error(); msg != "carrier request failed after 3 attempts (proxied)" {
		t.Fatalf("proxy detail leaked into message: %q", msg)
	}

	direct := &TransportError{Attempts: 3, Err: errors.New("timeout")}
	if msg := direct.Error(); msg == "carrier request failed after 3 attempts (proxied)" {
		t.Fatalf("direct error should include cause: %q", msg)
	}
}
