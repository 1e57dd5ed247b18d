package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func newTokenServer(t *testing.T, fetches *int32, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fetches, 1)

		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", got)
		}
		if got := r.Form.Get("client_id"); got != "test-client" {
			t.Errorf("client_id = %q, want test-client", got)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "token-abc",
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
}

func TestTokenIsCached(t *testing.T) {
	var fetches int32
	server := newTokenServer(t, &fetches, 3600)
	defer server.Close()

	ts := NewTokenSource(server.URL, "test-client", "secret", server.Client(), zerolog.Nop())

	for i := 0; i < 5; i++ {
		token, err := ts.Token(context.Background())
		if err != nil {
			t.Fatalf("Token() error: %v", err)
		}
		if token != "token-abc" {
			t.Fatalf("Token() = %q, want token-abc", token)
		}
	}

	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Errorf("token endpoint hit %d times, want 1", n)
	}
}

func TestTokenRefreshesWithinExpiryMargin(t *testing.T) {
	var fetches int32
	// Expires inside the refresh margin, so every call refreshes.
	server := newTokenServer(t, &fetches, 30)
	defer server.Close()

	ts := NewTokenSource(server.URL, "test-client", "secret", server.Client(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := ts.Token(context.Background()); err != nil {
			t.Fatalf("Token() error: %v", err)
		}
	}

	if n := atomic.LoadInt32(&fetches); n != 3 {
		t.Errorf("token endpoint hit %d times, want 3", n)
	}
}

func TestTokenSingleFlightUnderConcurrency(t *testing.T) {
	var fetches int32
	server := newTokenServer(t, &fetches, 3600)
	defer server.Close()

	ts := NewTokenSource(server.URL, "test-client", "secret", server.Client(), zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ts.Token(context.Background()); err != nil {
				t.Errorf("Token() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Errorf("token endpoint hit %d times under concurrency, want 1", n)
	}
}

func TestTokenServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_client", http.StatusUnauthorized)
	}))
	defer server.Close()

	ts := NewTokenSource(server.URL, "test-client", "secret", server.Client(), zerolog.Nop())

	_, err := ts.Token(context.Background())
	if err == nil {
		t.Fatal("Token() returned nil error for 401 response")
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("Token() error = %T, want *ProtocolError", err)
	}
	if pe.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", pe.StatusCode)
	}
}

func TestTokenMissingConfiguration(t *testing.T) {
	ts := NewTokenSource("", "", "", http.DefaultClient, zerolog.Nop())
	if _, err := ts.Token(context.Background()); err == nil {
		t.Fatal("Token() returned nil error with empty configuration")
	}
}
