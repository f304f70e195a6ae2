package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newUserDetailsServer(t *testing.T, expectedToken string, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		if r.URL.Path != "/api/0.6/user/details.json" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+expectedToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user": map[string]any{
				"id":           int64(98765),
				"display_name": "mapper_jane",
			},
		})
	}))
}

func TestOSMVerifierResolvesAccessToken(t *testing.T) {
	server := newUserDetailsServer(t, "valid-token", nil)
	defer server.Close()

	verifier, err := NewOSMVerifier(OSMVerifierConfig{
		APIBaseURL: server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	claims, err := verifier.Verify(context.Background(), "valid-token")
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
	if claims.Subject != "98765" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.DisplayName != "mapper_jane" {
		t.Fatalf("unexpected display name %s", claims.DisplayName)
	}
}

func TestOSMVerifierRejectsBadToken(t *testing.T) {
	server := newUserDetailsServer(t, "valid-token", nil)
	defer server.Close()

	verifier, err := NewOSMVerifier(OSMVerifierConfig{
		APIBaseURL: server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if _, err := verifier.Verify(context.Background(), "stolen-token"); err == nil {
		t.Fatalf("expected verification to fail for rejected token")
	}
	if _, err := verifier.Verify(context.Background(), "   "); err == nil {
		t.Fatalf("expected verification to fail for empty token")
	}
}

func TestOSMVerifierCachesVerifiedClaims(t *testing.T) {
	var requests atomic.Int64
	server := newUserDetailsServer(t, "valid-token", &requests)
	defer server.Close()

	current := time.Unix(1756400000, 0).UTC()
	verifier, err := NewOSMVerifier(OSMVerifierConfig{
		APIBaseURL: server.URL,
		HTTPClient: server.Client(),
		CacheTTL:   time.Minute,
		Clock:      func() time.Time { return current },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := verifier.Verify(context.Background(), "valid-token"); err != nil {
			t.Fatalf("unexpected verification error: %v", err)
		}
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("expected a single upstream request while cached, got %d", got)
	}

	current = current.Add(2 * time.Minute)
	if _, err := verifier.Verify(context.Background(), "valid-token"); err != nil {
		t.Fatalf("unexpected verification error after expiry: %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("expected a refresh after cache expiry, got %d requests", got)
	}
}

func TestNewOSMVerifierRequiresBaseURL(t *testing.T) {
	_, err := NewOSMVerifier(OSMVerifierConfig{APIBaseURL: "   "})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingAPIBaseURL.Error()) {
		t.Fatalf("expected base url validation error to be reported, got %v", err)
	}
}

func TestOSMVerifierRejectsMalformedResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user": {}}`))
	}))
	defer server.Close()

	verifier, err := NewOSMVerifier(OSMVerifierConfig{
		APIBaseURL: server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if _, err := verifier.Verify(context.Background(), "valid-token"); err == nil {
		t.Fatalf("expected verification to fail for malformed response")
	}
}
