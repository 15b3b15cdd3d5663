package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func testPrivateKeyPEM(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return pemBytes, key
}

func TestNewAppAuth(t *testing.T) {
	pemBytes, _ := testPrivateKeyPEM(t)

	if _, err := NewAppAuth(12345, pemBytes); err != nil {
		t.Fatalf("NewAppAuth() error = %v", err)
	}

	if _, err := NewAppAuth(12345, nil); err == nil {
		t.Error("NewAppAuth() expected error for empty key")
	}

	if _, err := NewAppAuth(12345, []byte("not a pem key")); err == nil {
		t.Error("NewAppAuth() expected error for malformed key")
	}
}

func TestIssueJWTClaims(t *testing.T) {
	pemBytes, key := testPrivateKeyPEM(t)
	auth, err := NewAppAuth(12345, pemBytes)
	if err != nil {
		t.Fatalf("NewAppAuth() error = %v", err)
	}

	before := time.Now()
	signed, err := auth.IssueJWT()
	if err != nil {
		t.Fatalf("IssueJWT() error = %v", err)
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(signed, &claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodRS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method)
		}
		return &key.PublicKey, nil
	})
	if err != nil {
		t.Fatalf("failed to parse JWT: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("JWT did not verify under the app public key")
	}

	if claims.Issuer != "12345" {
		t.Errorf("iss = %q, want 12345", claims.Issuer)
	}

	issuedAt := claims.IssuedAt.Time
	expiresAt := claims.ExpiresAt.Time

	if got := expiresAt.Sub(issuedAt); got != 10*time.Minute {
		t.Errorf("exp - iat = %v, want exactly 10m", got)
	}
	if issuedAt.After(before.Add(time.Second)) {
		t.Errorf("iat = %v is in the future (now = %v)", issuedAt, before)
	}
	// iat is backdated for clock skew.
	if !issuedAt.Before(before) {
		t.Errorf("iat = %v should be backdated relative to %v", issuedAt, before)
	}
}

// fakeTokenEndpoint counts exchanges per installation and serves
// configurable expiries.
type fakeTokenEndpoint struct {
	mu        sync.Mutex
	exchanges map[int64]int
	expiresIn time.Duration
	delay     time.Duration
	status    int
	body      string
}

func newFakeTokenEndpoint() *fakeTokenEndpoint {
	return &fakeTokenEndpoint{
		exchanges: make(map[int64]int),
		expiresIn: time.Hour,
	}
}

func (f *fakeTokenEndpoint) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("token exchange missing Bearer assertion")
		}

		var id int64
		if _, err := fmt.Sscanf(r.URL.Path, "/app/installations/%d/access_tokens", &id); err != nil {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		if f.delay > 0 {
			time.Sleep(f.delay)
		}

		f.mu.Lock()
		f.exchanges[id]++
		n := f.exchanges[id]
		f.mu.Unlock()

		if f.status != 0 {
			w.WriteHeader(f.status)
			fmt.Fprint(w, f.body)
			return
		}

		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token":"tok-%d-%d","expires_at":%q}`,
			id, n, time.Now().Add(f.expiresIn).UTC().Format(time.RFC3339))
	}
}

func (f *fakeTokenEndpoint) count(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges[id]
}

func newTestCache(t *testing.T, endpoint *fakeTokenEndpoint) *TokenCache {
	t.Helper()
	pemBytes, _ := testPrivateKeyPEM(t)
	auth, err := NewAppAuth(12345, pemBytes)
	if err != nil {
		t.Fatalf("NewAppAuth() error = %v", err)
	}
	srv := httptest.NewServer(endpoint.handler(t))
	t.Cleanup(srv.Close)
	return NewTokenCacheWithBaseURL(auth, srv.URL)
}

func TestTokenCacheHit(t *testing.T) {
	endpoint := newFakeTokenEndpoint()
	cache := newTestCache(t, endpoint)
	ctx := context.Background()

	first, err := cache.Token(ctx, 42)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	// Second call within the safety margin: identical token, no exchange.
	second, err := cache.Token(ctx, 42)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if first != second {
		t.Errorf("tokens differ across cache hit: %q vs %q", first, second)
	}
	if got := endpoint.count(42); got != 1 {
		t.Errorf("exchanges = %d, want exactly 1", got)
	}
}

func TestTokenCachePerInstallationIndependence(t *testing.T) {
	endpoint := newFakeTokenEndpoint()
	cache := newTestCache(t, endpoint)
	ctx := context.Background()

	tok1, err := cache.Token(ctx, 1)
	if err != nil {
		t.Fatalf("Token(1) error = %v", err)
	}
	tok2, err := cache.Token(ctx, 2)
	if err != nil {
		t.Fatalf("Token(2) error = %v", err)
	}
	if tok1 == tok2 {
		t.Errorf("installations share a token: %q", tok1)
	}

	// Forcing a refresh for installation 1 must not touch installation 2.
	cache.Invalidate(1)
	if _, err := cache.Token(ctx, 1); err != nil {
		t.Fatalf("Token(1) after invalidate error = %v", err)
	}
	tok2Again, err := cache.Token(ctx, 2)
	if err != nil {
		t.Fatalf("Token(2) error = %v", err)
	}
	if tok2Again != tok2 {
		t.Errorf("installation 2 token changed by installation 1 refresh")
	}
	if got := endpoint.count(2); got != 1 {
		t.Errorf("installation 2 exchanges = %d, want 1", got)
	}
}

func TestTokenCacheRefreshNearExpiry(t *testing.T) {
	endpoint := newFakeTokenEndpoint()
	// Expiry inside the safety margin: every call must re-exchange.
	endpoint.expiresIn = 10 * time.Second
	cache := newTestCache(t, endpoint)
	ctx := context.Background()

	first, err := cache.Token(ctx, 7)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	second, err := cache.Token(ctx, 7)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if first == second {
		t.Error("near-expiry token was served from cache")
	}
	if got := endpoint.count(7); got != 2 {
		t.Errorf("exchanges = %d, want 2", got)
	}
}

func TestTokenCacheSingleFlight(t *testing.T) {
	endpoint := newFakeTokenEndpoint()
	endpoint.delay = 50 * time.Millisecond
	cache := newTestCache(t, endpoint)
	ctx := context.Background()

	const callers = 10
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	var failures atomic.Int32

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cache.Token(ctx, 99)
			if err != nil {
				failures.Add(1)
				return
			}
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("%d concurrent callers failed", failures.Load())
	}
	for i := 1; i < callers; i++ {
		if tokens[i] != tokens[0] {
			t.Errorf("caller %d got %q, caller 0 got %q", i, tokens[i], tokens[0])
		}
	}
	if got := endpoint.count(99); got != 1 {
		t.Errorf("exchanges = %d, want 1 shared in-flight refresh", got)
	}
}

func TestTokenCacheExchangeError(t *testing.T) {
	endpoint := newFakeTokenEndpoint()
	endpoint.status = http.StatusUnauthorized
	endpoint.body = `{"message":"bad credentials"}`
	cache := newTestCache(t, endpoint)

	_, err := cache.Token(context.Background(), 5)
	if err == nil {
		t.Fatal("Token() expected error for non-success exchange")
	}

	var exchErr *TokenExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("error = %T, want *TokenExchangeError", err)
	}
	if exchErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", exchErr.StatusCode)
	}
	if !strings.Contains(exchErr.Body, "bad credentials") {
		t.Errorf("Body = %q, want response body for diagnostics", exchErr.Body)
	}
}

func TestTokenCacheFallbackLifetime(t *testing.T) {
	// No expires_at in the response: the token must still be cached with a
	// conservative lifetime instead of being treated as permanent.
	var exchanges atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"token":"tok-no-expiry"}`)
	}))
	defer srv.Close()

	pemBytes, _ := testPrivateKeyPEM(t)
	auth, err := NewAppAuth(12345, pemBytes)
	if err != nil {
		t.Fatalf("NewAppAuth() error = %v", err)
	}
	cache := NewTokenCacheWithBaseURL(auth, srv.URL)

	tok, err := cache.Token(context.Background(), 3)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "tok-no-expiry" {
		t.Errorf("token = %q", tok)
	}
	if _, err := cache.Token(context.Background(), 3); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if exchanges.Load() != 1 {
		t.Errorf("exchanges = %d, want 1 (fallback lifetime should cache)", exchanges.Load())
	}
}
