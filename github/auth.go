package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/sync/singleflight"
)

const (
	// assertionLifetime is how long an app JWT is valid. GitHub rejects
	// assertions longer than 10 minutes.
	assertionLifetime = 10 * time.Minute

	// clockSkew is subtracted from the issued-at claim so that a slightly
	// fast local clock does not produce a not-yet-valid assertion.
	clockSkew = 30 * time.Second

	// tokenExpiryMargin is the window before expiry in which a cached
	// installation token is treated as already expired. A token inside the
	// margin is never handed to a caller.
	tokenExpiryMargin = 60 * time.Second

	// defaultTokenLifetime is assumed when the token endpoint does not
	// return an expires_at timestamp. Installation tokens last an hour;
	// 50 minutes keeps us conservative rather than treating the token as
	// permanent.
	defaultTokenLifetime = 50 * time.Minute
)

// AppAuth signs short-lived JWTs as the GitHub App. The private key is
// parsed once at construction and held in memory; it is never logged.
type AppAuth struct {
	appID      int64
	privateKey *rsa.PrivateKey
}

// NewAppAuth creates an AppAuth from a PEM-encoded RSA private key.
func NewAppAuth(appID int64, privateKeyPEM []byte) (*AppAuth, error) {
	if len(privateKeyPEM) == 0 {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &AppAuth{appID: appID, privateKey: key}, nil
}

// IssueJWT returns a signed app assertion for the GitHub API.
// Claims: iat is backdated by the clock-skew tolerance, exp is exactly the
// assertion lifetime after iat, iss is the app ID. The assertion is signed
// fresh on every call and never cached.
func (a *AppAuth) IssueJWT() (string, error) {
	now := time.Now()
	issuedAt := now.Add(-clockSkew)
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(assertionLifetime)),
		Issuer:    strconv.FormatInt(a.appID, 10),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}
	return signed, nil
}

// TokenExchangeError indicates the installation-token endpoint returned a
// non-success response. Status and body are carried for diagnostics; the
// cache does not retry, that is the caller's decision.
type TokenExchangeError struct {
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: status %d, body: %s", e.StatusCode, e.Body)
}

// installationToken is one cached entry. Entries are replaced whole on
// refresh, never mutated in place.
type installationToken struct {
	token     string
	expiresAt time.Time
}

func (t *installationToken) valid(now time.Time) bool {
	return t != nil && now.Before(t.expiresAt.Add(-tokenExpiryMargin))
}

// TokenCache exchanges app JWTs for installation access tokens and caches
// them per installation. It is safe for concurrent use: refreshes are
// deduplicated per installation id, and callers for different installations
// never block each other.
type TokenCache struct {
	auth       *AppAuth
	httpClient *http.Client
	apiBase    string

	mu     sync.Mutex
	tokens map[int64]*installationToken
	group  singleflight.Group
}

// NewTokenCache creates a token cache backed by the given app credentials.
func NewTokenCache(auth *AppAuth) *TokenCache {
	return NewTokenCacheWithBaseURL(auth, baseURL)
}

// NewTokenCacheWithBaseURL creates a token cache that talks to a custom API
// base URL. Used by tests against a fake token endpoint.
func NewTokenCacheWithBaseURL(auth *AppAuth, apiBase string) *TokenCache {
	return &TokenCache{
		auth:       auth,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiBase:    apiBase,
		tokens:     make(map[int64]*installationToken),
	}
}

// Token returns a valid access token for the installation, exchanging a
// fresh app JWT when the cached one is missing or within the expiry margin.
// Concurrent callers for the same installation share one in-flight exchange.
func (c *TokenCache) Token(ctx context.Context, installationID int64) (string, error) {
	now := time.Now()

	c.mu.Lock()
	cached := c.tokens[installationID]
	c.mu.Unlock()
	if cached.valid(now) {
		return cached.token, nil
	}

	key := strconv.FormatInt(installationID, 10)
	result, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: a caller that lost the race may find the entry the
		// winner just installed.
		c.mu.Lock()
		cached := c.tokens[installationID]
		c.mu.Unlock()
		if cached.valid(time.Now()) {
			return cached.token, nil
		}

		fresh, err := c.exchange(ctx, installationID)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.tokens[installationID] = fresh
		c.mu.Unlock()
		return fresh.token, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops the cached token for an installation, forcing the next
// Token call to exchange a new one. Other installations are unaffected.
func (c *TokenCache) Invalidate(installationID int64) {
	c.mu.Lock()
	delete(c.tokens, installationID)
	c.mu.Unlock()
}

// tokenResponse is the body of a successful access-token exchange.
type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// exchange trades an app JWT for an installation access token.
func (c *TokenCache) exchange(ctx context.Context, installationID int64) (*installationToken, error) {
	assertion, err := c.auth.IssueJWT()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.apiBase, installationID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.Token == "" {
		return nil, fmt.Errorf("token response missing token")
	}

	expiresAt := tr.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultTokenLifetime)
	}

	return &installationToken{token: tr.Token, expiresAt: expiresAt}, nil
}
