package oktaclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Authenticator injects whatever auth header an Okta request needs.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request) error
}

// tokenClearer is implemented by authenticators that cache a token and can
// discard it, so a 401 response can force a fresh exchange on the next
// request rather than replaying the token that just failed.
type tokenClearer interface {
	ClearCachedToken()
}

// APITokenAuthenticator authenticates with Okta's proprietary SSWS scheme.
type APITokenAuthenticator struct {
	Token string
}

// Authenticate implements Authenticator.
func (a *APITokenAuthenticator) Authenticate(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "SSWS "+a.Token)
	return nil
}

// OAuth2Authenticator authenticates using RFC 7523 private_key_jwt client
// credentials against Okta's org authorization server, caching the resulting
// bearer token until shortly before it expires.
type OAuth2Authenticator struct {
	OrgURL        string
	ClientID      string
	PrivateKeyPEM string
	Scopes        []string
	HTTPClient    *http.Client

	mu          sync.Mutex
	cachedToken string
	expiresAt   time.Time
}

// Authenticate implements Authenticator, fetching and caching an access token.
func (a *OAuth2Authenticator) Authenticate(ctx context.Context, req *http.Request) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return fmt.Errorf("oauth2 authenticate: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *OAuth2Authenticator) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Refresh 60 seconds before expiry, matching the reference client's margin.
	if a.cachedToken != "" && time.Now().Before(a.expiresAt.Add(-60*time.Second)) {
		return a.cachedToken, nil
	}

	tokenEndpoint := strings.TrimRight(a.OrgURL, "/") + "/oauth2/v1/token"

	assertion, err := a.signClientAssertion(tokenEndpoint)
	if err != nil {
		return "", fmt.Errorf("sign client assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", strings.Join(a.Scopes, " "))
	form.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
	form.Set("client_assertion", assertion)

	httpClient := a.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	expiresIn := body.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}

	a.cachedToken = body.AccessToken
	a.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return a.cachedToken, nil
}

// ClearCachedToken discards the cached bearer token so the next Authenticate
// call re-exchanges a client assertion, rather than replaying the token that
// just drew a 401 from Okta.
func (a *OAuth2Authenticator) ClearCachedToken() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cachedToken = ""
	a.expiresAt = time.Time{}
}

// signClientAssertion builds and signs the RS256 private_key_jwt assertion
// Okta's token endpoint expects for client_credentials exchanges.
func (a *OAuth2Authenticator) signClientAssertion(tokenEndpoint string) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(a.PrivateKeyPEM))
	if err != nil {
		return "", fmt.Errorf("parse private key pem: %w", err)
	}

	now := time.Now()
	jti, err := randomJTI(a.ClientID)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"aud": tokenEndpoint,
		"iss": a.ClientID,
		"sub": a.ClientID,
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
		"jti": jti,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(key)
}

// randomJTI produces a unique assertion identifier per token request, scoped
// to the client ID so replayed assertions across clients never collide.
func randomJTI(clientID string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<32))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%s", clientID, time.Now().UnixMicro(), base64.RawURLEncoding.EncodeToString(n.Bytes())), nil
}

// newCorrelationID returns a request correlation ID for log tracing.
func newCorrelationID() string {
	return uuid.New().String()
}
