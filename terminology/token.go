package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Tokens are refreshed this long before their stated expiry.
const tokenExpiryMargin = 60 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// TokenSource obtains and caches a bearer token via an OAuth client
// credentials exchange. The mutex is held across the refresh, so concurrent
// callers needing a token wait on the single in-flight fetch instead of
// issuing their own.
type TokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	log          zerolog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenSource(tokenURL, clientID, clientSecret string, httpClient *http.Client, log zerolog.Logger) *TokenSource {
	return &TokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		log:          log,
	}
}

// Token returns the cached access token, fetching a new one when the cached
// token is missing or within the expiry margin.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Now().Add(tokenExpiryMargin).Before(ts.expiresAt) {
		return ts.token, nil
	}

	token, expiresIn, err := ts.fetch(ctx)
	if err != nil {
		return "", err
	}

	ts.token = token
	ts.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)

	ts.log.Debug().
		Int("expiresIn", expiresIn).
		Msg("Fetched new access token")

	return ts.token, nil
}

func (ts *TokenSource) fetch(ctx context.Context) (string, int, error) {
	if ts.tokenURL == "" || ts.clientID == "" || ts.clientSecret == "" {
		return "", 0, fmt.Errorf("OAuth configuration missing")
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {ts.clientID},
		"client_secret": {ts.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", 0, &TransportError{Op: "token", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, &ProtocolError{Op: "token", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("token response contained no access token")
	}

	return tr.AccessToken, tr.ExpiresIn, nil
}
