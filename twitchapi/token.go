package twitchapi

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Twitch client-credentials grant endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client
// credentials) token.
// NOTE: This token CANNOT be used for IRC chat; chat requires a user
// (bot) OAuth token with chat:read/chat:edit scopes.
type TokenSource struct {
	src oauth2.TokenSource
}

// NewTokenSource builds a caching token source for the given app
// credentials. tokenURL and hc override the endpoint and HTTP client;
// both may be zero for production defaults.
func NewTokenSource(clientID, clientSecret, tokenURL string, hc *http.Client) *TokenSource {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		// Twitch wants the credentials in the request body.
		AuthStyle: oauth2.AuthStyleInParams,
	}
	ctx := context.Background()
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	return &TokenSource{src: cfg.TokenSource(ctx)}
}

// StaticTokenSource always yields tok. It exists for tests.
func StaticTokenSource(tok string) *TokenSource {
	return &TokenSource{src: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})}
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	tok, err := ts.src.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
