package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	internalhttp "github.com/fivetwenty-io/wow-client/internal/http"
	"golang.org/x/oauth2"
)

const maxRefreshErrorBody = 4096

// HTTPRefresher renews credentials by posting the current pair to a refresh
// endpoint that answers with a new pair.
type HTTPRefresher struct {
	url    string
	client *http.Client
}

// NewHTTPRefresher creates a refresher for url. A nil client uses the
// retrying transport.
func NewHTTPRefresher(url string, client *http.Client) *HTTPRefresher {
	if client == nil {
		client = internalhttp.NewClient().StandardClient()
	}

	return &HTTPRefresher{url: url, client: client}
}

// Refresh implements Refresher.
func (r *HTTPRefresher) Refresh(ctx context.Context, current *CredentialPair) (*CredentialPair, error) {
	body, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute refresh request: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxRefreshErrorBody))

		return nil, fmt.Errorf("%w: status %d: %s", ErrRefreshRejected, resp.StatusCode, bytes.TrimSpace(detail))
	}

	var pair CredentialPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}

	return &pair, nil
}

// OAuth2Config describes an OAuth2 token endpoint.
type OAuth2Config struct {
	TokenURL     string   `json:"token_url"     yaml:"token_url"`
	ClientID     string   `json:"client_id"     yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	Scopes       []string `json:"scopes"        yaml:"scopes"`
}

// OAuth2Refresher renews credentials with the OAuth2 refresh_token grant.
type OAuth2Refresher struct {
	config *oauth2.Config
	client *http.Client
}

// NewOAuth2Refresher creates a refresher for the given endpoint. A nil client
// uses the retrying transport.
func NewOAuth2Refresher(config OAuth2Config, client *http.Client) *OAuth2Refresher {
	if client == nil {
		client = internalhttp.NewClient().StandardClient()
	}

	return &OAuth2Refresher{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Scopes:       config.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
	}
}

// Refresh implements Refresher.
func (r *OAuth2Refresher) Refresh(ctx context.Context, current *CredentialPair) (*CredentialPair, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	// An empty access token forces the token source to use the refresh token.
	token, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	return &CredentialPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}
