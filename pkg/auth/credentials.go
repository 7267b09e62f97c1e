package auth

import (
	"time"

	"github.com/fivetwenty-io/wow-client/internal/constants"
	"github.com/golang-jwt/jwt/v5"
)

// CredentialPair is an access token and the refresh token that renews it.
type CredentialPair struct {
	AccessToken  string `json:"accessToken"  yaml:"access_token"`
	RefreshToken string `json:"refreshToken" yaml:"refresh_token"`
}

// tokenExpiry reads the exp claim of a JWT without verifying its signature.
// Opaque tokens report a zero time.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}

	return exp.Time
}

// ExpiresAt returns the access token expiry, zero when unknown.
func (p *CredentialPair) ExpiresAt() time.Time {
	return tokenExpiry(p.AccessToken)
}

// RefreshExpiresAt returns the refresh token expiry, zero when unknown.
func (p *CredentialPair) RefreshExpiresAt() time.Time {
	return tokenExpiry(p.RefreshToken)
}

// Expired reports whether the access token expires within the expiration buffer.
func (p *CredentialPair) Expired() bool {
	expiresAt := p.ExpiresAt()

	return !expiresAt.IsZero() && time.Now().Add(constants.TokenExpirationBuffer).After(expiresAt)
}

// Refreshable reports whether the pair carries a refresh token that has not expired.
func (p *CredentialPair) Refreshable() bool {
	if p == nil || p.RefreshToken == "" {
		return false
	}

	expiresAt := p.RefreshExpiresAt()

	return expiresAt.IsZero() || time.Now().Before(expiresAt)
}

// Valid reports whether the pair has an access token that is not expired.
func (p *CredentialPair) Valid() bool {
	return p != nil && p.AccessToken != "" && !p.Expired()
}

// empty reports whether p carries neither token.
func (p *CredentialPair) empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Clone returns a copy of p.
func (p *CredentialPair) Clone() *CredentialPair {
	if p == nil {
		return nil
	}

	out := *p

	return &out
}
