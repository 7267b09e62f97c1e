package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
)

// Static errors for err113 compliance.
var (
	ErrAuthorization    = errors.New("authorization failed")
	ErrNoCredentials    = errors.New("no credentials stored")
	ErrNoRefreshToken   = errors.New("no refresh token available")
	ErrNoRefresher      = errors.New("no credential refresher configured")
	ErrRefreshRejected  = errors.New("refresh request rejected")
	ErrEmptyAccessToken = errors.New("refresh returned an empty access token")
	ErrStoreRefreshed   = errors.New("storing refreshed credentials failed")
)

// AuthorizationError reports that credentials could not be repaired.
type AuthorizationError struct {
	Err error
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	if e.Err == nil {
		return ErrAuthorization.Error()
	}

	return fmt.Sprintf("%s: %v", ErrAuthorization, e.Err)
}

// Unwrap returns the refresh failure.
func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// Is matches ErrAuthorization.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrAuthorization
}

// IsUnauthorized checks if the error is an authorization failure or a 401 response.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrAuthorization) || fetcher.IsStatus(err, http.StatusUnauthorized)
}
