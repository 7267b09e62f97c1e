package constants

import "errors"

// Configuration errors.
var (
	ErrNoAPIEndpoint    = errors.New("no API endpoint configured, use --api or set WOW_API")
	ErrNotAuthenticated = errors.New("not authenticated, use 'wow login' first")
	ErrNoAccessToken    = errors.New("an access token is required")
)

// Validation errors.
var (
	ErrInvalidOutputFormat = errors.New("invalid output format")
	ErrInvalidJSONBody     = errors.New("request body must be valid JSON")
)
