package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default deadline of a transport call.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultRefreshTimeout bounds a single credential refresh.
	DefaultRefreshTimeout = 30 * time.Second

	// DefaultStreamConnectTimeout bounds opening the command result stream.
	DefaultStreamConnectTimeout = 10 * time.Second
)

// Retry limits.
const (
	// DefaultRetryMax is the retry count used by the CLI.
	DefaultRetryMax = 3

	// DefaultRetryWaitMin is the minimum wait time between retries.
	DefaultRetryWaitMin = 500 * time.Millisecond

	// DefaultRetryWaitMax is the maximum wait time between retries.
	DefaultRetryWaitMax = 10 * time.Second
)

// Command correlation.
const (
	// DefaultWaitTimeout bounds waiting for a command result.
	DefaultWaitTimeout = 30 * time.Second

	// SubscriberBufferSize is the per-waiter signal buffer.
	SubscriberBufferSize = 16

	// DefaultResultStreamPath is the command result event stream endpoint.
	DefaultResultStreamPath = "/command/result/stream"

	// DefaultResultSubject is the NATS subject carrying command results.
	DefaultResultSubject = "wow.command.result"
)

// Credentials.
const (
	// TokenExpirationBuffer treats tokens expiring within it as expired.
	TokenExpirationBuffer = 30 * time.Second

	// KeyringService is the OS keyring service name.
	KeyringService = "wow-client"

	// KeyringUser is the OS keyring entry name.
	KeyringUser = "credentials"
)

// Client identity.
const (
	// DefaultUserAgent is sent when a request carries none.
	DefaultUserAgent = "wow-client/1.0"

	// ConfigDirName is the configuration directory under the user's home.
	ConfigDirName = ".wow"

	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "WOW"
)

// UI and display constants.
const (
	// NotAvailable is shown for missing values.
	NotAvailable = "N/A"

	// MaskedSecret replaces secrets in output.
	MaskedSecret = "***"

	// StringTruncationLimit is the number of characters kept when masking.
	StringTruncationLimit = 8
)

// Format constants.
const (
	// FormatJSON is the JSON output format.
	FormatJSON = "json"

	// FormatYAML is the YAML output format.
	FormatYAML = "yaml"

	// FormatTable is the table output format.
	FormatTable = "table"
)
