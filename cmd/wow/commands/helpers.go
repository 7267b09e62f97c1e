package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fivetwenty-io/wow-client/internal/constants"
	"github.com/fivetwenty-io/wow-client/pkg/auth"
	"github.com/fivetwenty-io/wow-client/pkg/command"
	"github.com/fivetwenty-io/wow-client/pkg/wowclient"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// JSON formatting.
const defaultJSONIndent = 2

// Credential store kinds.
const (
	StoreFile    = "file"
	StoreKeyring = "keyring"
)

// Common static errors used throughout the commands package.
var (
	ErrUnknownCredentialStore = errors.New("unknown credential store")
	ErrCommandRejected        = errors.New("command completed with an error")
)

// stderrLogger writes structured log lines to stderr.
type stderrLogger struct {
	out   io.Writer
	debug bool
}

func newLogger() *stderrLogger {
	return &stderrLogger{out: os.Stderr, debug: viper.GetBool("verbose")}
}

func (l *stderrLogger) log(level, msg string, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var b strings.Builder

	fmt.Fprintf(&b, "%s %-5s %s", time.Now().Format(time.TimeOnly), level, msg)

	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, fields[key])
	}

	fmt.Fprintln(l.out, b.String())
}

func (l *stderrLogger) Debug(msg string, fields map[string]interface{}) {
	if l.debug {
		l.log("DEBUG", msg, fields)
	}
}

func (l *stderrLogger) Info(msg string, fields map[string]interface{}) {
	if l.debug {
		l.log("INFO", msg, fields)
	}
}

func (l *stderrLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

func (l *stderrLogger) Error(msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, fields)
}

// configDir returns ~/.wow.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}

	return filepath.Join(home, constants.ConfigDirName), nil
}

// openStore opens the credential store selected by the "credential_store" setting.
func openStore() (auth.Store, error) {
	switch kind := viper.GetString("credential_store"); kind {
	case "", StoreFile:
		path := viper.GetString("credentials_file")
		if path == "" {
			dir, err := configDir()
			if err != nil {
				return nil, err
			}

			path = filepath.Join(dir, "credentials.yml")
		}

		store, err := auth.NewFileStore(path)
		if err != nil {
			return nil, fmt.Errorf("opening credential file: %w", err)
		}

		return store, nil
	case StoreKeyring:
		return auth.NewKeyringStore(constants.KeyringService, constants.KeyringUser), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCredentialStore, kind)
	}
}

// clientConfig builds the client configuration from flags, environment and
// the config file.
func clientConfig(store auth.Store) (*wowclient.Config, error) {
	api := viper.GetString("api")
	if api == "" {
		return nil, constants.ErrNoAPIEndpoint
	}

	config := &wowclient.Config{
		BaseURL:          api,
		Name:             "wow-cli",
		Timeout:          viper.GetDuration("timeout"),
		RetryMax:         viper.GetInt("retry_max"),
		RetryWaitMin:     constants.DefaultRetryWaitMin,
		RetryWaitMax:     constants.DefaultRetryWaitMax,
		Debug:            viper.GetBool("verbose"),
		Logger:           newLogger(),
		CredentialStore:  store,
		RefreshURL:       viper.GetString("refresh_url"),
		ResultStreamPath: viper.GetString("result_stream_path"),
		NATSURL:          viper.GetString("nats_url"),
		ResultSubject:    viper.GetString("result_subject"),
		WaitTimeout:      viper.GetDuration("wait_timeout"),
		RateLimit:        viper.GetFloat64("rate_limit"),
	}

	if tokenURL := viper.GetString("oauth2.token_url"); tokenURL != "" {
		config.OAuth2 = &auth.OAuth2Config{
			TokenURL:     tokenURL,
			ClientID:     viper.GetString("oauth2.client_id"),
			ClientSecret: viper.GetString("oauth2.client_secret"),
			Scopes:       viper.GetStringSlice("oauth2.scopes"),
		}
	}

	if token := viper.GetString("token"); token != "" {
		config.AccessToken = token
	}

	return config, nil
}

// newClient creates a client from the current configuration.
func newClient(ctx context.Context) (*wowclient.Client, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}

	config, err := clientConfig(store)
	if err != nil {
		return nil, err
	}

	client, err := wowclient.New(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return client, nil
}

// writeValue writes v in the configured output format. Table output falls
// back to YAML for values without a table layout.
func writeValue(out io.Writer, v any) error {
	switch viper.GetString("output") {
	case constants.FormatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", strings.Repeat(" ", defaultJSONIndent))

		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("encoding to JSON: %w", err)
		}
	default:
		encoder := yaml.NewEncoder(out)
		defer func() { _ = encoder.Close() }()

		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("encoding to YAML: %w", err)
		}
	}

	return nil
}

// writeResults writes command results in the configured output format.
func writeResults(out io.Writer, results ...*command.Result) error {
	switch viper.GetString("output") {
	case constants.FormatJSON, constants.FormatYAML:
		if len(results) == 1 {
			return writeValue(out, results[0])
		}

		return writeValue(out, results)
	case constants.FormatTable, "":
		table := tablewriter.NewWriter(out)
		table.Header("Command ID", "Request ID", "Stage", "Status", "Version", "Signal Time")

		for _, result := range results {
			_ = table.Append(
				orNotAvailable(result.CommandID),
				orNotAvailable(result.RequestID),
				string(result.Stage),
				resultStatus(result),
				aggregateVersion(result),
				signalTime(result),
			)
		}

		if err := table.Render(); err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %s", constants.ErrInvalidOutputFormat, viper.GetString("output"))
	}
}

func resultStatus(result *command.Result) string {
	if result.Failed() {
		return result.ErrorCode + ": " + result.ErrorMsg
	}

	return command.ErrorCodeSucceeded
}

func aggregateVersion(result *command.Result) string {
	if result.AggregateVersion == nil {
		return constants.NotAvailable
	}

	return fmt.Sprintf("%d", *result.AggregateVersion)
}

func signalTime(result *command.Result) string {
	if result.SignalTime == 0 {
		return constants.NotAvailable
	}

	return result.Time().Format(time.RFC3339)
}

func orNotAvailable(s string) string {
	if s == "" {
		return constants.NotAvailable
	}

	return s
}

// maskToken keeps the first characters of a secret.
func maskToken(token string) string {
	if token == "" {
		return constants.NotAvailable
	}

	if len(token) <= constants.StringTruncationLimit {
		return constants.MaskedSecret
	}

	return token[:constants.StringTruncationLimit] + constants.MaskedSecret
}

// parseBody parses a JSON request body given inline or as @file.
func parseBody(body string) (any, error) {
	if body == "" {
		return nil, nil //nolint:nilnil // no body
	}

	data := []byte(body)

	if strings.HasPrefix(body, "@") {
		var err error

		data, err = os.ReadFile(filepath.Clean(body[1:]))
		if err != nil {
			return nil, fmt.Errorf("reading body file: %w", err)
		}
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", constants.ErrInvalidJSONBody, err)
	}

	return out, nil
}

// parseParams parses repeated key=value flags.
func parseParams(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}

	params := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		params[key] = value
	}

	return params
}
