//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestConfig holds configuration for integration tests
type TestConfig struct {
	APIEndpoint  string
	AccessToken  string
	RefreshToken string
	CommandPath  string
	CommandBody  string
	QueryPath    string
	WowPath      string
	Verbose      bool
}

// LoadTestConfig loads configuration from environment variables
func LoadTestConfig() *TestConfig {
	return &TestConfig{
		APIEndpoint:  os.Getenv("WOW_TEST_API"),
		AccessToken:  os.Getenv("WOW_TEST_ACCESS_TOKEN"),
		RefreshToken: os.Getenv("WOW_TEST_REFRESH_TOKEN"),
		CommandPath:  os.Getenv("WOW_TEST_COMMAND_PATH"),
		CommandBody:  os.Getenv("WOW_TEST_COMMAND_BODY"),
		QueryPath:    os.Getenv("WOW_TEST_QUERY_PATH"),
		WowPath:      getWowPath(),
		Verbose:      os.Getenv("WOW_TEST_VERBOSE") == "true",
	}
}

// getWowPath determines the path to the wow binary
func getWowPath() string {
	if path := os.Getenv("WOW_BINARY_PATH"); path != "" {
		return path
	}

	candidates := []string{
		"../../wow",
		"./wow",
		"../wow",
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "wow"
}

// SkipIfMissingBinary skips the test when the wow binary cannot be found.
func (config *TestConfig) SkipIfMissingBinary(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath(config.WowPath); err != nil {
		t.Skipf("wow binary not found at %s, skipping integration test", config.WowPath)
	}
}

// SkipIfMissingConfig skips the test when no backend is configured.
func (config *TestConfig) SkipIfMissingConfig(t *testing.T) {
	t.Helper()

	config.SkipIfMissingBinary(t)

	if config.APIEndpoint == "" {
		t.Skip("WOW_TEST_API not set, skipping integration test")
	}
}

// CommandRunner runs wow commands with an isolated home directory.
type CommandRunner struct {
	config *TestConfig
	t      *testing.T
	home   string
}

// NewCommandRunner creates a new command runner
func NewCommandRunner(config *TestConfig, t *testing.T) *CommandRunner {
	t.Helper()

	return &CommandRunner{
		config: config,
		t:      t,
		home:   t.TempDir(),
	}
}

// CredentialsFile is where the runner's wow invocations keep credentials.
func (runner *CommandRunner) CredentialsFile() string {
	return filepath.Join(runner.home, ".wow", "credentials.yml")
}

// Run executes a wow command and returns output
func (runner *CommandRunner) Run(args ...string) (stdout, stderr string, err error) {
	return runner.RunWithInput("", args...)
}

// RunWithInput executes a wow command with stdin input
func (runner *CommandRunner) RunWithInput(input string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.Command(runner.config.WowPath, args...) //nolint:gosec // test binary path
	cmd.Env = append(os.Environ(),
		"HOME="+runner.home,
		"WOW_API="+runner.config.APIEndpoint,
		"WOW_CREDENTIALS_FILE="+runner.CredentialsFile(),
	)

	var stdoutBuf, stderrBuf bytes.Buffer

	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	cmd.Stdin = strings.NewReader(input)

	if runner.config.Verbose {
		runner.t.Logf("Running: %s %s", runner.config.WowPath, strings.Join(args, " "))
	}

	err = cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if runner.config.Verbose && err != nil {
		runner.t.Logf("Command failed: %v\nStdout: %s\nStderr: %s", err, stdout, stderr)
	}

	return stdout, stderr, err
}

// Login stores the configured tokens.
func (runner *CommandRunner) Login() error {
	if runner.config.AccessToken == "" {
		return fmt.Errorf("no credentials provided, set WOW_TEST_ACCESS_TOKEN")
	}

	_, stderr, err := runner.RunWithInput(runner.config.AccessToken+"\n"+runner.config.RefreshToken+"\n", "login")
	if err != nil {
		return fmt.Errorf("failed to log in: %s", stderr)
	}

	return nil
}

// GenerateRequestID creates a unique request id for a test command.
func GenerateRequestID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// AssertJSONOutput verifies command output is valid JSON
func AssertJSONOutput(t *testing.T, output string) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(output)), &out), "output is not a JSON object: %s", output)

	return out
}

// AssertYAMLOutput verifies command output is valid YAML
func AssertYAMLOutput(t *testing.T, output string) {
	t.Helper()

	var out any
	require.NoError(t, yaml.Unmarshal([]byte(output), &out), "output is not YAML: %s", output)
}
