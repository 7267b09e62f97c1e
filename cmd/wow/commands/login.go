package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fivetwenty-io/wow-client/internal/constants"
	"github.com/fivetwenty-io/wow-client/pkg/auth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewLoginCommand creates the login command.
func NewLoginCommand() *cobra.Command {
	var (
		accessToken  string
		refreshToken string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store credentials",
		Long: `Store an access token and refresh token for later commands.

Tokens not given as flags are prompted for. Credentials are kept in
~/.wow/credentials.yml, or in the OS keyring with --credential-store keyring.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error

			reader := bufio.NewReader(cmd.InOrStdin())

			if accessToken == "" {
				accessToken, err = promptSecret(cmd, reader, "Access token: ")
				if err != nil {
					return err
				}
			}

			if accessToken == "" {
				return constants.ErrNoAccessToken
			}

			if refreshToken == "" {
				refreshToken, err = promptSecret(cmd, reader, "Refresh token (optional): ")
				if err != nil {
					return err
				}
			}

			store, err := openStore()
			if err != nil {
				return err
			}

			pair := &auth.CredentialPair{AccessToken: accessToken, RefreshToken: refreshToken}
			if err := store.Set(pair); err != nil {
				return fmt.Errorf("storing credentials: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "OK")

			if expiresAt := pair.ExpiresAt(); !expiresAt.IsZero() {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Access token expires at %s\n", expiresAt.Local().Format("2006-01-02 15:04:05"))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token")

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}

			if err := store.Clear(); err != nil {
				return fmt.Errorf("clearing credentials: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")

			return nil
		},
	}
}

// promptSecret reads a secret without echo when stdin is a terminal.
func promptSecret(cmd *cobra.Command, reader *bufio.Reader, prompt string) (string, error) {
	_, _ = fmt.Fprint(cmd.ErrOrStderr(), prompt)

	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())

		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}

		return strings.TrimSpace(string(secret)), nil
	}

	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}

	return strings.TrimSpace(line), nil
}
