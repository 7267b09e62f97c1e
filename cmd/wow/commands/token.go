package commands

import (
	"fmt"
	"time"

	"github.com/fivetwenty-io/wow-client/internal/constants"
	"github.com/fivetwenty-io/wow-client/pkg/auth"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// TokenStatus describes the stored credentials.
type TokenStatus struct {
	AccessToken      string     `json:"access_token"                 yaml:"access_token"`
	RefreshToken     string     `json:"refresh_token"                yaml:"refresh_token"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"         yaml:"expires_at,omitempty"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty" yaml:"refresh_expires_at,omitempty"`
	Expired          bool       `json:"expired"                      yaml:"expired"`
	Refreshable      bool       `json:"refreshable"                  yaml:"refreshable"`
}

// NewTokenCommand creates the token command group.
func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage authentication tokens",
		Long:  "Commands for managing authentication tokens including status and refresh",
	}

	cmd.AddCommand(newTokenStatusCommand())
	cmd.AddCommand(newTokenRefreshCommand())

	return cmd
}

func newTokenStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show token status and expiration",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}

			pair := store.Get()
			if pair == nil {
				return constants.ErrNotAuthenticated
			}

			return writeTokenStatus(cmd, buildTokenStatus(pair))
		},
	}
}

func newTokenRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Manually refresh authentication token",
		Long:  "Force refresh the access token using the stored refresh token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			credentials := client.Credentials()

			current := credentials.Current()
			if current == nil {
				return constants.ErrNotAuthenticated
			}

			fresh, err := credentials.Refresh(cmd.Context(), current)
			if err != nil {
				return fmt.Errorf("refreshing token: %w", err)
			}

			return writeTokenStatus(cmd, buildTokenStatus(fresh))
		},
	}
}

func buildTokenStatus(pair *auth.CredentialPair) TokenStatus {
	status := TokenStatus{
		AccessToken:  maskToken(pair.AccessToken),
		RefreshToken: maskToken(pair.RefreshToken),
		Expired:      pair.Expired(),
		Refreshable:  pair.Refreshable(),
	}

	if expiresAt := pair.ExpiresAt(); !expiresAt.IsZero() {
		status.ExpiresAt = &expiresAt
	}

	if refreshExpiresAt := pair.RefreshExpiresAt(); !refreshExpiresAt.IsZero() {
		status.RefreshExpiresAt = &refreshExpiresAt
	}

	return status
}

func writeTokenStatus(cmd *cobra.Command, status TokenStatus) error {
	output := viper.GetString("output")
	if output == constants.FormatJSON || output == constants.FormatYAML {
		return writeValue(cmd.OutOrStdout(), status)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Property", "Value")
	_ = table.Append("Access Token", status.AccessToken)
	_ = table.Append("Refresh Token", status.RefreshToken)
	_ = table.Append("Expires At", formatTime(status.ExpiresAt))
	_ = table.Append("Refresh Expires At", formatTime(status.RefreshExpiresAt))
	_ = table.Append("Expired", fmt.Sprintf("%t", status.Expired))
	_ = table.Append("Refreshable", fmt.Sprintf("%t", status.Refreshable))

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return constants.NotAvailable
	}

	return t.Local().Format("2006-01-02 15:04:05")
}
