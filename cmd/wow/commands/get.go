package commands

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
	"github.com/spf13/cobra"
)

// NewGetCommand creates the get command.
func NewGetCommand() *cobra.Command {
	var (
		params []string
		query  []string
	)

	cmd := &cobra.Command{
		Use:     "get PATH",
		Short:   "Query a resource",
		Long:    "Fetch a resource from the backend and print it",
		Example: `  wow get /order/{id} --param id=o-1 -o json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			values := url.Values{}
			for _, pair := range query {
				key, value, _ := strings.Cut(pair, "=")
				values.Add(key, value)
			}

			result, err := client.Fetch(cmd.Context(), &fetcher.Request{
				URL:        args[0],
				PathParams: parseParams(params),
				Query:      values,
			})
			if err != nil {
				return fmt.Errorf("fetching %s: %w", args[0], err)
			}

			return writeValue(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "path parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter as key=value (repeatable)")

	return cmd
}
