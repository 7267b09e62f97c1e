package commands

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fivetwenty-io/wow-client/internal/constants"
	"github.com/fivetwenty-io/wow-client/pkg/command"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type sendOptions struct {
	method      string
	body        string
	params      []string
	aggregateID string
	tenantID    string
	requestID   string
	wait        string
	stream      bool
}

// NewSendCommand creates the send command.
func NewSendCommand() *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send PATH",
		Short: "Send a command",
		Long: `Send a command to the backend and print its result.

Without --wait the command returns once the backend accepted the command.
With --wait it blocks until the command reaches the given stage
(SENT, PROCESSED or SNAPSHOT) or fails.`,
		Example: `  wow send /order/{id}/ship --param id=o-1 --aggregate-id o-1 --body '{"address":"dock 9"}'
  wow send /order/create --body @order.json --wait snapshot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.method, "method", "X", http.MethodPost, "HTTP method")
	cmd.Flags().StringVarP(&opts.body, "body", "d", "", "JSON body, or @file to read it from a file")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "path parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.aggregateID, "aggregate-id", "", "aggregate id")
	cmd.Flags().StringVar(&opts.tenantID, "tenant-id", "", "tenant id")
	cmd.Flags().StringVar(&opts.requestID, "request-id", "", "request id (default: generated)")
	cmd.Flags().StringVarP(&opts.wait, "wait", "w", "", "stage to wait for: SENT, PROCESSED or SNAPSHOT")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "print every result signal until the wait stage is reached")

	return cmd
}

func runSend(cmd *cobra.Command, path string, opts *sendOptions) error {
	body, err := parseBody(opts.body)
	if err != nil {
		return err
	}

	stage := command.StageSent
	if opts.wait != "" {
		stage, err = command.ParseStage(opts.wait)
		if err != nil {
			return err
		}
	}

	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	cmdToSend := &command.Command{
		Method:      strings.ToUpper(opts.method),
		Path:        path,
		PathParams:  parseParams(opts.params),
		AggregateID: opts.aggregateID,
		TenantID:    opts.tenantID,
		RequestID:   opts.requestID,
		Body:        body,
	}

	if opts.stream {
		return sendStream(cmd, client.Commands(), cmdToSend, stage)
	}

	var result *command.Result
	if opts.wait == "" {
		result, err = client.Send(cmd.Context(), cmdToSend)
	} else {
		result, err = client.SendAndWait(cmd.Context(), cmdToSend, stage)
	}

	if err != nil {
		return fmt.Errorf("sending command: %w", err)
	}

	if err := writeResults(cmd.OutOrStdout(), result); err != nil {
		return err
	}

	if result.Failed() {
		return fmt.Errorf("%w: %w", ErrCommandRejected, result.Err())
	}

	return nil
}

func sendStream(cmd *cobra.Command, client *command.Client, cmdToSend *command.Command, stage command.Stage) error {
	stream, err := client.SendAndWaitStream(cmd.Context(), cmdToSend, stage)
	if err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	defer stream.Close()

	var last *command.Result

	for result := range stream.Results() {
		if last != nil && viper.GetString("output") == constants.FormatYAML {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "---")
		}

		last = result

		if err := writeResults(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("waiting for command result: %w", err)
	}

	if last != nil && last.Failed() {
		return fmt.Errorf("%w: %w", ErrCommandRejected, last.Err())
	}

	return nil
}
