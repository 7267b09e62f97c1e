// Package wowclient is the entry point for building a client of a
// command/query backend.
//
// It wires the pieces of the other packages together: a fetcher over the
// retrying transport, the credential holder with its authorization
// interceptors, optional rate limiting and telemetry, and a command client
// whose waits share one result stream.
//
// Quick start
//
//	cli, err := wowclient.New(ctx, &wowclient.Config{
//	  BaseURL:      "https://orders.example.com",
//	  AccessToken:  accessToken,
//	  RefreshToken: refreshToken,
//	  RefreshURL:   "/auth/refresh",
//	})
//	if err != nil { log.Fatal(err) }
//	defer cli.Close()
//
//	order, err := fetcher.Execute[*Order](ctx, cli.Fetcher(), &fetcher.Request{
//	  URL:        "/order/{id}",
//	  PathParams: map[string]string{"id": id},
//	}, fetcher.WithExtractor(fetcher.JSON[Order]()))
//
//	result, err := cli.SendAndWait(ctx, &command.Command{
//	  Path:        "/order/{id}/ship",
//	  PathParams:  map[string]string{"id": id},
//	  AggregateID: id,
//	}, command.StageSnapshot)
//
// # Command results
//
// Waits read command results from the backend's server-sent event stream by
// default. Setting Config.NATSURL reads them from a NATS subject instead.
//
// # Helpers
//
// NewWithToken wraps New for a base URL and a static access token.
package wowclient
