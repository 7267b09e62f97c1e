// Package command dispatches write commands through a fetcher and correlates
// them with the result signals the backend emits as the command progresses.
//
// A Client sends the command with its wait stage in the Command-Wait-Stage
// header. Send returns once the backend accepted the command. SendAndWait and
// SendAndWaitStream subscribe to a ResultHub keyed by the request id before
// dispatching, then block until a signal for that id reaches the requested
// stage or reports an error:
//
//	hub := command.NewResultHub(command.NewEventStreamSource(f, ""))
//	defer hub.Close()
//
//	client := command.NewClient(f, command.WithResultHub(hub))
//	result, err := client.SendAndWait(ctx, &command.Command{
//		Path:        "/order/{id}/ship",
//		PathParams:  map[string]string{"id": orderID},
//		AggregateID: orderID,
//		Body:        ship,
//	}, command.StageSnapshot)
//
// The hub shares one result stream between all waiters. It opens the stream
// for the first subscriber and closes it when the last one leaves; a stream
// failure fails every waiter with ErrNoCommandResult.
package command
