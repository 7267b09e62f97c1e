package command_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fivetwenty-io/wow-client/pkg/command"
	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend accepts commands on /orders/{id}/ship and publishes result signals
// on the server-sent event stream at /command/result/stream.
type backend struct {
	t *testing.T

	mu      sync.Mutex
	streams map[chan string]struct{}
	ready   chan struct{}
	once    sync.Once
	stop    chan struct{}
	quit    chan struct{}

	// accept builds the acceptance answer; the default echoes the request id at SENT.
	accept func(request *http.Request) (int, *command.Result)
	// script runs once the stream is connected, after a command is accepted.
	script func(b *backend, requestID string)
	// headers records the last command's headers.
	headers http.Header
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	t.Helper()

	b := &backend{
		t:       t,
		streams: make(map[chan string]struct{}),
		ready:   make(chan struct{}),
		stop:    make(chan struct{}),
		quit:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /command/result/stream", b.serveStream)
	mux.HandleFunc("POST /orders/{id}/ship", b.serveCommand)

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		close(b.quit)
		server.Close()
	})

	return b, server
}

func (b *backend) serveStream(writer http.ResponseWriter, request *http.Request) {
	flusher, ok := writer.(http.Flusher)
	if !ok {
		http.Error(writer, "streaming unsupported", http.StatusInternalServerError)

		return
	}

	events := make(chan string, 16)

	b.mu.Lock()
	b.streams[events] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.streams, events)
		b.mu.Unlock()
	}()

	writer.Header().Set("Content-Type", "text/event-stream")
	writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	b.once.Do(func() { close(b.ready) })

	for {
		select {
		case data := <-events:
			_, _ = fmt.Fprintf(writer, "event: result\ndata: %s\n\n", data)
			flusher.Flush()
		case <-b.stop:
			return
		case <-b.quit:
			return
		case <-request.Context().Done():
			return
		}
	}
}

func (b *backend) serveCommand(writer http.ResponseWriter, request *http.Request) {
	requestID := request.Header.Get(command.HeaderRequestID)

	b.mu.Lock()
	b.headers = request.Header.Clone()
	b.mu.Unlock()

	status, accepted := http.StatusOK, &command.Result{
		CommandID: "cmd-" + requestID,
		RequestID: requestID,
		Stage:     command.StageSent,
	}
	if b.accept != nil {
		status, accepted = b.accept(request)
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(accepted)

	if b.script != nil && status == http.StatusOK {
		go func() {
			select {
			case <-b.ready:
				b.script(b, requestID)
			case <-b.quit:
			}
		}()
	}
}

func (b *backend) publish(signal command.Result) {
	data, err := json.Marshal(signal)
	require.NoError(b.t, err)

	b.mu.Lock()
	defer b.mu.Unlock()

	for events := range b.streams {
		events <- string(data)
	}
}

func (b *backend) lastHeaders() http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.headers
}

func newCommandClient(t *testing.T, serverURL string, opts ...command.ClientOption) (*command.Client, *command.ResultHub) {
	t.Helper()

	f := fetcher.New(fetcher.WithBaseURL(serverURL))
	hub := command.NewResultHub(command.NewEventStreamSource(f, ""))
	t.Cleanup(hub.Close)

	return command.NewClient(f, append([]command.ClientOption{command.WithResultHub(hub)}, opts...)...), hub
}

func shipCommand(requestID string) *command.Command {
	return &command.Command{
		Path:        "/orders/{id}/ship",
		PathParams:  map[string]string{"id": "o-1"},
		AggregateID: "o-1",
		TenantID:    "t-1",
		RequestID:   requestID,
		Body:        map[string]string{"address": "dock 9"},
	}
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	t.Run("sets command headers", func(t *testing.T) {
		t.Parallel()

		b, server := newBackend(t)
		client := command.NewClient(fetcher.New(fetcher.WithBaseURL(server.URL)))

		accepted, err := client.Send(context.Background(), shipCommand(""))
		require.NoError(t, err)

		headers := b.lastHeaders()
		_, err = uuid.Parse(headers.Get(command.HeaderRequestID))
		require.NoError(t, err)
		assert.Equal(t, headers.Get(command.HeaderRequestID), accepted.RequestID)
		assert.Equal(t, "SENT", headers.Get(command.HeaderWaitStage))
		assert.Equal(t, "o-1", headers.Get(command.HeaderAggregateID))
		assert.Equal(t, "t-1", headers.Get(command.HeaderTenantID))
		assert.Equal(t, "30000", headers.Get(command.HeaderWaitTimeout))
		assert.Equal(t, "application/json", headers.Get("Content-Type"))
		assert.Equal(t, command.StageSent, accepted.Stage)
		assert.Equal(t, "o-1", accepted.AggregateID)
	})

	t.Run("rejected command", func(t *testing.T) {
		t.Parallel()

		b, server := newBackend(t)
		b.accept = func(*http.Request) (int, *command.Result) {
			return http.StatusConflict, &command.Result{ErrorCode: "Conflict", ErrorMsg: "already shipped"}
		}
		client := command.NewClient(fetcher.New(fetcher.WithBaseURL(server.URL)))

		_, err := client.Send(context.Background(), shipCommand("r-1"))
		require.Error(t, err)
		assert.True(t, fetcher.IsStatus(err, http.StatusConflict))
	})

	t.Run("nil command", func(t *testing.T) {
		t.Parallel()

		client := command.NewClient(fetcher.New())

		_, err := client.Send(context.Background(), nil)
		require.ErrorIs(t, err, command.ErrNilCommand)
	})
}

func TestClient_SendAndWait(t *testing.T) {
	t.Parallel()

	t.Run("resolves only on the matching stage", func(t *testing.T) {
		t.Parallel()

		b, server := newBackend(t)
		b.script = func(b *backend, requestID string) {
			b.publish(command.Result{RequestID: requestID, Stage: command.StageSent})
			b.publish(command.Result{RequestID: "someone-else", Stage: command.StageSnapshot})
			b.publish(command.Result{
				RequestID: requestID,
				Stage:     command.StageSnapshot,
				Result:    map[string]any{"status": "shipped"},
			})
		}
		client, hub := newCommandClient(t, server.URL)

		result, err := client.SendAndWait(context.Background(), shipCommand("R1"), command.StageSnapshot)
		require.NoError(t, err)
		assert.Equal(t, "R1", result.RequestID)
		assert.Equal(t, command.StageSnapshot, result.Stage)
		assert.Equal(t, "shipped", result.Result["status"])
		assert.Equal(t, "SNAPSHOT", b.lastHeaders().Get(command.HeaderWaitStage))
		assert.Equal(t, 0, hub.Subscribers())
	})

	t.Run("later stage satisfies an earlier wait", func(t *testing.T) {
		t.Parallel()

		b, server := newBackend(t)
		b.script = func(b *backend, requestID string) {
			b.publish(command.Result{RequestID: requestID, Stage: command.StageSent})
			b.publish(command.Result{RequestID: requestID, Stage: command.StageSnapshot})
		}
		client, _ := newCommandClient(t, server.URL)

		result, err := client.SendAndWait(context.Background(), shipCommand("R1"), command.StageProcessed)
		require.NoError(t, err)
		assert.Equal(t, command.StageSnapshot, result.Stage)
	})

	t.Run("error signal satisfies any stage", func(t *testing.T) {
		t.Parallel()

		b, server := newBackend(t)
		b.script = func(b *backend, requestID string) {
			b.publish(command.Result{
				RequestID: requestID,
				Stage:     command.StageSent,
				ErrorCode: "IllegalState",
				ErrorMsg:  "order cancelled",
			})
		}
		client, _ := newCommandClient(t, server.URL)

		result, err := client.SendAndWait(context.Background(), shipCommand("R1"), command.StageSnapshot)
		require.NoError(t, err)
		assert.True(t, result.Failed())
		require.ErrorIs(t, result.Err(), command.ErrCommandFailed)
		assert.Contains(t, result.Err().Error(), "order cancelled")
	})

	t.Run("acceptance at the wait stage resolves immediately", func(t *testing.T) {
		t.Parallel()

		b, server := newBackend(t)
		b.accept = func(request *http.Request) (int, *command.Result) {
			return http.StatusOK, &command.Result{
				CommandID: "c-1",
				RequestID: request.Header.Get(command.HeaderRequestID),
				Stage:     command.Stage(request.Header.Get(command.HeaderWaitStage)),
			}
		}
		client, hub := newCommandClient(t, server.URL)

		result, err := client.SendAndWait(context.Background(), shipCommand("R1"), command.StageProcessed)
		require.NoError(t, err)
		assert.Equal(t, "c-1", result.CommandID)
		assert.Equal(t, command.StageProcessed, result.Stage)
		assert.Equal(t, 0, hub.Subscribers())
	})

	t.Run("stream closure before a match", func(t *testing.T) {
		t.Parallel()

		b, server := newBackend(t)
		b.script = func(b *backend, _ string) {
			close(b.stop)
		}
		client, _ := newCommandClient(t, server.URL)

		_, err := client.SendAndWait(context.Background(), shipCommand("R1"), command.StageSnapshot)
		require.ErrorIs(t, err, command.ErrNoCommandResult)
	})

	t.Run("correlation timeout", func(t *testing.T) {
		t.Parallel()

		_, server := newBackend(t)
		client, hub := newCommandClient(t, server.URL)

		cmd := shipCommand("R1")
		cmd.WaitTimeout = 100 * time.Millisecond

		start := time.Now()
		_, err := client.SendAndWait(context.Background(), cmd, command.StageSnapshot)
		require.Error(t, err)
		assert.True(t, command.IsCorrelationTimeout(err))
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, 0, hub.Subscribers())
	})

	t.Run("cancellation leaves other waiters untouched", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		b, server := newBackend(t)
		b.script = func(b *backend, requestID string) {
			if requestID != "patient" {
				return
			}

			<-release
			b.publish(command.Result{RequestID: requestID, Stage: command.StageProcessed})
		}
		client, hub := newCommandClient(t, server.URL)

		patient := make(chan error, 1)

		go func() {
			_, err := client.SendAndWait(context.Background(), shipCommand("patient"), command.StageProcessed)
			patient <- err
		}()

		require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		_, err := client.SendAndWait(ctx, shipCommand("impatient"), command.StageProcessed)
		require.Error(t, err)
		assert.True(t, fetcher.IsCancelled(err))
		assert.Equal(t, 1, hub.Subscribers())

		close(release)

		select {
		case err := <-patient:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("remaining waiter never resolved")
		}

		assert.Equal(t, 0, hub.Subscribers())
	})

	t.Run("failed dispatch releases the subscription", func(t *testing.T) {
		t.Parallel()

		b, server := newBackend(t)
		b.accept = func(*http.Request) (int, *command.Result) {
			return http.StatusInternalServerError, &command.Result{}
		}
		client, hub := newCommandClient(t, server.URL)

		_, err := client.SendAndWait(context.Background(), shipCommand("R1"), command.StageProcessed)
		require.Error(t, err)
		assert.True(t, fetcher.IsStatus(err, http.StatusInternalServerError))
		assert.Equal(t, 0, hub.Subscribers())
	})

	t.Run("unknown stage", func(t *testing.T) {
		t.Parallel()

		client := command.NewClient(fetcher.New())

		_, err := client.SendAndWait(context.Background(), shipCommand("R1"), command.Stage("DONE"))
		require.ErrorIs(t, err, command.ErrUnknownStage)
	})

	t.Run("waiting past SENT needs a hub", func(t *testing.T) {
		t.Parallel()

		client := command.NewClient(fetcher.New())

		_, err := client.SendAndWait(context.Background(), shipCommand("R1"), command.StageProcessed)
		require.ErrorIs(t, err, command.ErrNoResultHub)
	})
}

func TestClient_SendAndWaitStream(t *testing.T) {
	t.Parallel()

	t.Run("yields acceptance and signals up to the wait stage", func(t *testing.T) {
		t.Parallel()

		b, server := newBackend(t)
		b.script = func(b *backend, requestID string) {
			b.publish(command.Result{RequestID: requestID, Stage: command.StageProcessed})
			b.publish(command.Result{RequestID: requestID, Stage: command.StageSnapshot})
		}
		client, hub := newCommandClient(t, server.URL)

		stream, err := client.SendAndWaitStream(context.Background(), shipCommand("R1"), command.StageSnapshot)
		require.NoError(t, err)

		defer stream.Close()

		var stages []command.Stage
		for result := range stream.Results() {
			stages = append(stages, result.Stage)
		}

		require.NoError(t, stream.Err())
		assert.Equal(t, []command.Stage{command.StageSent, command.StageProcessed, command.StageSnapshot}, stages)
		assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("close releases the subscription", func(t *testing.T) {
		t.Parallel()

		_, server := newBackend(t)
		client, hub := newCommandClient(t, server.URL)

		stream, err := client.SendAndWaitStream(context.Background(), shipCommand("R1"), command.StageSnapshot)
		require.NoError(t, err)

		first := <-stream.Results()
		assert.Equal(t, command.StageSent, first.Stage)

		stream.Close()

		for range stream.Results() {
		}

		require.NoError(t, stream.Err())
		assert.Equal(t, 0, hub.Subscribers())
	})

	t.Run("slow reader does not stall other waiters", func(t *testing.T) {
		t.Parallel()

		_, server := newBackend(t)
		source := newFakeSource()
		hub := command.NewResultHub(source)
		t.Cleanup(hub.Close)

		client := command.NewClient(fetcher.New(fetcher.WithBaseURL(server.URL)), command.WithResultHub(hub))

		stream, err := client.SendAndWaitStream(context.Background(), shipCommand("R1"), command.StageSnapshot)
		require.NoError(t, err)

		defer stream.Close()

		other := hub.Subscribe("R2")
		defer other.Close()

		signals := waitOpened(t, source)

		const backlog = 24
		for range backlog {
			send(t, signals, &command.Result{RequestID: "R1", Stage: command.StageProcessed})
		}

		send(t, signals, &command.Result{RequestID: "R2", Stage: command.StageSent})
		assert.Equal(t, command.StageSent, receive(t, other).Stage)

		send(t, signals, &command.Result{RequestID: "R1", Stage: command.StageSnapshot})

		var stages []command.Stage
		for result := range stream.Results() {
			stages = append(stages, result.Stage)
		}

		require.NoError(t, stream.Err())
		require.Len(t, stages, backlog+2)
		assert.Equal(t, command.StageSent, stages[0])
		assert.Equal(t, command.StageSnapshot, stages[len(stages)-1])
	})
}
