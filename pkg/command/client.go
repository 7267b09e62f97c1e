package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fivetwenty-io/wow-client/internal/constants"
	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
	"github.com/google/uuid"
)

// ErrNilCommand is returned when no command is given.
var ErrNilCommand = errors.New("command is nil")

var errWaitDeadline = errors.New("command wait deadline elapsed")

// Client dispatches commands and correlates their results.
type Client struct {
	fetcher     *fetcher.Fetcher
	hub         *ResultHub
	logger      fetcher.Logger
	waitTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithResultHub sets the hub waits subscribe to.
func WithResultHub(hub *ResultHub) ClientOption {
	return func(c *Client) {
		c.hub = hub
	}
}

// WithWaitTimeout sets the wait timeout used when a command has none.
func WithWaitTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.waitTimeout = timeout
	}
}

// WithLogger sets the logger. It defaults to the fetcher's.
func WithLogger(logger fetcher.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a command client sending through f.
func NewClient(f *fetcher.Fetcher, opts ...ClientOption) *Client {
	c := &Client{
		fetcher:     f,
		waitTimeout: constants.DefaultWaitTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = f.Logger()
	}

	return c
}

// Hub returns the result hub, nil when waits beyond SENT are unsupported.
func (c *Client) Hub() *ResultHub {
	return c.hub
}

// Send dispatches cmd and returns the acceptance once the backend has
// received it.
func (c *Client) Send(ctx context.Context, cmd *Command) (*Result, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}

	return c.dispatch(ctx, cmd, requestIDOf(cmd), StageSent, c.timeoutOf(cmd), 0)
}

// SendAndWait dispatches cmd and blocks until a result for it reaches stage.
// A result carrying an error completes the wait at any stage; it is returned
// with a nil error and Result.Err describes the failure.
func (c *Client) SendAndWait(ctx context.Context, cmd *Command, stage Stage) (*Result, error) {
	w, err := c.start(ctx, cmd, stage)
	if err != nil {
		return nil, err
	}
	defer w.release()

	if w.sub == nil || w.accepted.Satisfies(w.requestID, stage) {
		return w.accepted, nil
	}

	for {
		select {
		case signal, ok := <-w.sub.Results():
			if !ok {
				return nil, w.sub.Err()
			}

			if signal.Satisfies(w.requestID, stage) {
				return signal, nil
			}

			c.logger.Debug("Dropping command result below wait stage", map[string]interface{}{
				"request_id": w.requestID,
				"stage":      string(signal.Stage),
				"wait_stage": string(stage),
			})
		case <-w.ctx.Done():
			return nil, w.err(ctx)
		}
	}
}

// SendAndWaitStream dispatches cmd and streams its acceptance followed by
// every result signal for it. The stream completes after the first result
// that reaches stage or carries an error.
func (c *Client) SendAndWaitStream(ctx context.Context, cmd *Command, stage Stage) (*ResultStream, error) {
	w, err := c.start(ctx, cmd, stage)
	if err != nil {
		return nil, err
	}

	stream := &ResultStream{
		results: make(chan *Result),
		closed:  make(chan struct{}),
	}

	go stream.run(ctx, w, stage)

	return stream, nil
}

// waiter is one in-flight wait.
type waiter struct {
	cmd       *Command
	requestID string
	stage     Stage
	accepted  *Result
	sub       *Subscription
	ctx       context.Context
	cancel    context.CancelFunc
}

// start subscribes before dispatching so no signal can be missed.
func (c *Client) start(ctx context.Context, cmd *Command, stage Stage) (*waiter, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}

	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}

	if c.hub == nil && stage != StageSent {
		return nil, ErrNoResultHub
	}

	timeout := c.timeoutOf(cmd)
	waitCtx, cancel := context.WithTimeoutCause(ctx, timeout, errWaitDeadline)

	w := &waiter{
		cmd:       cmd,
		requestID: requestIDOf(cmd),
		stage:     stage,
		ctx:       waitCtx,
		cancel:    cancel,
	}

	if stage != StageSent {
		w.sub = c.hub.Subscribe(w.requestID)
	}

	accepted, err := c.dispatch(waitCtx, cmd, w.requestID, stage, timeout, -1)
	if err != nil {
		w.release()

		if errors.Is(context.Cause(waitCtx), errWaitDeadline) {
			return nil, fmt.Errorf("%w: %w", ErrCorrelationTimeout, err)
		}

		return nil, err
	}

	w.accepted = accepted

	return w, nil
}

func (w *waiter) release() {
	if w.sub != nil {
		w.sub.Close()
	}

	w.cancel()
}

// err classifies the end of a wait whose context is done. It returns nil
// when neither the caller nor the deadline ended it.
func (w *waiter) err(parent context.Context) error {
	if errors.Is(context.Cause(w.ctx), errWaitDeadline) || errors.Is(parent.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: request %s did not reach %s", ErrCorrelationTimeout, w.requestID, w.stage)
	}

	if err := parent.Err(); err != nil {
		return &fetcher.CancelledError{Method: methodOf(w.cmd), URL: w.cmd.Path, Err: err}
	}

	return nil
}

func (c *Client) dispatch(
	ctx context.Context, cmd *Command, requestID string, stage Stage, waitTimeout, requestTimeout time.Duration,
) (*Result, error) {
	headers := cmd.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}

	headers.Set(HeaderWaitStage, string(stage))
	headers.Set(HeaderRequestID, requestID)
	headers.Set(HeaderWaitTimeout, strconv.FormatInt(waitTimeout.Milliseconds(), 10))

	if cmd.AggregateID != "" {
		headers.Set(HeaderAggregateID, cmd.AggregateID)
	}

	if cmd.TenantID != "" {
		headers.Set(HeaderTenantID, cmd.TenantID)
	}

	accepted, err := fetcher.Execute[*Result](ctx, c.fetcher, &fetcher.Request{
		Method:     methodOf(cmd),
		URL:        cmd.Path,
		PathParams: cmd.PathParams,
		Headers:    headers,
		Body:       cmd.Body,
		Timeout:    requestTimeout,
	}, fetcher.WithExtractor(fetcher.JSON[Result]()))
	if err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	if accepted == nil {
		accepted = &Result{}
	}

	if accepted.RequestID == "" {
		accepted.RequestID = requestID
	}

	if accepted.Stage == "" {
		accepted.Stage = StageSent
	}

	if accepted.AggregateID == "" {
		accepted.AggregateID = cmd.AggregateID
	}

	c.logger.Debug("Command accepted", map[string]interface{}{
		"command_id": accepted.CommandID,
		"request_id": accepted.RequestID,
		"stage":      string(accepted.Stage),
	})

	return accepted, nil
}

func (c *Client) timeoutOf(cmd *Command) time.Duration {
	if cmd.WaitTimeout > 0 {
		return cmd.WaitTimeout
	}

	return c.waitTimeout
}

func requestIDOf(cmd *Command) string {
	if cmd.RequestID != "" {
		return cmd.RequestID
	}

	return uuid.NewString()
}

func methodOf(cmd *Command) string {
	if cmd.Method == "" {
		return http.MethodPost
	}

	return cmd.Method
}

// ResultStream delivers the results of one command. Results is closed when
// the stream completes; Err then reports a failure, if any.
type ResultStream struct {
	results   chan *Result
	closed    chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Results returns the result channel.
func (s *ResultStream) Results() <-chan *Result {
	return s.results
}

// Err returns the failure that ended the stream.
func (s *ResultStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Close stops the stream and releases its subscription.
func (s *ResultStream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

func (s *ResultStream) run(parent context.Context, w *waiter, stage Stage) {
	defer close(s.results)
	defer w.release()

	// Signals queue here so a slow reader never backs up the subscription.
	pending := []*Result{w.accepted}

	var incoming <-chan *Result
	if w.sub != nil && !w.accepted.Satisfies(w.requestID, stage) {
		incoming = w.sub.Results()
	}

	for len(pending) > 0 || incoming != nil {
		var (
			out  chan<- *Result
			next *Result
		)

		if len(pending) > 0 {
			out, next = s.results, pending[0]
		}

		select {
		case out <- next:
			pending = pending[1:]
		case signal, ok := <-incoming:
			if !ok {
				s.fail(w.sub.Err())
				incoming = nil

				continue
			}

			pending = append(pending, signal)

			if signal.Satisfies(w.requestID, stage) {
				incoming = nil
			}
		case <-w.ctx.Done():
			s.fail(w.err(parent))

			return
		case <-s.closed:
			return
		}
	}
}

func (s *ResultStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
