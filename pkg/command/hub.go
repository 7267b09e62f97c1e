package command

import (
	"context"
	"fmt"
	"sync"

	"github.com/fivetwenty-io/wow-client/internal/constants"
	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
)

// SignalSource opens a stream of command result signals.
type SignalSource interface {
	Open(ctx context.Context) (SignalStream, error)
}

// SignalStream is an open result stream. Signals is closed when the stream
// ends; Err then reports why.
type SignalStream interface {
	Signals() <-chan *Result
	Err() error
	Close() error
}

type hubSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ResultHub shares one result stream between all waiters. The stream is
// opened for the first subscriber and closed when the last one leaves.
type ResultHub struct {
	source     SignalSource
	logger     fetcher.Logger
	bufferSize int

	mu          sync.Mutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	session     *hubSession
}

// HubOption configures a ResultHub.
type HubOption func(*ResultHub)

// WithHubLogger sets the logger.
func WithHubLogger(logger fetcher.Logger) HubOption {
	return func(h *ResultHub) {
		h.logger = logger
	}
}

// WithBufferSize sets the per-subscriber signal buffer. A subscriber that lets
// it fill up is failed with ErrSubscriberOverflow.
func WithBufferSize(size int) HubOption {
	return func(h *ResultHub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

// NewResultHub creates a hub over source.
func NewResultHub(source SignalSource, opts ...HubOption) *ResultHub {
	h := &ResultHub{
		source:      source,
		bufferSize:  constants.SubscriberBufferSize,
		subscribers: make(map[uint64]*Subscription),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.logger = fetcher.LoggerOrNop(h.logger)

	return h
}

// Subscribe registers interest in signals for requestID.
func (h *ResultHub) Subscribe(requestID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		hub:       h,
		id:        h.nextID,
		requestID: requestID,
		results:   make(chan *Result, h.bufferSize),
		closed:    make(chan struct{}),
	}
	h.subscribers[sub.id] = sub

	if h.session == nil {
		h.session = h.start()
	}

	return sub
}

// Subscribers returns the number of active subscriptions.
func (h *ResultHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscribers)
}

// Active reports whether a stream is open or opening.
func (h *ResultHub) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.session != nil
}

// Close tears down the stream and fails every subscriber.
func (h *ResultHub) Close() {
	h.mu.Lock()
	session := h.session
	h.session = nil
	subs := h.drain()
	h.mu.Unlock()

	// Stop the pump before closing subscriber channels it may be sending on.
	if session != nil {
		session.cancel()
		<-session.done
	}

	for _, sub := range subs {
		sub.fail(fmt.Errorf("%w: %w", ErrNoCommandResult, ErrStreamClosed))
	}
}

// start must be called with h.mu held.
func (h *ResultHub) start() *hubSession {
	ctx, cancel := context.WithCancel(context.Background())
	session := &hubSession{cancel: cancel, done: make(chan struct{})}

	go h.pump(ctx, session)

	return session
}

func (h *ResultHub) pump(ctx context.Context, session *hubSession) {
	defer close(session.done)

	stream, err := h.source.Open(ctx)
	if err != nil {
		h.terminate(session, fmt.Errorf("%w: opening result stream: %w", ErrNoCommandResult, err))

		return
	}

	defer func() { _ = stream.Close() }()

	h.logger.Debug("Command result stream opened", nil)

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("Command result stream closed", nil)

			return
		case signal, ok := <-stream.Signals():
			if !ok {
				cause := stream.Err()
				if cause == nil {
					cause = ErrStreamClosed
				}

				h.terminate(session, fmt.Errorf("%w: %w", ErrNoCommandResult, cause))

				return
			}

			h.route(session, signal)
		}
	}
}

// route hands signal to its subscribers without blocking. A subscriber whose
// buffer is full is dropped and failed with ErrSubscriberOverflow.
func (h *ResultHub) route(session *hubSession, signal *Result) {
	h.mu.Lock()
	if h.session != session {
		h.mu.Unlock()

		return
	}

	var targets []*Subscription

	for _, sub := range h.subscribers {
		if sub.requestID == signal.RequestID {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if !sub.deliver(signal) {
			h.overflow(sub)
		}
	}
}

func (h *ResultHub) overflow(sub *Subscription) {
	h.mu.Lock()
	removed := h.remove(sub)
	h.mu.Unlock()

	// Close or terminate owns subscribers that are no longer registered.
	if !removed {
		return
	}

	h.logger.Warn("Command result subscriber overflowed", map[string]interface{}{
		"request_id": sub.requestID,
		"buffer":     cap(sub.results),
	})

	sub.fail(fmt.Errorf("%w: %w", ErrNoCommandResult, ErrSubscriberOverflow))
}

// terminate fails the subscribers of session if it is still current.
func (h *ResultHub) terminate(session *hubSession, err error) {
	h.mu.Lock()
	if h.session != session {
		h.mu.Unlock()

		return
	}

	h.session = nil
	subs := h.drain()
	h.mu.Unlock()

	h.logger.Warn("Command result stream failed", map[string]interface{}{
		"error":       err.Error(),
		"subscribers": len(subs),
	})

	for _, sub := range subs {
		sub.fail(err)
	}
}

// drain must be called with h.mu held.
func (h *ResultHub) drain() []*Subscription {
	subs := make([]*Subscription, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}

	h.subscribers = make(map[uint64]*Subscription)

	return subs
}

func (h *ResultHub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.remove(sub)
}

// remove must be called with h.mu held. The stream is stopped once the last
// subscriber is gone.
func (h *ResultHub) remove(sub *Subscription) bool {
	if _, ok := h.subscribers[sub.id]; !ok {
		return false
	}

	delete(h.subscribers, sub.id)

	if len(h.subscribers) == 0 && h.session != nil {
		h.session.cancel()
		h.session = nil
	}

	return true
}

// Subscription receives the signals routed to one request id.
type Subscription struct {
	hub       *ResultHub
	id        uint64
	requestID string
	results   chan *Result
	closed    chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// RequestID returns the correlated request id.
func (s *Subscription) RequestID() string {
	return s.requestID
}

// Results returns routed signals. The channel is closed when the stream fails
// or when the subscriber falls a full buffer behind.
func (s *Subscription) Results() <-chan *Result {
	return s.results
}

// Err returns the failure that closed Results.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Close unsubscribes. The stream is torn down when no subscribers remain.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.hub.unsubscribe(s)
	})
}

// deliver reports false when the buffer is full.
func (s *Subscription) deliver(signal *Result) bool {
	select {
	case <-s.closed:
		return true
	default:
	}

	select {
	case s.results <- signal:
		return true
	default:
		return false
	}
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	close(s.results)
}
