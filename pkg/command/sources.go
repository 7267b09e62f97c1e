package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fivetwenty-io/wow-client/internal/constants"
	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
	"github.com/nats-io/nats.go"
)

// DecodeSignal parses one JSON encoded result signal.
func DecodeSignal(data []byte) (*Result, error) {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode command result: %w", err)
	}

	return &result, nil
}

// signalPipe is the SignalStream shared by the sources.
type signalPipe struct {
	signals chan *Result
	closed  chan struct{}
	onClose func() error

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newSignalPipe(onClose func() error) *signalPipe {
	return &signalPipe{
		signals: make(chan *Result),
		closed:  make(chan struct{}),
		onClose: onClose,
	}
}

func (p *signalPipe) Signals() <-chan *Result {
	return p.signals
}

func (p *signalPipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

func (p *signalPipe) Close() error {
	var err error

	p.closeOnce.Do(func() {
		close(p.closed)

		if p.onClose != nil {
			err = p.onClose()
		}
	})

	return err
}

// send reports false once the pipe is closed.
func (p *signalPipe) send(ctx context.Context, signal *Result) bool {
	select {
	case p.signals <- signal:
		return true
	case <-p.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// finish ends the stream with err; it must be called by the single producer.
func (p *signalPipe) finish(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()

	close(p.signals)
}

// EventStreamSource reads result signals from a server-sent event endpoint
// through a fetcher, so the stream request carries the same credentials and
// interceptors as any other call.
type EventStreamSource struct {
	fetcher        *fetcher.Fetcher
	path           string
	connectTimeout time.Duration
}

// NewEventStreamSource creates a source reading path through f.
func NewEventStreamSource(f *fetcher.Fetcher, path string) *EventStreamSource {
	if path == "" {
		path = constants.DefaultResultStreamPath
	}

	return &EventStreamSource{
		fetcher:        f,
		path:           path,
		connectTimeout: constants.DefaultStreamConnectTimeout,
	}
}

// Open implements SignalSource.
func (s *EventStreamSource) Open(ctx context.Context) (SignalStream, error) {
	stream, err := fetcher.Execute[*fetcher.EventStream](ctx, s.fetcher, &fetcher.Request{
		Method:  http.MethodGet,
		URL:     s.path,
		Headers: http.Header{"Accept": {"text/event-stream"}},
		Timeout: s.connectTimeout,
	}, fetcher.WithExtractor(fetcher.EventStreamExtractor))
	if err != nil {
		return nil, err
	}

	logger := s.fetcher.Logger()
	pipe := newSignalPipe(stream.Close)

	go func() {
		for ev := range stream.Events() {
			signal, err := DecodeSignal([]byte(ev.Data))
			if err != nil {
				logger.Warn("Skipping malformed command result", map[string]interface{}{"error": err.Error()})

				continue
			}

			if !pipe.send(ctx, signal) {
				pipe.finish(nil)

				return
			}
		}

		pipe.finish(stream.Err())
	}()

	return pipe, nil
}

// NATSSource reads result signals published on a NATS subject.
type NATSSource struct {
	conn    *nats.Conn
	subject string
	logger  fetcher.Logger
}

// NewNATSSource creates a source subscribing to subject on conn.
func NewNATSSource(conn *nats.Conn, subject string, logger fetcher.Logger) *NATSSource {
	if subject == "" {
		subject = constants.DefaultResultSubject
	}

	return &NATSSource{conn: conn, subject: subject, logger: fetcher.LoggerOrNop(logger)}
}

// Open implements SignalSource.
func (s *NATSSource) Open(ctx context.Context) (SignalStream, error) {
	msgs := make(chan *nats.Msg, constants.SubscriberBufferSize)

	sub, err := s.conn.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}

	pipe := newSignalPipe(sub.Unsubscribe)

	go func() {
		for {
			select {
			case <-ctx.Done():
				pipe.finish(nil)

				return
			case <-pipe.closed:
				pipe.finish(nil)

				return
			case msg := <-msgs:
				signal, err := DecodeSignal(msg.Data)
				if err != nil {
					s.logger.Warn("Skipping malformed command result", map[string]interface{}{
						"subject": msg.Subject,
						"error":   err.Error(),
					})

					continue
				}

				if !pipe.send(ctx, signal) {
					pipe.finish(nil)

					return
				}
			}
		}
	}()

	return pipe, nil
}
