package fetcher

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	initialEventBufferSize = 64 * 1024
	maxEventBufferSize     = 1024 * 1024
)

// ServerSentEvent is one dispatched event of a text/event-stream body.
type ServerSentEvent struct {
	ID    string
	Event string
	Data  string
	Retry time.Duration
}

// ParseEvents reads server-sent events from r and calls fn for each one until
// fn returns false or r is exhausted.
func ParseEvents(r io.Reader, fn func(ServerSentEvent) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialEventBufferSize), maxEventBufferSize)

	var (
		event   ServerSentEvent
		data    strings.Builder
		hasData bool
	)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if line == "" {
			if hasData {
				event.Data = strings.TrimSuffix(data.String(), "\n")
				if !fn(event) {
					return nil
				}
			}

			event = ServerSentEvent{ID: event.ID}
			data.Reset()
			hasData = false

			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')

			hasData = true
		case "event":
			event.Event = value
		case "id":
			event.ID = value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				event.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	if hasData {
		event.Data = strings.TrimSuffix(data.String(), "\n")
		fn(event)
	}

	return nil
}

// EventStream delivers events parsed from a response body on a channel.
type EventStream struct {
	body   io.ReadCloser
	events chan ServerSentEvent
	closed chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewEventStream starts parsing body.
func NewEventStream(body io.ReadCloser) *EventStream {
	s := &EventStream{
		body:   body,
		events: make(chan ServerSentEvent),
		closed: make(chan struct{}),
	}

	go s.read()

	return s
}

func (s *EventStream) read() {
	defer close(s.events)

	err := ParseEvents(s.body, func(ev ServerSentEvent) bool {
		select {
		case s.events <- ev:
			return true
		case <-s.closed:
			return false
		}
	})

	select {
	case <-s.closed:
		return
	default:
	}

	if err != nil && !errors.Is(err, io.EOF) {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
}

// Events returns the event channel. It is closed when the stream ends.
func (s *EventStream) Events() <-chan ServerSentEvent {
	return s.events
}

// Err returns the read error that ended the stream, if any.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Close stops the stream and releases the body.
func (s *EventStream) Close() error {
	var err error

	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.body.Close()
	})

	return err
}
