package fetcher

import (
	"encoding/json"
	"fmt"
	"mime"
)

// ResultExtractor turns a completed exchange into the caller's result.
type ResultExtractor func(exchange *Exchange) (any, error)

// ExchangeExtractor returns the exchange itself.
func ExchangeExtractor(exchange *Exchange) (any, error) {
	return exchange, nil
}

// ResponseExtractor returns the raw *Response. The caller closes its body.
func ResponseExtractor(exchange *Exchange) (any, error) {
	return exchange.Response, nil
}

// TextExtractor returns the body as a string.
func TextExtractor(exchange *Exchange) (any, error) {
	data, err := exchange.Response.ReadBody()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return string(data), nil
}

// JSONExtractor decodes the body into generic JSON values. An empty body
// yields nil.
func JSONExtractor(exchange *Exchange) (any, error) {
	data, err := exchange.Response.ReadBody()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if len(data) == 0 {
		return nil, nil //nolint:nilnil // empty body has no result
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return out, nil
}

// JSON returns an extractor that decodes the body into a new *T.
func JSON[T any]() ResultExtractor {
	return func(exchange *Exchange) (any, error) {
		data, err := exchange.Response.ReadBody()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		out := new(T)
		if len(data) == 0 {
			return out, nil
		}

		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}

		return out, nil
	}
}

// EventStreamExtractor returns an *EventStream over a text/event-stream body.
func EventStreamExtractor(exchange *Exchange) (any, error) {
	contentType := exchange.Response.Headers.Get("Content-Type")
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "text/event-stream" {
			_ = exchange.Response.Close()

			return nil, fmt.Errorf("%w: %s", ErrNotEventStream, contentType)
		}
	}

	return NewEventStream(exchange.Response.Body), nil
}
