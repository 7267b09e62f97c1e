package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var errDeadline = errors.New("transport deadline elapsed")

// Executor performs a single transport call with a deadline. The deadline
// covers the call until the response headers arrive; reading the body is
// bounded by the caller's context only.
type Executor struct {
	doer Doer
}

// NewExecutor creates an executor over doer.
func NewExecutor(doer Doer) *Executor {
	return &Executor{doer: doer}
}

type doResult struct {
	resp *http.Response
	err  error
}

// Execute sends req. A timeout yields *TimeoutError, cancellation of ctx
// yields *CancelledError and any other failure *TransportError.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	callCtx, cancel := context.WithCancelCause(ctx)

	httpReq, err := newHTTPRequest(callCtx, method, req)
	if err != nil {
		cancel(nil)

		return nil, &TransportError{Method: method, URL: req.URL, Err: err}
	}

	var timer *time.Timer
	if req.Timeout > 0 {
		timer = time.AfterFunc(req.Timeout, func() { cancel(errDeadline) })
	}

	done := make(chan doResult, 1)

	go func() {
		resp, err := e.doer.Do(httpReq)
		done <- doResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if timer != nil {
			timer.Stop()
		}

		if r.err != nil || callCtx.Err() != nil {
			if r.resp != nil {
				_ = r.resp.Body.Close()
			}

			failure := e.classify(ctx, callCtx, method, req, r.err)
			cancel(nil)

			return nil, failure
		}

		return &Response{
			StatusCode: r.resp.StatusCode,
			Headers:    r.resp.Header,
			Body:       &cancelOnClose{ReadCloser: r.resp.Body, cancel: func() { cancel(nil) }},
		}, nil
	case <-callCtx.Done():
		failure := e.classify(ctx, callCtx, method, req, nil)
		cancel(nil)

		// The transport may ignore the context; drain its late result.
		go func() {
			if r := <-done; r.resp != nil {
				_ = r.resp.Body.Close()
			}
		}()

		return nil, failure
	}
}

func (e *Executor) classify(parent, callCtx context.Context, method string, req *Request, err error) error {
	if errors.Is(context.Cause(callCtx), errDeadline) {
		return &TimeoutError{Method: method, URL: req.URL, Timeout: req.Timeout}
	}

	if parentErr := parent.Err(); parentErr != nil {
		if errors.Is(parentErr, context.DeadlineExceeded) {
			return &TimeoutError{Method: method, URL: req.URL}
		}

		return &CancelledError{Method: method, URL: req.URL, Err: parentErr}
	}

	if err == nil {
		err = context.Cause(callCtx)
	}

	return &TransportError{Method: method, URL: req.URL, Err: err}
}

func newHTTPRequest(ctx context.Context, method string, req *Request) (*http.Request, error) {
	var body io.Reader

	switch b := req.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	case string:
		body = strings.NewReader(b)
	case io.Reader:
		body = b
	default:
		return nil, fmt.Errorf("unsupported request body type %T", req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	return httpReq, nil
}

type cancelOnClose struct {
	io.ReadCloser

	once   sync.Once
	cancel func()
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cancel)

	return err
}
