package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Request describes an outgoing call before URL resolution and body encoding.
type Request struct {
	Method     string
	URL        string
	PathParams map[string]string
	Query      url.Values
	Headers    http.Header
	// Body may be nil, []byte, string, io.Reader or any JSON encodable value.
	Body any
	// Timeout bounds the transport call until response headers arrive.
	// Zero means the fetcher default; a negative value disables the deadline.
	Timeout time.Duration
}

// Clone returns a copy that can be mutated without affecting r.
func (r *Request) Clone() *Request {
	out := *r
	out.Headers = r.Headers.Clone()

	if out.Headers == nil {
		out.Headers = make(http.Header)
	}

	if r.Query != nil {
		out.Query = make(url.Values, len(r.Query))
		for k, v := range r.Query {
			out.Query[k] = append([]string(nil), v...)
		}
	}

	if r.PathParams != nil {
		out.PathParams = make(map[string]string, len(r.PathParams))
		for k, v := range r.PathParams {
			out.PathParams[k] = v
		}
	}

	return &out
}

// Response is the transport's reply.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       io.ReadCloser
}

// ReadBody reads the whole body and leaves a re-readable copy in place.
func (r *Response) ReadBody() ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}

	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()

	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return data, err
	}

	return data, nil
}

// Close releases the response body.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}

	return r.Body.Close()
}

// Exchange is the mutable record of one request/response round trip.
// Once the pipeline completes exactly one of Response and Error is set.
type Exchange struct {
	Fetcher         *Fetcher
	Request         *Request
	Response        *Response
	Error           error
	Attributes      Attributes
	ResultExtractor ResultExtractor

	ctx context.Context
}

// NewExchange creates an exchange for req bound to ctx.
func NewExchange(ctx context.Context, f *Fetcher, req *Request) *Exchange {
	return &Exchange{
		Fetcher:    f,
		Request:    req,
		Attributes: make(Attributes),
		ctx:        ctx,
	}
}

// Context returns the context the exchange was started with.
func (e *Exchange) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}

	return e.ctx
}

// HasResponse reports whether a response is attached.
func (e *Exchange) HasResponse() bool {
	return e.Response != nil
}

// HasError reports whether an error is attached.
func (e *Exchange) HasError() bool {
	return e.Error != nil
}

// Recover replaces the response and clears the error.
func (e *Exchange) Recover(resp *Response) {
	if e.Response != nil && e.Response != resp {
		_ = e.Response.Close()
	}

	e.Response = resp
	e.Error = nil
}

// Extract applies the exchange's result extractor.
func (e *Exchange) Extract() (any, error) {
	extractor := e.ResultExtractor
	if extractor == nil {
		extractor = JSONExtractor
	}

	return extractor(e)
}
