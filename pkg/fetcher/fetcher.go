package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	internalhttp "github.com/fivetwenty-io/wow-client/internal/http"
)

// DefaultTimeout bounds a transport call when neither the request nor the
// fetcher configures one.
const DefaultTimeout = 30 * time.Second

// Fetcher runs requests through its interceptor chains and the transport.
type Fetcher struct {
	name           string
	baseURL        string
	headers        http.Header
	timeout        time.Duration
	doer           Doer
	executor       *Executor
	interceptors   *InterceptorManager
	logger         Logger
	extractor      ResultExtractor
	validateStatus func(int) bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithName names the fetcher in logs and telemetry.
func WithName(name string) Option {
	return func(f *Fetcher) {
		f.name = name
	}
}

// WithBaseURL sets the URL relative request URLs are resolved against.
func WithBaseURL(baseURL string) Option {
	return func(f *Fetcher) {
		f.baseURL = baseURL
	}
}

// WithHeaders sets headers added to every request that lacks them.
func WithHeaders(headers http.Header) Option {
	return func(f *Fetcher) {
		f.headers = headers.Clone()
	}
}

// WithTimeout sets the default transport deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = timeout
	}
}

// WithDoer sets the transport.
func WithDoer(doer Doer) Option {
	return func(f *Fetcher) {
		f.doer = doer
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithResultExtractor sets the default result extractor.
func WithResultExtractor(extractor ResultExtractor) Option {
	return func(f *Fetcher) {
		f.extractor = extractor
	}
}

// WithStatusValidator sets which response statuses count as success.
func WithStatusValidator(validate func(statusCode int) bool) Option {
	return func(f *Fetcher) {
		f.validateStatus = validate
	}
}

// New creates a fetcher with the built-in interceptors registered.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		name:           "default",
		headers:        make(http.Header),
		timeout:        DefaultTimeout,
		interceptors:   NewInterceptorManager(),
		extractor:      JSONExtractor,
		validateStatus: DefaultStatusValidator,
	}

	for _, opt := range opts {
		opt(f)
	}

	f.logger = LoggerOrNop(f.logger)

	if f.doer == nil {
		f.doer = internalhttp.NewClient(internalhttp.WithLogger(f.logger))
	}

	f.executor = NewExecutor(f.doer)

	f.interceptors.Request.MustUse(URLResolveInterceptor())
	f.interceptors.Request.MustUse(RequestBodyInterceptor())
	f.interceptors.Request.MustUse(RequestLoggingInterceptor(f.logger))
	f.interceptors.Response.MustUse(ValidateStatusInterceptor())
	f.interceptors.Error.MustUse(LoggingErrorInterceptor(f.logger))

	return f
}

// Name returns the fetcher name.
func (f *Fetcher) Name() string { return f.name }

// BaseURL returns the base URL.
func (f *Fetcher) BaseURL() string { return f.baseURL }

// Logger returns the logger.
func (f *Fetcher) Logger() Logger { return f.logger }

// Interceptors returns the phase chains.
func (f *Fetcher) Interceptors() *InterceptorManager { return f.interceptors }

// Executor returns the transport executor. Calls made through it bypass the
// interceptor chains.
func (f *Fetcher) Executor() *Executor { return f.executor }

// ValidateStatus reports whether statusCode counts as success.
func (f *Fetcher) ValidateStatus(statusCode int) bool {
	return f.validateStatus(statusCode)
}

// FetchOption adjusts a single exchange.
type FetchOption func(*Exchange)

// WithExtractor overrides the result extractor for one call.
func WithExtractor(extractor ResultExtractor) FetchOption {
	return func(ex *Exchange) {
		ex.ResultExtractor = extractor
	}
}

// WithAttribute sets an exchange attribute for one call.
func WithAttribute(key AttributeKey, value any) FetchOption {
	return func(ex *Exchange) {
		ex.Attributes.Set(key, value)
	}
}

func (f *Fetcher) newExchange(ctx context.Context, req *Request, opts []FetchOption) *Exchange {
	r := req.Clone()
	if r.Method == "" {
		r.Method = http.MethodGet
	}

	for key, values := range f.headers {
		if r.Headers.Get(key) == "" {
			r.Headers[key] = append([]string(nil), values...)
		}
	}

	switch {
	case r.Timeout == 0:
		r.Timeout = f.timeout
	case r.Timeout < 0:
		r.Timeout = 0
	}

	ex := NewExchange(ctx, f, r)
	ex.ResultExtractor = f.extractor

	for _, opt := range opts {
		opt(ex)
	}

	return ex
}

// Exchange runs req through the pipeline. On failure the returned error is an
// *ExchangeError wrapping the cause; the exchange is returned in both cases.
func (f *Fetcher) Exchange(ctx context.Context, req *Request, opts ...FetchOption) (*Exchange, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	ex := f.newExchange(ctx, req, opts)
	f.run(ctx, ex)

	if ex.Error == nil && ex.Response != nil {
		return ex, nil
	}

	return ex, f.fail(ex)
}

func (f *Fetcher) run(ctx context.Context, ex *Exchange) {
	if err := f.interceptors.Request.Intercept(ctx, ex); err != nil {
		ex.Error = err
	} else {
		resp, err := f.executor.Execute(ctx, ex.Request)
		if err != nil {
			ex.Error = err
		} else {
			ex.Response = resp
			if err := f.interceptors.Response.Intercept(ctx, ex); err != nil {
				ex.Error = err
			}
		}
	}

	if ex.Error != nil {
		_ = f.interceptors.Error.Intercept(ctx, ex)
	}

	f.interceptors.Complete(ctx, ex)
}

func (f *Fetcher) fail(ex *Exchange) error {
	cause := ex.Error
	if cause == nil {
		cause = ErrNoResponse
	}

	exchangeErr := &ExchangeError{
		Method: ex.Request.Method,
		URL:    ex.Request.URL,
		Err:    cause,
	}

	if ex.Response != nil {
		exchangeErr.StatusCode = ex.Response.StatusCode
		_ = ex.Response.Close()
		ex.Response = nil
	}

	ex.Error = exchangeErr

	return exchangeErr
}

// Fetch runs req and applies the exchange's result extractor.
func (f *Fetcher) Fetch(ctx context.Context, req *Request, opts ...FetchOption) (any, error) {
	ex, err := f.Exchange(ctx, req, opts...)
	if err != nil {
		return nil, err
	}

	result, err := ex.Extract()
	if err != nil {
		return nil, fmt.Errorf("extracting result of %s %s: %w", ex.Request.Method, ex.Request.URL, err)
	}

	return result, nil
}

// Execute runs req and returns the extracted result as T.
func Execute[T any](ctx context.Context, f *Fetcher, req *Request, opts ...FetchOption) (T, error) {
	var zero T

	result, err := f.Fetch(ctx, req, opts...)
	if err != nil {
		return zero, err
	}

	if result == nil {
		return zero, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", ErrUnexpectedResult, result, zero)
	}

	return typed, nil
}

// Get fetches url.
func (f *Fetcher) Get(ctx context.Context, url string, opts ...FetchOption) (any, error) {
	return f.Fetch(ctx, &Request{Method: http.MethodGet, URL: url}, opts...)
}

// Post sends body to url.
func (f *Fetcher) Post(ctx context.Context, url string, body any, opts ...FetchOption) (any, error) {
	return f.Fetch(ctx, &Request{Method: http.MethodPost, URL: url, Body: body}, opts...)
}

// Put sends body to url.
func (f *Fetcher) Put(ctx context.Context, url string, body any, opts ...FetchOption) (any, error) {
	return f.Fetch(ctx, &Request{Method: http.MethodPut, URL: url, Body: body}, opts...)
}

// Patch sends body to url.
func (f *Fetcher) Patch(ctx context.Context, url string, body any, opts ...FetchOption) (any, error) {
	return f.Fetch(ctx, &Request{Method: http.MethodPatch, URL: url, Body: body}, opts...)
}

// Delete deletes url.
func (f *Fetcher) Delete(ctx context.Context, url string, opts ...FetchOption) (any, error) {
	return f.Fetch(ctx, &Request{Method: http.MethodDelete, URL: url}, opts...)
}
