package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Names and orders of the built-in interceptors.
const (
	URLResolveInterceptorName  = "UrlResolveInterceptor"
	URLResolveInterceptorOrder = OrderFirst + 1000

	RequestBodyInterceptorName  = "RequestBodyInterceptor"
	RequestBodyInterceptorOrder = OrderFirst + 2000

	RateLimitInterceptorName  = "RateLimitInterceptor"
	RateLimitInterceptorOrder = 1000

	HeaderInterceptorName  = "HeaderInterceptor"
	HeaderInterceptorOrder = OrderFirst + 3000

	RequestLoggingInterceptorName  = "RequestLoggingInterceptor"
	RequestLoggingInterceptorOrder = OrderLast - 2000

	ValidateStatusInterceptorName  = "ValidateStatusInterceptor"
	ValidateStatusInterceptorOrder = OrderLast - 1000

	LoggingErrorInterceptorName  = "LoggingErrorInterceptor"
	LoggingErrorInterceptorOrder = OrderFirst + 1000
)

const maxErrorBodySize = 64 * 1024

// URLResolveInterceptor expands path parameters, joins the fetcher base URL
// and merges query parameters into Request.URL.
func URLResolveInterceptor() Interceptor {
	return NewInterceptor(URLResolveInterceptorName, URLResolveInterceptorOrder,
		func(_ context.Context, exchange *Exchange) error {
			baseURL := ""
			if exchange.Fetcher != nil {
				baseURL = exchange.Fetcher.BaseURL()
			}

			resolved, err := ResolveURL(baseURL, exchange.Request)
			if err != nil {
				return err
			}

			exchange.Request.URL = resolved
			exchange.Request.Query = nil

			return nil
		})
}

// ResolveURL builds the absolute URL of req against baseURL.
func ResolveURL(baseURL string, req *Request) (string, error) {
	path := req.URL
	for name, value := range req.PathParams {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}

	full := path

	if !strings.Contains(path, "://") {
		switch {
		case baseURL == "":
		case path == "":
			full = baseURL
		default:
			full = strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
		}
	}

	if len(req.Query) == 0 {
		return full, nil
	}

	u, err := url.Parse(full)
	if err != nil {
		return "", fmt.Errorf("parsing request URL %q: %w", full, err)
	}

	q := u.Query()
	for key, values := range req.Query {
		for _, v := range values {
			q.Add(key, v)
		}
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

// RequestBodyInterceptor buffers reader bodies and JSON encodes structured
// bodies so the request can be replayed.
func RequestBodyInterceptor() Interceptor {
	return NewInterceptor(RequestBodyInterceptorName, RequestBodyInterceptorOrder,
		func(_ context.Context, exchange *Exchange) error {
			req := exchange.Request

			switch body := req.Body.(type) {
			case nil, []byte, string:
				return nil
			case io.Reader:
				data, err := io.ReadAll(body)
				if err != nil {
					return fmt.Errorf("reading request body: %w", err)
				}

				req.Body = data
			default:
				data, err := json.Marshal(body)
				if err != nil {
					return fmt.Errorf("failed to marshal request body: %w", err)
				}

				req.Body = data

				if req.Headers.Get("Content-Type") == "" {
					req.Headers.Set("Content-Type", "application/json")
				}
			}

			return nil
		})
}

// HeaderInterceptor sets headers that the request does not already carry.
func HeaderInterceptor(headers map[string]string) Interceptor {
	return NewInterceptor(HeaderInterceptorName, HeaderInterceptorOrder,
		func(_ context.Context, exchange *Exchange) error {
			for key, value := range headers {
				if exchange.Request.Headers.Get(key) == "" {
					exchange.Request.Headers.Set(key, value)
				}
			}

			return nil
		})
}

// RateLimitInterceptor waits on limiter before each send.
func RateLimitInterceptor(limiter *rate.Limiter) Interceptor {
	return NewInterceptor(RateLimitInterceptorName, RateLimitInterceptorOrder,
		func(ctx context.Context, exchange *Exchange) error {
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return &CancelledError{Method: exchange.Request.Method, URL: exchange.Request.URL, Err: ctx.Err()}
				}

				return fmt.Errorf("rate limit: %w", err)
			}

			return nil
		})
}

// RequestLoggingInterceptor logs outgoing requests at debug level.
func RequestLoggingInterceptor(logger Logger) Interceptor {
	logger = LoggerOrNop(logger)

	return NewInterceptor(RequestLoggingInterceptorName, RequestLoggingInterceptorOrder,
		func(_ context.Context, exchange *Exchange) error {
			logger.Debug("Sending request", map[string]interface{}{
				"method":  exchange.Request.Method,
				"url":     exchange.Request.URL,
				"headers": redactHeaders(exchange.Request.Headers),
			})

			return nil
		})
}

// ValidateStatusInterceptor rejects responses whose status the fetcher does
// not accept. The rejected response stays attached to the exchange.
func ValidateStatusInterceptor() Interceptor {
	return NewInterceptor(ValidateStatusInterceptorName, ValidateStatusInterceptorOrder,
		func(_ context.Context, exchange *Exchange) error {
			if exchange.Attributes.Bool(AttrSkipStatusValidation) || exchange.Response == nil {
				return nil
			}

			validate := DefaultStatusValidator
			if exchange.Fetcher != nil {
				validate = exchange.Fetcher.validateStatus
			}

			if validate(exchange.Response.StatusCode) {
				return nil
			}

			return RejectStatus(exchange.Response)
		})
}

// RejectStatus builds a StatusValidationError from resp, keeping its body readable.
func RejectStatus(resp *Response) error {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}

	return newStatusValidationError(resp.StatusCode, body)
}

// DefaultStatusValidator accepts 2xx statuses.
func DefaultStatusValidator(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

// LoggingErrorInterceptor logs every failed exchange.
func LoggingErrorInterceptor(logger Logger) Interceptor {
	logger = LoggerOrNop(logger)

	return NewInterceptor(LoggingErrorInterceptorName, LoggingErrorInterceptorOrder,
		func(_ context.Context, exchange *Exchange) error {
			fields := map[string]interface{}{
				"method": exchange.Request.Method,
				"url":    exchange.Request.URL,
				"error":  fmt.Sprint(exchange.Error),
			}

			if exchange.Response != nil {
				fields["status"] = exchange.Response.StatusCode
			}

			if start, ok := exchange.Attributes.Time(AttrStartTime); ok {
				fields["duration"] = time.Since(start).String()
			}

			logger.Warn("Exchange failed", fields)

			return nil
		})
}

func redactHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key := range headers {
		if strings.EqualFold(key, "Authorization") {
			out[key] = "[REDACTED]"

			continue
		}

		out[key] = headers.Get(key)
	}

	return out
}
