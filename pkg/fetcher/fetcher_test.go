package fetcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// MockLogger for testing.
type MockLogger struct {
	mu   sync.Mutex
	logs []map[string]interface{}
}

func (l *MockLogger) add(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logs = append(l.logs, map[string]interface{}{"level": level, "msg": msg, "fields": fields})
}

func (l *MockLogger) Debug(msg string, fields map[string]interface{}) { l.add("debug", msg, fields) }
func (l *MockLogger) Info(msg string, fields map[string]interface{})  { l.add("info", msg, fields) }
func (l *MockLogger) Warn(msg string, fields map[string]interface{})  { l.add("warn", msg, fields) }
func (l *MockLogger) Error(msg string, fields map[string]interface{}) { l.add("error", msg, fields) }

func (l *MockLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string

	for _, entry := range l.logs {
		if entry["level"] == level {
			out = append(out, entry["msg"].(string))
		}
	}

	return out
}

type order struct {
	ID     string `json:"id"`
	Amount int    `json:"amount"`
}

func TestFetcher_Fetch(t *testing.T) {
	t.Parallel()

	t.Run("successful request", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "/orders/o-1", request.URL.Path)
			assert.Equal(t, "expand=items", request.URL.RawQuery)
			assert.Equal(t, "test", request.Header.Get("X-Tenant"))

			_ = json.NewEncoder(writer).Encode(map[string]any{"id": "o-1", "amount": 3})
		}))
		defer server.Close()

		f := fetcher.New(
			fetcher.WithBaseURL(server.URL),
			fetcher.WithHeaders(http.Header{"X-Tenant": {"test"}}),
		)

		result, err := f.Fetch(context.Background(), &fetcher.Request{
			URL:        "/orders/{id}",
			PathParams: map[string]string{"id": "o-1"},
			Query:      map[string][]string{"expand": {"items"}},
		})
		require.NoError(t, err)

		body, ok := result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "o-1", body["id"])
	})

	t.Run("typed result", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			_ = json.NewEncoder(writer).Encode(order{ID: "o-2", Amount: 7})
		}))
		defer server.Close()

		f := fetcher.New(fetcher.WithBaseURL(server.URL))

		got, err := fetcher.Execute[*order](context.Background(), f, &fetcher.Request{URL: "/orders/o-2"},
			fetcher.WithExtractor(fetcher.JSON[order]()))
		require.NoError(t, err)
		assert.Equal(t, &order{ID: "o-2", Amount: 7}, got)
	})

	t.Run("unexpected result type", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			_, _ = writer.Write([]byte("plain"))
		}))
		defer server.Close()

		f := fetcher.New(fetcher.WithBaseURL(server.URL))

		_, err := fetcher.Execute[int](context.Background(), f, &fetcher.Request{}, fetcher.WithExtractor(fetcher.TextExtractor))
		require.ErrorIs(t, err, fetcher.ErrUnexpectedResult)
	})

	t.Run("structured body is JSON encoded", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, http.MethodPost, request.Method)
			assert.Equal(t, "application/json", request.Header.Get("Content-Type"))

			var body order
			_ = json.NewDecoder(request.Body).Decode(&body)
			assert.Equal(t, order{ID: "o-3", Amount: 1}, body)

			writer.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		f := fetcher.New(fetcher.WithBaseURL(server.URL))

		result, err := f.Post(context.Background(), "/orders", order{ID: "o-3", Amount: 1})
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("caller request is not mutated", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		f := fetcher.New(fetcher.WithBaseURL(server.URL), fetcher.WithHeaders(http.Header{"X-A": {"1"}}))
		req := &fetcher.Request{URL: "/orders", Body: order{ID: "o"}}

		_, err := f.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "/orders", req.URL)
		assert.Nil(t, req.Headers)
		assert.Equal(t, order{ID: "o"}, req.Body)
	})
}

func TestFetcher_StatusValidation(t *testing.T) {
	t.Parallel()

	t.Run("non 2xx becomes exchange error", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(writer).Encode(fetcher.ErrorInfo{ErrorCode: "NotFound", ErrorMsg: "no such order"})
		}))
		defer server.Close()

		logger := &MockLogger{}
		f := fetcher.New(fetcher.WithBaseURL(server.URL), fetcher.WithLogger(logger))

		ex, err := f.Exchange(context.Background(), &fetcher.Request{URL: "/orders/missing"})
		require.Error(t, err)
		require.ErrorIs(t, err, fetcher.ErrExchange)
		require.ErrorIs(t, err, fetcher.ErrStatusValidation)
		assert.True(t, fetcher.IsNotFound(err))

		var statusErr *fetcher.StatusValidationError
		require.ErrorAs(t, err, &statusErr)
		require.NotNil(t, statusErr.Info)
		assert.Equal(t, "NotFound", statusErr.Info.ErrorCode)

		// Exactly one of response and error is set.
		assert.Nil(t, ex.Response)
		assert.Equal(t, err, ex.Error)
		assert.Equal(t, []string{"Exchange failed"}, logger.messages("warn"))
	})

	t.Run("skip status validation attribute", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.WriteHeader(http.StatusConflict)
		}))
		defer server.Close()

		f := fetcher.New(fetcher.WithBaseURL(server.URL))

		ex, err := f.Exchange(context.Background(), &fetcher.Request{},
			fetcher.WithAttribute(fetcher.AttrSkipStatusValidation, true))
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, ex.Response.StatusCode)
		assert.NoError(t, ex.Response.Close())
	})

	t.Run("custom validator", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.WriteHeader(http.StatusNotModified)
		}))
		defer server.Close()

		f := fetcher.New(fetcher.WithBaseURL(server.URL), fetcher.WithStatusValidator(func(code int) bool {
			return code < http.StatusBadRequest
		}))

		_, err := f.Get(context.Background(), "/")
		require.NoError(t, err)
	})
}

func TestFetcher_Timeout(t *testing.T) {
	t.Parallel()

	cancelled := make(chan struct{})
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-request.Context().Done():
			close(cancelled)
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	f := fetcher.New(fetcher.WithBaseURL(server.URL))

	start := time.Now()
	_, err := f.Fetch(context.Background(), &fetcher.Request{URL: "/slow", Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, fetcher.IsTimeout(err))
	assert.False(t, fetcher.IsCancelled(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	var timeoutErr *fetcher.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the cancelled request")
	}
}

func TestFetcher_Cancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-request.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	f := fetcher.New(fetcher.WithBaseURL(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := f.Fetch(ctx, &fetcher.Request{URL: "/slow", Timeout: -1})
	require.Error(t, err)
	assert.True(t, fetcher.IsCancelled(err))
	assert.False(t, fetcher.IsTimeout(err))
	require.ErrorIs(t, err, context.Canceled)
}

type blockingDoer struct{}

func (blockingDoer) Do(*http.Request) (*http.Response, error) {
	select {}
}

func TestFetcher_TimeoutWithTransportIgnoringContext(t *testing.T) {
	t.Parallel()

	f := fetcher.New(fetcher.WithBaseURL("http://example.invalid"), fetcher.WithDoer(blockingDoer{}))

	_, err := f.Fetch(context.Background(), &fetcher.Request{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, fetcher.IsTimeout(err))
}

func TestFetcher_TransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	f := fetcher.New(fetcher.WithBaseURL(url))

	_, err := f.Fetch(context.Background(), &fetcher.Request{URL: "/"})
	require.ErrorIs(t, err, fetcher.ErrTransport)
	require.ErrorIs(t, err, fetcher.ErrExchange)
}

func TestFetcher_BeforeSendFailureSkipsTransport(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	f := fetcher.New(fetcher.WithBaseURL(server.URL))
	f.Interceptors().Request.MustUse(fetcher.NewInterceptor("reject", 0, func(context.Context, *fetcher.Exchange) error {
		return errBoom
	}))

	var failureSeen error

	f.Interceptors().Error.MustUse(fetcher.NewInterceptor("observe", 0, func(_ context.Context, ex *fetcher.Exchange) error {
		failureSeen = ex.Error

		return nil
	}))

	_, err := f.Fetch(context.Background(), &fetcher.Request{})
	require.ErrorIs(t, err, errBoom)
	require.ErrorIs(t, failureSeen, errBoom)
	assert.Equal(t, int32(0), calls.Load())
}

func TestFetcher_ErrorInterceptorRecovers(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path == "/fallback" {
			_ = json.NewEncoder(writer).Encode(order{ID: "fallback"})

			return
		}

		writer.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := fetcher.New(fetcher.WithBaseURL(server.URL))
	f.Interceptors().Error.MustUse(fetcher.NewInterceptor("fallback", 0, func(ctx context.Context, ex *fetcher.Exchange) error {
		if !errors.Is(ex.Error, fetcher.ErrStatusValidation) {
			return nil
		}

		replay := ex.Request.Clone()
		replay.URL = server.URL + "/fallback"

		resp, err := ex.Fetcher.Executor().Execute(ctx, replay)
		if err != nil {
			return err
		}

		ex.Recover(resp)

		return nil
	}))

	got, err := fetcher.Execute[*order](context.Background(), f, &fetcher.Request{URL: "/primary"},
		fetcher.WithExtractor(fetcher.JSON[order]()))
	require.NoError(t, err)
	assert.Equal(t, "fallback", got.ID)
}

func TestFetcher_RateLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	f := fetcher.New(fetcher.WithBaseURL(server.URL))
	f.Interceptors().Request.MustUse(fetcher.RateLimitInterceptor(rate.NewLimiter(rate.Every(time.Hour), 1)))

	_, err := f.Get(context.Background(), "/")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = f.Get(ctx, "/")
	require.Error(t, err)
}

func TestFetcher_DefaultInterceptors(t *testing.T) {
	t.Parallel()

	f := fetcher.New()

	assert.Equal(t, []string{
		fetcher.URLResolveInterceptorName,
		fetcher.RequestBodyInterceptorName,
		fetcher.RequestLoggingInterceptorName,
	}, f.Interceptors().Request.Names())
	assert.Equal(t, []string{fetcher.ValidateStatusInterceptorName}, f.Interceptors().Response.Names())
	assert.Equal(t, []string{fetcher.LoggingErrorInterceptorName}, f.Interceptors().Error.Names())
}
