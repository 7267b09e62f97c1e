package wowclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fivetwenty-io/wow-client/pkg/auth"
	"github.com/fivetwenty-io/wow-client/pkg/command"
	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
	"github.com/fivetwenty-io/wow-client/pkg/wowclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("requires config", func(t *testing.T) {
		t.Parallel()

		_, err := wowclient.New(context.Background(), nil)
		require.ErrorIs(t, err, wowclient.ErrConfigRequired)

		_, err = wowclient.New(context.Background(), &wowclient.Config{})
		require.ErrorIs(t, err, wowclient.ErrBaseURLRequired)
	})

	t.Run("normalizes base URL", func(t *testing.T) {
		t.Parallel()

		config := &wowclient.Config{BaseURL: "api.example.com/"}

		client, err := wowclient.New(context.Background(), config)
		require.NoError(t, err)

		defer client.Close()

		assert.Equal(t, "api.example.com/", config.BaseURL)
		assert.NotSame(t, config, client.Config())
		assert.Equal(t, "https://api.example.com", client.Config().BaseURL)
		assert.Equal(t, "https://api.example.com", client.Fetcher().BaseURL())
		assert.False(t, client.Credentials().Authenticated())
	})

	t.Run("registers interceptors", func(t *testing.T) {
		t.Parallel()

		client, err := wowclient.New(context.Background(), &wowclient.Config{
			BaseURL:        "https://api.example.com",
			RateLimit:      10,
			TracerProvider: sdktrace.NewTracerProvider(),
		})
		require.NoError(t, err)

		defer client.Close()

		interceptors := client.Fetcher().Interceptors()
		assert.Contains(t, interceptors.Request.Names(), "AuthorizationRequestInterceptor")
		assert.Contains(t, interceptors.Request.Names(), fetcher.RateLimitInterceptorName)
		assert.Contains(t, interceptors.Request.Names(), fetcher.TelemetryRequestInterceptorName)
		assert.Contains(t, interceptors.Error.Names(), "UnauthorizedErrorInterceptor")
	})
}

func TestNewWithToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "Bearer test-token", request.Header.Get("Authorization"))
		assert.Equal(t, "wow-client/1.0", request.Header.Get("User-Agent"))
		_ = json.NewEncoder(writer).Encode(map[string]string{"id": "o-1"})
	}))
	defer server.Close()

	client, err := wowclient.NewWithToken(context.Background(), server.URL, "test-token")
	require.NoError(t, err)

	defer client.Close()

	result, err := client.Fetch(context.Background(), &fetcher.Request{URL: "/orders/o-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "o-1"}, result)
}

func TestClient_RefreshOnUnauthorized(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path == "/auth/refresh" {
			refreshes.Add(1)
			_ = json.NewEncoder(writer).Encode(auth.CredentialPair{AccessToken: "fresh", RefreshToken: "r2"})

			return
		}

		if request.Header.Get("Authorization") != "Bearer fresh" {
			writer.WriteHeader(http.StatusUnauthorized)

			return
		}

		_ = json.NewEncoder(writer).Encode(command.Result{
			CommandID: "c-1",
			RequestID: request.Header.Get(command.HeaderRequestID),
			Stage:     command.StageSent,
		})
	}))
	defer server.Close()

	store := auth.NewMemoryStore()
	client, err := wowclient.New(context.Background(), &wowclient.Config{
		BaseURL:         server.URL,
		AccessToken:     "stale",
		RefreshToken:    "r1",
		RefreshURL:      "/auth/refresh",
		CredentialStore: store,
	})
	require.NoError(t, err)

	defer client.Close()

	accepted, err := client.Send(context.Background(), &command.Command{Path: "/orders", Body: map[string]int{"qty": 1}})
	require.NoError(t, err)
	assert.Equal(t, "c-1", accepted.CommandID)
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, "fresh", store.Get().AccessToken)
}

func TestNew_RefreshTokenOnly(t *testing.T) {
	t.Parallel()

	t.Run("obtains an access token", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "/oauth/token", request.URL.Path)
			require.NoError(t, request.ParseForm())
			assert.Equal(t, "refresh_token", request.PostForm.Get("grant_type"))
			assert.Equal(t, "r1", request.PostForm.Get("refresh_token"))

			writer.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(writer).Encode(map[string]any{
				"access_token":  "granted",
				"token_type":    "bearer",
				"refresh_token": "r2",
				"expires_in":    3600,
			})
		}))
		defer server.Close()

		client, err := wowclient.New(context.Background(), &wowclient.Config{
			BaseURL:      server.URL,
			RefreshToken: "r1",
			OAuth2:       &auth.OAuth2Config{TokenURL: server.URL + "/oauth/token", ClientID: "wow"},
		})
		require.NoError(t, err)

		defer client.Close()

		assert.Equal(t, &auth.CredentialPair{AccessToken: "granted", RefreshToken: "r2"}, client.Credentials().Current())
	})

	t.Run("fails without a refresher", func(t *testing.T) {
		t.Parallel()

		_, err := wowclient.New(context.Background(), &wowclient.Config{
			BaseURL:      "https://api.example.com",
			RefreshToken: "r1",
		})
		require.ErrorIs(t, err, auth.ErrNoRefresher)
	})
}

//nolint:paralleltest // keyring.MockInit swaps a package level provider
func TestNew_RefreshTokenOnlyKeyringStore(t *testing.T) {
	keyring.MockInit()

	var refreshes atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/auth/refresh", request.URL.Path)
		refreshes.Add(1)
		_ = json.NewEncoder(writer).Encode(auth.CredentialPair{AccessToken: "fresh", RefreshToken: "r2"})
	}))
	defer server.Close()

	store := auth.NewKeyringStore("wow-client-test", "refresh-only")

	client, err := wowclient.New(context.Background(), &wowclient.Config{
		BaseURL:         server.URL,
		RefreshToken:    "r1",
		RefreshURL:      "/auth/refresh",
		CredentialStore: store,
	})
	require.NoError(t, err)

	defer client.Close()

	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, &auth.CredentialPair{AccessToken: "fresh", RefreshToken: "r2"}, client.Credentials().Current())
	assert.Equal(t, &auth.CredentialPair{AccessToken: "fresh", RefreshToken: "r2"}, store.Get())
}

func TestClient_Telemetry(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = writer.Write([]byte(`{}`))
	}))
	defer server.Close()

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	client, err := wowclient.New(context.Background(), &wowclient.Config{
		BaseURL:        server.URL,
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
		MeterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	require.NoError(t, err)

	defer client.Close()

	_, err = client.Fetch(context.Background(), &fetcher.Request{URL: "/orders"})
	require.NoError(t, err)

	assert.Len(t, recorder.Ended(), 1)

	var metrics metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &metrics))
	require.NotEmpty(t, metrics.ScopeMetrics)
}
