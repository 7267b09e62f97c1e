package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
)

// Names and orders of the credential interceptors.
const (
	AuthorizationRequestInterceptorName  = "AuthorizationRequestInterceptor"
	AuthorizationRequestInterceptorOrder = fetcher.OrderDefault

	UnauthorizedErrorInterceptorName  = "UnauthorizedErrorInterceptor"
	UnauthorizedErrorInterceptorOrder = fetcher.OrderFirst + 2000
)

const bearerPrefix = "Bearer "

// Register installs both credential interceptors on m.
func Register(m *fetcher.InterceptorManager, credentials *Credentials) error {
	if _, err := m.Request.Use(AuthorizationRequestInterceptor(credentials)); err != nil {
		return err
	}

	if _, err := m.Error.Use(UnauthorizedErrorInterceptor(credentials)); err != nil {
		return err
	}

	return nil
}

// AuthorizationRequestInterceptor attaches the stored access token as a bearer
// credential. An expired or missing access token is refreshed first when a
// refresh token is available.
func AuthorizationRequestInterceptor(credentials *Credentials) fetcher.Interceptor {
	return fetcher.NewInterceptor(AuthorizationRequestInterceptorName, AuthorizationRequestInterceptorOrder,
		func(ctx context.Context, exchange *fetcher.Exchange) error {
			if exchange.Attributes.Bool(fetcher.AttrIgnoreAuthorization) {
				return nil
			}

			if exchange.Request.Headers.Get("Authorization") != "" {
				return nil
			}

			pair := credentials.Current()
			if pair == nil {
				return nil
			}

			if (pair.AccessToken == "" || pair.Expired()) && pair.Refreshable() && !exchange.Attributes.Bool(fetcher.AttrIgnoreRefresh) {
				fresh, err := credentials.Refresh(ctx, pair)
				if err != nil {
					return err
				}

				pair = fresh
			}

			if pair.AccessToken == "" {
				return nil
			}

			exchange.Request.Headers.Set("Authorization", bearerPrefix+pair.AccessToken)

			return nil
		})
}

// UnauthorizedErrorInterceptor repairs a 401 response: it refreshes the
// credentials once for all concurrent callers and replays the request a
// single time through the executor, bypassing every chain.
func UnauthorizedErrorInterceptor(credentials *Credentials) fetcher.Interceptor {
	return fetcher.NewInterceptor(UnauthorizedErrorInterceptorName, UnauthorizedErrorInterceptorOrder,
		func(ctx context.Context, exchange *fetcher.Exchange) error {
			resp := exchange.Response
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				return nil
			}

			attrs := exchange.Attributes
			if attrs.Bool(fetcher.AttrIgnoreRefresh) || attrs.Bool(fetcher.AttrIgnoreAuthorization) || attrs.Bool(fetcher.AttrReplayed) {
				return nil
			}

			if !credentials.Authenticated() || exchange.Fetcher == nil {
				return nil
			}

			sent := strings.TrimPrefix(exchange.Request.Headers.Get("Authorization"), bearerPrefix)

			fresh, err := credentials.Refresh(ctx, &CredentialPair{AccessToken: sent})
			if err != nil {
				_ = resp.Close()
				exchange.Response = nil

				return err
			}

			replay := exchange.Request.Clone()
			replay.Headers.Set("Authorization", bearerPrefix+fresh.AccessToken)

			replayed, err := exchange.Fetcher.Executor().Execute(ctx, replay)

			_ = resp.Close()
			exchange.Response = nil
			exchange.Request = replay
			attrs.Set(fetcher.AttrReplayed, true)

			if err != nil {
				return err
			}

			if !exchange.Attributes.Bool(fetcher.AttrSkipStatusValidation) && !exchange.Fetcher.ValidateStatus(replayed.StatusCode) {
				exchange.Response = replayed

				return fetcher.RejectStatus(replayed)
			}

			exchange.Recover(replayed)

			return nil
		})
}
