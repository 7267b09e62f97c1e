package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/fivetwenty-io/wow-client/internal/constants"
	"github.com/fivetwenty-io/wow-client/pkg/fetcher"
	"golang.org/x/sync/singleflight"
)

// TopicCredentialsChanged is published with the new *CredentialPair (nil when
// cleared) whenever the stored credentials change.
const TopicCredentialsChanged = "auth:credentials:changed"

// Refresher exchanges a credential pair for a fresh one.
type Refresher interface {
	Refresh(ctx context.Context, current *CredentialPair) (*CredentialPair, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, current *CredentialPair) (*CredentialPair, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, current *CredentialPair) (*CredentialPair, error) {
	return f(ctx, current)
}

// Credentials owns the credential store and the gate that allows at most one
// refresh in flight.
type Credentials struct {
	store          Store
	refresher      Refresher
	group          singleflight.Group
	bus            EventBus.Bus
	logger         fetcher.Logger
	refreshTimeout time.Duration
}

// CredentialsOption configures Credentials.
type CredentialsOption func(*Credentials)

// WithLogger sets the logger.
func WithLogger(logger fetcher.Logger) CredentialsOption {
	return func(c *Credentials) {
		c.logger = logger
	}
}

// WithRefreshTimeout bounds each refresh call.
func WithRefreshTimeout(timeout time.Duration) CredentialsOption {
	return func(c *Credentials) {
		c.refreshTimeout = timeout
	}
}

// NewCredentials creates a holder over store. refresher may be nil, in which
// case every refresh fails.
func NewCredentials(store Store, refresher Refresher, opts ...CredentialsOption) *Credentials {
	if store == nil {
		store = NewMemoryStore()
	}

	c := &Credentials{
		store:          store,
		refresher:      refresher,
		bus:            EventBus.New(),
		refreshTimeout: constants.DefaultRefreshTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = fetcher.LoggerOrNop(c.logger)

	return c
}

// Current returns the stored pair, nil when signed out.
func (c *Credentials) Current() *CredentialPair {
	return c.store.Get()
}

// Authenticated reports whether a pair is stored.
func (c *Credentials) Authenticated() bool {
	return c.store.Get() != nil
}

// Set stores pair and notifies subscribers.
func (c *Credentials) Set(pair *CredentialPair) error {
	if err := c.store.Set(pair); err != nil {
		return err
	}

	c.publish(pair)

	return nil
}

// Clear removes the stored pair and notifies subscribers.
func (c *Credentials) Clear() error {
	if err := c.store.Clear(); err != nil {
		return err
	}

	c.publish(nil)

	return nil
}

// Subscribe registers fn for credential changes. fn runs synchronously on the
// goroutine that changed the credentials.
func (c *Credentials) Subscribe(fn func(pair *CredentialPair)) error {
	if err := c.bus.Subscribe(TopicCredentialsChanged, fn); err != nil {
		return fmt.Errorf("subscribing to credential changes: %w", err)
	}

	return nil
}

// Unsubscribe removes a handler registered with Subscribe.
func (c *Credentials) Unsubscribe(fn func(pair *CredentialPair)) error {
	if err := c.bus.Unsubscribe(TopicCredentialsChanged, fn); err != nil {
		return fmt.Errorf("unsubscribing from credential changes: %w", err)
	}

	return nil
}

func (c *Credentials) publish(pair *CredentialPair) {
	c.bus.Publish(TopicCredentialsChanged, pair.Clone())
}

// Refresh renews the credentials. stale is the pair the caller found
// rejected; when the store already holds a different access token that pair
// is returned without another refresh. Concurrent callers share one refresh.
// On failure the store is cleared and an *AuthorizationError returned. A
// renewed pair the store fails to save is reported the same way, wrapping
// ErrStoreRefreshed, and is not published.
func (c *Credentials) Refresh(ctx context.Context, stale *CredentialPair) (*CredentialPair, error) {
	results := c.group.DoChan("refresh", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), stale)
	})

	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}

		pair, _ := res.Val.(*CredentialPair)

		return pair.Clone(), nil
	case <-ctx.Done():
		return nil, &fetcher.CancelledError{Err: ctx.Err()}
	}
}

func (c *Credentials) refresh(ctx context.Context, stale *CredentialPair) (*CredentialPair, error) {
	current := c.store.Get()
	if current == nil {
		return nil, &AuthorizationError{Err: ErrNoCredentials}
	}

	if stale != nil && current.AccessToken != stale.AccessToken {
		return current, nil
	}

	fresh, err := c.callRefresher(ctx, current)
	if err != nil {
		c.logger.Warn("Credential refresh failed", map[string]interface{}{"error": err.Error()})

		if clearErr := c.Clear(); clearErr != nil {
			c.logger.Error("Failed to clear credentials", map[string]interface{}{"error": clearErr.Error()})
		}

		return nil, &AuthorizationError{Err: err}
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = current.RefreshToken
	}

	// The refresh token may have been rotated, so an unsaved pair is not kept.
	if err := c.store.Set(fresh); err != nil {
		c.logger.Error("Failed to persist refreshed credentials", map[string]interface{}{"error": err.Error()})

		return nil, &AuthorizationError{Err: fmt.Errorf("%w: %w", ErrStoreRefreshed, err)}
	}

	c.publish(fresh)
	c.logger.Debug("Credentials refreshed", map[string]interface{}{"expires_at": fresh.ExpiresAt()})

	return fresh, nil
}

func (c *Credentials) callRefresher(ctx context.Context, current *CredentialPair) (*CredentialPair, error) {
	if c.refresher == nil {
		return nil, ErrNoRefresher
	}

	if current.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	if c.refreshTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.refreshTimeout)
		defer cancel()
	}

	fresh, err := c.refresher.Refresh(ctx, current.Clone())
	if err != nil {
		return nil, err
	}

	if fresh == nil || fresh.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}

	return fresh.Clone(), nil
}
