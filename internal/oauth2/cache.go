package oauth2

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"track-enricher/internal/common/errors"
	"track-enricher/internal/common/logging"
	"track-enricher/internal/metrics"
)

// TokenCache hands out access tokens, minting a new one only when none is
// cached for the account or the cached one is within the safety margin of
// its expiry.
type TokenCache struct {
	signer    Signer
	exchanger Exchanger
	storage   TokenStorage

	mu     sync.Mutex
	tokens map[string]*Token
	group  singleflight.Group

	now            func() time.Time
	margin         time.Duration
	refreshTimeout time.Duration
	logger         logging.Logger
}

// DefaultRefreshTimeout bounds a shared refresh once it no longer follows
// the context of the caller that started it.
const DefaultRefreshTimeout = 30 * time.Second

// CacheOption configures a TokenCache
type CacheOption func(*TokenCache)

// WithStorage shares tokens through storage
func WithStorage(storage TokenStorage) CacheOption {
	return func(c *TokenCache) {
		c.storage = storage
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) CacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// WithSafetyMargin overrides DefaultSafetyMargin
func WithSafetyMargin(margin time.Duration) CacheOption {
	return func(c *TokenCache) {
		c.margin = margin
	}
}

// WithRefreshTimeout overrides DefaultRefreshTimeout
func WithRefreshTimeout(timeout time.Duration) CacheOption {
	return func(c *TokenCache) {
		c.refreshTimeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) CacheOption {
	return func(c *TokenCache) {
		c.logger = logger
	}
}

// NewTokenCache creates an empty cache
func NewTokenCache(signer Signer, exchanger Exchanger, opts ...CacheOption) *TokenCache {
	c := &TokenCache{
		signer:         signer,
		exchanger:      exchanger,
		tokens:         make(map[string]*Token),
		now:            time.Now,
		margin:         DefaultSafetyMargin,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.GetGlobalLogger()
	}
	return c
}

// Token returns a usable access token for account. Concurrent callers share
// one refresh; a caller whose ctx ends stops waiting without failing the
// others.
func (c *TokenCache) Token(ctx context.Context, account ServiceAccount) (*Token, error) {
	key := account.key()
	if token := c.cached(key); token != nil {
		return token, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Another caller may have finished a refresh while we waited.
		if token := c.cached(key); token != nil {
			return token, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		if token := c.loadShared(rctx, key); token != nil {
			c.store(key, token)
			return token, nil
		}
		return c.refresh(rctx, key, account)
	})

	select {
	case <-ctx.Done():
		return nil, errors.TimeoutError("waiting for access token", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		token := *res.Val.(*Token)
		return &token, nil
	}
}

// Invalidate drops the cached token for account, locally and in shared storage.
func (c *TokenCache) Invalidate(ctx context.Context, account ServiceAccount) {
	key := account.key()
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()

	if c.storage != nil {
		if err := c.storage.DeleteToken(ctx, key); err != nil {
			c.logger.Warn("Failed to delete shared token", logging.Field{Key: "error", Value: err.Error()})
		}
	}
}

func (c *TokenCache) cached(key string) *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	token := c.tokens[key]
	if !token.Valid(c.now(), c.margin) {
		return nil
	}
	copied := *token
	return &copied
}

func (c *TokenCache) store(key string, token *Token) {
	copied := *token
	c.mu.Lock()
	c.tokens[key] = &copied
	c.mu.Unlock()
}

func (c *TokenCache) loadShared(ctx context.Context, key string) *Token {
	if c.storage == nil {
		return nil
	}
	token, err := c.storage.LoadToken(ctx, key)
	if err != nil {
		c.logger.Warn("Failed to load shared token", logging.Field{Key: "error", Value: err.Error()})
		metrics.TokenRefreshes.WithLabelValues("shared_store", "error").Inc()
		return nil
	}
	if !token.Valid(c.now(), c.margin) {
		return nil
	}
	metrics.TokenRefreshes.WithLabelValues("shared_store", "ok").Inc()
	return token
}

func (c *TokenCache) refresh(ctx context.Context, key string, account ServiceAccount) (*Token, error) {
	assertion, err := c.signer.Sign(account)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("exchange", "error").Inc()
		return nil, err
	}

	token, err := c.exchanger.Exchange(ctx, assertion)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("exchange", "error").Inc()
		return nil, err
	}
	metrics.TokenRefreshes.WithLabelValues("exchange", "ok").Inc()

	c.store(key, token)
	c.logger.Debug("Access token refreshed",
		logging.Field{Key: "account", Value: account.ClientEmail},
		logging.Field{Key: "expires_at", Value: token.Expiry.UTC().Format(time.RFC3339)},
	)

	if c.storage != nil {
		if err := c.storage.SaveToken(ctx, key, token); err != nil {
			c.logger.Warn("Failed to persist token", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	return token, nil
}
