package oauth2

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"track-enricher/internal/common/errors"
)

type fakeSigner struct {
	calls int32
	err   error
}

func (f *fakeSigner) Sign(account ServiceAccount) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return "", f.err
	}
	return "assertion-for-" + account.ClientEmail, nil
}

type fakeExchanger struct {
	calls    int32
	lifetime time.Duration
	now      func() time.Time
	delay    time.Duration
	err      error
}

func (f *fakeExchanger) Exchange(ctx context.Context, assertion string) (*Token, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, errors.TimeoutError("token exchange", ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Token{
		AccessToken: fmt.Sprintf("token-%d", n),
		Expiry:      f.now().Add(f.lifetime),
	}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var account = ServiceAccount{ClientEmail: "svc@example.com", PrivateKey: "pem", PrivateKeyID: "kid"}

func newTestCache(opts ...CacheOption) (*TokenCache, *fakeSigner, *fakeExchanger, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	signer := &fakeSigner{}
	exchanger := &fakeExchanger{lifetime: time.Hour, now: clock.Now}
	opts = append([]CacheOption{WithClock(clock.Now)}, opts...)
	return NewTokenCache(signer, exchanger, opts...), signer, exchanger, clock
}

func TestTokenCache_ReusesTokenUntilMargin(t *testing.T) {
	cache, signer, exchanger, clock := newTestCache()
	ctx := context.Background()

	first, err := cache.Token(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, "token-1", first.AccessToken)

	clock.Advance(time.Hour - 11*time.Second)
	again, err := cache.Token(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, "token-1", again.AccessToken, "11s before expiry the token is still used")

	clock.Advance(2 * time.Second)
	refreshed, err := cache.Token(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, "token-2", refreshed.AccessToken, "9s before expiry the token is replaced")

	assert.Equal(t, int32(2), atomic.LoadInt32(&signer.calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&exchanger.calls))
}

func TestTokenCache_RefreshesOncePerColdCache(t *testing.T) {
	cache, signer, exchanger, _ := newTestCache()
	exchanger.delay = 50 * time.Millisecond

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := cache.Token(context.Background(), account)
			if assert.NoError(t, err) {
				tokens[i] = token.AccessToken
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&signer.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&exchanger.calls))
	for _, tok := range tokens {
		assert.Equal(t, "token-1", tok)
	}
}

func TestTokenCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	cache, _, exchanger, _ := newTestCache()
	exchanger.delay = 200 * time.Millisecond

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Token(first, account)
		firstErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	second := make(chan *Token, 1)
	go func() {
		token, err := cache.Token(context.Background(), account)
		assert.NoError(t, err)
		second <- token
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-firstErr
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))

	token := <-second
	require.NotNil(t, token)
	assert.Equal(t, "token-1", token.AccessToken)
	assert.Equal(t, int32(1), atomic.LoadInt32(&exchanger.calls))
}

func TestTokenCache_RefreshTimeout(t *testing.T) {
	cache, _, exchanger, _ := newTestCache(WithRefreshTimeout(20 * time.Millisecond))
	exchanger.delay = time.Second

	_, err := cache.Token(context.Background(), account)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))
}

func TestTokenCache_SeparateAccounts(t *testing.T) {
	cache, _, exchanger, _ := newTestCache()
	ctx := context.Background()

	other := account
	other.PrivateKeyID = "kid-2"

	a, err := cache.Token(ctx, account)
	require.NoError(t, err)
	b, err := cache.Token(ctx, other)
	require.NoError(t, err)

	assert.NotEqual(t, a.AccessToken, b.AccessToken)
	assert.Equal(t, int32(2), atomic.LoadInt32(&exchanger.calls))
}

func TestTokenCache_ZeroLifetimeAlwaysRefreshes(t *testing.T) {
	cache, _, exchanger, _ := newTestCache()
	exchanger.lifetime = 0

	for i := 0; i < 3; i++ {
		_, err := cache.Token(context.Background(), account)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&exchanger.calls))
}

func TestTokenCache_Errors(t *testing.T) {
	t.Run("signer failure skips exchange", func(t *testing.T) {
		cache, signer, exchanger, _ := newTestCache()
		signer.err = errors.AuthError("bad key", nil)

		token, err := cache.Token(context.Background(), account)
		assert.Nil(t, token)
		assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
		assert.Zero(t, atomic.LoadInt32(&exchanger.calls))
	})

	t.Run("exchange failure is not cached", func(t *testing.T) {
		cache, _, exchanger, _ := newTestCache()
		exchanger.err = errors.AuthError("status 400", nil)

		_, err := cache.Token(context.Background(), account)
		require.Error(t, err)

		exchanger.err = nil
		token, err := cache.Token(context.Background(), account)
		require.NoError(t, err)
		assert.Equal(t, "token-2", token.AccessToken)
	})
}

func TestTokenCache_SharedStorage(t *testing.T) {
	storage, _ := newRedisStorage(t, nil)
	ctx := context.Background()

	first, _, firstExchanger, clock := newTestCache(WithStorage(storage))
	storage.now = clock.Now
	_, err := first.Token(ctx, account)
	require.NoError(t, err)

	stored, err := storage.LoadToken(ctx, account.key())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "token-1", stored.AccessToken)

	// A second instance with a cold local cache reuses the shared token.
	second := NewTokenCache(&fakeSigner{}, &fakeExchanger{lifetime: time.Hour, now: clock.Now},
		WithClock(clock.Now), WithStorage(storage))
	token, err := second.Token(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token.AccessToken)
	assert.Equal(t, int32(1), atomic.LoadInt32(&firstExchanger.calls))

	second.Invalidate(ctx, account)
	gone, err := storage.LoadToken(ctx, account.key())
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestTokenCache_ReturnsCopies(t *testing.T) {
	cache, _, _, _ := newTestCache()

	token, err := cache.Token(context.Background(), account)
	require.NoError(t, err)
	token.AccessToken = "mutated"

	again, err := cache.Token(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "token-1", again.AccessToken)
}

func TestToken_Valid(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name  string
		token *Token
		want  bool
	}{
		{name: "nil", token: nil, want: false},
		{name: "empty access token", token: &Token{Expiry: now.Add(time.Hour)}, want: false},
		{name: "zero expiry", token: &Token{AccessToken: "x"}, want: false},
		{name: "expired", token: &Token{AccessToken: "x", Expiry: now.Add(-time.Second)}, want: false},
		{name: "inside margin", token: &Token{AccessToken: "x", Expiry: now.Add(9 * time.Second)}, want: false},
		{name: "at margin", token: &Token{AccessToken: "x", Expiry: now.Add(10 * time.Second)}, want: false},
		{name: "just past margin", token: &Token{AccessToken: "x", Expiry: now.Add(10*time.Second + time.Millisecond)}, want: true},
		{name: "fresh", token: &Token{AccessToken: "x", Expiry: now.Add(time.Hour)}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.Valid(now, DefaultSafetyMargin))
		})
	}
}
