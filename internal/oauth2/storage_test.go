package oauth2

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"track-enricher/internal/crypto"
	"track-enricher/internal/redis"
)

var (
	_ TokenStorage   = (*RedisTokenStorage)(nil)
	_ RedisInterface = (*redis.Client)(nil)
)

func newRedisStorage(t *testing.T, encryptor *crypto.ConfigEncryptor) (*RedisTokenStorage, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisTokenStorage(client, encryptor), mr
}

func TestRedisTokenStorage_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	storage, mr := newRedisStorage(t, nil)

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, storage.SaveToken(ctx, "svc", &Token{AccessToken: "ya29.a", Expiry: expiry}))

	raw, err := mr.Get("track-enricher:oauth2:token:svc")
	require.NoError(t, err)
	assert.Contains(t, raw, "ya29.a")

	ttl := mr.TTL("track-enricher:oauth2:token:svc")
	assert.True(t, ttl > 59*time.Minute && ttl <= time.Hour, "ttl follows token expiry, got %v", ttl)

	loaded, err := storage.LoadToken(ctx, "svc")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "ya29.a", loaded.AccessToken)
	assert.True(t, loaded.Expiry.Equal(expiry))
}

func TestRedisTokenStorage_Encrypted(t *testing.T) {
	ctx := context.Background()
	encryptor, err := crypto.NewConfigEncryptor("token-encryption-key")
	require.NoError(t, err)
	storage, mr := newRedisStorage(t, encryptor)

	require.NoError(t, storage.SaveToken(ctx, "svc", &Token{AccessToken: "ya29.secret", Expiry: time.Now().Add(time.Hour)}))

	raw, err := mr.Get("track-enricher:oauth2:token:svc")
	require.NoError(t, err)
	assert.False(t, strings.Contains(raw, "ya29"), "token must not be stored in clear text")

	loaded, err := storage.LoadToken(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, "ya29.secret", loaded.AccessToken)

	otherKey, _ := crypto.NewConfigEncryptor("another-key")
	_, err = NewRedisTokenStorage(storage.client, otherKey).LoadToken(ctx, "svc")
	assert.Error(t, err)
}

func TestRedisTokenStorage_Expiry(t *testing.T) {
	ctx := context.Background()
	storage, mr := newRedisStorage(t, nil)

	require.NoError(t, storage.SaveToken(ctx, "svc", &Token{AccessToken: "ya29.a", Expiry: time.Now().Add(time.Minute)}))
	mr.FastForward(2 * time.Minute)

	loaded, err := storage.LoadToken(ctx, "svc")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, storage.SaveToken(ctx, "stale", &Token{AccessToken: "old", Expiry: time.Now().Add(-time.Minute)}))
	assert.False(t, mr.Exists("track-enricher:oauth2:token:stale"), "expired tokens are not written")
}

func TestRedisTokenStorage_InvalidPayload(t *testing.T) {
	storage, mr := newRedisStorage(t, nil)
	require.NoError(t, mr.Set("track-enricher:oauth2:token:svc", "{not json"))

	_, err := storage.LoadToken(context.Background(), "svc")
	assert.Error(t, err)
}

func TestRedisTokenStorage_Delete(t *testing.T) {
	ctx := context.Background()
	storage, mr := newRedisStorage(t, nil)

	require.NoError(t, storage.SaveToken(ctx, "svc", &Token{AccessToken: "ya29.a", Expiry: time.Now().Add(time.Hour)}))
	require.NoError(t, storage.DeleteToken(ctx, "svc"))
	assert.False(t, mr.Exists("track-enricher:oauth2:token:svc"))
}

func TestTokenCache_WithRedisStorage(t *testing.T) {
	storage, _ := newRedisStorage(t, nil)
	clock := &fakeClock{now: time.Now()}

	exchanger := &fakeExchanger{lifetime: time.Hour, now: clock.Now}
	first := NewTokenCache(&fakeSigner{}, exchanger, WithClock(clock.Now), WithStorage(storage))
	second := NewTokenCache(&fakeSigner{}, exchanger, WithClock(clock.Now), WithStorage(storage))

	a, err := first.Token(context.Background(), account)
	require.NoError(t, err)
	b, err := second.Token(context.Background(), account)
	require.NoError(t, err)

	assert.Equal(t, a.AccessToken, b.AccessToken)
	assert.Equal(t, int32(1), exchanger.calls)
}
