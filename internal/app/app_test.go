package app

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commonhttp "track-enricher/internal/common/http"
	"track-enricher/internal/config"
	"track-enricher/internal/forwarder"
)

// upstreams fakes every external service on one server.
type upstreams struct {
	server *httptest.Server

	tokenCalls int32
	rateCalls  int32

	mu        sync.Mutex
	forwarded []map[string]interface{}
}

func newUpstreams(t *testing.T) *upstreams {
	t.Helper()
	u := &upstreams{}
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&u.tokenCalls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))
		assert.Equal(t, 3, strings.Count(r.PostForm.Get("assertion"), ".")+1)
		_, _ = w.Write([]byte(`{"access_token":"ya29.live","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/spaces/space-1/collections/users/profiles/user_id:u-1/traits", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"traits":{"email":"jane@example.com","phone":"+4512345678"}}`))
	})
	mux.HandleFunc("/rates", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&u.rateCalls, 1)
		assert.Equal(t, "DKK", r.URL.Query().Get("symbols"))
		_, _ = w.Write([]byte(`{"rates":{"DKK":6.5}}`))
	})
	mux.HandleFunc("/Products/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ya29.live", r.Header.Get("Authorization"))
		switch strings.TrimPrefix(r.URL.Path, "/Products/") {
		case "A":
			_, _ = w.Write([]byte(`{"fields":{"cost":{"integerValue":"20"}}}`))
		case "BROKEN":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("/collect", func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "write-key", user)
		body, _ := io.ReadAll(r.Body)
		var evt map[string]interface{}
		assert.NoError(t, json.Unmarshal(body, &evt))
		u.mu.Lock()
		u.forwarded = append(u.forwarded, evt)
		u.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstreams) sent() []map[string]interface{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]map[string]interface{}(nil), u.forwarded...)
}

func testPrivateKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	// Keys usually arrive from the environment with escaped newlines.
	return strings.ReplaceAll(string(pemKey), "\n", `\n`)
}

func testConfig(t *testing.T, u *upstreams) *config.Config {
	return &config.Config{
		Port:                "8080",
		LogLevel:            "debug",
		ClientEmail:         "svc@shop.iam.gserviceaccount.com",
		PrivateKey:          testPrivateKey(t),
		PrivateKeyID:        "kid-1",
		TokenURL:            u.server.URL + "/token",
		Audience:            "https://www.googleapis.com/oauth2/v4/token",
		Scope:               "https://www.googleapis.com/auth/datastore",
		ProfilesSpaceID:     "space-1",
		ProfilesAccessToken: "profile-token",
		ProfilesBaseURL:     u.server.URL,
		CatalogBaseURL:      u.server.URL + "/Products",
		ExchangeRateURL:     u.server.URL + "/rates",
		TargetCurrency:      "DKK",
		CollectionURL:       u.server.URL + "/collect",
		CollectionAPIKey:    "write-key",
		UpstreamTimeout:     "5s",
		CatalogConcurrency:  "4",
		RateCacheTTL:        "15m",
		BreakerEnabled:      true,
		RedisDB:             "0",
		RedisPoolSize:       "10",
	}
}

func post(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/track", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

const orderEvent = `{
	"messageId": "m-1",
	"type": "track",
	"event": "Order Completed",
	"userId": "u-1",
	"properties": {
		"revenue": 100,
		"products": [
			{"product_id": "A", "price": 50, "quantity": 2, "currency": "USD"},
			{"product_id": "UNKNOWN", "price": 10, "currency": "USD"}
		]
	}
}`

func TestApp_TrackEndToEnd(t *testing.T) {
	u := newUpstreams(t)
	cfg := testConfig(t, u)
	require.NoError(t, cfg.Validate())

	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Cleanup()
	handler := app.Handler()

	rec := post(t, handler, orderEvent)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = post(t, handler, orderEvent)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, int32(1), atomic.LoadInt32(&u.tokenCalls), "token reused across events")
	assert.Equal(t, int32(1), atomic.LoadInt32(&u.rateCalls), "rate served from cache")

	sent := u.sent()
	require.Len(t, sent, 2)
	evt := sent[0]
	assert.NotContains(t, evt, "messageId")
	traits := evt["context"].(map[string]interface{})["traits"].(map[string]interface{})
	assert.Equal(t, "jane@example.com", traits["email"])

	props := evt["properties"].(map[string]interface{})
	assert.Equal(t, 650.0, props["revenue"])
	assert.NotContains(t, props, "margin", "the unknown product has no margin")

	products := props["products"].([]interface{})
	first := products[0].(map[string]interface{})
	assert.Equal(t, 325.0, first["price"])
	assert.Equal(t, 20.0, first["cost"])
	assert.Equal(t, 610.0, first["margin"])
	second := products[1].(map[string]interface{})
	assert.Equal(t, "UNKNOWN", second["product_id"])
	assert.Equal(t, 65.0, second["price"])
	assert.NotContains(t, second, "cost")
}

func TestApp_CatalogFailureNotForwarded(t *testing.T) {
	u := newUpstreams(t)
	app, err := New(testConfig(t, u))
	require.NoError(t, err)
	defer app.Cleanup()

	rec := post(t, app.Handler(), `{"messageId":"m-2","properties":{"product_id":"BROKEN","price":10}}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "catalog", body["type"])
	assert.Empty(t, u.sent())
}

func TestApp_SharedTokenInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	u := newUpstreams(t)

	cfg := testConfig(t, u)
	cfg.RedisAddress = mr.Addr()
	cfg.TokenEncryptionKey = "a-long-enough-token-key"
	require.NoError(t, cfg.Validate())

	first, err := New(cfg)
	require.NoError(t, err)
	defer first.Cleanup()
	require.NotNil(t, first.RedisClient)
	require.NotNil(t, first.Encryptor)

	rec := post(t, first.Handler(), `{"messageId":"m-3","properties":{"product_id":"A","price":50}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokenKeys []string
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "track-enricher:oauth2:token:") {
			tokenKeys = append(tokenKeys, key)
			value, err := mr.Get(key)
			require.NoError(t, err)
			assert.NotContains(t, value, "ya29.live", "tokens are encrypted at rest")
		}
	}
	require.Len(t, tokenKeys, 1)

	second, err := New(cfg)
	require.NoError(t, err)
	defer second.Cleanup()

	rec = post(t, second.Handler(), `{"messageId":"m-4","properties":{"product_id":"A","price":50}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&u.tokenCalls), "second instance reuses the shared token")
}

func TestApp_HealthAndMetrics(t *testing.T) {
	mr := miniredis.RunT(t)
	u := newUpstreams(t)
	cfg := testConfig(t, u)
	cfg.RedisAddress = mr.Addr()

	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Cleanup()
	handler := app.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis_status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"catalog":"closed"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "track_enricher_events_received_total")
}

func TestApp_WithForwarder(t *testing.T) {
	u := newUpstreams(t)
	cfg := testConfig(t, u)
	cfg.BreakerEnabled = false

	var out strings.Builder
	app, err := New(cfg, WithForwarder(forwarder.NewWriterForwarder(&out)))
	require.NoError(t, err)
	defer app.Cleanup()
	assert.Nil(t, app.Breakers)

	rec := post(t, app.Handler(), `{"messageId":"m-5","properties":{"price":100,"currency":"USD"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, u.sent())
	assert.Contains(t, out.String(), `"currency": "DKK"`)
	assert.Contains(t, out.String(), `"price": 650`)
}

func TestCatalogPoolOptions(t *testing.T) {
	assert.Empty(t, catalogPoolOptions(0))
	assert.Empty(t, catalogPoolOptions(8))

	opts := catalogPoolOptions(64)
	require.Len(t, opts, 1)
	cfg := commonhttp.DefaultClientConfig()
	opts[0](&cfg)
	assert.Equal(t, 64, cfg.MaxIdleConnsPerHost)
}
