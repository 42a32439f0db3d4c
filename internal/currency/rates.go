// Package currency converts event amounts to the reporting currency.
package currency

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"track-enricher/internal/common/cache"
	"track-enricher/internal/common/errors"
	commonhttp "track-enricher/internal/common/http"
	"track-enricher/internal/common/logging"
	"track-enricher/internal/metrics"
	"track-enricher/internal/models"
)

// DefaultRatesURL is the exchange-rate service
const DefaultRatesURL = "https://api.exchangeratesapi.io/latest"

// RateProvider returns the multiplier converting source amounts to target.
type RateProvider interface {
	Rate(ctx context.Context, source, target string) (float64, error)
}

// RateClient fetches rates from an exchangeratesapi.io compatible service.
type RateClient struct {
	baseURL string
	client  commonhttp.Doer
}

// NewRateClient creates a rate client
func NewRateClient(baseURL string, client commonhttp.Doer) *RateClient {
	if baseURL == "" {
		baseURL = DefaultRatesURL
	}
	if client == nil {
		client = commonhttp.NewHTTPClient()
	}
	return &RateClient{baseURL: baseURL, client: client}
}

// Rate requests <base>?base=<source>&symbols=<target>. A missing or
// non-positive rate in a successful response means 1.
func (c *RateClient) Rate(ctx context.Context, source, target string) (float64, error) {
	if source == "" {
		return 0, errors.RateLookupError(source, 0, nil).WithCode("missing_source_currency")
	}

	query := url.Values{}
	query.Set("base", source)
	query.Set("symbols", target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return 0, errors.RateLookupError(source, 0, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, errors.TimeoutError("exchange rate lookup", err)
		}
		return 0, errors.RateLookupError(source, 0, err)
	}
	defer commonhttp.DrainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return 0, errors.RateLookupError(source, resp.StatusCode, nil)
	}

	var body struct {
		Rates map[string]interface{} `json:"rates"`
	}
	if err := commonhttp.DecodeJSON(resp, &body); err != nil {
		return 0, errors.RateLookupError(source, resp.StatusCode, err)
	}

	rate, ok := models.Number(body.Rates[target])
	if !ok || rate <= 0 {
		return 1, nil
	}
	return rate, nil
}

// CachedRates remembers rates per currency pair for a fixed TTL.
type CachedRates struct {
	provider RateProvider
	cache    cache.Cache
	ttl      time.Duration
	logger   logging.Logger
}

// NewCachedRates wraps provider with c
func NewCachedRates(provider RateProvider, c cache.Cache, ttl time.Duration, logger logging.Logger) *CachedRates {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CachedRates{provider: provider, cache: c, ttl: ttl, logger: logger}
}

// Rate serves from cache when possible. Cache write failures are logged
// and otherwise ignored.
func (c *CachedRates) Rate(ctx context.Context, source, target string) (float64, error) {
	key := "rate:" + source + ":" + target
	if v, found := c.cache.Get(ctx, key); found {
		if rate, ok := models.Number(v); ok && rate > 0 {
			metrics.RateLookups.WithLabelValues("cache", "ok").Inc()
			return rate, nil
		}
	}

	rate, err := c.provider.Rate(ctx, source, target)
	if err != nil {
		metrics.RateLookups.WithLabelValues("upstream", "error").Inc()
		return 0, err
	}
	metrics.RateLookups.WithLabelValues("upstream", "ok").Inc()

	if err := c.cache.Set(ctx, key, rate, c.ttl); err != nil {
		c.logger.WithContext(ctx).Warn("Failed to cache exchange rate",
			logging.Field{Key: "currency", Value: source},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
	return rate, nil
}
