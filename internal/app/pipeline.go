package app

import (
	"track-enricher/internal/catalog"
	"track-enricher/internal/circuitbreaker"
	"track-enricher/internal/common/cache"
	commonhttp "track-enricher/internal/common/http"
	"track-enricher/internal/common/logging"
	"track-enricher/internal/currency"
	"track-enricher/internal/forwarder"
	"track-enricher/internal/oauth2"
	"track-enricher/internal/pipeline"
	"track-enricher/internal/profiles"
)

// Upstream names, used for breakers and logs
const (
	upstreamOAuth      = "oauth2"
	upstreamProfiles   = "profiles"
	upstreamRates      = "exchange_rates"
	upstreamCatalog    = "catalog"
	upstreamCollection = "collection"
)

func (app *App) initializeBreakers() {
	if !app.Config.BreakerEnabled {
		app.Logger.Info("Circuit breakers disabled")
		return
	}
	app.Breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), app.Logger)
	for _, name := range []string{upstreamOAuth, upstreamProfiles, upstreamRates, upstreamCatalog, upstreamCollection} {
		app.breakerList = append(app.breakerList, app.Breakers.Get(name))
	}
}

// upstream returns the HTTP client for one upstream, behind its breaker
// when breakers are enabled.
func (app *App) upstream(name string, opts ...commonhttp.ClientOption) *commonhttp.Client {
	opts = append([]commonhttp.ClientOption{commonhttp.WithTimeout(app.Config.Timeout())}, opts...)
	base := commonhttp.NewHTTPClient(opts...)
	if app.Breakers == nil {
		return commonhttp.NewClient(base, nil)
	}
	return commonhttp.NewClient(base, app.Breakers.Get(name))
}

func (app *App) initializePipeline() {
	cfg := app.Config
	logger := logging.GetGlobalLogger()

	cacheOpts := []oauth2.CacheOption{
		oauth2.WithLogger(logger),
		oauth2.WithRefreshTimeout(cfg.Timeout()),
	}
	if app.RedisClient != nil {
		cacheOpts = append(cacheOpts, oauth2.WithStorage(oauth2.NewRedisTokenStorage(app.RedisClient, app.Encryptor)))
	}
	app.TokenCache = oauth2.NewTokenCache(
		oauth2.NewAssertionSigner(cfg.Audience, cfg.Scope),
		oauth2.NewTokenExchanger(cfg.TokenURL, app.upstream(upstreamOAuth)),
		cacheOpts...,
	)

	normalizer := currency.NewNormalizer(app.rateProvider(), cfg.TargetCurrency, logger)

	fwd := app.forwarder
	if fwd == nil {
		fwd = forwarder.NewHTTPForwarder(cfg.CollectionURL, app.upstream(upstreamCollection))
	}

	app.Pipeline = pipeline.New(
		app.TokenCache,
		profiles.NewClient(cfg.ProfilesBaseURL, app.upstream(upstreamProfiles), logger),
		normalizer,
		catalog.NewEnricher(cfg.CatalogURL(), app.upstream(upstreamCatalog, catalogPoolOptions(cfg.Concurrency())...), cfg.Concurrency(), logger),
		fwd,
		pipeline.WithLegacyMargin(cfg.LegacyMargin),
		pipeline.WithLogger(logger),
	)

	app.Logger.Info("Pipeline initialized",
		logging.Field{Key: "target_currency", Value: normalizer.Target()},
		logging.Field{Key: "catalog_url", Value: cfg.CatalogURL()},
		logging.Field{Key: "catalog_concurrency", Value: cfg.Concurrency()},
		logging.Field{Key: "legacy_margin", Value: cfg.LegacyMargin},
	)
}

// catalogPoolOptions keeps one idle connection per concurrent catalog lookup.
func catalogPoolOptions(concurrency int) []commonhttp.ClientOption {
	if concurrency <= commonhttp.DefaultClientConfig().MaxIdleConnsPerHost {
		return nil
	}
	return []commonhttp.ClientOption{commonhttp.WithMaxIdleConnsPerHost(concurrency)}
}

// rateProvider caches rates in process, and in Redis too when it is
// available. A zero TTL disables caching.
func (app *App) rateProvider() currency.RateProvider {
	client := currency.NewRateClient(app.Config.ExchangeRateURL, app.upstream(upstreamRates))

	ttl := app.Config.RateTTL()
	if ttl <= 0 {
		app.Logger.Info("Exchange rate caching disabled")
		return client
	}

	cacheConfig := cache.DefaultConfig()
	cacheConfig.TTL = ttl
	cacheConfig.CleanupInterval = 2 * ttl
	if app.RedisClient != nil {
		cacheConfig.Type = cache.TypeTwoTier
		cacheConfig.RedisClient = app.RedisClient.Redis()
	}

	c, err := cache.New(cacheConfig)
	if err != nil {
		app.Logger.Warn("Exchange rate cache unavailable, rates fetched per event",
			logging.Field{Key: "error", Value: err.Error()})
		return client
	}
	return currency.NewCachedRates(client, c, ttl, app.Logger)
}
