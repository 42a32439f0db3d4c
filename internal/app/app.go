package app

import (
	"track-enricher/internal/circuitbreaker"
	"track-enricher/internal/common/logging"
	"track-enricher/internal/config"
	"track-enricher/internal/crypto"
	"track-enricher/internal/forwarder"
	"track-enricher/internal/oauth2"
	"track-enricher/internal/pipeline"
	"track-enricher/internal/redis"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	RedisClient *redis.Client
	Encryptor   *crypto.ConfigEncryptor
	Breakers    *circuitbreaker.Registry
	TokenCache  *oauth2.TokenCache
	Pipeline    *pipeline.Pipeline
	Logger      logging.Logger

	forwarder   forwarder.Forwarder
	breakerList []*circuitbreaker.GoBreakerAdapter
}

// Option configures an App
type Option func(*App)

// WithForwarder replaces the HTTP forwarder, e.g. to print events instead
// of sending them.
func WithForwarder(f forwarder.Forwarder) Option {
	return func(app *App) {
		app.forwarder = f
	}
}

// New creates a new application instance with all dependencies. cfg must
// already be validated.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.initializeRedis(); err != nil {
		// Redis is optional, just log the error
		app.Logger.Warn("Redis initialization failed, continuing without Redis",
			logging.Field{Key: "error", Value: err.Error()})
	}

	if err := app.initializeEncryption(); err != nil {
		return nil, err
	}

	app.initializeBreakers()
	app.initializePipeline()

	return app, nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
