// Package pipeline runs one track event through token acquisition, profile
// lookup, currency normalization and catalog enrichment, then forwards it.
package pipeline

import (
	"context"
	"time"

	"track-enricher/internal/catalog"
	"track-enricher/internal/common/errors"
	"track-enricher/internal/common/logging"
	"track-enricher/internal/config"
	"track-enricher/internal/forwarder"
	"track-enricher/internal/metrics"
	"track-enricher/internal/models"
)

// Pipeline wires the enrichment collaborators together. It holds no
// per-event state and is safe for concurrent use.
type Pipeline struct {
	tokens       TokenSource
	profiles     ProfileSource
	normalizer   CurrencyNormalizer
	catalog      CatalogEnricher
	forwarder    forwarder.Forwarder
	legacyMargin bool
	logger       logging.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLegacyMargin computes single-product margins with catalog.LegacyMargin
func WithLegacyMargin(enabled bool) Option {
	return func(p *Pipeline) {
		p.legacyMargin = enabled
	}
}

// WithLogger sets the pipeline logger
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a pipeline
func New(tokens TokenSource, profiles ProfileSource, normalizer CurrencyNormalizer, enricher CatalogEnricher, fwd forwarder.Forwarder, opts ...Option) *Pipeline {
	p := &Pipeline{
		tokens:     tokens,
		profiles:   profiles,
		normalizer: normalizer,
		catalog:    enricher,
		forwarder:  fwd,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.GetGlobalLogger()
	}
	return p
}

// Process enriches evt in place and forwards it. Any stage failure aborts
// the run before anything is sent.
func (p *Pipeline) Process(ctx context.Context, evt *models.Event, settings config.Settings) (*Result, error) {
	start := time.Now()
	metrics.EventsReceived.Inc()
	logger := p.logger.WithContext(ctx).WithFields(logging.Field{Key: "message_id", Value: evt.MessageID})

	result := &Result{Event: evt}
	run := func(name string, fn func() (bool, error)) error {
		stageStart := time.Now()
		skipped, err := fn()
		elapsed := time.Since(stageStart)
		result.StageResults = append(result.StageResults, StageResult{Name: name, Skipped: skipped, Duration: elapsed})
		if err != nil {
			metrics.EventsFailed.WithLabelValues(name).Inc()
			logger.Error("Enrichment stage failed", err,
				logging.Field{Key: "stage", Value: name},
				logging.Field{Key: "error_type", Value: string(errors.GetType(err))})
			return err
		}
		logger.Debug("Enrichment stage finished",
			logging.Field{Key: "stage", Value: name},
			logging.Field{Key: "skipped", Value: skipped},
			logging.Field{Key: "duration", Value: elapsed})
		return nil
	}

	var accessToken string
	stages := []struct {
		name string
		fn   func() (bool, error)
	}{
		{StageToken, func() (bool, error) {
			token, err := p.tokens.Token(ctx, settings.ServiceAccount)
			if err != nil {
				return false, err
			}
			accessToken = token.AccessToken
			return false, nil
		}},
		{StageProfile, func() (bool, error) {
			return p.resolveProfile(ctx, evt, settings)
		}},
		{StageCurrency, func() (bool, error) {
			if evt.Properties.CurrencyShape() == models.ShapeNone {
				return true, nil
			}
			return false, p.normalizer.Normalize(ctx, evt)
		}},
		{StageCatalog, func() (bool, error) {
			skipped, err := p.enrichCatalog(ctx, evt, accessToken)
			if err != nil && isUnauthorized(err) {
				logger.Warn("Catalog rejected access token, dropping it from the cache")
				p.tokens.Invalidate(ctx, settings.ServiceAccount)
			}
			return skipped, err
		}},
		{StageForward, func() (bool, error) {
			return false, p.forwarder.Send(ctx, evt, settings.CollectionAPIKey)
		}},
	}

	for _, stage := range stages {
		if err := run(stage.name, stage.fn); err != nil {
			return nil, err
		}
	}

	result.TotalDuration = time.Since(start)
	metrics.EventsForwarded.Inc()
	metrics.PipelineDuration.Observe(float64(result.TotalDuration.Milliseconds()))
	logger.Info("Event enriched and forwarded", logging.Field{Key: "duration", Value: result.TotalDuration})
	return result, nil
}

func (p *Pipeline) resolveProfile(ctx context.Context, evt *models.Event, settings config.Settings) (bool, error) {
	userID := evt.UserID()
	if userID == "" {
		return true, nil
	}
	traits, err := p.profiles.Traits(ctx, settings.ProfilesSpaceID, settings.ProfilesAccessToken, userID)
	if err != nil {
		return false, err
	}
	if len(traits) > 0 {
		evt.SetTraits(traits)
	}
	return false, nil
}

func (p *Pipeline) enrichCatalog(ctx context.Context, evt *models.Event, accessToken string) (bool, error) {
	props := evt.Properties

	switch props.CatalogShape() {
	case models.ShapeProductList:
		items, err := p.catalog.EnrichItems(ctx, props.Products(), accessToken)
		if err != nil {
			return false, err
		}
		props.SetProducts(items)
		if props.Has(models.KeyRevenue) {
			if total, ok := catalog.AggregateMargin(items); ok {
				props[models.KeyMargin] = total
			}
		}
		return false, nil

	case models.ShapeSingleProduct:
		var (
			out models.LineItem
			err error
		)
		if p.legacyMargin {
			out, err = p.legacySingleProduct(ctx, props.AsLineItem(), accessToken)
		} else {
			out, err = p.catalog.EnrichItem(ctx, props.AsLineItem(), accessToken)
		}
		if err != nil {
			return false, err
		}
		evt.Properties = models.Properties(out)
		return false, nil
	}

	return true, nil
}

func (p *Pipeline) legacySingleProduct(ctx context.Context, item models.LineItem, accessToken string) (models.LineItem, error) {
	productID, ok := item.ProductID()
	if !ok {
		return item.Clone(), nil
	}
	rec, err := p.catalog.Fetch(ctx, productID, accessToken)
	if err != nil {
		return nil, err
	}
	if len(rec) == 0 {
		return item.Clone(), nil
	}

	out := catalog.Merge(item, rec)
	if m, ok := catalog.LegacyMargin(out); ok {
		out[models.KeyMargin] = m
	} else {
		delete(out, models.KeyMargin)
	}
	return out, nil
}

func isUnauthorized(err error) bool {
	appErr, ok := errors.As(err)
	if !ok || appErr.Type != errors.ErrTypeCatalog {
		return false
	}
	status, _ := appErr.Context["status"].(int)
	return status == 401
}
