package pipeline

import (
	"context"
	"time"

	"track-enricher/internal/catalog"
	"track-enricher/internal/models"
	"track-enricher/internal/oauth2"
)

// Stage names, also used as the metrics label for failures
const (
	StageToken    = "token"
	StageProfile  = "profile"
	StageCurrency = "currency"
	StageCatalog  = "catalog"
	StageForward  = "forward"
)

// TokenSource hands out catalog access tokens
type TokenSource interface {
	Token(ctx context.Context, account oauth2.ServiceAccount) (*oauth2.Token, error)
	Invalidate(ctx context.Context, account oauth2.ServiceAccount)
}

// ProfileSource resolves user traits
type ProfileSource interface {
	Traits(ctx context.Context, spaceID, accessToken, userID string) (map[string]interface{}, error)
}

// CurrencyNormalizer rewrites event amounts into the reporting currency
type CurrencyNormalizer interface {
	Normalize(ctx context.Context, evt *models.Event) error
}

// CatalogEnricher adds catalog cost and margin to line items
type CatalogEnricher interface {
	Fetch(ctx context.Context, productID, accessToken string) (catalog.Record, error)
	EnrichItem(ctx context.Context, item models.LineItem, accessToken string) (models.LineItem, error)
	EnrichItems(ctx context.Context, items []models.LineItem, accessToken string) ([]models.LineItem, error)
}

// StageResult represents the outcome of one pipeline stage
type StageResult struct {
	Name     string        `json:"name"`
	Skipped  bool          `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Result represents one completed enrichment
type Result struct {
	Event         *models.Event `json:"-"`
	TotalDuration time.Duration `json:"total_duration"`
	StageResults  []StageResult `json:"stage_results"`
}
