package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"
	"track-enricher/internal/common/errors"
	commonhttp "track-enricher/internal/common/http"
	"track-enricher/internal/common/logging"
	"track-enricher/internal/metrics"
	"track-enricher/internal/models"
)

// DefaultCollection is the Firestore collection holding product documents
const DefaultCollection = "Products"

// FirestoreURL returns the document collection URL for a GCP project.
func FirestoreURL(project, collection string) string {
	if collection == "" {
		collection = DefaultCollection
	}
	return fmt.Sprintf("https://firestore.googleapis.com/v1beta1/projects/%s/databases/(default)/documents/%s",
		url.PathEscape(project), url.PathEscape(collection))
}

// Enricher looks products up in the catalog.
type Enricher struct {
	baseURL     string
	client      commonhttp.Doer
	concurrency int
	logger      logging.Logger
}

// NewEnricher creates an enricher reading documents under baseURL. At most
// concurrency lookups run at once; zero or less means one per item.
func NewEnricher(baseURL string, client commonhttp.Doer, concurrency int, logger logging.Logger) *Enricher {
	if client == nil {
		client = commonhttp.NewHTTPClient()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Enricher{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      client,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Fetch returns the catalog record for productID. A missing product yields
// an empty record.
func (e *Enricher) Fetch(ctx context.Context, productID, accessToken string) (Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/"+url.PathEscape(productID), nil)
	if err != nil {
		return nil, errors.CatalogError(productID, 0, "", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := e.client.Do(req)
	if err != nil {
		metrics.CatalogLookups.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return nil, errors.TimeoutError("catalog lookup", err).WithContext("product_id", productID)
		}
		return nil, errors.CatalogError(productID, 0, "", err)
	}
	defer commonhttp.DrainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		metrics.CatalogLookups.WithLabelValues("not_found").Inc()
		e.logger.WithContext(ctx).Debug("Product not in catalog", logging.Field{Key: "product_id", Value: productID})
		return Record{}, nil
	default:
		metrics.CatalogLookups.WithLabelValues("error").Inc()
		return nil, errors.CatalogError(productID, resp.StatusCode, commonhttp.Reason(resp), nil)
	}

	var doc document
	if err := commonhttp.DecodeJSON(resp, &doc); err != nil {
		metrics.CatalogLookups.WithLabelValues("error").Inc()
		return nil, errors.CatalogError(productID, resp.StatusCode, "invalid document", err)
	}
	metrics.CatalogLookups.WithLabelValues("found").Inc()
	return doc.record(), nil
}

// EnrichItem returns a copy of item with the catalog record merged in and
// its margin recomputed. Items without a product id, or whose product is
// not in the catalog, come back unchanged.
func (e *Enricher) EnrichItem(ctx context.Context, item models.LineItem, accessToken string) (models.LineItem, error) {
	productID, ok := item.ProductID()
	if !ok {
		return item.Clone(), nil
	}

	rec, err := e.Fetch(ctx, productID, accessToken)
	if err != nil {
		return nil, err
	}
	if len(rec) == 0 {
		return item.Clone(), nil
	}

	out := Merge(item, rec)
	ApplyMargin(out)
	return out, nil
}

// EnrichItems enriches every item concurrently. The result has the same
// order as items. The first failure cancels the remaining lookups and is
// returned alone.
func (e *Enricher) EnrichItems(ctx context.Context, items []models.LineItem, accessToken string) ([]models.LineItem, error) {
	results := make([]models.LineItem, len(items))

	g, gctx := errgroup.WithContext(ctx)
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			out, err := e.EnrichItem(gctx, item, accessToken)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
