package currency

import (
	"context"
	"math"

	"track-enricher/internal/common/logging"
	"track-enricher/internal/models"
)

// DefaultTargetCurrency is the currency every amount is reported in
const DefaultTargetCurrency = "DKK"

// Normalizer rewrites event amounts into the target currency.
type Normalizer struct {
	rates  RateProvider
	target string
	logger logging.Logger
}

// NewNormalizer creates a normalizer converting to target
func NewNormalizer(rates RateProvider, target string, logger logging.Logger) *Normalizer {
	if target == "" {
		target = DefaultTargetCurrency
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Normalizer{rates: rates, target: target, logger: logger}
}

// Target returns the reporting currency
func (n *Normalizer) Target() string {
	return n.target
}

// Normalize converts revenue and price at the top level and on every line
// item, truncating toward zero, and relabels every currency field. The
// source currency is the top-level one for flat events and the first
// item's for product lists. Events already in the target currency, or with
// no currency information, are left untouched.
func (n *Normalizer) Normalize(ctx context.Context, evt *models.Event) error {
	props := evt.Properties

	var source string
	switch props.CurrencyShape() {
	case models.ShapeFlatMonetary:
		source = props.Currency()
	case models.ShapeProductList:
		source = props.Products()[0].Currency()
	default:
		return nil
	}
	if source == n.target {
		return nil
	}

	rate, err := n.rates.Rate(ctx, source, n.target)
	if err != nil {
		return err
	}

	n.logger.WithContext(ctx).Debug("Converting amounts",
		logging.Field{Key: "from", Value: source},
		logging.Field{Key: "to", Value: n.target},
		logging.Field{Key: "rate", Value: rate},
	)

	top := props.AsLineItem()
	convertAmounts(top, rate)
	for _, item := range props.Products() {
		convertAmounts(item, rate)
		if item.Has(models.KeyCurrency) {
			item[models.KeyCurrency] = n.target
		}
	}
	if top.Has(models.KeyCurrency) {
		top[models.KeyCurrency] = n.target
	}
	return nil
}

// convertAmounts leaves non-numeric amounts as they are.
func convertAmounts(item models.LineItem, rate float64) {
	for _, key := range []string{models.KeyRevenue, models.KeyPrice} {
		if v, ok := item.Number(key); ok {
			item[key] = Convert(v, rate)
		}
	}
}

// Convert returns trunc(amount * rate).
func Convert(amount, rate float64) int64 {
	return int64(math.Trunc(amount * rate))
}
