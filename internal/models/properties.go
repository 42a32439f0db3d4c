package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"track-enricher/internal/common/errors"
)

// Property and line item keys
const (
	KeyProducts  = "products"
	KeyProductID = "product_id"
	KeyCurrency  = "currency"
	KeyRevenue   = "revenue"
	KeyPrice     = "price"
	KeyQuantity  = "quantity"
	KeyCost      = "cost"
	KeyMargin    = "margin"
)

// Shape classifies event properties for the currency and catalog stages.
type Shape int

const (
	ShapeNone Shape = iota
	// ShapeFlatMonetary has a top-level currency with revenue or price.
	ShapeFlatMonetary
	// ShapeProductList has a non-empty products list.
	ShapeProductList
	// ShapeSingleProduct has a top-level product_id and no products list.
	ShapeSingleProduct
)

func (s Shape) String() string {
	switch s {
	case ShapeFlatMonetary:
		return "flat_monetary"
	case ShapeProductList:
		return "product_list"
	case ShapeSingleProduct:
		return "single_product"
	default:
		return "none"
	}
}

// Properties is the properties object of a track event.
type Properties map[string]interface{}

// Has reports whether key is present, whatever its value.
func (p Properties) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// CurrencyShape picks the currency branch. Flat monetary fields win over a
// product list; a product list counts only when its first item carries a
// currency.
func (p Properties) CurrencyShape() Shape {
	if p.Has(KeyCurrency) && (p.Has(KeyRevenue) || p.Has(KeyPrice)) {
		return ShapeFlatMonetary
	}
	if products := p.Products(); len(products) > 0 && products[0].Has(KeyCurrency) {
		return ShapeProductList
	}
	return ShapeNone
}

// CatalogShape picks the catalog branch. A products key, even an empty list,
// shadows a top-level product_id.
func (p Properties) CatalogShape() Shape {
	if p.Has(KeyProducts) && p[KeyProducts] != nil {
		if len(p.Products()) > 0 {
			return ShapeProductList
		}
		return ShapeNone
	}
	if p.Has(KeyProductID) {
		return ShapeSingleProduct
	}
	return ShapeNone
}

// Currency returns the top-level currency code.
func (p Properties) Currency() string {
	return textOf(p[KeyCurrency])
}

// Products returns the line items. The items share storage with p.
func (p Properties) Products() []LineItem {
	list, ok := p[KeyProducts].([]interface{})
	if !ok {
		return nil
	}
	items := make([]LineItem, 0, len(list))
	for _, raw := range list {
		switch v := raw.(type) {
		case map[string]interface{}:
			items = append(items, LineItem(v))
		case LineItem:
			items = append(items, v)
		}
	}
	return items
}

// SetProducts replaces the products list.
func (p Properties) SetProducts(items []LineItem) {
	list := make([]interface{}, len(items))
	for i, item := range items {
		list[i] = map[string]interface{}(item)
	}
	p[KeyProducts] = list
}

// AsLineItem views the properties as a single line item, sharing storage.
func (p Properties) AsLineItem() LineItem {
	return LineItem(p)
}

func (p Properties) validateProducts() error {
	raw, ok := p[KeyProducts]
	if !ok || raw == nil {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return errors.ValidationError("properties.products must be a list")
	}
	for i, item := range list {
		if _, ok := item.(map[string]interface{}); !ok {
			return errors.ValidationError(fmt.Sprintf("properties.products[%d] must be an object", i))
		}
	}
	return nil
}

// LineItem is one entry of a products list.
type LineItem map[string]interface{}

// Has reports whether key is present, whatever its value.
func (l LineItem) Has(key string) bool {
	_, ok := l[key]
	return ok
}

// Clone returns a shallow copy.
func (l LineItem) Clone() LineItem {
	out := make(LineItem, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// ProductID returns the catalog key of the item. Numeric ids are rendered
// without exponent or trailing zeros.
func (l LineItem) ProductID() (string, bool) {
	id := textOf(l[KeyProductID])
	return id, id != ""
}

// Currency returns the item currency code.
func (l LineItem) Currency() string {
	return textOf(l[KeyCurrency])
}

// MonetaryKey returns the field margin is computed from: revenue when present,
// otherwise price, otherwise "".
func (l LineItem) MonetaryKey() string {
	switch {
	case l.Has(KeyRevenue):
		return KeyRevenue
	case l.Has(KeyPrice):
		return KeyPrice
	default:
		return ""
	}
}

// HasMonetary reports whether revenue or price is present.
func (l LineItem) HasMonetary() bool {
	return l.MonetaryKey() != ""
}

// Number returns the numeric value stored under key.
func (l LineItem) Number(key string) (float64, bool) {
	return Number(l[key])
}

// Monetary returns the numeric value of MonetaryKey.
func (l LineItem) Monetary() (float64, bool) {
	key := l.MonetaryKey()
	if key == "" {
		return 0, false
	}
	return Number(l[key])
}

// Quantity returns the quantity. present is false when the key is absent.
func (l LineItem) Quantity() (value float64, present, numeric bool) {
	raw, present := l[KeyQuantity]
	if !present {
		return 0, false, false
	}
	value, numeric = Number(raw)
	return value, true, numeric
}

// Cost returns the catalog cost once it has been merged into the item.
func (l LineItem) Cost() (float64, bool) {
	return Number(l[KeyCost])
}

// Number converts JSON-decoded numeric values, and strings holding a decimal
// number, to a finite float64.
func Number(v interface{}) (float64, bool) {
	f, ok := number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func textOf(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return fmt.Sprint(s)
	}
}
