// Package catalog enriches product line items with catalog cost and margin.
package catalog

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"track-enricher/internal/models"
)

// Record holds the fields of one catalog document. An empty record means the
// product is not in the catalog.
type Record map[string]interface{}

// document is the Firestore REST representation of a document. Every field
// is wrapped in a single-key object naming its type, e.g. {"integerValue": "20"}.
type document struct {
	Fields map[string]map[string]interface{} `json:"fields"`
}

// record unwraps the typed field values. If a wrapper carries more than one
// key the alphabetically first one wins. cost is parsed as an integer and
// dropped when it has no leading digits.
func (d document) record() Record {
	rec := make(Record, len(d.Fields))
	for name, wrapped := range d.Fields {
		if len(wrapped) == 0 {
			continue
		}
		keys := make([]string, 0, len(wrapped))
		for k := range wrapped {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rec[name] = wrapped[keys[0]]
	}

	if raw, ok := rec[models.KeyCost]; ok {
		if cost, ok := parseInt(raw); ok {
			rec[models.KeyCost] = cost
		} else {
			delete(rec, models.KeyCost)
		}
	}
	return rec
}

// parseInt reads an optionally signed run of leading decimal digits, after
// leading whitespace, and ignores whatever follows: "20" and "20.9 DKK"
// both give 20. Numbers are read from their decimal text.
func parseInt(v interface{}) (int64, bool) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}

	s = strings.TrimLeft(s, " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}

	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Merge copies rec onto a clone of item. The catalog cost is only kept when
// the item has revenue or price to compare it with.
func Merge(item models.LineItem, rec Record) models.LineItem {
	out := item.Clone()
	keepCost := item.HasMonetary()
	for k, v := range rec {
		if k == models.KeyCost && !keepCost {
			continue
		}
		out[k] = v
	}
	return out
}

// Margin returns (monetary - cost) * quantity rounded to two decimals, where
// monetary is revenue if present, otherwise price, and quantity defaults to
// 1 when absent. ok is false when any present operand is not numeric or
// there is no monetary field or cost.
func Margin(item models.LineItem) (float64, bool) {
	amount, ok := item.Monetary()
	if !ok {
		return 0, false
	}
	cost, ok := item.Cost()
	if !ok {
		return 0, false
	}

	margin := amount - cost
	if qty, present, numeric := item.Quantity(); present {
		if !numeric {
			return 0, false
		}
		margin *= qty
	}
	return round2(margin), true
}

// LegacyMargin is the single-product rule used before margins were unified:
// (price - cost) * quantity, revenue ignored and quantity required, rendered
// as a string with two decimals.
func LegacyMargin(item models.LineItem) (string, bool) {
	price, ok := item.Number(models.KeyPrice)
	if !ok {
		return "", false
	}
	cost, ok := item.Cost()
	if !ok {
		return "", false
	}
	qty, present, numeric := item.Quantity()
	if !present || !numeric {
		return "", false
	}
	return strconv.FormatFloat(round2((price-cost)*qty), 'f', 2, 64), true
}

// ApplyMargin sets item's margin, or removes it when it cannot be computed.
func ApplyMargin(item models.LineItem) {
	if m, ok := Margin(item); ok {
		item[models.KeyMargin] = m
		return
	}
	delete(item, models.KeyMargin)
}

// AggregateMargin sums the item margins. ok is false when items is empty or
// any item lacks a numeric margin.
func AggregateMargin(items []models.LineItem) (float64, bool) {
	if len(items) == 0 {
		return 0, false
	}
	var total float64
	for _, item := range items {
		m, ok := item.Number(models.KeyMargin)
		if !ok {
			return 0, false
		}
		total += m
	}
	return round2(total), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
