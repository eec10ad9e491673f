package alibaba

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/billlvtech/icbu-broker/internal/types"
)

// Pricing modes carried by the scPrice field.
const (
	PriceLadder = "1"
	PriceRange  = "2"
	PriceSKU    = "3"
)

// MaxLadderTiers is the number of ladderPrice_N entries the gateway accepts.
const MaxLadderTiers = 4

// FOBUnitUSD is the fob.unit_type value for US dollars.
const FOBUnitUSD = "1"

var (
	ErrMissingScPrice     = errors.New("scPrice is required")
	ErrMissingLadder      = errors.New("scPrice=1 requires ladderPrice")
	ErrNoLadderPrice      = errors.New("ladderPrice exists but no valid price found")
	ErrMissingFOBRange    = errors.New("scPrice=2 requires fob.range_min and fob.range_max")
	ErrMissingSKUPrice    = errors.New("scPrice=3 requires sku price")
	ErrUnsupportedScPrice = errors.New("unsupported scPrice")
)

// EnsurePriceIntegrity completes the price block of flat so that publish
// passes the gateway's price checks. flat is modified in place.
func EnsurePriceIntegrity(flat types.FlatData) error {
	scPrice := types.Stringify(flat["scPrice"])
	if !types.HasValue(flat["scPrice"]) {
		return ErrMissingScPrice
	}

	switch scPrice {
	case PriceLadder:
		if !hasPrefix(flat, "ladderPrice.") {
			return ErrMissingLadder
		}
		qty, price, ok := firstLadderPrice(flat)
		if !ok {
			return ErrNoLadderPrice
		}
		if _, set := flat["minOrderQuantity"]; !set {
			if qty == nil || !types.HasValue(qty) {
				qty = 1
			}
			flat["minOrderQuantity"] = qty
		}
		ensureFOB(flat, price)

	case PriceRange:
		_, hasMin := flat["fob.range_min"]
		_, hasMax := flat["fob.range_max"]
		if !hasMin || !hasMax {
			return ErrMissingFOBRange
		}
		if _, set := flat["fob.unit_type"]; !set {
			flat["fob.unit_type"] = FOBUnitUSD
		}

	case PriceSKU:
		price, ok := firstSKUPrice(flat)
		if !ok {
			return ErrMissingSKUPrice
		}
		ensureFOB(flat, price)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedScPrice, scPrice)
	}
	return nil
}

func hasPrefix(flat types.FlatData, prefix string) bool {
	for k := range flat {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func firstLadderPrice(flat types.FlatData) (qty, price any, ok bool) {
	for i := 0; i < MaxLadderTiers; i++ {
		base := fmt.Sprintf("ladderPrice.ladderPrice_%d.", i)
		q, hasQ := flat[base+"quantity"]
		p, hasP := flat[base+"price"]
		if hasQ && hasP && q != nil && p != nil {
			return q, p, true
		}
	}
	return nil, nil, false
}

// firstSKUPrice scans sku.*.price keys in sorted order.
func firstSKUPrice(flat types.FlatData) (any, bool) {
	keys := make([]string, 0)
	for k := range flat {
		if strings.HasPrefix(k, "sku.") && strings.HasSuffix(k, ".price") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if flat[k] != nil {
			return flat[k], true
		}
	}
	return nil, false
}

func ensureFOB(flat types.FlatData, price any) {
	if hasPrefix(flat, "fob.") {
		return
	}
	flat["fob.range_min"] = price
	flat["fob.range_max"] = price
	flat["fob.unit_type"] = FOBUnitUSD
}
