// Package pricing implements the Price Calculator: pure functions for
// computing acceptable limit prices under the "never worse than donor"
// dominance rule and the broker's price-rounding convention, plus the
// placement retry loop that walks the safety offset out on transient
// broker rejection (spec §4.6).
package pricing

import (
	"math"

	"fx-copier/pkg/types"
)

// PointSize derives the smallest price increment from a symbol's digit
// count, matching original_source/utils.py's get_point_size: 3 or 5 digit
// symbols (JPY pairs, 5-digit brokers) use 0.001/0.00001 respectively via
// 10^-digits, which this formula already produces uniformly.
func PointSize(digits int) float64 {
	return math.Pow(10, float64(-digits))
}

// LimitPrice computes the acceptable limit price for a BUY_LIMIT or
// SELL_LIMIT order. marketRef is the ask for BUY_LIMIT, the bid for
// SELL_LIMIT. It returns the price closest to market that is still no
// worse for the client than originalPrice (spec §4.6): a BUY_LIMIT is
// capped at originalPrice (never pay more than the donor did), a
// SELL_LIMIT is floored at originalPrice (never sell for less).
func LimitPrice(kind types.OrderKind, marketRef, originalPrice, offset float64, digits int) float64 {
	var candidate float64
	switch kind {
	case types.BuyLimit:
		candidate = marketRef - offset
		if candidate > originalPrice {
			candidate = originalPrice
		}
	case types.SellLimit:
		candidate = marketRef + offset
		if candidate < originalPrice {
			candidate = originalPrice
		}
	default:
		candidate = originalPrice
	}
	return round(candidate, digits)
}

// Dominance reports whether ourPrice is no worse for the client than
// originalPrice, within an epsilon of 0.1 points (spec §3 invariant 4,
// §4.6). It is reflexive: Dominance(p, p, kind, point) is always true.
func Dominance(ourPrice, originalPrice float64, kind types.OrderKind, point float64) bool {
	eps := 0.1 * point
	switch kind {
	case types.BuyLimit:
		return ourPrice <= originalPrice+eps
	case types.SellLimit:
		return ourPrice >= originalPrice-eps
	default:
		return true
	}
}

func round(v float64, digits int) float64 {
	pow := math.Pow(10, float64(digits))
	return math.Round(v*pow) / pow
}

// RetryDecision is the outcome of classifying one failed placement attempt.
type RetryDecision int

const (
	GiveUp RetryDecision = iota
	RetryWithLargerOffset
)

// ClassifyFailure decides whether a submit failure should be retried with
// an incremented offset or abandoned, matching order_manager.py's
// place_limit_order retry loop: invalid price, invalid stops, requotes,
// off-quotes, and generic failures are all retried by widening the offset
// by one point; anything else (e.g. an explicit reject) gives up.
func ClassifyFailure(code types.RetCode) RetryDecision {
	switch code {
	case types.RetInvalidPrice, types.RetInvalidStops, types.RetRequote, types.RetOffQuotes, types.RetGenericFailure:
		return RetryWithLargerOffset
	default:
		return GiveUp
	}
}

// PlaceWithRetry runs the placement retry loop of spec §4.6: starting from
// offsetPoints*point, it calls submit with the computed limit price; on a
// retryable failure it widens the offset by exactly one point and tries
// again, making at most maxRetries+1 attempts (the first plus maxRetries
// retries). submit returns the broker's result for
// one attempt at the given price. PlaceWithRetry also re-checks dominance
// itself before each submit (a widened offset must still satisfy it, which
// for BUY_LIMIT/SELL_LIMIT is guaranteed by construction but is asserted
// here defensively against a caller-supplied originalPrice/digits mismatch).
func PlaceWithRetry(
	kind types.OrderKind,
	originalPrice float64,
	offsetPoints float64,
	point float64,
	digits int,
	maxRetries int,
	marketRef func() (float64, error),
	submit func(price float64) (types.SubmitResult, error),
) (types.SubmitResult, error) {
	offset := offsetPoints * point

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		market, err := marketRef()
		if err != nil {
			return types.SubmitResult{}, err
		}

		price := LimitPrice(kind, market, originalPrice, offset, digits)
		if !Dominance(price, originalPrice, kind, point) {
			offset += point
			continue
		}

		result, err := submit(price)
		if err != nil {
			lastErr = err
			offset += point
			continue
		}
		if result.RetCode == types.RetOK {
			return result, nil
		}
		if ClassifyFailure(result.RetCode) == GiveUp {
			return result, nil
		}
		offset += point
	}

	if lastErr != nil {
		return types.SubmitResult{RetCode: types.RetGenericFailure}, lastErr
	}
	return types.SubmitResult{RetCode: types.RetGenericFailure, Message: "exhausted retries"}, nil
}
