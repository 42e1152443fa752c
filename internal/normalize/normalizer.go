package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/avelar/marketsync/internal/model"
)

// ErrIncompleteRecord is returned when a raw record has no resolvable
// symbol or price. Such records are dropped by the caller, never
// propagated downstream.
var ErrIncompleteRecord = errors.New("incomplete record")

// DefaultEpsilon is the tolerance for an upstream-supplied changePercent
// before the recomputed value overrides it.
const DefaultEpsilon = 0.01

// Accepted aliases per canonical field, in resolution order.
var (
	symbolAliases        = []string{"symbol", "Symbol"}
	priceAliases         = []string{"price", "Price"}
	previousCloseAliases = []string{"previousClose", "PreviousClose", "prevClose", "PrevClose"}
	changePercentAliases = []string{"changePercent", "ChangePercent", "changePercentage"}
	marketStatusAliases  = []string{"marketStatus", "MarketStatus"}
	venueAliases         = []string{"venue", "Venue", "exchange", "Exchange"}
)

// Stats holds normalizer diagnostic counters.
type Stats struct {
	Normalized int64 // Records successfully normalized
	Dropped    int64 // Records dropped for a missing required field
	Corrected  int64 // Records whose upstream changePercent was overridden
}

// Normalizer maps raw upstream records to model.RecordUpdate values.
// Normalization is deterministic: equivalent inputs produce identical
// outputs. Safe for concurrent use.
type Normalizer struct {
	epsilon float64
	logger  *slog.Logger

	normalized atomic.Int64
	dropped    atomic.Int64
	corrected  atomic.Int64
}

// New creates a Normalizer. A zero epsilon selects DefaultEpsilon.
func New(epsilon float64, logger *slog.Logger) *Normalizer {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{epsilon: epsilon, logger: logger}
}

// Stats returns current diagnostic counters.
func (n *Normalizer) Stats() Stats {
	return Stats{
		Normalized: n.normalized.Load(),
		Dropped:    n.dropped.Load(),
		Corrected:  n.corrected.Load(),
	}
}

// Normalize resolves one raw record. A missing symbol or price fails with
// ErrIncompleteRecord and increments the dropped counter; optional fields
// that do not resolve stay unset on the result.
func (n *Normalizer) Normalize(raw map[string]any, receivedAt time.Time) (model.RecordUpdate, error) {
	upd := model.RecordUpdate{ReceivedAt: receivedAt.UTC()}

	// A symbol-less record is unroutable: it would merge with every other
	// symbol-less record under the empty key.
	sym, ok := firstString(raw, symbolAliases)
	if !ok {
		n.dropped.Add(1)
		n.logger.Debug("dropping record without symbol")
		return model.RecordUpdate{}, fmt.Errorf("%w: no symbol", ErrIncompleteRecord)
	}
	upd.Symbol = sym

	price, ok := firstNumber(raw, priceAliases)
	if !ok {
		n.dropped.Add(1)
		n.logger.Debug("dropping record without price", "symbol", upd.Symbol)
		return model.RecordUpdate{}, fmt.Errorf("%w: no price for %q", ErrIncompleteRecord, upd.Symbol)
	}
	upd.Price = price

	if prev, ok := firstNumber(raw, previousCloseAliases); ok {
		upd.PreviousClose = &prev
	}
	upstreamChange, haveUpstreamChange := firstNumber(raw, changePercentAliases)

	if status, ok := firstString(raw, marketStatusAliases); ok {
		upd.MarketStatus = status
	}
	if venue, ok := firstString(raw, venueAliases); ok {
		upd.Venue = venue
	}

	// When both price and previousClose are known the change percent is
	// derived, not trusted: an upstream value that disagrees beyond epsilon
	// is overridden and the record flagged as corrected.
	switch {
	case upd.PreviousClose != nil && *upd.PreviousClose != 0:
		computed := (upd.Price - *upd.PreviousClose) / *upd.PreviousClose * 100
		upd.ChangePercent = &computed
		if haveUpstreamChange && math.Abs(upstreamChange-computed) > n.epsilon {
			upd.Corrected = true
			n.corrected.Add(1)
			n.logger.Debug("overriding upstream change percent",
				"symbol", upd.Symbol,
				"upstream", upstreamChange,
				"computed", computed,
			)
		}
	case haveUpstreamChange:
		upd.ChangePercent = &upstreamChange
	}

	n.normalized.Add(1)
	return upd, nil
}

// NormalizeBatch normalizes each entry independently: a malformed entry is
// dropped without affecting the rest of the batch.
func (n *Normalizer) NormalizeBatch(raws []map[string]any, receivedAt time.Time) []model.RecordUpdate {
	out := make([]model.RecordUpdate, 0, len(raws))
	for _, raw := range raws {
		upd, err := n.Normalize(raw, receivedAt)
		if err != nil {
			continue
		}
		out = append(out, upd)
	}
	return out
}

// firstString resolves the first alias present with a non-empty string value.
func firstString(raw map[string]any, aliases []string) (string, bool) {
	for _, key := range aliases {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// firstNumber resolves the first alias present with a numeric value.
// Upstream encodes numbers inconsistently: JSON numbers, json.Number, and
// numeric strings all appear.
func firstNumber(raw map[string]any, aliases []string) (float64, bool) {
	for _, key := range aliases {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case float64:
			return x, true
		case float32:
			return float64(x), true
		case int:
			return float64(x), true
		case int64:
			return float64(x), true
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
