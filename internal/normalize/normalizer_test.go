package normalize

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

var testTime = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

func TestNormalize_AliasResolution(t *testing.T) {
	n := New(0, nil)

	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"lowercase", map[string]any{"symbol": "AAPL", "price": 256.26, "previousClose": 254.04}},
		{"uppercase", map[string]any{"Symbol": "AAPL", "Price": 256.26, "PreviousClose": 254.04}},
		{"legacy prevClose", map[string]any{"symbol": "AAPL", "price": 256.26, "prevClose": 254.04}},
		{"legacy PrevClose", map[string]any{"symbol": "AAPL", "price": 256.26, "PrevClose": 254.04}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upd, err := n.Normalize(tt.raw, testTime)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if upd.Symbol != "AAPL" {
				t.Errorf("Symbol = %q, want AAPL", upd.Symbol)
			}
			if upd.Price != 256.26 {
				t.Errorf("Price = %v, want 256.26", upd.Price)
			}
			if upd.PreviousClose == nil || *upd.PreviousClose != 254.04 {
				t.Errorf("PreviousClose = %v, want 254.04", upd.PreviousClose)
			}
		})
	}
}

func TestNormalize_MissingPrice(t *testing.T) {
	n := New(0, nil)

	_, err := n.Normalize(map[string]any{"symbol": "AAPL"}, testTime)
	if !errors.Is(err, ErrIncompleteRecord) {
		t.Fatalf("err = %v, want ErrIncompleteRecord", err)
	}
	if got := n.Stats().Dropped; got != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", got)
	}
}

func TestNormalize_MissingSymbol(t *testing.T) {
	n := New(0, nil)

	// Priced but unroutable: without a symbol these records would all
	// collapse onto the empty key downstream.
	for i, raw := range []map[string]any{
		{"price": 101.5},
		{"symbol": "", "price": 101.5},
	} {
		_, err := n.Normalize(raw, testTime)
		if !errors.Is(err, ErrIncompleteRecord) {
			t.Fatalf("record %d: err = %v, want ErrIncompleteRecord", i, err)
		}
	}
	if got := n.Stats().Dropped; got != 2 {
		t.Errorf("Stats().Dropped = %d, want 2", got)
	}
}

func TestNormalize_OptionalFieldsStayUnset(t *testing.T) {
	n := New(0, nil)

	upd, err := n.Normalize(map[string]any{"symbol": "BTC-USD", "price": 97000.5}, testTime)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if upd.PreviousClose != nil {
		t.Errorf("PreviousClose = %v, want nil", upd.PreviousClose)
	}
	if upd.ChangePercent != nil {
		t.Errorf("ChangePercent = %v, want nil", upd.ChangePercent)
	}
	if upd.MarketStatus != "" {
		t.Errorf("MarketStatus = %q, want empty", upd.MarketStatus)
	}
}

func TestNormalize_ChangePercentRecomputed(t *testing.T) {
	n := New(0, nil)

	upd, err := n.Normalize(map[string]any{
		"symbol":        "AAPL",
		"price":         256.26,
		"previousClose": 254.04,
	}, testTime)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if upd.ChangePercent == nil {
		t.Fatal("ChangePercent = nil, want recomputed value")
	}
	if math.Abs(*upd.ChangePercent-0.874) > 0.01 {
		t.Errorf("ChangePercent = %v, want ≈ 0.874", *upd.ChangePercent)
	}
	if upd.Corrected {
		t.Error("Corrected = true for record without upstream changePercent")
	}
}

func TestNormalize_UpstreamChangePercentOverridden(t *testing.T) {
	n := New(0, nil)

	upd, err := n.Normalize(map[string]any{
		"symbol":        "AAPL",
		"price":         256.26,
		"previousClose": 254.04,
		"changePercent": 5.0, // disagrees with the recomputed ≈0.874
	}, testTime)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if upd.ChangePercent == nil || math.Abs(*upd.ChangePercent-0.874) > 0.01 {
		t.Errorf("ChangePercent = %v, want recomputed ≈ 0.874", upd.ChangePercent)
	}
	if !upd.Corrected {
		t.Error("Corrected = false, want true for overridden upstream value")
	}
	if got := n.Stats().Corrected; got != 1 {
		t.Errorf("Stats().Corrected = %d, want 1", got)
	}
}

func TestNormalize_UpstreamChangePercentWithinEpsilon(t *testing.T) {
	n := New(0, nil)

	upd, err := n.Normalize(map[string]any{
		"symbol":           "AAPL",
		"price":            256.26,
		"previousClose":    254.04,
		"changePercentage": 0.874, // legacy alias, agrees within epsilon
	}, testTime)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if upd.Corrected {
		t.Error("Corrected = true for agreeing upstream value")
	}
}

func TestNormalize_ChangePercentWithoutPreviousClose(t *testing.T) {
	n := New(0, nil)

	upd, err := n.Normalize(map[string]any{
		"symbol":        "AAPL",
		"price":         256.26,
		"ChangePercent": 1.5,
	}, testTime)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	// Nothing to recompute against: the upstream value is kept as-is.
	if upd.ChangePercent == nil || *upd.ChangePercent != 1.5 {
		t.Errorf("ChangePercent = %v, want upstream 1.5", upd.ChangePercent)
	}
}

func TestNormalize_NumericStrings(t *testing.T) {
	n := New(0, nil)

	upd, err := n.Normalize(map[string]any{
		"symbol":        "AAPL",
		"price":         "256.26",
		"previousClose": "254.04",
	}, testTime)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if upd.Price != 256.26 {
		t.Errorf("Price = %v, want 256.26", upd.Price)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := New(0, nil)

	raw := map[string]any{
		"Symbol":        "MSFT",
		"Price":         410.10,
		"PrevClose":     405.00,
		"changePercent": 9.9,
		"MarketStatus":  "open",
	}

	a, err := n.Normalize(raw, testTime)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	b, err := n.Normalize(raw, testTime)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("normalizing twice differs:\n a = %+v\n b = %+v", a, b)
	}
}

func TestNormalizeBatch_MixedValidity(t *testing.T) {
	n := New(0, nil)

	updates := n.NormalizeBatch([]map[string]any{
		{"symbol": "AAPL", "price": 256.26},
		{"symbol": "NOPRICE"}, // dropped, must not affect the rest
		{"symbol": "MSFT", "price": 410.10},
	}, testTime)

	if len(updates) != 2 {
		t.Fatalf("len(updates) = %d, want 2", len(updates))
	}
	if updates[0].Symbol != "AAPL" || updates[1].Symbol != "MSFT" {
		t.Errorf("surviving symbols = %q, %q", updates[0].Symbol, updates[1].Symbol)
	}
	if got := n.Stats().Dropped; got != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", got)
	}
}
