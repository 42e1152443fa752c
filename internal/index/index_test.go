package index

import (
	"testing"
	"time"

	"github.com/avelar/marketsync/internal/model"
)

func fp(v float64) *float64 { return &v }

var ts = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

func TestUpsert_CreateAndGet(t *testing.T) {
	ix := New()

	ix.Upsert([]string{"AAPL", "US0378331005"}, model.RecordUpdate{
		Symbol:     "AAPL",
		Price:      256.26,
		Venue:      "NYSE",
		ReceivedAt: ts,
	}, model.StatusOpen)

	rec, ok := ix.Get("AAPL")
	if !ok {
		t.Fatal("record not found under ticker")
	}
	if rec.Price != 256.26 {
		t.Errorf("Price = %v, want 256.26", rec.Price)
	}
	if rec.SessionStatus != model.StatusOpen {
		t.Errorf("SessionStatus = %s, want OPEN", rec.SessionStatus)
	}
}

func TestUpsert_AliasConvergence(t *testing.T) {
	ix := New()

	ix.Upsert([]string{"AAPL", "US0378331005"}, model.RecordUpdate{
		Symbol: "AAPL", Price: 256.26, PreviousClose: fp(254.04), ReceivedAt: ts,
	}, model.StatusOpen)

	a, okA := ix.Get("AAPL")
	b, okB := ix.Get("US0378331005")
	if !okA || !okB {
		t.Fatal("record not reachable under both aliases")
	}
	if a.Price != b.Price || a.PreviousClose == nil || b.PreviousClose == nil ||
		*a.PreviousClose != *b.PreviousClose || a.UpdatedAt != b.UpdatedAt {
		t.Errorf("alias views differ:\n a = %+v\n b = %+v", a, b)
	}
}

func TestUpsert_ShallowMergePreservesFields(t *testing.T) {
	ix := New()

	ix.Upsert([]string{"AAPL"}, model.RecordUpdate{
		Symbol: "AAPL", Price: 256.26, PreviousClose: fp(254.04), Venue: "NYSE", ReceivedAt: ts,
	}, model.StatusOpen)

	// Second update has no previousClose; the prior value must survive.
	ix.Upsert([]string{"AAPL"}, model.RecordUpdate{
		Symbol: "AAPL", Price: 257.00, ReceivedAt: ts.Add(time.Second),
	}, model.StatusOpen)

	rec, _ := ix.Get("AAPL")
	if rec.Price != 257.00 {
		t.Errorf("Price = %v, want 257.00", rec.Price)
	}
	if rec.PreviousClose == nil || *rec.PreviousClose != 254.04 {
		t.Errorf("PreviousClose = %v, want preserved 254.04", rec.PreviousClose)
	}
	if rec.SourceVenue != "NYSE" {
		t.Errorf("SourceVenue = %q, want preserved NYSE", rec.SourceVenue)
	}
}

func TestUpsert_UnifiesSplitRecords(t *testing.T) {
	ix := New()

	// First seen under the ticker only.
	ix.Upsert([]string{"AAPL"}, model.RecordUpdate{
		Symbol: "AAPL", Price: 256.26, PreviousClose: fp(254.04), ReceivedAt: ts,
	}, model.StatusOpen)

	// Separately seen under a legacy id only.
	ix.Upsert([]string{"AAPL.OQ"}, model.RecordUpdate{
		Symbol: "AAPL.OQ", Price: 256.30, Venue: "NYSE", ReceivedAt: ts.Add(time.Second),
	}, model.StatusOpen)

	// An update linking both must unify them into one record.
	ix.Upsert([]string{"AAPL", "AAPL.OQ"}, model.RecordUpdate{
		Symbol: "AAPL", Price: 256.50, ReceivedAt: ts.Add(2 * time.Second),
	}, model.StatusOpen)

	a, _ := ix.Get("AAPL")
	b, _ := ix.Get("AAPL.OQ")
	if a.Price != 256.50 || b.Price != 256.50 {
		t.Errorf("prices after unification = %v, %v, want 256.50 both", a.Price, b.Price)
	}
	if a.PreviousClose == nil || *a.PreviousClose != 254.04 {
		t.Errorf("PreviousClose = %v, want 254.04 carried from first record", a.PreviousClose)
	}
	if a.SourceVenue != "NYSE" {
		t.Errorf("SourceVenue = %q, want NYSE carried from second record", a.SourceVenue)
	}
	if got := ix.Stats().Records; got != 1 {
		t.Errorf("Stats().Records = %d, want 1 after unification", got)
	}
}

func TestGet_Unknown(t *testing.T) {
	ix := New()
	if _, ok := ix.Get("NOPE"); ok {
		t.Error("Get on unknown alias reported found")
	}
}

func TestEnrichAll_BatchedByVenue(t *testing.T) {
	ix := New()

	ix.Upsert([]string{"AAPL"}, model.RecordUpdate{Symbol: "AAPL", Price: 1, Venue: "NYSE", ReceivedAt: ts}, model.StatusOpen)
	ix.Upsert([]string{"MSFT"}, model.RecordUpdate{Symbol: "MSFT", Price: 2, Venue: "NYSE", ReceivedAt: ts}, model.StatusOpen)
	ix.Upsert([]string{"BTC-USD"}, model.RecordUpdate{Symbol: "BTC-USD", Price: 3, Venue: "CRYPTO", ReceivedAt: ts}, model.StatusOpen)

	calls := make(map[string]int)
	ix.EnrichAll(func(venueID string) (model.SessionStatus, bool) {
		calls[venueID]++
		if venueID == "NYSE" {
			return model.StatusPostMarket, true
		}
		return model.StatusOpen, true
	})

	if calls["NYSE"] != 1 || calls["CRYPTO"] != 1 {
		t.Errorf("lookup calls = %v, want exactly one per venue", calls)
	}

	for _, sym := range []string{"AAPL", "MSFT"} {
		rec, _ := ix.Get(sym)
		if rec.SessionStatus != model.StatusPostMarket {
			t.Errorf("%s SessionStatus = %s, want POST_MARKET", sym, rec.SessionStatus)
		}
	}
	rec, _ := ix.Get("BTC-USD")
	if rec.SessionStatus != model.StatusOpen {
		t.Errorf("BTC-USD SessionStatus = %s, want OPEN", rec.SessionStatus)
	}
}

func TestEnrichAll_UnknownVenueKeepsStatus(t *testing.T) {
	ix := New()
	ix.Upsert([]string{"X"}, model.RecordUpdate{Symbol: "X", Price: 1, Venue: "MYSTERY", ReceivedAt: ts}, model.StatusClosed)

	ix.EnrichAll(func(venueID string) (model.SessionStatus, bool) {
		return "", false
	})

	rec, _ := ix.Get("X")
	if rec.SessionStatus != model.StatusClosed {
		t.Errorf("SessionStatus = %s, want prior CLOSED", rec.SessionStatus)
	}
}

func TestUpsert_SnapshotIsolation(t *testing.T) {
	ix := New()

	ix.Upsert([]string{"AAPL"}, model.RecordUpdate{Symbol: "AAPL", Price: 100, ReceivedAt: ts}, model.StatusOpen)
	before, _ := ix.Get("AAPL")

	ix.Upsert([]string{"AAPL"}, model.RecordUpdate{Symbol: "AAPL", Price: 200, ReceivedAt: ts.Add(time.Second)}, model.StatusOpen)

	// The earlier snapshot must be unaffected by the later merge.
	if before.Price != 100 {
		t.Errorf("earlier snapshot Price = %v, want 100", before.Price)
	}
}
