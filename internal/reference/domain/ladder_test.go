package reference

import (
	"testing"
	"time"
)

var refDate = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func newTestLadder(t *testing.T) *Ladder {
	t.Helper()
	ladder, err := NewLadder(DefaultLadderConfig(), refDate)
	if err != nil {
		t.Fatalf("new ladder: %v", err)
	}
	return ladder
}

func source(class SourceClass, value float64, age time.Duration) PriceSource {
	return PriceSource{
		Class:      class,
		Value:      value,
		UOMKey:     "volume_ml",
		CapturedAt: refDate.Add(-age),
	}
}

func TestWeightedMedian(t *testing.T) {
	ladder := newTestLadder(t)
	ladder.Add(source(SourceContractBook, 10.00, 0))
	ladder.Add(source(SourceSupplierMaster, 11.00, 0))
	ladder.Add(source(SourceVenueMemory, 9.00, 0))

	median, ok := ladder.WeightedMedian()
	if !ok {
		t.Fatalf("expected a median")
	}
	// Cumulative weight crosses half the total at the contract price.
	if median != 10.00 {
		t.Fatalf("median = %v, want 10.00", median)
	}
}

func TestWeightedMedianEmpty(t *testing.T) {
	ladder := newTestLadder(t)
	if _, ok := ladder.WeightedMedian(); ok {
		t.Fatalf("empty ladder must have no median")
	}

	ladder.Add(source(SourceClass("crystal_ball"), 10.00, 0))
	if _, ok := ladder.WeightedMedian(); ok {
		t.Fatalf("unknown source class must carry zero weight")
	}
}

func TestStalenessPenaltyZeroesOutOldSources(t *testing.T) {
	ladder := newTestLadder(t)
	// venue_memory decays at 0.01/day; 100 days wipes its 0.6 base out.
	ladder.Add(source(SourceVenueMemory, 9.00, 100*24*time.Hour))

	if _, ok := ladder.WeightedMedian(); ok {
		t.Fatalf("fully stale source must not produce a median")
	}
	if got := ladder.Sources()[0].Weight; got != 0 {
		t.Fatalf("weight = %v, want 0", got)
	}
}

func TestHasConflict(t *testing.T) {
	ladder := newTestLadder(t)
	ladder.Add(source(SourceContractBook, 10.00, 0))
	ladder.Add(source(SourceSupplierMaster, 12.00, 0))
	if !ladder.HasConflict() {
		t.Fatalf("20%% divergence between top sources must conflict")
	}

	agreeing := newTestLadder(t)
	agreeing.Add(source(SourceContractBook, 10.00, 0))
	agreeing.Add(source(SourceSupplierMaster, 10.20, 0))
	if agreeing.HasConflict() {
		t.Fatalf("2%% divergence must not conflict")
	}

	single := newTestLadder(t)
	single.Add(source(SourceContractBook, 10.00, 0))
	if single.HasConflict() {
		t.Fatalf("a single source cannot conflict")
	}
}

func TestNewLadderRejectsBadConfig(t *testing.T) {
	cfg := DefaultLadderConfig()
	cfg.ConflictThreshold = 0
	if _, err := NewLadder(cfg, refDate); err != ErrInvalidLadderConfig {
		t.Fatalf("err = %v, want ErrInvalidLadderConfig", err)
	}
}
