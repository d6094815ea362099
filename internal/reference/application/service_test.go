package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	reconcile "reconcile-cloud/internal/reconcile/domain"
	reference "reconcile-cloud/internal/reference/domain"
)

type stubSourceRepo struct {
	mu      sync.Mutex
	sources []reference.PriceSource
	err     error
	calls   int
}

func (r *stubSourceRepo) ListSources(context.Context, string, string, time.Time) ([]reference.PriceSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.sources, r.err
}

type stubSnapshots struct {
	mu    sync.Mutex
	saved int
}

func (s *stubSnapshots) SaveSnapshot(_ context.Context, _, _ string, sources []reference.WeightedSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved += len(sources)
	return nil
}

var lineDate = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func refSource(class reference.SourceClass, value float64) reference.PriceSource {
	return reference.PriceSource{Class: class, Value: value, UOMKey: "volume_ml", CapturedAt: lineDate}
}

func newRefService(t *testing.T, repo SourceRepository, snapshots SnapshotWriter) *Service {
	t.Helper()
	svc, err := NewService(repo, snapshots, DefaultServiceConfig(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func testLine(nettUnit float64) reconcile.RawLine {
	return reconcile.RawLine{
		InvoiceID:  "INV-1",
		LineID:     "L1",
		SKUID:      "SKU-1",
		SupplierID: "SUP-1",
		Date:       lineDate,
		Quantity:   1,
		UnitPrice:  nettUnit,
		LineTotal:  nettUnit,
	}
}

func TestSignalsForOnContract(t *testing.T) {
	repo := &stubSourceRepo{sources: []reference.PriceSource{
		refSource(reference.SourceContractBook, 10.00),
		refSource(reference.SourceSupplierMaster, 10.10),
	}}
	svc := newRefService(t, repo, nil)

	signals, err := svc.SignalsFor(context.Background(), testLine(10.00), reconcile.CanonicalQuantities{UOMKey: "volume_ml"})
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if signals != (reconcile.Signals{}) {
		t.Fatalf("signals = %+v, want none for an on-contract line", signals)
	}
}

func TestSignalsForOffContract(t *testing.T) {
	repo := &stubSourceRepo{sources: []reference.PriceSource{
		refSource(reference.SourceContractBook, 10.00),
	}}
	svc := newRefService(t, repo, nil)

	signals, err := svc.SignalsFor(context.Background(), testLine(8.50), reconcile.CanonicalQuantities{UOMKey: "volume_ml"})
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if !signals.OffContract {
		t.Fatalf("15%% below contract must flag off contract: %+v", signals)
	}
}

func TestSignalsForReferenceConflict(t *testing.T) {
	repo := &stubSourceRepo{sources: []reference.PriceSource{
		refSource(reference.SourceContractBook, 10.00),
		refSource(reference.SourceSupplierMaster, 12.00),
	}}
	svc := newRefService(t, repo, nil)

	signals, err := svc.SignalsFor(context.Background(), testLine(10.00), reconcile.CanonicalQuantities{UOMKey: "volume_ml"})
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if !signals.ReferenceConflict {
		t.Fatalf("diverging top sources must flag a conflict: %+v", signals)
	}
}

func TestSignalsForUOMMismatch(t *testing.T) {
	repo := &stubSourceRepo{sources: []reference.PriceSource{
		refSource(reference.SourceContractBook, 10.00),
	}}
	svc := newRefService(t, repo, nil)

	signals, err := svc.SignalsFor(context.Background(), testLine(10.00), reconcile.CanonicalQuantities{UOMKey: "weight_g"})
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if !signals.UOMMismatch {
		t.Fatalf("reference in a different unit must flag a UOM mismatch: %+v", signals)
	}
}

func TestSignalsForUnusualHistory(t *testing.T) {
	repo := &stubSourceRepo{sources: []reference.PriceSource{
		refSource(reference.SourceVenueMemory, 10.00),
		refSource(reference.SourceVenueMemory, 10.20),
		refSource(reference.SourceVenueMemory, 9.80),
	}}
	svc := newRefService(t, repo, nil)

	signals, err := svc.SignalsFor(context.Background(), testLine(14.00), reconcile.CanonicalQuantities{UOMKey: "volume_ml"})
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if !signals.UnusualHistory {
		t.Fatalf("40%% above venue history must flag unusual: %+v", signals)
	}
}

func TestSignalsForNoSKU(t *testing.T) {
	repo := &stubSourceRepo{}
	svc := newRefService(t, repo, nil)

	line := testLine(10.00)
	line.SKUID = ""
	signals, err := svc.SignalsFor(context.Background(), line, reconcile.CanonicalQuantities{})
	if err != nil || signals != (reconcile.Signals{}) {
		t.Fatalf("signals = %+v, err %v, want zero signals without lookup", signals, err)
	}
	if repo.calls != 0 {
		t.Fatalf("repo calls = %d, want 0 for line without SKU", repo.calls)
	}
}

func TestSignalsForCachesLookups(t *testing.T) {
	repo := &stubSourceRepo{sources: []reference.PriceSource{
		refSource(reference.SourceContractBook, 10.00),
	}}
	svc := newRefService(t, repo, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.SignalsFor(context.Background(), testLine(10.00), reconcile.CanonicalQuantities{UOMKey: "volume_ml"}); err != nil {
			t.Fatalf("signals: %v", err)
		}
	}
	if repo.calls != 1 {
		t.Fatalf("repo calls = %d, want 1 with warm cache", repo.calls)
	}
}

func TestSignalsForRepoError(t *testing.T) {
	repo := &stubSourceRepo{err: errors.New("db down")}
	svc := newRefService(t, repo, nil)

	if _, err := svc.SignalsFor(context.Background(), testLine(10.00), reconcile.CanonicalQuantities{}); err == nil {
		t.Fatalf("expected repository error to propagate")
	}
}

func TestSignalsForWritesSnapshot(t *testing.T) {
	repo := &stubSourceRepo{sources: []reference.PriceSource{
		refSource(reference.SourceContractBook, 10.00),
		refSource(reference.SourceSupplierMaster, 10.10),
	}}
	snapshots := &stubSnapshots{}
	svc := newRefService(t, repo, snapshots)

	if _, err := svc.SignalsFor(context.Background(), testLine(10.00), reconcile.CanonicalQuantities{UOMKey: "volume_ml"}); err != nil {
		t.Fatalf("signals: %v", err)
	}
	if snapshots.saved != 2 {
		t.Fatalf("snapshot sources = %d, want 2", snapshots.saved)
	}
}
