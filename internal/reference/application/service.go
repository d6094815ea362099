package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"reconcile-cloud/internal/observability/metrics"
	reconcile "reconcile-cloud/internal/reconcile/domain"
	reference "reconcile-cloud/internal/reference/domain"
)

// SourceRepository loads price references for a SKU/supplier pair.
type SourceRepository interface {
	ListSources(ctx context.Context, skuID, supplierID string, at time.Time) ([]reference.PriceSource, error)
}

// SnapshotWriter persists the weighted sources consulted for a line.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, invoiceID, lineID string, sources []reference.WeightedSource) error
}

// ServiceConfig carries reference signal thresholds.
type ServiceConfig struct {
	Ladder reference.LadderConfig
	// OffContractPct is the relative deviation of the billed nett unit
	// price from the weighted median above which a line is off contract.
	OffContractPct float64
	// UnusualPct is the relative deviation from the venue's own price
	// history above which a line is unusual.
	UnusualPct float64
	CacheTTL   time.Duration
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Ladder:         reference.DefaultLadderConfig(),
		OffContractPct: 0.05,
		UnusualPct:     0.25,
		CacheTTL:       15 * time.Minute,
	}
}

// Service answers classifier signal queries from the price-source ladder.
type Service struct {
	repo      SourceRepository
	snapshots SnapshotWriter
	cfg       ServiceConfig
	cache     *gocache.Cache
	logger    *log.Logger
}

// NewService constructs a reference signal service.
func NewService(repo SourceRepository, snapshots SnapshotWriter, cfg ServiceConfig, logger *log.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("reference service: nil source repository")
	}
	if cfg.OffContractPct <= 0 || cfg.UnusualPct <= 0 {
		return nil, errors.New("reference service: thresholds must be positive")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultServiceConfig().CacheTTL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		repo:      repo,
		snapshots: snapshots,
		cfg:       cfg,
		cache:     gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger:    logger,
	}, nil
}

// SignalsFor derives reference/history signals for a line. A line without
// a SKU has no reference identity and yields zero signals.
func (s *Service) SignalsFor(ctx context.Context, line reconcile.RawLine, canonical reconcile.CanonicalQuantities) (reconcile.Signals, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveReferenceLookup(result, time.Since(start))
	}()

	var signals reconcile.Signals
	if line.SKUID == "" {
		return signals, nil
	}

	refDate := line.Date
	if refDate.IsZero() {
		refDate = time.Now().UTC()
	}

	sources, err := s.loadSources(ctx, line.SKUID, line.SupplierID, refDate)
	if err != nil {
		result = metrics.ResultError
		return signals, err
	}
	if len(sources) == 0 {
		return signals, nil
	}

	ladder, err := reference.NewLadder(s.cfg.Ladder, refDate)
	if err != nil {
		result = metrics.ResultError
		return signals, err
	}
	for _, src := range sources {
		ladder.Add(src)
	}

	signals.ReferenceConflict = ladder.HasConflict()
	signals.UOMMismatch = s.uomMismatch(canonical, ladder.Sources())

	nettUnit := line.UnitPrice
	if line.Quantity > 0 {
		nettUnit = line.LineTotal / line.Quantity
	}
	if median, ok := ladder.WeightedMedian(); ok && median > 0 && nettUnit > 0 {
		if deviation(nettUnit, median) > s.cfg.OffContractPct {
			signals.OffContract = true
		}
	}
	if history, ok := historyMedian(sources); ok && history > 0 && nettUnit > 0 {
		if deviation(nettUnit, history) > s.cfg.UnusualPct {
			signals.UnusualHistory = true
		}
	}

	s.persistSnapshot(ctx, line, ladder.Sources())
	return signals, nil
}

func (s *Service) loadSources(ctx context.Context, skuID, supplierID string, at time.Time) ([]reference.PriceSource, error) {
	key := skuID + "|" + supplierID + "|" + at.UTC().Format("2006-01-02")
	if cached, ok := s.cache.Get(key); ok {
		if sources, ok := cached.([]reference.PriceSource); ok {
			return sources, nil
		}
	}
	sources, err := s.repo.ListSources(ctx, skuID, supplierID, at)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, sources, gocache.DefaultExpiration)
	return sources, nil
}

func (s *Service) uomMismatch(canonical reconcile.CanonicalQuantities, sources []reference.WeightedSource) bool {
	if canonical.UOMKey == "" {
		return false
	}
	for _, src := range sources {
		if src.Weight > 0 && src.UOMKey != "" && src.UOMKey != canonical.UOMKey {
			return true
		}
	}
	return false
}

func (s *Service) persistSnapshot(ctx context.Context, line reconcile.RawLine, sources []reference.WeightedSource) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.SaveSnapshot(ctx, line.InvoiceID, line.LineID, sources); err != nil {
		// Snapshots are audit material, not decision inputs.
		s.logger.Printf("reference service: snapshot write failed for invoice=%s line=%s: %v", line.InvoiceID, line.LineID, err)
	}
}

func historyMedian(sources []reference.PriceSource) (float64, bool) {
	var values []float64
	for _, src := range sources {
		if src.Class == reference.SourceVenueMemory && src.Value > 0 {
			values = append(values, src.Value)
		}
	}
	if len(values) == 0 {
		return 0, false
	}
	sort.Float64s(values)
	return values[len(values)/2], true
}

func deviation(value, baseline float64) float64 {
	diff := value - baseline
	if diff < 0 {
		diff = -diff
	}
	return diff / baseline
}
