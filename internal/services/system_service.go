package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/pricing"
	"github.com/tillpoint/api/internal/repositories"
)

// engineCheckName is the readiness entry produced by the pricing self check.
const engineCheckName = "pricing_engine"

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service. Engine is
// optional; when set, every report also prices a fixed cart in both modes and fails readiness if
// the breakdown does not reconcile.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Engine           Engine
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	engine Engine
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the health endpoints.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		health: deps.HealthRepository,
		engine: deps.Engine,
		now:    func() time.Time { return clock().UTC() },
		build:  build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, err
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = firstSet(report.Version, s.build.Version)
	report.CommitSHA = firstSet(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstSet(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if s.engine != nil {
		report.Checks[engineCheckName] = s.checkEngine(now)
	}
	report.Status = worstStatus(report.Status, report.Checks)
	return report, nil
}

// selfCheckCart has a discount that does not split evenly so the remainder path is exercised.
var selfCheckCart = []pricing.LineItem{
	{ID: "self-check-a", UnitPrice: 10000, Quantity: 2, TaxRatePercent: 10},
	{ID: "self-check-b", UnitPrice: 3333, Quantity: 1, TaxRatePercent: 8},
}

func (s *systemService) checkEngine(now time.Time) domain.SystemHealthCheck {
	start := s.now()
	err := s.priceSelfCheck()
	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   s.now().Sub(start),
		CheckedAt: now,
	}
	if err != nil {
		check.Status = domain.HealthStatusError
		check.Detail = "invariant violation"
		check.Error = err.Error()
	}
	return check
}

func (s *systemService) priceSelfCheck() error {
	for _, mode := range []pricing.PriceMode{pricing.PriceModeExclusive, pricing.PriceModeInclusive} {
		totals, err := s.engine.Compute(pricing.Input{Items: selfCheckCart, OrderDiscount: 1001, Mode: mode})
		if err != nil {
			return fmt.Errorf("%s: %w", mode, err)
		}
		var expected int64
		for _, item := range totals.Items {
			expected += item.Subtotal
		}
		if got := pricing.Reconcile(pricing.RecordFor(totals)); got != expected {
			return fmt.Errorf("%s: reconciled revenue %d, breakdown says %d", mode, got, expected)
		}
	}
	return nil
}

func firstSet(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// worstStatus folds check statuses into the overall status. A status already reported by the
// repository only ever gets worse.
func worstStatus(current string, checks map[string]domain.SystemHealthCheck) string {
	rank := map[string]int{"": 0, domain.HealthStatusOK: 0, domain.HealthStatusDegraded: 1, domain.HealthStatusError: 2}
	worst := rank[current]
	for _, check := range checks {
		r, known := rank[check.Status]
		if !known {
			r = 1
		}
		worst = max(worst, r)
	}
	switch worst {
	case 2:
		return domain.HealthStatusError
	case 1:
		return domain.HealthStatusDegraded
	default:
		return domain.HealthStatusOK
	}
}
