package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/pricing"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

type engineFunc func(pricing.Input) (pricing.OrderTotals, error)

func (f engineFunc) Compute(in pricing.Input) (pricing.OrderTotals, error) { return f(in) }

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"orders": {Status: domain.HealthStatusOK}},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if report.Version != "1.2.3" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != 5*time.Minute {
		t.Fatalf("expected uptime 5m, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
	if _, ok := report.Checks[engineCheckName]; ok {
		t.Fatalf("engine check must be skipped without an engine")
	}
}

func TestSystemServiceHealthReportErrors(t *testing.T) {
	expected := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: expected}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestSystemServiceFoldsCheckStatuses(t *testing.T) {
	cases := []struct {
		name     string
		reported string
		checks   map[string]domain.SystemHealthCheck
		want     string
	}{
		{
			name: "optional dependency degraded",
			checks: map[string]domain.SystemHealthCheck{
				"redis":  {Status: domain.HealthStatusDegraded},
				"orders": {Status: domain.HealthStatusOK},
			},
			want: domain.HealthStatusDegraded,
		},
		{
			name: "error wins",
			checks: map[string]domain.SystemHealthCheck{
				"redis":  {Status: domain.HealthStatusDegraded},
				"orders": {Status: domain.HealthStatusError},
			},
			want: domain.HealthStatusError,
		},
		{
			name:     "reported status is never improved",
			reported: domain.HealthStatusDegraded,
			checks:   map[string]domain.SystemHealthCheck{"orders": {Status: domain.HealthStatusOK}},
			want:     domain.HealthStatusDegraded,
		},
		{
			name:   "unknown status counts as degraded",
			checks: map[string]domain.SystemHealthCheck{"pubsub": {Status: "flapping"}},
			want:   domain.HealthStatusDegraded,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubHealthRepository{report: domain.SystemHealthReport{Status: tc.reported, Checks: tc.checks}}
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceEngineSelfCheck(t *testing.T) {
	cases := []struct {
		name   string
		engine Engine
		want   string
	}{
		{name: "real engine passes", engine: pricing.Engine{}, want: domain.HealthStatusOK},
		{
			name: "engine error fails readiness",
			engine: engineFunc(func(pricing.Input) (pricing.OrderTotals, error) {
				return pricing.OrderTotals{}, pricing.ErrInvariantViolation
			}),
			want: domain.HealthStatusError,
		},
		{
			name: "drifting breakdown fails readiness",
			engine: engineFunc(func(in pricing.Input) (pricing.OrderTotals, error) {
				return pricing.OrderTotals{
					Mode:  in.Mode,
					Items: []pricing.ItemBreakdown{{ID: "x", Subtotal: 100}},
				}, nil
			}),
			want: domain.HealthStatusError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubHealthRepository{report: domain.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{"orders": {Status: domain.HealthStatusOK}},
			}}
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, Engine: tc.engine})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			check, ok := report.Checks[engineCheckName]
			if !ok {
				t.Fatalf("expected %s check", engineCheckName)
			}
			if check.Status != tc.want || report.Status != tc.want {
				t.Fatalf("expected %s, got check %s report %s (%s)", tc.want, check.Status, report.Status, check.Error)
			}
		})
	}
}
