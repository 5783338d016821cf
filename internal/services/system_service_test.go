package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceHealthReportFillsBuildInfo(t *testing.T) {
	started := testNow.Add(-time.Hour)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{},
		Clock:            fixedClock,
		Build:            BuildInfo{Version: "1.2.3", Environment: "test", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "1.2.3" {
		t.Fatalf("unexpected report %#v", report)
	}
	if report.Uptime != time.Hour || !report.GeneratedAt.Equal(testNow) {
		t.Fatalf("unexpected uptime %s generated %s", report.Uptime, report.GeneratedAt)
	}
	if report.Checks == nil {
		t.Fatalf("checks must never be nil")
	}
}

func TestSystemServiceHealthReportKeepsFailedChecks(t *testing.T) {
	repo, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "postgres", Check: func(context.Context) error { return errBoom }},
	}, repositories.WithDependencyClock(fixedClock))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError || report.Checks["postgres"].Status != domain.HealthStatusError {
		t.Fatalf("expected failing check surfaced, got %#v", report)
	}
}

func TestSystemServiceHealthReportPropagatesEmptyFailure(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: stubHealthRepository{err: errBoom}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("expected collect error, got %v", err)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without health repository")
	}
}
