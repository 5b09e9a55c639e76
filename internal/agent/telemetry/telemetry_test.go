package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/mohammad-safakhou/cartpilot/config"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRunAggregates(t *testing.T) {
	tel := NewTelemetry(config.TelemetryConfig{Enabled: true})
	start := time.Now()
	tel.RecordRun(context.Background(), RunEvent{ID: "a", StartTime: start, EndTime: start.Add(2 * time.Second), Success: true})
	tel.RecordRun(context.Background(), RunEvent{ID: "b", StartTime: start, EndTime: start.Add(4 * time.Second), FailedStage: models.StageExtracting})

	m := tel.GetMetrics()
	if m.TotalRuns != 2 || m.SuccessfulRuns != 1 || m.FailedRuns != 1 {
		t.Fatalf("unexpected counts %+v", m)
	}
	if m.AverageRunTime != 3*time.Second {
		t.Fatalf("unexpected average %v", m.AverageRunTime)
	}
	if m.FailuresByStage[models.StageExtracting] != 1 {
		t.Fatalf("failure not attributed to stage: %v", m.FailuresByStage)
	}
	if got := testutil.ToFloat64(tel.prom.runs.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected one success in prometheus, got %v", got)
	}
}

func TestSupervisorMetricsCountRetries(t *testing.T) {
	tel := NewTelemetry(config.TelemetryConfig{Enabled: true})
	m := tel.SupervisorMetrics()
	m.RetryCounter(context.Background(), "Search", 1)
	m.RetryCounter(context.Background(), "Search", 2)
	tel.RecordFallback(models.StageRanking)
	tel.RecordRecovery()
	tel.RecordStage(models.StageSearching, time.Second)
	tel.RecordStage(models.StageSearching, 3*time.Second)

	got := tel.GetMetrics()
	if got.RetriesByOperation["Search"] != 2 {
		t.Fatalf("expected 2 retries, got %v", got.RetriesByOperation)
	}
	if got.FallbacksByStage[models.StageRanking] != 1 || got.Recoveries != 1 {
		t.Fatalf("unexpected fallbacks/recoveries %+v", got)
	}
	if got.StageAverageDurations[models.StageSearching] != 2*time.Second {
		t.Fatalf("unexpected stage average %v", got.StageAverageDurations)
	}
	if n := testutil.ToFloat64(tel.prom.retries.WithLabelValues("Search")); n != 2 {
		t.Fatalf("expected prometheus retries 2, got %v", n)
	}
}

func TestDisabledTelemetryIsInert(t *testing.T) {
	tel := NewTelemetry(config.TelemetryConfig{Enabled: false})
	tel.RecordRun(context.Background(), RunEvent{ID: "x", Success: true})
	tel.RecordRecovery()
	if m := tel.GetMetrics(); m.TotalRuns != 0 || m.Recoveries != 0 {
		t.Fatalf("disabled telemetry recorded data: %+v", m)
	}
	var nilTel *Telemetry
	nilTel.RecordFallback(models.StagePlanning)
	nilTel.RecordStage(models.StagePlanning, time.Second)
}
