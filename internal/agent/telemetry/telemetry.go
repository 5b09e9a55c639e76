package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/cartpilot/config"
	"github.com/mohammad-safakhou/cartpilot/internal/supervisor"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry records run, stage and retry metrics for order runs
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	metrics *Metrics
	prom    *collectors
	mu      sync.RWMutex
}

// Metrics holds in-process aggregates, mirrored into prometheus collectors
type Metrics struct {
	TotalRuns             int64
	SuccessfulRuns        int64
	FailedRuns            int64
	AverageRunTime        time.Duration
	Recoveries            int64
	FailuresByStage       map[models.Stage]int64
	FallbacksByStage      map[models.Stage]int64
	RetriesByOperation    map[string]int64
	StageAverageDurations map[models.Stage]time.Duration
	stageSamples          map[models.Stage]int64
}

// RunEvent represents one finished order run
type RunEvent struct {
	ID          string
	Prompt      string
	StartTime   time.Time
	EndTime     time.Time
	Success     bool
	FailedStage models.Stage
	Reason      string
	Recoveries  int
}

type collectors struct {
	registry  *prometheus.Registry
	runs      *prometheus.CounterVec
	stageTime *prometheus.HistogramVec
	retries   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	recovered prometheus.Counter
}

func newCollectors() *collectors {
	registry := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartpilot_runs_total",
			Help: "Order runs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	stageTime := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartpilot_stage_duration_seconds",
			Help:    "Wall time spent per pipeline stage.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartpilot_retry_attempts_total",
			Help: "Failed attempts reported by the retry supervisor.",
		},
		[]string{"operation"},
	)
	fallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartpilot_fallbacks_total",
			Help: "Stages that completed through their fallback path.",
		},
		[]string{"stage"},
	)
	recovered := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cartpilot_recoveries_total",
			Help: "Checkout recovery cycles started.",
		},
	)
	registry.MustRegister(runs, stageTime, retries, fallbacks, recovered)
	return &collectors{registry: registry, runs: runs, stageTime: stageTime, retries: retries, fallbacks: fallbacks, recovered: recovered}
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			FailuresByStage:       make(map[models.Stage]int64),
			FallbacksByStage:      make(map[models.Stage]int64),
			RetriesByOperation:    make(map[string]int64),
			StageAverageDurations: make(map[models.Stage]time.Duration),
			stageSamples:          make(map[models.Stage]int64),
		},
		prom: newCollectors(),
	}
}

// Registry exposes the prometheus registry for /metrics.
func (t *Telemetry) Registry() *prometheus.Registry {
	if t == nil {
		return nil
	}
	return t.prom.registry
}

// RecordRun records a finished run
func (t *Telemetry) RecordRun(ctx context.Context, ev RunEvent) {
	if t == nil || !t.config.Enabled {
		return
	}
	d := ev.EndTime.Sub(ev.StartTime)

	t.mu.Lock()
	m := t.metrics
	m.TotalRuns++
	if ev.Success {
		m.SuccessfulRuns++
	} else {
		m.FailedRuns++
		m.FailuresByStage[ev.FailedStage]++
	}
	if m.TotalRuns == 1 {
		m.AverageRunTime = d
	} else {
		total := m.AverageRunTime * time.Duration(m.TotalRuns-1)
		m.AverageRunTime = (total + d) / time.Duration(m.TotalRuns)
	}
	t.mu.Unlock()

	outcome := string(models.OrderSucceeded)
	if !ev.Success {
		outcome = string(models.OrderFailed)
	}
	t.prom.runs.WithLabelValues(outcome).Inc()

	if ev.Success {
		t.logger.Printf("Run: ID=%s, Success=true, Duration=%v, Recoveries=%d", ev.ID, d, ev.Recoveries)
	} else {
		t.logger.Printf("Run: ID=%s, Success=false, Stage=%s, Duration=%v, Reason=%s", ev.ID, ev.FailedStage, d, ev.Reason)
	}
}

// RecordStage records how long one stage took
func (t *Telemetry) RecordStage(stage models.Stage, d time.Duration) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.mu.Lock()
	m := t.metrics
	n := m.stageSamples[stage] + 1
	m.stageSamples[stage] = n
	m.StageAverageDurations[stage] = (m.StageAverageDurations[stage]*time.Duration(n-1) + d) / time.Duration(n)
	t.mu.Unlock()
	t.prom.stageTime.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// RecordFallback counts a stage that fell back instead of failing
func (t *Telemetry) RecordFallback(stage models.Stage) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.metrics.FallbacksByStage[stage]++
	t.mu.Unlock()
	t.prom.fallbacks.WithLabelValues(string(stage)).Inc()
	t.logger.Printf("warn: stage %s used its fallback", stage)
}

// RecordRecovery counts a checkout recovery cycle
func (t *Telemetry) RecordRecovery() {
	if t == nil || !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.metrics.Recoveries++
	t.mu.Unlock()
	t.prom.recovered.Inc()
}

// SupervisorMetrics adapts the retry supervisor callbacks.
func (t *Telemetry) SupervisorMetrics() supervisor.Metrics {
	if t == nil {
		return supervisor.Metrics{}
	}
	return supervisor.Metrics{
		RetryCounter: func(ctx context.Context, operation string, attempt int) {
			if !t.config.Enabled {
				return
			}
			t.mu.Lock()
			t.metrics.RetriesByOperation[operation]++
			t.mu.Unlock()
			t.prom.retries.WithLabelValues(operation).Inc()
		},
	}
}

// GetMetrics returns a copy of the current aggregates
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	src := t.metrics
	out := Metrics{
		TotalRuns:             src.TotalRuns,
		SuccessfulRuns:        src.SuccessfulRuns,
		FailedRuns:            src.FailedRuns,
		AverageRunTime:        src.AverageRunTime,
		Recoveries:            src.Recoveries,
		FailuresByStage:       make(map[models.Stage]int64, len(src.FailuresByStage)),
		FallbacksByStage:      make(map[models.Stage]int64, len(src.FallbacksByStage)),
		RetriesByOperation:    make(map[string]int64, len(src.RetriesByOperation)),
		StageAverageDurations: make(map[models.Stage]time.Duration, len(src.StageAverageDurations)),
	}
	for k, v := range src.FailuresByStage {
		out.FailuresByStage[k] = v
	}
	for k, v := range src.FallbacksByStage {
		out.FallbacksByStage[k] = v
	}
	for k, v := range src.RetriesByOperation {
		out.RetriesByOperation[k] = v
	}
	for k, v := range src.StageAverageDurations {
		out.StageAverageDurations[k] = v
	}
	return out
}
