// Package metrics exports pipeline counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"taskforge/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Round outcomes.
const (
	OutcomeAccepted      = "accepted"
	OutcomeImproved      = "improved"
	OutcomeNoImprovement = "no_improvement"
)

// Metrics holds every taskforge collector. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CandidatesGenerated prometheus.Counter
	CandidatesExecuted  prometheus.Counter
	CandidatesJudged    prometheus.Counter
	ExecutionFailures   prometheus.Counter
	JudgeParseFailures  prometheus.Counter
	GenerationFailures  prometheus.Counter
	ExamplesPersisted   *prometheus.CounterVec
	Rounds              *prometheus.CounterVec
	RoundDuration       prometheus.Histogram
	OutdatedTasks       prometheus.Gauge
	TasksCompiled       *prometheus.CounterVec
}

// New creates collectors on a private registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CandidatesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_generated_total",
			Help:      "Candidates produced by the generator",
		}),
		CandidatesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_executed_total",
			Help:      "Candidates run in the sandbox",
		}),
		CandidatesJudged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_judged_total",
			Help:      "Candidates with a parsed judge verdict",
		}),
		ExecutionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_failures_total",
			Help:      "Candidate executions that raised or timed out",
		}),
		JudgeParseFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_parse_failures_total",
			Help:      "Judge verdicts that could not be parsed",
		}),
		GenerationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Generation attempts that produced no usable code",
		}),
		ExamplesPersisted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "examples_persisted_total",
			Help:      "Examples appended to the store by source",
		}, []string{"source"}),
		Rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "improve_rounds_total",
			Help:      "Improvement rounds by outcome",
		}, []string{"outcome"}),
		RoundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "improve_round_duration_seconds",
			Help:      "Wall time of one improvement round",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		OutdatedTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outdated_tasks",
			Help:      "Tasks found outdated by the last staleness pass",
		}),
		TasksCompiled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_compiled_total",
			Help:      "Compiler actions by kind",
		}, []string{"action"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Counter helpers; all are no-ops on a nil receiver.

func (m *Metrics) CandidateGenerated() {
	if m != nil {
		m.CandidatesGenerated.Inc()
	}
}

func (m *Metrics) CandidateExecuted() {
	if m != nil {
		m.CandidatesExecuted.Inc()
	}
}

func (m *Metrics) CandidateJudged() {
	if m != nil {
		m.CandidatesJudged.Inc()
	}
}

func (m *Metrics) ExecutionFailed() {
	if m != nil {
		m.ExecutionFailures.Inc()
	}
}

func (m *Metrics) JudgeParseFailed() {
	if m != nil {
		m.JudgeParseFailures.Inc()
	}
}

func (m *Metrics) GenerationFailed() {
	if m != nil {
		m.GenerationFailures.Inc()
	}
}

// ObserveRound records the duration and outcome of an improvement round.
func (m *Metrics) ObserveRound(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Rounds.WithLabelValues(outcome).Inc()
	m.RoundDuration.Observe(d.Seconds())
}

// ExamplePersisted counts an example appended from source.
func (m *Metrics) ExamplePersisted(source string) {
	if m == nil {
		return
	}
	m.ExamplesPersisted.WithLabelValues(source).Inc()
}

// TaskCompiled counts a compiler action.
func (m *Metrics) TaskCompiled(action string) {
	if m == nil {
		return
	}
	m.TasksCompiled.WithLabelValues(action).Inc()
}

// SetOutdated records the size of the last outdated set.
func (m *Metrics) SetOutdated(n int) {
	if m == nil {
		return
	}
	m.OutdatedTasks.Set(float64(n))
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Boot("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
