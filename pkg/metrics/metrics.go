// Package metrics exposes prometheus collectors for mediated calls, plan steps
// and runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailed  = "failed"
)

// Recorder groups the collectors. A nil *Recorder records nothing.
type Recorder struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
	steps    *prometheus.CounterVec
	runs     *prometheus.CounterVec
}

// NewRecorder creates collectors and registers them with reg
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipmachine_mediated_calls_total",
				Help: "Total number of mediated operation calls",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shipmachine_mediated_call_duration_seconds",
				Help:    "Duration of mediated operation calls",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"operation"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipmachine_tokens_total",
				Help: "Tokens consumed by mediated calls",
			},
			[]string{"operation", "model"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipmachine_plan_steps_total",
				Help: "Plan step attempts by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipmachine_runs_total",
				Help: "Completed runs by terminal status",
			},
			[]string{"status"},
		),
	}

	for _, c := range []prometheus.Collector{r.calls, r.duration, r.tokens, r.steps, r.runs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveCall records one mediated call
func (r *Recorder) ObserveCall(operation, outcome, model string, d time.Duration, tokens int) {
	if r == nil {
		return
	}
	r.calls.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(d.Seconds())
	if tokens > 0 {
		r.tokens.WithLabelValues(operation, model).Add(float64(tokens))
	}
}

// ObserveStep records one plan step attempt
func (r *Recorder) ObserveStep(stepType, outcome string) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(stepType, outcome).Inc()
}

// ObserveRun records a terminal run status
func (r *Recorder) ObserveRun(status string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
}
