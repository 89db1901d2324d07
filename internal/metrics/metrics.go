// Package metrics counts pipeline outcomes. Counters are registered on
// their own registry so a one-shot run can dump them to a node_exporter
// textfile.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesFetched  prometheus.Counter
	QuestionsParsed  prometheus.Counter
	Irrelevant       prometheus.Counter
	AlreadyAnswered  prometheus.Counter
	RepliesSent      prometheus.Counter
	Deferred         *prometheus.CounterVec
	Skipped          prometheus.Counter
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	LastSuccessfulTS prometheus.Gauge
}

// New registers all counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "quickans_messages_fetched_total",
			Help: "Inbox messages fetched",
		}),
		QuestionsParsed: f.NewCounter(prometheus.CounterOpts{
			Name: "quickans_questions_parsed_total",
			Help: "Relevant notifications parsed into questions",
		}),
		Irrelevant: f.NewCounter(prometheus.CounterOpts{
			Name: "quickans_messages_irrelevant_total",
			Help: "Messages that were not question notifications",
		}),
		AlreadyAnswered: f.NewCounter(prometheus.CounterOpts{
			Name: "quickans_questions_already_answered_total",
			Help: "Questions dropped because the ledger holds them",
		}),
		RepliesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "quickans_replies_sent_total",
			Help: "Replies sent and recorded",
		}),
		Deferred: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quickans_questions_deferred_total",
			Help: "Questions left for a later run",
		}, []string{"kind"}), // "llm", "mailbox" or "aborted"
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "quickans_questions_skipped_total",
			Help: "Relevant notifications that could not be parsed",
		}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quickans_runs_total",
			Help: "Pipeline runs by outcome",
		}, []string{"outcome"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "quickans_run_duration_seconds",
			Help:    "Pipeline run duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		LastSuccessfulTS: f.NewGauge(prometheus.GaugeOpts{
			Name: "quickans_last_success_timestamp_seconds",
			Help: "Unix time of the last run that finished without error",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format to path,
// replacing it atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
