// Package metrics holds the Prometheus collectors for crawls and answers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sitechat"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CrawlsSubmitted   *prometheus.CounterVec
	CrawlPolls        *prometheus.CounterVec
	AnswerSessions    *prometheus.CounterVec
	AnswerDeltas      prometheus.Counter
	StreamParseErrors prometheus.Counter
	AnswerDuration    prometheus.Histogram
}

// New creates and registers all collectors on reg, or on the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CrawlsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "submitted_total",
			Help:      "Crawl submissions by result",
		}, []string{"result"}),
		CrawlPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "polls_total",
			Help:      "Crawl status polls by observed status",
		}, []string{"status"}),
		AnswerSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "sessions_total",
			Help:      "Answer sessions by outcome",
		}, []string{"outcome"}),
		AnswerDeltas: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "deltas_total",
			Help:      "Content deltas forwarded to clients",
		}),
		StreamParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "stream_parse_errors_total",
			Help:      "Stream lines skipped because they did not parse",
		}),
		AnswerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "duration_seconds",
			Help:      "Time from request to terminal event",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
	}
}

func (m *Metrics) CrawlSubmitted(result string) {
	if m == nil {
		return
	}
	m.CrawlsSubmitted.WithLabelValues(result).Inc()
}

func (m *Metrics) CrawlPolled(status string) {
	if m == nil {
		return
	}
	m.CrawlPolls.WithLabelValues(status).Inc()
}

// AnswerFinished records one terminated answer session.
func (m *Metrics) AnswerFinished(outcome string, elapsed time.Duration, deltas, parseErrors int) {
	if m == nil {
		return
	}
	m.AnswerSessions.WithLabelValues(outcome).Inc()
	m.AnswerDeltas.Add(float64(deltas))
	m.StreamParseErrors.Add(float64(parseErrors))
	m.AnswerDuration.Observe(elapsed.Seconds())
}
