package llm

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeOK          = "ok"
	OutcomeNoCandidate = "no_candidate"
	OutcomeAPIError    = "api_error"
	OutcomeNetwork     = "network_error"
	OutcomeNoKey       = "missing_key"
	OutcomeCanceled    = "canceled"
)

// Metrics records model request counts and latency.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics registers the model metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "personamcp",
				Subsystem: "llm",
				Name:      "requests_total",
				Help:      "Total generation requests by outcome",
			},
			[]string{"outcome"},
		),
		Duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "personamcp",
				Subsystem: "llm",
				Name:      "request_duration_seconds",
				Help:      "Duration of generation requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

type instrumented struct {
	next Generator
	m    *Metrics
}

// Instrument wraps gen so every call is counted and timed.
func Instrument(gen Generator, m *Metrics) Generator {
	if m == nil {
		return gen
	}
	return &instrumented{next: gen, m: m}
}

func (i *instrumented) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := i.next.Generate(ctx, req)
	i.m.Duration.Observe(time.Since(start).Seconds())
	i.m.Requests.WithLabelValues(classify(resp, err)).Inc()
	return resp, err
}

func classify(resp Response, err error) string {
	switch {
	case err == nil && resp.Text == FallbackNoCandidate:
		return OutcomeNoCandidate
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case errors.Is(err, ErrMissingAPIKey):
		return OutcomeNoKey
	case errors.Is(err, ErrAPI):
		return OutcomeAPIError
	default:
		return OutcomeNetwork
	}
}
