package chat

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Turn modes.
const (
	ModeSingle = "single"
	ModeGroup  = "group"
)

// Metrics counts chat turns.
type Metrics struct {
	Turns *prometheus.CounterVec
}

// NewMetrics registers the chat metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Turns: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "personamcp",
				Subsystem: "chat",
				Name:      "turns_total",
				Help:      "Total chat turns by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
	}
}

func (m *Metrics) observe(mode string, err error) {
	if m == nil || errors.Is(err, ErrEmptyMessage) {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrBusy):
		outcome = "busy"
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrNoEligibleParticipant):
		outcome = "missing_credential"
	default:
		outcome = "error"
	}
	m.Turns.WithLabelValues(mode, outcome).Inc()
}
