package session

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syssam/uow"
	"github.com/syssam/uow/dialect"
)

// Save outcomes used as the "result" label.
const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultCycle    = "cycle"
	ResultCanceled = "canceled"
	ResultError    = "error"
)

// Metrics holds the collectors updated by saves. A Metrics value may be
// shared by many scopes.
type Metrics struct {
	saves    *prometheus.CounterVec
	commands *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg, when not
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uow",
			Name:      "saves_total",
			Help:      "Number of SaveChanges calls by result.",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uow",
			Name:      "commands_total",
			Help:      "Number of executed commands by operation.",
		}, []string{"op"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "uow",
			Name:      "save_duration_seconds",
			Help:      "Duration of SaveChanges calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.saves, m.commands, m.duration)
	}
	return m
}

func (m *Metrics) command(op dialect.Op) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) save(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(result(err)).Inc()
	m.duration.Observe(d.Seconds())
}

func result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case uow.IsConcurrencyConflict(err):
		return ResultConflict
	case errors.Is(err, uow.ErrCyclicDependency):
		return ResultCycle
	case uow.IsCanceled(err):
		return ResultCanceled
	default:
		return ResultError
	}
}
