package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ErrorReasonDeadlineExceeded     = "deadline_exceeded"
	ErrorReasonDBLockTimeout        = "db_lock_timeout"
	ErrorReasonSerializationFailure = "serialization_failure"
	ErrorReasonUniqueViolation      = "unique_violation"
	ErrorReasonUnknown              = "unknown"
)

const (
	ActivationResultCreated   = "created"
	ActivationResultExtended  = "extended"
	ActivationResultUnchanged = "unchanged"
	ActivationResultFailed    = "failed"
)

// VerificationMetrics captures reconciliation and activation health signals.
type VerificationMetrics struct {
	outcomes       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	claimConflicts prometheus.Counter
	activations    *prometheus.CounterVec
	errors         *prometheus.CounterVec
	lockWait       prometheus.Observer
}

var (
	verificationMetricsOnce sync.Once
	verificationMetrics     *VerificationMetrics
)

// Verification returns the singleton verification metrics registry.
func Verification() *VerificationMetrics {
	return VerificationWithConfig(Config{})
}

// VerificationWithConfig returns the singleton registry using config labels.
func VerificationWithConfig(cfg Config) *VerificationMetrics {
	verificationMetricsOnce.Do(func() {
		verificationMetrics = newVerificationMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return verificationMetrics
}

func newVerificationMetrics(registerer prometheus.Registerer, cfg Config) *VerificationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "muanapay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "muanapay_reconciliation_outcomes_total",
		Help:        "Reconciliation outcomes by lookup kind.",
		ConstLabels: constLabels,
	}, []string{"lookup", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "muanapay_reconciliation_duration_seconds",
		Help:        "Reconciliation latency including activation.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"lookup"})
	claimConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "muanapay_reconciliation_claim_conflicts_total",
		Help:        "Conditional claims that lost to an intervening write and re-ran the lookup.",
		ConstLabels: constLabels,
	})
	activations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "muanapay_subscription_activations_total",
		Help:        "Subscription activations by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	errorsVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "muanapay_reconciliation_errors_total",
		Help:        "Reconciliation store errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "muanapay_activation_lock_wait_seconds",
		Help:        "Time spent waiting for the per-user activation lock.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(outcomes, duration, claimConflicts, activations, errorsVec, lockWait)

	return &VerificationMetrics{
		outcomes:       outcomes,
		duration:       duration,
		claimConflicts: claimConflicts,
		activations:    activations,
		errors:         errorsVec,
		lockWait:       lockWait,
	}
}

func (m *VerificationMetrics) ObserveOutcome(lookup, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(lookup, outcome).Inc()
	m.duration.WithLabelValues(lookup).Observe(elapsed.Seconds())
}

func (m *VerificationMetrics) IncClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

func (m *VerificationMetrics) IncActivation(result string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(result).Inc()
}

func (m *VerificationMetrics) IncError(err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(ClassifyErrorReason(err)).Inc()
}

func (m *VerificationMetrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// ClassifyErrorReason maps store errors to a bounded label set.
func ClassifyErrorReason(err error) string {
	switch {
	case err == nil:
		return ErrorReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return ErrorReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return ErrorReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return ErrorReasonUniqueViolation
	default:
		return ErrorReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
