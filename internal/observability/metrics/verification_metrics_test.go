package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyErrorReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ErrorReasonDeadlineExceeded},
		{name: "canceled", err: fmt.Errorf("query: %w", context.Canceled), want: ErrorReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: ErrorReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: ErrorReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: ErrorReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: ErrorReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyErrorReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newVerificationMetrics(registry, Config{ServiceName: "muanapay", Environment: "test"})

	m.ObserveOutcome("phone", "claimed", 20*time.Millisecond)
	m.ObserveOutcome("phone", "claimed", 30*time.Millisecond)
	m.ObserveOutcome("reference", "not_ready", time.Millisecond)

	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("phone", "claimed")); got != 2 {
		t.Fatalf("expected 2 claimed outcomes, got %v", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("reference", "not_ready")); got != 1 {
		t.Fatalf("expected 1 not_ready outcome, got %v", got)
	}
}

func TestActivationAndConflictCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newVerificationMetrics(registry, Config{})

	m.IncActivation(ActivationResultCreated)
	m.IncActivation(ActivationResultUnchanged)
	m.IncActivation(ActivationResultUnchanged)
	m.IncClaimConflict()
	m.IncError(&pgconn.PgError{Code: "55P03"})

	if got := testutil.ToFloat64(m.activations.WithLabelValues(ActivationResultUnchanged)); got != 2 {
		t.Fatalf("expected 2 unchanged activations, got %v", got)
	}
	if got := testutil.ToFloat64(m.claimConflicts); got != 1 {
		t.Fatalf("expected 1 claim conflict, got %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues(ErrorReasonDBLockTimeout)); got != 1 {
		t.Fatalf("expected 1 lock timeout error, got %v", got)
	}
}

func TestNilVerificationMetricsAreSafe(t *testing.T) {
	var m *VerificationMetrics
	m.ObserveOutcome("phone", "claimed", time.Second)
	m.IncClaimConflict()
	m.IncActivation(ActivationResultFailed)
	m.IncError(errors.New("boom"))
	m.ObserveLockWait(time.Second)
}
