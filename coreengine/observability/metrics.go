// Package observability provides Prometheus metrics instrumentation for the onboarding engine.
package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
)

// =============================================================================
// SESSION METRICS
// =============================================================================

var (
	sessionsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onboarding_sessions_started_total",
			Help: "Total number of onboarding sessions started",
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onboarding_sessions_active",
			Help: "Sessions started and not yet finished or discarded",
		},
	)

	sessionsDiscardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_sessions_discarded_total",
			Help: "Total number of sessions discarded before finishing",
		},
		[]string{"reason", "step"}, // reason: client, idle, shutdown
	)

	stepsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_steps_completed_total",
			Help: "Total number of steps left, by exit path",
		},
		[]string{"step", "path"}, // path: commit, use_existing, override, skip
	)
)

// =============================================================================
// SUBMISSION METRICS
// =============================================================================

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_submissions_total",
			Help: "Total number of automation webhook submissions",
		},
		[]string{"status", "document"}, // status: success, error
	)

	submissionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onboarding_submission_duration_seconds",
			Help:    "Automation webhook round trip in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
	)

	completionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_completions_total",
			Help: "Total number of sessions that reached the dashboard redirect",
		},
		[]string{"flag_persisted"},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboarding_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordSessionStarted records a new session.
func RecordSessionStarted() {
	sessionsStartedTotal.Inc()
	sessionsActive.Inc()
}

// RecordSessionDiscarded records a session torn down before its redirect.
func RecordSessionDiscarded(reason, step string) {
	sessionsDiscardedTotal.WithLabelValues(reason, step).Inc()
	sessionsActive.Dec()
}

// RecordStepCompleted records a step exit.
func RecordStepCompleted(step, path string) {
	stepsCompletedTotal.WithLabelValues(step, path).Inc()
}

// RecordSubmission records the single webhook attempt of a session.
func RecordSubmission(status string, documentAttached bool, durationMS int) {
	submissionsTotal.WithLabelValues(status, strconv.FormatBool(documentAttached)).Inc()
	submissionDurationSeconds.Observe(float64(durationMS) / 1000.0)
}

// RecordCompletion records a session reaching its redirect.
func RecordCompletion(flagPersisted bool) {
	completionsTotal.WithLabelValues(strconv.FormatBool(flagPersisted)).Inc()
	sessionsActive.Dec()
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}

// =============================================================================
// BUS RECORDER
// =============================================================================

var stepNames = map[int]string{
	1: "goal", 2: "business_name", 3: "industry", 4: "phone",
	5: "hours", 6: "document", 7: "review_link", 8: "done",
}

func stepLabel(step int) string {
	if name, ok := stepNames[step]; ok {
		return name
	}
	return "unknown"
}

// SubscribeMetrics records session events published on bus.
// It returns a function that removes the subscriptions.
func SubscribeMetrics(bus commbus.CommBus) func() {
	unsubs := []func(){
		bus.Subscribe("SessionStarted", func(ctx context.Context, msg commbus.Message) (any, error) {
			RecordSessionStarted()
			return nil, nil
		}),
		bus.Subscribe("StepCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
			if ev, ok := msg.(*commbus.StepCompleted); ok {
				RecordStepCompleted(ev.StepName, ev.Path)
			}
			return nil, nil
		}),
		bus.Subscribe("SubmissionCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
			if ev, ok := msg.(*commbus.SubmissionCompleted); ok {
				RecordSubmission(ev.Status, ev.DocumentAttached, ev.DurationMS)
			}
			return nil, nil
		}),
		bus.Subscribe("OnboardingFinished", func(ctx context.Context, msg commbus.Message) (any, error) {
			if ev, ok := msg.(*commbus.OnboardingFinished); ok {
				RecordCompletion(ev.FlagPersisted)
			}
			return nil, nil
		}),
		bus.Subscribe("SessionDiscarded", func(ctx context.Context, msg commbus.Message) (any, error) {
			if ev, ok := msg.(*commbus.SessionDiscarded); ok {
				RecordSessionDiscarded(ev.Reason, stepLabel(ev.Step))
			}
			return nil, nil
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
