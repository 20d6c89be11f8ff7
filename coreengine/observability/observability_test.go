package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
)

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestRecordStepCompleted(t *testing.T) {
	tests := []struct {
		name string
		step string
		path string
	}{
		{"goal commit", "goal", "commit"},
		{"business existing", "business_name", "use_existing"},
		{"phone override", "phone", "override"},
		{"document skip", "document", "skip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(stepsCompletedTotal.WithLabelValues(tt.step, tt.path))
			RecordStepCompleted(tt.step, tt.path)
			after := testutil.ToFloat64(stepsCompletedTotal.WithLabelValues(tt.step, tt.path))
			assert.Equal(t, before+1, after)
		})
	}
}

func TestRecordSubmission(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		document   bool
		durationMS int
	}{
		{"success with document", "success", true, 800},
		{"success without document", "success", false, 120},
		{"error", "error", false, 15000},
		{"zero duration", "error", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label := "false"
			if tt.document {
				label = "true"
			}
			before := testutil.ToFloat64(submissionsTotal.WithLabelValues(tt.status, label))
			RecordSubmission(tt.status, tt.document, tt.durationMS)
			assert.Equal(t, before+1, testutil.ToFloat64(submissionsTotal.WithLabelValues(tt.status, label)))
		})
	}
}

func TestSessionGauge(t *testing.T) {
	start := testutil.ToFloat64(sessionsActive)

	RecordSessionStarted()
	RecordSessionStarted()
	assert.Equal(t, start+2, testutil.ToFloat64(sessionsActive))

	RecordCompletion(true)
	RecordSessionDiscarded("idle", "hours")
	assert.Equal(t, start, testutil.ToFloat64(sessionsActive))
	assert.Greater(t, testutil.ToFloat64(sessionsDiscardedTotal.WithLabelValues("idle", "hours")), 0.0)
	assert.Greater(t, testutil.ToFloat64(completionsTotal.WithLabelValues("true")), 0.0)
}

func TestRecordGRPCRequest(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		status     string
		durationMS int
	}{
		{"successful start", "/onboarding.v1.OnboardingService/StartSession", "OK", 10},
		{"unauthenticated", "/onboarding.v1.OnboardingService/StartSession", "Unauthenticated", 1},
		{"precondition", "/onboarding.v1.OnboardingService/Confirm", "FailedPrecondition", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordGRPCRequest(tt.method, tt.status, tt.durationMS)
			count := testutil.ToFloat64(grpcRequestsTotal.WithLabelValues(tt.method, tt.status))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestMetrics_Concurrent(t *testing.T) {
	before := testutil.ToFloat64(stepsCompletedTotal.WithLabelValues("hours", "commit"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordStepCompleted("hours", "commit")
		}()
	}
	wg.Wait()

	assert.Equal(t, before+50, testutil.ToFloat64(stepsCompletedTotal.WithLabelValues("hours", "commit")))
}

func TestSubscribeMetrics(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(time.Second)
	unsubscribe := SubscribeMetrics(bus)
	ctx := context.Background()

	steps := testutil.ToFloat64(stepsCompletedTotal.WithLabelValues("industry", "commit"))
	subs := testutil.ToFloat64(submissionsTotal.WithLabelValues("error", "true"))
	discards := testutil.ToFloat64(sessionsDiscardedTotal.WithLabelValues("client", "review_link"))

	require.NoError(t, bus.Publish(ctx, &commbus.StepCompleted{SessionID: "s", Step: 3, StepName: "industry", Path: "commit"}))
	require.NoError(t, bus.Publish(ctx, &commbus.SubmissionCompleted{SessionID: "s", Status: "error", DocumentAttached: true}))
	require.NoError(t, bus.Publish(ctx, &commbus.SessionDiscarded{SessionID: "s", Step: 7, Reason: "client"}))

	assert.Equal(t, steps+1, testutil.ToFloat64(stepsCompletedTotal.WithLabelValues("industry", "commit")))
	assert.Equal(t, subs+1, testutil.ToFloat64(submissionsTotal.WithLabelValues("error", "true")))
	assert.Equal(t, discards+1, testutil.ToFloat64(sessionsDiscardedTotal.WithLabelValues("client", "review_link")))

	unsubscribe()
	require.NoError(t, bus.Publish(ctx, &commbus.StepCompleted{SessionID: "s", Step: 3, StepName: "industry", Path: "commit"}))
	assert.Equal(t, steps+1, testutil.ToFloat64(stepsCompletedTotal.WithLabelValues("industry", "commit")))
}

func TestStepLabel(t *testing.T) {
	assert.Equal(t, "goal", stepLabel(1))
	assert.Equal(t, "done", stepLabel(8))
	assert.Equal(t, "unknown", stepLabel(0))
}

// =============================================================================
// TRACING TESTS
// =============================================================================

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{ServiceName: "onboarding"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracer_WithEndpoint(t *testing.T) {
	// The exporter connects lazily, so an unreachable collector still initializes.
	shutdown, err := InitTracer(context.Background(), TracerConfig{
		ServiceName: "onboarding",
		Endpoint:    "127.0.0.1:1",
		SampleRatio: 0.5,
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}

// =============================================================================
// LOGGER TESTS
// =============================================================================

func TestZerologLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, "info", "json")

	logger.Debug("hidden", "k", "v")
	logger.Info("session_started", "session_id", "s-1", "step", 1)
	logger.Error("submission_failed", "error", errors.New("boom"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "session_started", first["message"])
	assert.Equal(t, "s-1", first["session_id"])
	assert.Equal(t, float64(1), first["step"])
	assert.Equal(t, "info", first["level"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "boom", second["error"])
	assert.Equal(t, "error", second["level"])
}

func TestZerologLogger_WithAndOddArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, "", "json").With("service", "onboarding")

	logger.Warn("dangling", "orphan")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "onboarding", entry["service"])
	assert.Equal(t, "orphan", entry["!BADKEY"])
}

func TestZerologLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, "debug", "console")
	logger.Debug("sequencer_idle", "session_id", "s-2")
	assert.Contains(t, buf.String(), "sequencer_idle")
	assert.Contains(t, buf.String(), "s-2")
}
