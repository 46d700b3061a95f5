package attribution_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/callgoat/internal/attribution"
	apperrors "github.com/headline-goat/callgoat/internal/errors"
	"github.com/headline-goat/callgoat/internal/experiment"
	"github.com/headline-goat/callgoat/internal/metrics"
	"github.com/headline-goat/callgoat/internal/store"
	fixtures "github.com/headline-goat/callgoat/internal/testutil"
)

type harness struct {
	store      *store.SQLiteStore
	registry   *experiment.Registry
	attributor *attribution.Attributor
	metrics    *metrics.Metrics
	clock      *fixtures.Clock
}

func setup(t *testing.T) harness {
	t.Helper()
	clock := fixtures.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := fixtures.SetupTestStoreWithOptions(t, store.Options{Now: clock.Now, RetryMaxElapsed: 5 * time.Second})
	log, _ := test.NewNullLogger()
	m := metrics.New()

	registry := experiment.NewRegistry(s, m, log)
	a := attribution.NewAttributor(s, registry, 5*time.Minute, log,
		attribution.WithClock(clock.Now), attribution.WithMetrics(m))
	return harness{store: s, registry: registry, attributor: a, metrics: m, clock: clock}
}

func (h harness) click(t *testing.T, phone, exp, variant string, ago time.Duration) {
	t.Helper()
	err := h.attributor.RecordClickIntent(context.Background(), &store.ClickIntent{
		VisitorID:  "visitor-1",
		Phone:      phone,
		Experiment: exp,
		Variant:    variant,
		Page:       "/diagnostics",
		CreatedAt:  h.clock.Now().Add(-ago),
	})
	require.NoError(t, err)
}

func TestAttribute_ClickTracking(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	h.click(t, "(555) 010-0000", "hero", "A", 4*time.Minute)
	h.click(t, "555-010-0000", "hero", "B", 1*time.Minute)

	res, err := h.attributor.Attribute(ctx, attribution.CallEvent{
		CallSid:     "CA1",
		CallerPhone: "+1 555 010 0000",
		CallStatus:  "ringing",
	})
	require.NoError(t, err)
	assert.Equal(t, store.MethodClickTracking, res.Method)
	assert.Equal(t, "hero", *res.Experiment)
	assert.Equal(t, "B", *res.Variant, "most recent intent wins")
	assert.Equal(t, "ab:hero:B", res.Source())
	assert.False(t, res.Duplicate)

	rec, err := h.store.GetCall(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, "+15550100000", rec.CallerPhone)
	assert.Equal(t, store.MethodClickTracking, *rec.AttributionMethod)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CallsAttributed.WithLabelValues(store.MethodClickTracking)))
}

func TestAttribute_AnyPhoneFallback(t *testing.T) {
	h := setup(t)

	h.click(t, "5550109999", "hero", "A", 2*time.Minute)

	res, err := h.attributor.Attribute(context.Background(), attribution.CallEvent{
		CallSid:     "CA2",
		CallerPhone: "5550100000",
	})
	require.NoError(t, err)
	assert.Equal(t, store.MethodClickTracking, res.Method)
	assert.Equal(t, "A", *res.Variant)
}

func TestAttribute_IntentOutsideWindow(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	h.click(t, "5550100000", "old", "A", 6*time.Minute)
	_, err := h.registry.GetOrCreate(ctx, "older_exp")
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	_, err = h.registry.GetOrCreate(ctx, "newest_exp")
	require.NoError(t, err)

	res, err := h.attributor.Attribute(ctx, attribution.CallEvent{CallSid: "CA3", CallerPhone: "5550100000"})
	require.NoError(t, err)
	assert.Equal(t, store.MethodRecentExperiment, res.Method)
	assert.Equal(t, "newest_exp", *res.Experiment)
	assert.Nil(t, res.Variant)
	assert.Equal(t, "ab:newest_exp", res.Source())
}

func TestAttribute_None(t *testing.T) {
	h := setup(t)

	res, err := h.attributor.Attribute(context.Background(), attribution.CallEvent{CallSid: "CA4", CallerPhone: "5550100000"})
	require.NoError(t, err)
	assert.Equal(t, store.MethodNone, res.Method)
	assert.Nil(t, res.Experiment)
	assert.Nil(t, res.Variant)
	assert.Equal(t, "direct", res.Source())
}

func TestAttribute_CompletedExperimentsIgnored(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, err := h.registry.GetOrCreate(ctx, "done")
	require.NoError(t, err)
	require.NoError(t, h.registry.SetWinner(ctx, "done", "A"))

	res, err := h.attributor.Attribute(ctx, attribution.CallEvent{CallSid: "CA5"})
	require.NoError(t, err)
	assert.Equal(t, store.MethodNone, res.Method)
}

func TestAttribute_IdempotentRedelivery(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	h.click(t, "5550100000", "hero", "B", time.Minute)
	first, err := h.attributor.Attribute(ctx, attribution.CallEvent{CallSid: "CA6", CallerPhone: "5550100000", CallStatus: "ringing"})
	require.NoError(t, err)

	// new evidence arriving later must not change the stored attribution
	h.clock.Advance(30 * time.Second)
	h.click(t, "5550100000", "other", "A", 0)

	duration := 95
	second, err := h.attributor.Attribute(ctx, attribution.CallEvent{
		CallSid:    "CA6",
		CallStatus: "completed",
		Duration:   &duration,
		LeadID:     "lead-9",
	})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, *first.Experiment, *second.Experiment)
	assert.Equal(t, *first.Variant, *second.Variant)
	assert.Equal(t, first.Method, second.Method)

	rec, err := h.store.GetCall(ctx, "CA6")
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.CallStatus)
	assert.Equal(t, 95, rec.Duration)
	assert.Equal(t, "lead-9", *rec.LeadID)
	assert.Equal(t, "hero", *rec.ABExperiment)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WebhookDuplicates))
}

func TestAttribute_ConcurrentDeliveriesAgree(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.click(t, "5550100000", "hero", "A", time.Minute)

	results := make([]*attribution.Result, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.attributor.Attribute(ctx, attribution.CallEvent{CallSid: "CA7", CallerPhone: "5550100000"})
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, store.MethodClickTracking, r.Method)
		if !r.Duplicate {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

func TestAttribute_RequiresCallSid(t *testing.T) {
	h := setup(t)

	_, err := h.attributor.Attribute(context.Background(), attribution.CallEvent{CallerPhone: "5550100000"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestResolve_HasNoSideEffects(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.click(t, "5550100000", "hero", "A", time.Minute)

	res, err := h.attributor.Resolve(ctx, "5550100000", h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "ab:hero:A", res.Source())

	calls, err := h.store.ListCalls(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestRecordClickIntent_RequiresExperiment(t *testing.T) {
	h := setup(t)

	err := h.attributor.RecordClickIntent(context.Background(), &store.ClickIntent{Phone: "5550100000"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestPrune(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	h.click(t, "5550100000", "hero", "A", 48*time.Hour)
	h.click(t, "5550100000", "hero", "A", time.Minute)

	_, err := h.attributor.Prune(ctx, time.Minute)
	assert.True(t, apperrors.IsValidation(err))

	n, err := h.attributor.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"(555) 010-0000":    "+15550100000",
		"1-555-010-0000":    "+15550100000",
		"+1 555 010 0000":   "+15550100000",
		"+44 20 7946 0958":  "+442079460958",
		"0044 20 7946 0958": "+442079460958",
		"":                  "",
		"911":               "",
		"anonymous":         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, attribution.NormalizePhone(in), in)
	}
}
