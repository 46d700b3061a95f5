package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/callgoat/internal/config"
	"github.com/headline-goat/callgoat/internal/metrics"
	"github.com/headline-goat/callgoat/internal/server"
	"github.com/headline-goat/callgoat/internal/store"
	"github.com/headline-goat/callgoat/internal/testutil"
)

const adminToken = "test-token"

type testServer struct {
	srv   *server.Server
	store *store.SQLiteStore
	deps  server.Deps
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := testutil.SetupTestStore(t)
	cfg := config.Default()
	cfg.AdminToken = adminToken
	log, _ := test.NewNullLogger()

	deps := server.NewDeps(cfg, st, metrics.New(), log)
	return &testServer{srv: server.New(cfg, deps, ""), store: st, deps: deps}
}

func (ts *testServer) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func adminRequest(method, target, body string) *http.Request {
	req := jsonRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	return req
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	health := decode[server.HealthResponse](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.ExperimentsCount)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/track", `{"experiment":"hero","event":"view"}`))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "callgoat_events_tracked_total")
}

func TestTrack_MintsVisitorAndCookies(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/track", `{"experiment":"hero","event":"view"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[server.TrackResponse](t, w)
	assert.Equal(t, "hero", res.Experiment)
	assert.Contains(t, []string{"A", "B"}, res.Variant)
	assert.True(t, res.Counted)

	visitor := cookieNamed(w, "visitor_id")
	require.NotNil(t, visitor)
	assert.Equal(t, 365*24*60*60, visitor.MaxAge)

	variant := cookieNamed(w, "variant")
	require.NotNil(t, variant)
	assert.Equal(t, res.Variant, variant.Value)
	assert.Equal(t, 30*60, variant.MaxAge)
	assert.Equal(t, "hero", cookieNamed(w, "experiment").Value)
}

func TestTrack_StickyForCookieVisitor(t *testing.T) {
	ts := newTestServer(t)

	first := ts.do(jsonRequest(http.MethodPost, "/track", `{"experiment":"hero","event":"view"}`))
	require.Equal(t, http.StatusOK, first.Code)
	visitor := cookieNamed(first, "visitor_id")
	want := decode[server.TrackResponse](t, first).Variant

	for i := 0; i < 5; i++ {
		w := ts.do(jsonRequest(http.MethodPost, "/track", `{"experiment":"hero","event":"conversion"}`), visitor)
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[server.TrackResponse](t, w)
		assert.Equal(t, want, res.Variant)
		assert.Equal(t, i == 0, res.Counted)
		assert.Nil(t, cookieNamed(w, "visitor_id"), "existing visitor cookie is never regenerated")
	}

	counters, err := ts.store.GetVariantCounters(context.Background(), "hero")
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.Equal(t, 1, counters[0].Views)
	assert.Equal(t, 1, counters[0].Conversions)
}

func TestTrack_Validation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/track", `{"event":"view"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode[map[string]any](t, w)["error"])

	w = ts.do(jsonRequest(http.MethodPost, "/track", `{not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrack_StoreUnavailable(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Close())

	w := ts.do(jsonRequest(http.MethodPost, "/track", `{"experiment":"hero","event":"view"}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Empty(t, decode[map[string]any](t, w)["details"], "store errors stay server-side by default")

	w = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestVariant(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/variant", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/variant?experiment=hero", nil))
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[server.VariantResponse](t, w)
	assert.True(t, first.IsNew)

	again := ts.do(httptest.NewRequest(http.MethodGet, "/variant?experiment=hero", nil), cookieNamed(w, "visitor_id"))
	require.Equal(t, http.StatusOK, again.Code)
	second := decode[server.VariantResponse](t, again)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Variant, second.Variant)
}

func TestCallTrack_AlwaysOK(t *testing.T) {
	ts := newTestServer(t)

	for _, tc := range []struct {
		target string
		body   string
	}{
		{"/call-track?action=intent", `{broken`},
		{"/call-track?action=intent", `{"phone":"5550100000"}`},
		{"/call-track?action=other", `{}`},
		{"/call-track", `{}`},
	} {
		w := ts.do(jsonRequest(http.MethodPost, tc.target, tc.body))
		assert.Equal(t, http.StatusOK, w.Code, tc.target+" "+tc.body)
		assert.Equal(t, false, decode[map[string]any](t, w)["ok"])
	}
}

func TestCallTrack_ThenWebhook_ClickTracking(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/call-track?action=intent", `{
		"visitor_id": "v-1",
		"phone": "+1 (904) 555-1234",
		"page": "/diagnostics",
		"experiment": "diagnostics_page_v1",
		"variant": "B",
		"utm_source": "google"
	}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["ok"])

	w = ts.do(jsonRequest(http.MethodPost, "/webhooks/call", `{
		"call_sid": "CA100",
		"caller_phone": "+19045551234",
		"called_number": "+18005550000",
		"call_status": "ringing"
	}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ack := decode[server.WebhookAck](t, w)
	assert.Equal(t, store.MethodClickTracking, ack.AttributionMethod)
	assert.Equal(t, "diagnostics_page_v1", *ack.ABExperiment)
	assert.Equal(t, "B", *ack.ABVariant)
	assert.Equal(t, "ab:diagnostics_page_v1:B", ack.Source)
	assert.False(t, ack.Duplicate)
}

func TestCallTrack_UsesExperimentCookies(t *testing.T) {
	ts := newTestServer(t)

	page := ts.do(jsonRequest(http.MethodPost, "/track", `{"experiment":"hero","event":"view"}`))
	require.Equal(t, http.StatusOK, page.Code)
	shown := decode[server.TrackResponse](t, page).Variant

	w := ts.do(jsonRequest(http.MethodPost, "/call-track?action=intent", `{"phone":"5550100000"}`),
		cookieNamed(page, "visitor_id"), cookieNamed(page, "experiment"), cookieNamed(page, "variant"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["ok"])

	w = ts.do(jsonRequest(http.MethodPost, "/webhooks/call", `{"call_sid":"CA101","caller_phone":"5550100000"}`))
	require.Equal(t, http.StatusOK, w.Code)
	ack := decode[server.WebhookAck](t, w)
	assert.Equal(t, "hero", *ack.ABExperiment)
	assert.Equal(t, shown, *ack.ABVariant)
}

func TestCallTrack_BodyExperimentIgnoresOtherCookieVariant(t *testing.T) {
	ts := newTestServer(t)

	// the visitor last saw pricing/B, then taps a call button on a page
	// that names a different experiment but no variant
	w := ts.do(jsonRequest(http.MethodPost, "/call-track?action=intent", `{
		"visitor_id": "v-9",
		"phone": "5550100000",
		"experiment": "diagnostics_page_v1"
	}`),
		&http.Cookie{Name: "experiment", Value: "pricing"},
		&http.Cookie{Name: "variant", Value: "B"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["ok"])

	w = ts.do(jsonRequest(http.MethodPost, "/webhooks/call", `{"call_sid":"CA110","caller_phone":"5550100000"}`))
	require.Equal(t, http.StatusOK, w.Code)
	ack := decode[server.WebhookAck](t, w)
	assert.Equal(t, store.MethodClickTracking, ack.AttributionMethod)
	assert.Equal(t, "diagnostics_page_v1", *ack.ABExperiment)
	assert.Nil(t, ack.ABVariant)
}

func TestCallTrack_BodyExperimentUsesMatchingCookieOrAssignment(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// matching cookie experiment supplies the variant
	w := ts.do(jsonRequest(http.MethodPost, "/call-track?action=intent", `{"visitor_id":"v-1","phone":"5550100001","experiment":"pricing"}`),
		&http.Cookie{Name: "experiment", Value: "pricing"},
		&http.Cookie{Name: "variant", Value: "B"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(jsonRequest(http.MethodPost, "/webhooks/call", `{"call_sid":"CA111","caller_phone":"5550100001"}`))
	ack := decode[server.WebhookAck](t, w)
	assert.Equal(t, "pricing", *ack.ABExperiment)
	assert.Equal(t, "B", *ack.ABVariant)

	// otherwise the visitor's sticky assignment is used
	assigned, err := ts.deps.Assigner.GetVariant(ctx, "hero", "v-2")
	require.NoError(t, err)

	w = ts.do(jsonRequest(http.MethodPost, "/call-track?action=intent", `{"phone":"5550100002","experiment":"hero"}`),
		&http.Cookie{Name: "visitor_id", Value: "v-2"},
		&http.Cookie{Name: "experiment", Value: "pricing"},
		&http.Cookie{Name: "variant", Value: "B"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(jsonRequest(http.MethodPost, "/webhooks/call", `{"call_sid":"CA112","caller_phone":"5550100002"}`))
	ack = decode[server.WebhookAck](t, w)
	assert.Equal(t, "hero", *ack.ABExperiment)
	require.NotNil(t, ack.ABVariant)
	assert.Equal(t, assigned.Variant, *ack.ABVariant)
}

func TestPublicRoutes_BodyLimit(t *testing.T) {
	ts := newTestServer(t)
	big := `{"experiment":"hero","event":"view","metadata":{"blob":"` + strings.Repeat("x", 70<<10) + `"}}`

	w := ts.do(jsonRequest(http.MethodPost, "/track", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = ts.do(jsonRequest(http.MethodPost, "/webhooks/call", `{"call_sid":"CA500","recording_url":"`+strings.Repeat("x", 70<<10)+`"}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	form := url.Values{"CallSid": {"CA501"}, "RecordingUrl": {strings.Repeat("x", 70<<10)}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/call", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = ts.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// fire-and-forget contract holds even for oversized intents
	w = ts.do(jsonRequest(http.MethodPost, "/call-track?action=intent", `{"phone":"`+strings.Repeat("5", 70<<10)+`"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["ok"])

	_, err := ts.store.GetCall(context.Background(), "CA500")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWebhook_FormEncodedFallback(t *testing.T) {
	ts := newTestServer(t)

	_, err := ts.deps.Registry.GetOrCreate(context.Background(), "diagnostics_page_v1")
	require.NoError(t, err)

	form := url.Values{
		"CallSid":      {"CA200"},
		"From":         {"+19045550000"},
		"To":           {"+18005550000"},
		"CallStatus":   {"completed"},
		"CallDuration": {"42"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/call", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := ts.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ack := decode[server.WebhookAck](t, w)
	assert.Equal(t, store.MethodRecentExperiment, ack.AttributionMethod)
	assert.Equal(t, "diagnostics_page_v1", *ack.ABExperiment)
	assert.Nil(t, ack.ABVariant)

	rec, err := ts.store.GetCall(context.Background(), "CA200")
	require.NoError(t, err)
	assert.Equal(t, 42, rec.Duration)
}

func TestWebhook_NoExperiments(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/webhooks/call", `{"call_sid":"CA300","caller_phone":"5550100000"}`))
	require.Equal(t, http.StatusOK, w.Code)
	ack := decode[server.WebhookAck](t, w)
	assert.Equal(t, store.MethodNone, ack.AttributionMethod)
	assert.Nil(t, ack.ABExperiment)
	assert.Equal(t, "direct", ack.Source)
}

func TestWebhook_Idempotent(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.deps.Registry.GetOrCreate(context.Background(), "first_exp")
	require.NoError(t, err)

	body := `{"call_sid":"CA400","caller_phone":"5550100000","call_status":"ringing"}`
	first := decode[server.WebhookAck](t, ts.do(jsonRequest(http.MethodPost, "/webhooks/call", body)))

	// a new experiment would change the fallback answer if the chain re-ran
	_, err = ts.deps.Registry.GetOrCreate(context.Background(), "second_exp")
	require.NoError(t, err)

	w := ts.do(jsonRequest(http.MethodPost, "/webhooks/call", body))
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[server.WebhookAck](t, w)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.AttributionMethod, second.AttributionMethod)
	assert.Equal(t, *first.ABExperiment, *second.ABExperiment)
	assert.Equal(t, "first_exp", *second.ABExperiment)
}

func TestWebhook_MissingCallSid(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/webhooks/call", `{"caller_phone":"5550100000"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(jsonRequest(http.MethodPost, "/webhooks/call", `[]`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_RequiresToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/experiments", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/experiments?token=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/experiments?token="+adminToken, nil))
	require.Equal(t, http.StatusOK, w.Code)
	cookie := cookieNamed(w, "cg_token")
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/experiments", nil), cookie)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_ExperimentLifecycle(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(adminRequest(http.MethodPost, "/api/experiments", `{
		"name": "headline",
		"variants": [{"name":"control","control":true,"weight":1},{"name":"bold","weight":1}]
	}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(adminRequest(http.MethodGet, "/api/experiments/headline/stats", ""))
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[map[string]any](t, w)
	assert.Equal(t, 0.0, report["confidence"])
	assert.Nil(t, report["winner"])

	w = ts.do(adminRequest(http.MethodGet, "/api/experiments/missing/stats", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(adminRequest(http.MethodPost, "/api/experiments/headline/winner", `{"variant":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(adminRequest(http.MethodPost, "/api/experiments/missing/winner", `{"variant":"A"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(adminRequest(http.MethodPost, "/api/experiments/headline/winner", `{"variant":"bold"}`))
	require.Equal(t, http.StatusOK, w.Code)
	exp := decode[server.ExperimentResponse](t, w)
	assert.Equal(t, "completed", exp.Status)
	assert.Equal(t, "bold", *exp.WinnerVariant)

	w = ts.do(adminRequest(http.MethodPost, "/api/experiments/headline/reset", ""))
	require.Equal(t, http.StatusOK, w.Code)
	exp = decode[server.ExperimentResponse](t, w)
	assert.Equal(t, "completed", exp.Status)
	assert.Nil(t, exp.WinnerVariant)
	assert.NotNil(t, exp.ResetAt)
}

func TestAdmin_Calls(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/webhooks/call", `{"call_sid":"CA500","caller_phone":"5550100000"}`))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(adminRequest(http.MethodGet, "/api/calls", ""))
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Calls []server.CallResponse `json:"calls"`
	}](t, w)
	require.Len(t, list.Calls, 1)
	assert.Equal(t, "CA500", list.Calls[0].CallSid)
	assert.Equal(t, "direct", list.Calls[0].Source)

	w = ts.do(adminRequest(http.MethodGet, "/api/calls/CA500", ""))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(adminRequest(http.MethodGet, "/api/calls/unknown", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(adminRequest(http.MethodGet, "/api/calls?limit=abc", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORS_Preflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/track", nil)
	req.Header.Set("Origin", "https://www.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	w := ts.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://www.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}
