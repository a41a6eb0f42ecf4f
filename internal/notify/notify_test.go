package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/store"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

type webhookRecorder struct {
	mu       sync.Mutex
	payloads []WebhookPayload
}

func (r *webhookRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		var p WebhookPayload
		if !assert.NoError(t, json.NewDecoder(req.Body).Decode(&p)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (r *webhookRecorder) received() []WebhookPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WebhookPayload(nil), r.payloads...)
}

func loudReport(level int) types.Observation {
	return types.Observation{
		Category:    types.CategoryNoise,
		Level:       level,
		Position:    types.Position{Lat: 19.08, Lng: 72.88},
		Description: "construction at night",
	}
}

func TestAlertNotifier_WebhookAboveThreshold(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	mem := store.NewMemory(clockwork.NewFakeClock(), metrics)
	defer func() { _ = mem.Close() }()

	n := NewAlertNotifier(Config{StationName: "Test", WebhookURL: srv.URL}, metrics)
	require.True(t, n.Enabled())
	require.NoError(t, n.Start(mem))

	ctx := context.Background()
	_, err := mem.Insert(ctx, loudReport(70))
	require.NoError(t, err)
	loud, err := mem.Insert(ctx, loudReport(85))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	n.Close()

	got := rec.received()
	require.Len(t, got, 1)
	assert.Equal(t, "high_level_report", got[0].Event)
	assert.Equal(t, loud.ID, got[0].ReportID)
	assert.Equal(t, "noise", got[0].Type)
	assert.Equal(t, 85, got[0].Level)
	assert.Equal(t, DefaultThreshold, got[0].Threshold)
	assert.Equal(t, "construction at night", got[0].Description)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Alerts.WithLabelValues(channelWebhook, "success")), 0)
}

func TestAlertNotifier_CustomThreshold(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	n := NewAlertNotifier(Config{WebhookURL: srv.URL, Threshold: 40}, observability.NewMetricsForTesting())
	n.HandleReport(loudReport(40))
	n.HandleReport(loudReport(41))
	n.Close()

	got := rec.received()
	require.Len(t, got, 1)
	assert.Equal(t, 41, got[0].Level)
}

func TestAlertNotifier_WebhookFailureCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	n := NewAlertNotifier(Config{WebhookURL: srv.URL}, metrics)
	n.HandleReport(loudReport(99))
	n.Close()

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Alerts.WithLabelValues(channelWebhook, "error")), 0)
}

func TestAlertNotifier_Disabled(t *testing.T) {
	n := NewAlertNotifier(Config{}, observability.NewMetricsForTesting())
	assert.False(t, n.Enabled())
	n.HandleReport(loudReport(100))
	n.Close()
}

func TestAlertNotifier_NoDeliveryAfterClose(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewAlertNotifier(Config{WebhookURL: srv.URL}, observability.NewMetricsForTesting())
	n.Close()
	n.HandleReport(loudReport(100))

	assert.Zero(t, calls.Load())
}

func TestAlertNotifier_CloseDrainsPending(t *testing.T) {
	rec := &webhookRecorder{}
	handler := rec.handler(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	n := NewAlertNotifier(Config{WebhookURL: srv.URL}, metrics)
	n.HandleReport(loudReport(95))
	n.Close()

	require.Len(t, rec.received(), 1)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Alerts.WithLabelValues(channelWebhook, "success")), 0)
}

func TestAlertNotifier_CloseCancelsAfterDrainTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	n := NewAlertNotifier(Config{WebhookURL: srv.URL}, metrics)
	n.drainTimeout = 50 * time.Millisecond
	n.HandleReport(loudReport(95))

	done := make(chan struct{})
	go func() {
		n.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the drain timeout")
	}
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Alerts.WithLabelValues(channelWebhook, "error")), 0)
}

func TestSendTestWebhook(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	require.Error(t, SendTestWebhook(context.Background(), "", "Test"))
	require.NoError(t, SendTestWebhook(context.Background(), srv.URL, "Test"))

	got := rec.received()
	require.Len(t, got, 1)
	assert.Equal(t, "test", got[0].Event)
	assert.Equal(t, "This is a test notification from Test", got[0].Message)
}

// graphServer fakes the token endpoint and the sendMail endpoint.
type graphServer struct {
	*httptest.Server
	mu       sync.Mutex
	mails    []graphMailRequest
	failures int
}

func newGraphServer(t *testing.T, failures int) *graphServer {
	gs := &graphServer{failures: failures}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"token","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("POST /users/{mailbox}/sendMail", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
		assert.Equal(t, "alerts@example.com", req.PathValue("mailbox"))

		gs.mu.Lock()
		defer gs.mu.Unlock()
		if gs.failures > 0 {
			gs.failures--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var m graphMailRequest
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&m))
		gs.mails = append(gs.mails, m)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /users/{mailbox}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	gs.Server = httptest.NewServer(mux)
	t.Cleanup(gs.Close)
	return gs
}

func (gs *graphServer) sent() []graphMailRequest {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return append([]graphMailRequest(nil), gs.mails...)
}

func testGraphConfig() GraphConfig {
	return GraphConfig{
		TenantID:     "12345678-1234-1234-1234-123456789abc",
		ClientID:     "12345678-1234-1234-1234-123456789abc",
		ClientSecret: "secret",
		FromAddress:  "alerts@example.com",
		Recipients:   "ops@example.com, , noc@example.com",
	}
}

func testGraphClient(t *testing.T, gs *graphServer, cfg *GraphConfig) *GraphClient {
	t.Helper()
	client, err := newGraphClient(cfg, gs.URL, gs.URL+"/token")
	require.NoError(t, err)
	client.initialWait = time.Millisecond
	client.maxWait = time.Millisecond
	return client
}

func TestAlertNotifier_Email(t *testing.T) {
	gs := newGraphServer(t, 1)
	cfg := testGraphConfig()
	metrics := observability.NewMetricsForTesting()

	n := NewAlertNotifier(Config{StationName: "Test", Graph: cfg}, metrics)
	n.graphClient = testGraphClient(t, gs, &n.cfg.Graph)
	require.True(t, n.Enabled())

	o := loudReport(90)
	o.ID = "report-1"
	o.RecordedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.HandleReport(o)
	n.Close()

	mails := gs.sent()
	require.Len(t, mails, 1)
	msg := mails[0].Message
	assert.Equal(t, "[ALERT] High noise level (90) - Test", msg.Subject)
	assert.Contains(t, msg.Body.Content, "Report ID: report-1")
	assert.Contains(t, msg.Body.Content, "construction at night")
	require.Len(t, msg.ToRecipients, 2)
	assert.Equal(t, "noc@example.com", msg.ToRecipients[1].EmailAddress.Address)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Alerts.WithLabelValues(channelEmail, "success")), 0)
}

func TestGraphClient_GivesUp(t *testing.T) {
	gs := newGraphServer(t, maxRetries+1)
	cfg := testGraphConfig()
	client := testGraphClient(t, gs, &cfg)

	err := client.SendMail(context.Background(), []string{"ops@example.com"}, "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Empty(t, gs.sent())
}

func TestSendTestEmail(t *testing.T) {
	gs := newGraphServer(t, 0)
	cfg := testGraphConfig()

	require.NoError(t, sendTestEmail(context.Background(), testGraphClient(t, gs, &cfg), &cfg, "Test"))
	mails := gs.sent()
	require.Len(t, mails, 1)
	assert.Equal(t, "[TEST] Test", mails[0].Message.Subject)
}

func TestValidateConfig(t *testing.T) {
	cfg := testGraphConfig()
	require.NoError(t, ValidateConfig(&cfg))

	bad := cfg
	bad.TenantID = "not-a-guid"
	assert.ErrorContains(t, ValidateConfig(&bad), "tenant ID must be a valid GUID")

	bad = cfg
	bad.Recipients = ""
	assert.ErrorContains(t, ValidateConfig(&bad), "recipients are required")
	assert.False(t, IsConfigured(&bad))

	bad = cfg
	bad.FromAddress = ""
	_, err := NewGraphClient(&bad)
	assert.Error(t, err)
}

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@x.nl", "b@x.nl"}, ParseRecipients(" a@x.nl ,,b@x.nl,"))
	assert.Nil(t, ParseRecipients(""))
}

func TestAlertEmail(t *testing.T) {
	o := loudReport(75)
	o.Description = ""
	subject, body := alertEmail("Station", o, 70)
	assert.Equal(t, "[ALERT] High noise level (75) - Station", subject)
	assert.NotContains(t, body, "Description")
	assert.True(t, strings.HasPrefix(body, "A noise report above the alert threshold"))
}
