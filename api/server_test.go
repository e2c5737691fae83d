package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"autoexit/config"
	"autoexit/logger"
	"autoexit/monitor"
	"autoexit/notify"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret  = "test-secret-0123456789"
	testTOTPSecret = "JBSWY3DPEHPK3PXP"
)

type fakeController struct {
	mu      sync.Mutex
	status  monitor.Status
	pending map[string]int
	blocked []string
}

func (f *fakeController) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Paused = true
}

func (f *fakeController) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Paused = false
}

func (f *fakeController) SetTarget(points decimal.Decimal) error {
	if !points.IsPositive() {
		return &monitor.ValidationError{Field: "target_points", Reason: "must be > 0"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.TargetPoints = points
	return nil
}

func (f *fakeController) SetPollInterval(seconds float64) (float64, error) {
	applied := config.ClampPollInterval(seconds)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.PollIntervalSeconds = applied
	return applied, nil
}

func (f *fakeController) SetPaperMode(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.PaperMode = enabled
}

func (f *fakeController) SetAutoExit(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.AutoExitEnabled = enabled
}

func (f *fakeController) RetryBlocked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := f.blocked
	f.blocked = nil
	return keys
}

func (f *fakeController) Status() monitor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) PendingExits() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.pending))
	for k, v := range f.pending {
		out[k] = v
	}
	return out
}

func newTestServer(t *testing.T, ctl *fakeController, hub *notify.Hub, reg *prometheus.Registry) *Server {
	t.Helper()
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	cfg := config.HTTPConfig{Enabled: true, Listen: "127.0.0.1:0", JWTSecret: testJWTSecret}
	return NewServer(cfg, Deps{Controller: ctl, Hub: hub, Gatherer: reg, TOTPSecret: testTOTPSecret}, logger.Discard())
}

func token(t *testing.T) string {
	t.Helper()
	tok, err := IssueToken(testJWTSecret, "ops", time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, s *Server, method, path, body, tok string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndStatusArePublic(t *testing.T) {
	ctl := &fakeController{
		status:  monitor.Status{TargetPoints: decimal.NewFromInt(10), TrackedCount: 2},
		pending: map[string]int{"NIFTY_NRML": 25},
	}
	s := newTestServer(t, ctl, nil, nil)

	rec := do(t, s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"target_points":"10"`)
	assert.Contains(t, rec.Body.String(), `"tracked_count":2`)
	assert.Contains(t, rec.Body.String(), `"NIFTY_NRML":25`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "autoexit_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := newTestServer(t, &fakeController{}, nil, reg)
	rec := do(t, s, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autoexit_test_total 1")
}

func TestControlRequiresToken(t *testing.T) {
	ctl := &fakeController{}
	s := newTestServer(t, ctl, nil, nil)

	rec := do(t, s, http.MethodPost, "/control/pause", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodPost, "/control/pause", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := IssueToken("another-secret-value", "ops", time.Hour)
	require.NoError(t, err)
	rec = do(t, s, http.MethodPost, "/control/pause", "", other)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.False(t, ctl.Status().Paused)

	rec = do(t, s, http.MethodPost, "/control/pause", "", token(t))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctl.Status().Paused)

	rec = do(t, s, http.MethodPost, "/control/resume", "", token(t))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ctl.Status().Paused)
}

func TestControlDisabledWithoutSecret(t *testing.T) {
	s := NewServer(config.HTTPConfig{}, Deps{Controller: &fakeController{}}, logger.Discard())
	rec := do(t, s, http.MethodPost, "/control/pause", "", token(t))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken("", "ops", time.Hour)
	assert.Error(t, err)
}

func TestTargetValidation(t *testing.T) {
	ctl := &fakeController{}
	s := newTestServer(t, ctl, nil, nil)
	tok := token(t)

	rec := do(t, s, http.MethodPost, "/control/target", `{"points": -1}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "target_points")

	rec = do(t, s, http.MethodPost, "/control/target", `{"points": "abc"}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/control/target", `{}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/control/target", `{"points": "12.5"}`, tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctl.Status().TargetPoints.Equal(decimal.RequireFromString("12.5")))
}

func TestIntervalIsClamped(t *testing.T) {
	ctl := &fakeController{}
	s := newTestServer(t, ctl, nil, nil)

	rec := do(t, s, http.MethodPost, "/control/interval", `{}`, token(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/control/interval", `{"seconds": 500}`, token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"applied_seconds":120`)
	assert.Equal(t, 120.0, ctl.Status().PollIntervalSeconds)
}

func TestPaperSwitchNeedsCode(t *testing.T) {
	ctl := &fakeController{status: monitor.Status{PaperMode: true}}
	s := newTestServer(t, ctl, nil, nil)
	tok := token(t)

	rec := do(t, s, http.MethodPost, "/control/paper", `{}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/control/paper", `{"enabled": false, "code": "abcdef"}`, tok)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, ctl.Status().PaperMode)

	code, err := totp.GenerateCode(testTOTPSecret, time.Now())
	require.NoError(t, err)

	rec = do(t, s, http.MethodPost, "/control/paper", `{"enabled": false, "code": "`+code+`"}`, tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ctl.Status().PaperMode)

	rec = do(t, s, http.MethodPost, "/control/paper", `{"enabled": true}`, tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctl.Status().PaperMode)
}

func TestAutoExitAndRetry(t *testing.T) {
	ctl := &fakeController{blocked: []string{"BANKNIFTY_NRML"}}
	s := newTestServer(t, ctl, nil, nil)
	tok := token(t)

	rec := do(t, s, http.MethodPost, "/control/autoexit", `{"enabled": true}`, tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctl.Status().AutoExitEnabled)

	rec = do(t, s, http.MethodPost, "/control/retry", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unblocked":["BANKNIFTY_NRML"]}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/control/retry", "", tok)
	assert.JSONEq(t, `{"unblocked":[]}`, rec.Body.String())
}

func TestStreamRelaysNotifications(t *testing.T) {
	hub := notify.NewHub(4)
	s := newTestServer(t, &fakeController{}, hub, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token(t)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	hub.Notify("✅ Exit Orders Placed")

	var ev notify.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "✅ Exit Orders Placed", ev.Message)
}

func TestStreamRejectsMissingToken(t *testing.T) {
	s := newTestServer(t, &fakeController{}, notify.NewHub(1), nil)
	rec := do(t, s, http.MethodGet, "/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
