package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds-autotrader/internal/core/guard"
	"odds-autotrader/internal/core/hub"
	"odds-autotrader/internal/core/model"
	"odds-autotrader/internal/core/odds"
	"odds-autotrader/internal/core/sched"
	"odds-autotrader/internal/stats/latency"
)

type recSink struct {
	cmds []model.Command
}

func (s *recSink) Send(cmd model.Command) error {
	s.cmds = append(s.cmds, cmd)
	return nil
}

type stoppedExec struct{}

func (stoppedExec) Do(func()) error { return sched.ErrStopped }

type fixture struct {
	store   *odds.Store
	guards  *guard.System
	hub     *hub.Hub
	tracker *latency.Tracker
	reg     *prometheus.Registry
	srv     *Server
	router  http.Handler
}

func boolPtr(b bool) *bool { return &b }

func priced(source string, a, b float64) model.OddsRecord {
	return model.OddsRecord{Source: source, Prices: [2]model.Price{model.NumPrice(a), model.NumPrice(b)}}
}

// newFixture 目标与参考价对齐，目标进程运行中；rt 为 nil 时使用虚拟时钟
func newFixture(t *testing.T, rt sched.Runtime) *fixture {
	t.Helper()
	if rt == nil {
		rt = sched.NewVirtual(time.Unix(1_700_000_000, 0))
	}
	f := &fixture{
		store:   odds.NewStore(),
		guards:  guard.New(model.DefaultGuardSettings()),
		tracker: latency.NewTracker(10),
		reg:     prometheus.NewRegistry(),
	}
	f.guards.SetProcessStatus(model.ProcessStatus{Running: boolPtr(true)})
	f.store.Upsert(priced("pin", 1.80, 2.00))
	f.store.Upsert(priced(model.SourceExcel, 1.80, 2.00))

	f.hub = hub.New(hub.Options{
		Scheduler:    rt,
		Source:       f.store,
		Guards:       f.guards,
		Sink:         &recSink{},
		SignalSender: true,
		Config:       model.DefaultAutoConfig(),
	})
	f.srv = NewServer(Options{
		Exec:     rt,
		Hub:      f.hub,
		Store:    f.store,
		Latency:  f.tracker,
		Gatherer: f.reg,
	})
	f.router = f.srv.Router()
	return f
}

func (f *fixture) call(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

// engineState 取出响应中的 state.state
func engineState(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	outer, ok := resp["state"].(map[string]any)
	require.True(t, ok, "响应缺少 state: %v", resp)
	inner, ok := outer["state"].(map[string]any)
	require.True(t, ok, "响应缺少 state.state: %v", resp)
	return inner
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	code, resp := f.call(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["dsConnected"])

	f.hub.SetDsConnected(true)
	_, resp = f.call(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, true, resp["dsConnected"])
}

func TestEnableDisable(t *testing.T) {
	f := newFixture(t, nil)

	code, resp := f.call(t, http.MethodPost, "/api/auto/enable", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, true, engineState(t, resp)["active"])
	assert.Equal(t, 1, f.hub.ViewCount(), "控制面挂载为一个界面")

	code, resp = f.call(t, http.MethodGet, "/api/auto/state", nil)
	require.Equal(t, http.StatusOK, code)
	st := resp["state"].(map[string]any)
	assert.Equal(t, true, st["active"])
	assert.Equal(t, "trading", st["phase"])

	code, resp = f.call(t, http.MethodPost, "/api/auto/disable", nil)
	require.Equal(t, http.StatusOK, code)
	st = engineState(t, resp)
	assert.Equal(t, false, st["active"])
	assert.Equal(t, "manual", st["reason"])
}

func TestEnable_BlockedReturnsConflict(t *testing.T) {
	f := newFixture(t, nil)
	f.guards.SetProcessStatus(model.ProcessStatus{Running: boolPtr(false)})

	code, resp := f.call(t, http.MethodPost, "/api/auto/enable", nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, "excel-off", resp["reason"])
	outer := resp["state"].(map[string]any)
	assert.Equal(t, "SCRIPT", outer["label"])
	assert.Equal(t, "Auto blocked: excel-off", outer["notice"])
}

func TestToggle(t *testing.T) {
	f := newFixture(t, nil)
	code, resp := f.call(t, http.MethodPost, "/api/auto/toggle", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, engineState(t, resp)["active"])

	_, resp = f.call(t, http.MethodPost, "/api/auto/toggle", nil)
	assert.Equal(t, false, engineState(t, resp)["active"])
}

func TestMode(t *testing.T) {
	f := newFixture(t, nil)

	code, resp := f.call(t, http.MethodPut, "/api/auto/mode", map[string]string{"mode": "ds"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ds", engineState(t, resp)["mode"])

	code, _ = f.call(t, http.MethodPut, "/api/auto/mode", map[string]string{"mode": "manual"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.call(t, http.MethodPut, "/api/auto/mode", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestConfig_PartialUpdateIsClamped(t *testing.T) {
	f := newFixture(t, nil)

	code, resp := f.call(t, http.MethodPut, "/api/auto/config", map[string]any{"tolerancePct": 50, "maxPulses": 2})
	require.Equal(t, http.StatusOK, code)
	cfg := resp["config"].(map[string]any)
	assert.Equal(t, model.MaxTolerancePct, cfg["tolerancePct"])
	assert.Equal(t, float64(2), cfg["maxPulses"])
	assert.Equal(t, float64(model.DefaultIntervalMs), cfg["intervalMs"])

	_, resp = f.call(t, http.MethodGet, "/api/auto/config", nil)
	assert.Equal(t, float64(2), resp["config"].(map[string]any)["maxPulses"])

	code, _ = f.call(t, http.MethodPut, "/api/auto/config", "not-an-object")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSettings(t *testing.T) {
	f := newFixture(t, nil)

	code, resp := f.call(t, http.MethodPut, "/api/auto/settings", map[string]any{"shockThresholdPct": 70, "stopOnNoMid": false})
	require.Equal(t, http.StatusOK, code)
	gs := resp["settings"].(map[string]any)
	assert.Equal(t, float64(70), gs["shockThresholdPct"])
	assert.Equal(t, false, gs["stopOnNoMid"])

	_, resp = f.call(t, http.MethodGet, "/api/auto/settings", nil)
	assert.Equal(t, float64(70), resp["settings"].(map[string]any)["shockThresholdPct"])
	assert.Equal(t, 70.0, f.guards.Settings().ShockThresholdPct)
}

func TestProcessStatus_StopsEngine(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.call(t, http.MethodPost, "/api/auto/enable", nil)
	require.Equal(t, http.StatusOK, code)

	code, resp := f.call(t, http.MethodPut, "/api/auto/process-status", map[string]any{"running": false})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, resp["status"].(map[string]any)["running"])
	st := engineState(t, resp)
	assert.Equal(t, false, st["active"])
	assert.Equal(t, "excel-off", st["reason"])
}

func TestSelection(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.call(t, http.MethodPut, "/api/auto/selection", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.call(t, http.MethodPut, "/api/auto/selection", map[string]any{"script": 9})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.call(t, http.MethodPut, "/api/auto/selection", map[string]any{"script": 1, "board": 2})
	require.Equal(t, http.StatusOK, code)

	code, resp := f.call(t, http.MethodPost, "/api/auto/enable", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "map-mismatch", resp["reason"])
}

func TestOdds(t *testing.T) {
	f := newFixture(t, nil)
	code, resp := f.call(t, http.MethodGet, "/api/odds", nil)
	require.Equal(t, http.StatusOK, code)

	records := resp["records"].(map[string]any)
	assert.Contains(t, records, "pin")
	assert.Contains(t, records, "excel")
	assert.Equal(t, true, resp["derived"].(map[string]any)["hasMid"])
	excel := resp["excel"].(map[string]any)
	assert.Equal(t, []any{1.8, 2.0}, excel["prices"])
}

func TestPropagationStats(t *testing.T) {
	f := newFixture(t, nil)
	f.tracker.OnTargetPropagation(model.ModeExcel, 120*time.Millisecond)

	code, resp := f.call(t, http.MethodGet, "/api/stats/propagation", nil)
	require.Equal(t, http.StatusOK, code)
	stats := resp["stats"].([]any)
	require.Len(t, stats, 2)
	excel := stats[0].(map[string]any)
	assert.Equal(t, "excel", excel["mode"])
	assert.Equal(t, float64(1), excel["count"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "autotrader_test_total", Help: "test"})
	f.reg.MustRegister(c)
	c.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "autotrader_test_total 1")
}

func TestLoopStopped_ServiceUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.opts.Exec = stoppedExec{}

	code, resp := f.call(t, http.MethodGet, "/api/auto/state", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, sched.ErrStopped.Error(), resp["error"])
}
