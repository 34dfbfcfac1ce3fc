package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/confirmation"
	"github.com/jkaninda/warden/internal/intent"
	"github.com/jkaninda/warden/internal/llm"
	"github.com/jkaninda/warden/internal/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, Deployment{}, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs == nil || obs.Health == nil {
		t.Fatal("expected a health checker for nil config")
	}
	if obs.Metrics != nil || obs.Tracer != nil {
		t.Error("metrics and tracing should be off for nil config")
	}
}

func TestNew_MetricsEnabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{Metrics: &config.MetricsConfig{Enabled: true}}, Deployment{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.MetricsOrNil() == nil {
		t.Error("metrics should be created when enabled")
	}
	if obs.TracerOrNil() != nil {
		t.Error("tracer should be nil when not enabled")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
	if obs.MetricsOrNil() != nil || obs.TracerOrNil() != nil {
		t.Error("expected nil components from nil Observability")
	}
}

func TestTracerSetup_NilIsNoop(t *testing.T) {
	var ts *TracerSetup
	_, span := ts.Tracer().Start(context.Background(), "noop")
	span.End()
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
	if got, err := NewTracerSetup(&config.TracingConfig{}, Deployment{}); got != nil || err != nil {
		t.Errorf("NewTracerSetup(disabled) = %v, %v; want nil, nil", got, err)
	}
}

func TestDeployment_Attributes(t *testing.T) {
	attrs := Deployment{Version: "1.2.0", BackendDriver: "aws", ConfirmationBackend: "redis"}.attributes("warden")
	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	want := map[string]string{
		"service.name":                "warden",
		"service.version":             "1.2.0",
		"warden.backend.driver":       "aws",
		"warden.confirmation.backend": "redis",
	}
	if len(got) != len(want) {
		t.Errorf("attributes = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestSampleRate_Clamped(t *testing.T) {
	for in, want := range map[float64]float64{0: 1, -1: 1, 2: 1, 0.25: 0.25} {
		if got := sampleRate(in); got != want {
			t.Errorf("sampleRate(%v) = %v, want %v", in, got, want)
		}
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()

	// CounterVecs only appear in Gather after first use.
	m.DecisionsTotal.WithLabelValues("stop_instance", "executed", "").Inc()
	m.GuardChecksTotal.WithLabelValues("budget", "allowed").Inc()
	m.TokenOpsTotal.WithLabelValues("issue", "ok").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/actions", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"warden_engine_decisions_total",
		"warden_guard_checks_total",
		"warden_confirmation_token_operations_total",
		"warden_http_requests_total",
		"warden_audit_write_failures_total",
		"warden_active_requests",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- HealthChecker ---

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	if status := h.CheckReady(context.Background()); status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddPinger("database", stubPinger{})
	h.AddCheck("redis", func(context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if !status.OK() {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if len(status.Checks) != 2 {
		t.Errorf("checks = %d, want 2", len(status.Checks))
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(discardLogger())
	h.AddPinger("database", stubPinger{})
	h.AddPinger("redis", stubPinger{err: errors.New("connection refused")})
	h.AddPinger("ignored", nil)

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if got := status.Checks["redis"]; got.Status != "fail" || got.Message != "connection refused" {
		t.Errorf("redis check = %+v", got)
	}
	if got := status.Checks["database"]; got.Status != "ok" {
		t.Errorf("database check = %+v", got)
	}
	if _, ok := status.Checks["ignored"]; ok {
		t.Error("nil pinger should not be registered")
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("failing", func(context.Context) error { return errors.New("down") })
	if status := h.CheckHealth(); status.Status != "ok" {
		t.Errorf("liveness = %q, want ok", status.Status)
	}
}

// --- InstrumentedEngine ---

type mockAuthorizer struct {
	out    *action.Outcome
	called int
}

func (m *mockAuthorizer) AuthorizeAndExecute(_ context.Context, req *action.Request) *action.Outcome {
	m.called++
	out := *m.out
	out.Action = req.Action
	return &out
}

func TestInstrumentedEngine_RecordsDecision(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockAuthorizer{out: &action.Outcome{
		Status: action.StatusBlocked,
		Reason: security.ReasonBudgetExceeded,
		Budget: &security.BudgetDecision{Allowed: false, Known: true},
		Err:    security.ErrBudgetExceeded,
	}}
	eng := NewInstrumentedEngine(inner, metrics, nil)

	out := eng.AuthorizeAndExecute(context.Background(), &action.Request{Action: "launch_instance"})
	if inner.called != 1 {
		t.Errorf("called = %d, want 1", inner.called)
	}
	if out.Reason != security.ReasonBudgetExceeded {
		t.Errorf("reason = %q", out.Reason)
	}

	val := counterValue(t, metrics.Registry, "warden_engine_decisions_total",
		prometheus.Labels{"action": "launch_instance", "status": "blocked", "reason": "budget_exceeded"})
	if val != 1 {
		t.Errorf("decisions = %v, want 1", val)
	}
	val = counterValue(t, metrics.Registry, "warden_guard_checks_total",
		prometheus.Labels{"guard": "budget", "result": "exceeded"})
	if val != 1 {
		t.Errorf("budget guard checks = %v, want 1", val)
	}
}

func TestInstrumentedEngine_BackupGuard(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockAuthorizer{out: &action.Outcome{
		Status: action.StatusRequiresConfirmation,
		Backup: &security.BackupStatus{HasBackup: true, HasRecentBackup: true},
	}}
	eng := NewInstrumentedEngine(inner, metrics, nil)
	eng.AuthorizeAndExecute(context.Background(), &action.Request{Action: "delete_volume"})

	val := counterValue(t, metrics.Registry, "warden_guard_checks_total",
		prometheus.Labels{"guard": "backup", "result": "recent"})
	if val != 1 {
		t.Errorf("backup guard checks = %v, want 1", val)
	}
}

func TestInstrumentedEngine_NilMetrics(t *testing.T) {
	inner := &mockAuthorizer{out: &action.Outcome{Status: action.StatusExecuted}}
	eng := NewInstrumentedEngine(inner, nil, nil)
	if out := eng.AuthorizeAndExecute(context.Background(), &action.Request{Action: "help"}); !out.Executed() {
		t.Errorf("status = %q, want executed", out.Status)
	}
}

// --- InstrumentedBackend ---

func TestInstrumentedBackend_CountsByStatus(t *testing.T) {
	metrics := NewMetricsCollector()
	mem := backend.NewMemoryBackend(discardLogger())
	mem.AddInstance("i-1", "web", "", "")
	b := NewInstrumentedBackend(mem, metrics, nil)
	ctx := context.Background()

	if _, err := b.Execute(ctx, "stop_instance", map[string]any{"instance_id": "i-1"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	mem.FailNext("start_instance", errors.New("throttled"))
	if _, err := b.Execute(ctx, "start_instance", map[string]any{"instance_id": "i-1"}); err == nil {
		t.Fatal("expected injected failure")
	}
	if _, err := b.Describe(ctx, "i-1"); err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	if _, err := b.ListBackups(ctx, "i-1"); err != nil {
		t.Fatalf("ListBackups() error: %v", err)
	}

	cases := []struct {
		op, status string
	}{
		{"stop_instance", "success"},
		{"start_instance", "error"},
		{"describe", "success"},
		{"list_backups", "success"},
	}
	for _, tc := range cases {
		val := counterValue(t, metrics.Registry, "warden_backend_calls_total",
			prometheus.Labels{"operation": tc.op, "status": tc.status})
		if val != 1 {
			t.Errorf("%s/%s = %v, want 1", tc.op, tc.status, val)
		}
	}
}

// --- InstrumentedAuditLog ---

type failingAudit struct{}

func (failingAudit) Append(context.Context, security.AuditRecord) error {
	return errors.New("disk full")
}

func (failingAudit) Query(context.Context, security.AuditQuery) ([]security.AuditRecord, error) {
	return nil, nil
}

func TestInstrumentedAuditLog(t *testing.T) {
	metrics := NewMetricsCollector()
	mem := security.NewMemoryAuditLog()
	log := NewInstrumentedAuditLog(mem, metrics)
	ctx := context.Background()

	if err := log.Append(ctx, security.AuditRecord{LogID: "a", Status: security.StatusSuccess}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if mem.Len() != 1 {
		t.Errorf("inner records = %d, want 1", mem.Len())
	}
	if val := counterValue(t, metrics.Registry, "warden_audit_writes_total", prometheus.Labels{"status": "success"}); val != 1 {
		t.Errorf("writes = %v, want 1", val)
	}

	failing := NewInstrumentedAuditLog(failingAudit{}, metrics)
	if err := failing.Append(ctx, security.AuditRecord{LogID: "b"}); err == nil {
		t.Fatal("expected error from failing log")
	}
	if val := counterValue(t, metrics.Registry, "warden_audit_write_failures_total", nil); val != 1 {
		t.Errorf("failures = %v, want 1", val)
	}
}

// --- InstrumentedTokenStore ---

func TestInstrumentedTokenStore_VerifyReasons(t *testing.T) {
	metrics := NewMetricsCollector()
	store := NewInstrumentedTokenStore(confirmation.NewMemoryStore(time.Minute, discardLogger()), metrics)
	ctx := context.Background()

	tok, err := store.Issue(ctx, "delete_volume", map[string]any{"volume_id": "vol-1"})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if _, err := store.VerifyAndConsume(ctx, tok.Value); err != nil {
		t.Fatalf("VerifyAndConsume() error: %v", err)
	}
	if _, err := store.VerifyAndConsume(ctx, tok.Value); err == nil {
		t.Fatal("expected replay to fail")
	}

	for _, tc := range []struct {
		op, result string
	}{
		{"issue", "ok"},
		{"verify", "ok"},
		{"verify", confirmation.ReasonNotFound},
	} {
		val := counterValue(t, metrics.Registry, "warden_confirmation_token_operations_total",
			prometheus.Labels{"operation": tc.op, "result": tc.result})
		if val != 1 {
			t.Errorf("%s/%s = %v, want 1", tc.op, tc.result, val)
		}
	}
}

// --- InstrumentedParser ---

type mockParser struct {
	result intent.Intent
	called int
}

func (m *mockParser) Parse(context.Context, string) intent.Intent {
	m.called++
	return m.result
}

func TestInstrumentedParser(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockParser{result: intent.Help()}
	p := NewInstrumentedParser(inner, metrics, nil)

	if got := p.Parse(context.Background(), "what can you do"); !got.IsHelp() {
		t.Errorf("Parse() = %+v, want help", got)
	}
	inner.result = intent.Intent{Action: "list_instances", Parameters: map[string]any{}}
	p.Parse(context.Background(), "show my servers")

	if inner.called != 2 {
		t.Errorf("called = %d, want 2", inner.called)
	}
	for _, result := range []string{"help", "parsed"} {
		if val := counterValue(t, metrics.Registry, "warden_intent_parses_total", prometheus.Labels{"result": result}); val != 1 {
			t.Errorf("%s = %v, want 1", result, val)
		}
	}
}

// --- InstrumentedProvider ---

type mockProvider struct {
	name   string
	resp   *llm.Response
	err    error
	called int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) SendMessage(context.Context, *llm.Request) (*llm.Response, error) {
	m.called++
	return m.resp, m.err
}

func TestInstrumentedProvider_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockProvider{
		name: "anthropic",
		resp: &llm.Response{Content: "{}", Usage: llm.Usage{InputTokens: 100, OutputTokens: 20}},
	}
	p := NewInstrumentedProvider(inner, metrics, nil)

	if _, err := p.SendMessage(context.Background(), &llm.Request{}); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q", p.Name())
	}
	if val := counterValue(t, metrics.Registry, "warden_llm_requests_total", prometheus.Labels{"provider": "anthropic", "status": "success"}); val != 1 {
		t.Errorf("requests = %v, want 1", val)
	}
	if val := counterValue(t, metrics.Registry, "warden_llm_tokens_total", prometheus.Labels{"provider": "anthropic", "direction": "input"}); val != 100 {
		t.Errorf("input tokens = %v, want 100", val)
	}
}

func TestInstrumentedProvider_Error(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockProvider{name: "anthropic", err: errors.New("rate limited")}
	p := NewInstrumentedProvider(inner, metrics, nil)

	if _, err := p.SendMessage(context.Background(), &llm.Request{}); err == nil {
		t.Fatal("expected error")
	}
	if val := counterValue(t, metrics.Registry, "warden_llm_requests_total", prometheus.Labels{"provider": "anthropic", "status": "error"}); val != 1 {
		t.Errorf("error requests = %v, want 1", val)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
