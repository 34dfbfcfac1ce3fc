package action

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/confirmation"
	"github.com/jkaninda/warden/internal/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	engine *Engine
	be     *backend.MemoryBackend
	tokens *confirmation.MemoryStore
	audit  *security.MemoryAuditLog
}

type envOption func(*envConfig)

type envConfig struct {
	ceiling  float64
	pricing  map[string]float64
	ttl      time.Duration
	audit    security.AuditLog
	registry func(Deps) *Registry
}

func withCeiling(c float64, pricing map[string]float64) envOption {
	return func(cfg *envConfig) { cfg.ceiling, cfg.pricing = c, pricing }
}

func withTTL(ttl time.Duration) envOption {
	return func(cfg *envConfig) { cfg.ttl = ttl }
}

func withAudit(a security.AuditLog) envOption {
	return func(cfg *envConfig) { cfg.audit = a }
}

func withRegistry(fn func(Deps) *Registry) envOption {
	return func(cfg *envConfig) { cfg.registry = fn }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{ttl: confirmation.DefaultTTL, registry: NewDefaultRegistry}
	for _, o := range opts {
		o(&cfg)
	}

	logger := discardLogger()
	be := backend.NewMemoryBackend(logger)
	memAudit := security.NewMemoryAuditLog()
	var audit security.AuditLog = memAudit
	if cfg.audit != nil {
		audit = cfg.audit
	}
	budget := security.NewBudgetGuard(cfg.ceiling, cfg.pricing, logger)
	backups := security.NewBackupGuard(be, 0, logger)
	tokens := confirmation.NewMemoryStore(cfg.ttl, logger)

	reg := cfg.registry(Deps{Backend: be, Budget: budget, Backups: backups, Audit: audit})
	engine, err := NewEngine(Options{
		Registry: reg,
		Tokens:   tokens,
		Budget:   budget,
		Backups:  backups,
		Audit:    audit,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &testEnv{engine: engine, be: be, tokens: tokens, audit: memAudit}
}

func (e *testEnv) run(action, caller string, params map[string]any) *Outcome {
	return e.engine.AuthorizeAndExecute(context.Background(), &Request{Action: action, Caller: caller, Parameters: params})
}

func (e *testEnv) runWithToken(action, token string, params map[string]any) *Outcome {
	return e.engine.AuthorizeAndExecute(context.Background(), &Request{
		Action: action, Caller: "alice", Parameters: params, ConfirmationToken: token,
	})
}

func (e *testEnv) lastRecord(t *testing.T) security.AuditRecord {
	t.Helper()
	recs, err := e.audit.Query(context.Background(), security.AuditQuery{Limit: 1})
	if err != nil || len(recs) == 0 {
		t.Fatalf("expected an audit record, got %v (err=%v)", recs, err)
	}
	return recs[0]
}

func TestDeleteVolume_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddVolume("vol-1", 10, "")
	params := map[string]any{"volume_id": "vol-1"}

	first := env.run("delete_volume", "alice", params)
	if !first.RequiresConfirmation() || first.Token == "" {
		t.Fatalf("expected requires_confirmation with token, got %+v", first)
	}
	if first.ExpiresAt == nil || first.Summary == "" {
		t.Errorf("expected expiry and summary, got %+v", first)
	}
	if env.be.TotalCalls() != 0 {
		t.Fatalf("backend must not be called before confirmation")
	}
	if rec := env.lastRecord(t); rec.Status != security.StatusRequiresConfirmation {
		t.Errorf("expected requires_confirmation audit, got %s", rec.Status)
	}

	second := env.runWithToken("delete_volume", first.Token, params)
	if !second.Executed() {
		t.Fatalf("expected executed, got %+v", second)
	}
	if env.be.Calls("delete_volume") != 1 {
		t.Errorf("expected one backend call, got %d", env.be.Calls("delete_volume"))
	}
	rec := env.lastRecord(t)
	if rec.Status != security.StatusSuccess || rec.Result["deleted"] != true || rec.Caller != "alice" {
		t.Errorf("unexpected success record: %+v", rec)
	}

	third := env.runWithToken("delete_volume", first.Token, params)
	if third.Reason != security.ReasonTokenInvalid || third.Detail != confirmation.ReasonNotFound {
		t.Errorf("expected token_invalid/not_found on replay, got %s/%s", third.Reason, third.Detail)
	}
	if !errors.Is(third.Err, security.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", third.Err)
	}
	if rec := env.lastRecord(t); rec.Result["detail"] != confirmation.ReasonNotFound {
		t.Errorf("replay must be audited as a token failure, got %+v", rec)
	}
}

func TestToken_ConsumedBeforePrecheck(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddInstance("i-1", "web", "", "")
	env.be.AddVolume("vol-1", 8, "")
	params := map[string]any{"volume_id": "vol-1"}

	first := env.run("delete_volume", "alice", params)
	if !first.RequiresConfirmation() {
		t.Fatalf("expected requires_confirmation, got %+v", first)
	}

	// The volume is attached between issue and confirm.
	env.be.AddVolume("vol-1", 8, "i-1")
	second := env.runWithToken("delete_volume", first.Token, params)
	if second.Reason != security.ReasonPreconditionFailed {
		t.Fatalf("expected precondition_failed with a valid token, got %s/%s", second.Reason, second.Detail)
	}
	if env.be.Calls("delete_volume") != 0 {
		t.Errorf("backend must not delete an attached volume")
	}

	third := env.runWithToken("delete_volume", first.Token, params)
	if third.Reason != security.ReasonTokenInvalid || third.Detail != confirmation.ReasonNotFound {
		t.Errorf("expected token_invalid/not_found, got %s/%s", third.Reason, third.Detail)
	}
}

func TestGetActionLogs_AuditRecordStaysBounded(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddInstance("i-1", "web", "", "")
	env.run("stop_instance", "alice", map[string]any{"instance_id": "i-1"})

	var sizes []int
	for range 8 {
		out := env.run("get_action_logs", "alice", map[string]any{"limit": 50})
		if !out.Executed() {
			t.Fatalf("expected executed, got %+v", out)
		}
		if _, ok := out.Result["logs"]; !ok {
			t.Fatalf("caller must still receive the records, got %+v", out.Result)
		}
		rec := env.lastRecord(t)
		if _, ok := rec.Result["logs"]; ok {
			t.Fatalf("audited result must not embed prior records: %+v", rec.Result)
		}
		b, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		sizes = append(sizes, len(b))
	}
	for i, n := range sizes {
		if n > 1024 {
			t.Errorf("record %d is %d bytes, want a bounded summary", i, n)
		}
	}
	if rec := env.lastRecord(t); rec.Result["limit"] != 50 {
		t.Errorf("expected limit in audit summary, got %+v", rec.Result)
	}
}

func TestGuardedActionsWithoutToken_NeverCallBackend(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddInstance("i-1", "web", "t3.micro", backend.StateRunning)
	env.be.AddInstance("i-2", "db", "t3.micro", backend.StateStopped)
	env.be.AddBackup("ami-1", "i-1", time.Now().Add(-time.Hour))
	env.be.AddVolume("vol-1", 8, "")

	cases := []struct {
		action string
		params map[string]any
	}{
		{"terminate_instance", map[string]any{"instance_id": "i-1"}},
		{"change_instance_type", map[string]any{"instance_id": "i-2", "new_type": "t3.small"}},
		{"delete_volume", map[string]any{"volume_id": "vol-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.action, func(t *testing.T) {
			out := env.run(tc.action, "alice", tc.params)
			if !out.RequiresConfirmation() {
				t.Fatalf("expected requires_confirmation, got %s (%s)", out.Status, out.Message)
			}
			if out.Reason != security.ReasonConfirmationRequired {
				t.Errorf("unexpected reason %s", out.Reason)
			}
		})
	}
	if env.be.TotalCalls() != 0 {
		t.Errorf("backend called %d times without confirmation", env.be.TotalCalls())
	}
}

func TestToken_ParameterMismatch(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"i-1", "i-2"} {
		env.be.AddInstance(id, id, "", "")
		env.be.AddBackup("ami-"+id, id, time.Now().Add(-time.Hour))
	}

	first := env.run("terminate_instance", "alice", map[string]any{"instance_id": "i-1"})
	if !first.RequiresConfirmation() {
		t.Fatalf("expected requires_confirmation, got %+v", first)
	}

	out := env.runWithToken("terminate_instance", first.Token, map[string]any{"instance_id": "i-2"})
	if out.Reason != security.ReasonTokenInvalid || out.Detail != confirmation.ReasonParameterMismatch {
		t.Fatalf("expected parameter_mismatch, got %s/%s", out.Reason, out.Detail)
	}
	if env.be.TotalCalls() != 0 {
		t.Errorf("backend must not run on mismatch")
	}
	if rec := env.lastRecord(t); rec.Status != security.StatusFailed {
		t.Errorf("expected failed audit, got %s", rec.Status)
	}

	// The token was consumed by the failed attempt.
	retry := env.runWithToken("terminate_instance", first.Token, map[string]any{"instance_id": "i-1"})
	if retry.Detail != confirmation.ReasonNotFound {
		t.Errorf("expected not_found after mismatch, got %s", retry.Detail)
	}
}

func TestToken_ActionMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddVolume("vol-1", 8, "")
	env.be.AddInstance("i-1", "", "", backend.StateStopped)

	first := env.run("delete_volume", "alice", map[string]any{"volume_id": "vol-1"})
	out := env.runWithToken("change_instance_type", first.Token, map[string]any{"instance_id": "i-1", "new_type": "t3.small"})
	if out.Detail != confirmation.ReasonParameterMismatch {
		t.Errorf("expected mismatch for a token of another action, got %s/%s", out.Reason, out.Detail)
	}
}

func TestToken_Expired(t *testing.T) {
	env := newTestEnv(t, withTTL(time.Millisecond))
	env.be.AddVolume("vol-1", 8, "")
	params := map[string]any{"volume_id": "vol-1"}

	first := env.run("delete_volume", "alice", params)
	time.Sleep(10 * time.Millisecond)

	out := env.runWithToken("delete_volume", first.Token, params)
	if out.Reason != security.ReasonTokenInvalid || out.Detail != confirmation.ReasonExpired {
		t.Fatalf("expected token_invalid/expired, got %s/%s", out.Reason, out.Detail)
	}
	if env.tokens.Len() != 0 {
		t.Errorf("expired token must be removed on verify")
	}
	if env.be.TotalCalls() != 0 {
		t.Errorf("backend must not run with an expired token")
	}
}

func TestToken_ConcurrentVerification(t *testing.T) {
	var calls sync.Map
	env := newTestEnv(t, withRegistry(func(Deps) *Registry {
		reg := NewRegistry()
		reg.Register(&countingHandler{calls: &calls})
		return reg
	}))
	params := map[string]any{"target": "x"}

	first := env.run("guarded_op", "alice", params)
	if !first.RequiresConfirmation() {
		t.Fatalf("expected requires_confirmation, got %+v", first)
	}

	const attempts = 16
	results := make([]*Outcome, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.runWithToken("guarded_op", first.Token, params)
		}(i)
	}
	wg.Wait()

	executed, notFound := 0, 0
	for _, r := range results {
		switch {
		case r.Executed():
			executed++
		case r.Detail == confirmation.ReasonNotFound:
			notFound++
		}
	}
	if executed != 1 || notFound != attempts-1 {
		t.Errorf("expected 1 executed and %d not_found, got %d/%d", attempts-1, executed, notFound)
	}
}

func TestBudget_Exceeded(t *testing.T) {
	env := newTestEnv(t, withCeiling(0.10, map[string]float64{"x.big": 0.20}))

	out := env.run("launch_instance", "alice", map[string]any{"instance_type": "x.big"})
	if out.Reason != security.ReasonBudgetExceeded {
		t.Fatalf("expected budget_exceeded, got %s", out.Reason)
	}
	if out.Budget == nil || out.Budget.Allowed || out.Budget.MonthlyCost != 146.00 {
		t.Errorf("unexpected budget decision: %+v", out.Budget)
	}
	if env.be.TotalCalls() != 0 {
		t.Errorf("backend must not run when over budget")
	}
	if rec := env.lastRecord(t); rec.Status != security.StatusFailed {
		t.Errorf("expected failed audit, got %s", rec.Status)
	}
}

func TestBudget_UnknownClassFailsOpen(t *testing.T) {
	env := newTestEnv(t, withCeiling(0.01, nil))
	out := env.run("launch_instance", "alice", map[string]any{"instance_type": "z9.mystery"})
	if !out.Executed() {
		t.Fatalf("unknown class should be allowed, got %+v", out)
	}
	if out.Budget == nil || out.Budget.Known {
		t.Errorf("expected Known=false, got %+v", out.Budget)
	}
}

func TestBackup_MissingBlocksEvenWithToken(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddInstance("i-1", "web", "", "")
	params := map[string]any{"instance_id": "i-1"}

	out := env.run("terminate_instance", "alice", params)
	if out.Status != StatusBlocked || out.Reason != security.ReasonBackupMissing {
		t.Fatalf("expected backup_missing, got %s/%s", out.Status, out.Reason)
	}
	if out.Backup == nil || out.Backup.HasBackup || out.Backup.Recommendation == "" {
		t.Errorf("unexpected backup status: %+v", out.Backup)
	}
	if rec := env.lastRecord(t); rec.Status != security.StatusRequiresConfirmation {
		t.Errorf("expected requires_confirmation audit, got %s", rec.Status)
	}
	if env.tokens.Len() != 0 {
		t.Errorf("no token should be issued while the backup gate blocks")
	}

	withToken := env.runWithToken("terminate_instance", "ANYTOKEN", params)
	if withToken.Reason != security.ReasonBackupMissing {
		t.Errorf("a token must not bypass the backup gate, got %s", withToken.Reason)
	}
}

func TestBackup_StaleBlocks(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddInstance("i-1", "web", "", "")
	env.be.AddBackup("ami-old", "i-1", time.Now().Add(-10*24*time.Hour))

	out := env.run("terminate_instance", "alice", map[string]any{"instance_id": "i-1"})
	if out.Reason != security.ReasonBackupMissing {
		t.Fatalf("expected backup_missing, got %s", out.Reason)
	}
	if !out.Backup.HasBackup || out.Backup.HasRecentBackup {
		t.Errorf("expected has_backup=true has_recent_backup=false, got %+v", out.Backup)
	}
}

func TestBackup_SkipFlagViaParameters(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddInstance("i-1", "web", "", "")

	first := env.run("terminate_instance", "alice", map[string]any{"instance_id": "i-1", "skip_backup_check": true})
	if !first.RequiresConfirmation() {
		t.Fatalf("expected requires_confirmation with skip flag, got %s (%s)", first.Status, first.Message)
	}

	second := env.run("terminate_instance", "alice", map[string]any{
		"instance_id":        "i-1",
		"skip_backup":        "true",
		"confirmation_token": first.Token,
	})
	if !second.Executed() {
		t.Fatalf("expected executed, got %s (%s)", second.Status, second.Message)
	}
	if _, ok := env.lastRecord(t).Parameters["confirmation_token"]; ok {
		t.Errorf("control keys must not be recorded as parameters")
	}
}

func TestBackup_ListFailureFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddInstance("i-1", "web", "", "")
	env.be.FailNext("list_backups", errors.New("throttled"))

	out := env.run("terminate_instance", "alice", map[string]any{"instance_id": "i-1"})
	if out.Reason != security.ReasonBackendFailure {
		t.Fatalf("expected backend_failure, got %s", out.Reason)
	}
	if env.tokens.Len() != 0 {
		t.Errorf("no token should be issued")
	}
}

func TestPrecondition_AttachedVolume(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddInstance("i-1", "web", "", "")
	env.be.AddVolume("vol-1", 8, "i-1")

	out := env.run("delete_volume", "alice", map[string]any{"volume_id": "vol-1"})
	if out.Reason != security.ReasonPreconditionFailed || !strings.Contains(out.Message, "volume attached, detach first") {
		t.Fatalf("expected precondition_failed, got %s (%s)", out.Reason, out.Message)
	}
	if env.tokens.Len() != 0 {
		t.Errorf("no token should be issued for a failed precondition")
	}
}

func TestPrecondition_MissingResourceAndDescribeFailure(t *testing.T) {
	env := newTestEnv(t)

	out := env.run("delete_volume", "alice", map[string]any{"volume_id": "vol-missing"})
	if out.Reason != security.ReasonPreconditionFailed {
		t.Errorf("expected precondition_failed for missing volume, got %s", out.Reason)
	}

	env.be.AddVolume("vol-1", 8, "")
	env.be.FailNext("describe", errors.New("connection reset"))
	out = env.run("delete_volume", "alice", map[string]any{"volume_id": "vol-1"})
	if out.Reason != security.ReasonBackendFailure {
		t.Errorf("expected backend_failure when describe fails, got %s", out.Reason)
	}
}

func TestBackendFailure_NotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddInstance("i-1", "web", "", "")
	env.be.FailNext("stop_instance", errors.New("insufficient capacity"))

	out := env.run("stop_instance", "alice", map[string]any{"instance_id": "i-1"})
	if out.Reason != security.ReasonBackendFailure || !strings.Contains(out.Message, "insufficient capacity") {
		t.Fatalf("expected backend_failure with verbatim error, got %s (%s)", out.Reason, out.Message)
	}
	if env.be.Calls("stop_instance") != 1 {
		t.Errorf("expected exactly one attempt, got %d", env.be.Calls("stop_instance"))
	}
	rec := env.lastRecord(t)
	if rec.Status != security.StatusFailed || !strings.Contains(rec.Error, "insufficient capacity") {
		t.Errorf("unexpected audit record: %+v", rec)
	}
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, security.AuditRecord) error {
	return errors.New("disk full")
}

func (failingAudit) Query(context.Context, security.AuditQuery) ([]security.AuditRecord, error) {
	return nil, errors.New("disk full")
}

func TestAuditFailure_DoesNotAbort(t *testing.T) {
	env := newTestEnv(t, withAudit(failingAudit{}))
	env.be.AddVolume("vol-1", 8, "")
	params := map[string]any{"volume_id": "vol-1"}

	first := env.run("delete_volume", "alice", params)
	if !first.RequiresConfirmation() {
		t.Fatalf("expected requires_confirmation despite audit failure, got %+v", first)
	}
	if first.LogID != "" {
		t.Errorf("LogID must be empty when the audit write failed")
	}
	second := env.runWithToken("delete_volume", first.Token, params)
	if !second.Executed() {
		t.Fatalf("expected executed despite audit failure, got %+v", second)
	}
}

func TestValidation_UnknownAction(t *testing.T) {
	env := newTestEnv(t)
	out := env.run("format_disk", "alice", nil)
	if out.Status != StatusBlocked || out.Reason != security.ReasonValidation {
		t.Fatalf("expected validation_error, got %s/%s", out.Status, out.Reason)
	}
	if !strings.Contains(out.Message, "unknown action") {
		t.Errorf("unexpected message %q", out.Message)
	}
	if rec := env.lastRecord(t); rec.Status != security.StatusFailed || rec.Action != "format_disk" {
		t.Errorf("unexpected audit record: %+v", rec)
	}
}

func TestValidation_MissingParamsRunsBeforeGuards(t *testing.T) {
	env := newTestEnv(t)
	out := env.run("terminate_instance", "alice", map[string]any{"instance_id": "  "})
	if out.Reason != security.ReasonValidation || !strings.Contains(out.Message, "instance_id") {
		t.Fatalf("expected validation_error naming instance_id, got %s (%s)", out.Reason, out.Message)
	}
	if out.Backup != nil || env.tokens.Len() != 0 {
		t.Errorf("guards must not run before validation")
	}
}

func TestToken_IgnoredForUnguardedAction(t *testing.T) {
	env := newTestEnv(t)
	env.be.AddVolume("vol-1", 8, "")
	env.be.AddInstance("i-1", "web", "", "")

	first := env.run("delete_volume", "alice", map[string]any{"volume_id": "vol-1"})
	out := env.runWithToken("stop_instance", first.Token, map[string]any{"instance_id": "i-1"})
	if !out.Executed() {
		t.Fatalf("expected executed, got %+v", out)
	}
	if env.tokens.Len() != 1 {
		t.Errorf("token must not be consumed by an unguarded action")
	}
}

func TestCallerPropagatesToBackend(t *testing.T) {
	env := newTestEnv(t)
	out := env.run("launch_instance", "carol", map[string]any{"instance_type": "t3.small"})
	if !out.Executed() {
		t.Fatalf("expected executed, got %+v", out)
	}
	id, _ := out.Result["instance_id"].(string)
	st, err := env.be.Describe(context.Background(), id)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if st.Tags[backend.TagLaunchedBy] != "carol" {
		t.Errorf("expected LaunchedBy=carol, got %v", st.Tags)
	}
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	if _, err := NewEngine(Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
	logger := discardLogger()
	_, err := NewEngine(Options{
		Registry: NewRegistry(),
		Tokens:   confirmation.NewMemoryStore(0, logger),
		Budget:   security.NewBudgetGuard(0, nil, logger),
		Backups:  security.NewBackupGuard(backend.NewMemoryBackend(logger), 0, logger),
		Audit:    security.NewMemoryAuditLog(),
		Logger:   logger,
	})
	if err == nil {
		t.Fatal("expected error for an empty registry")
	}
}

// countingHandler is a guarded action without prechecks.
type countingHandler struct {
	calls *sync.Map
}

func (h *countingHandler) Name() string { return "guarded_op" }

func (h *countingHandler) Description() string { return "test" }

func (h *countingHandler) Risk() security.RiskLevel { return security.RiskHigh }

func (h *countingHandler) RequiredParams() []string { return []string{"target"} }

func (h *countingHandler) Validate(backend.Params) error { return nil }

func (h *countingHandler) Execute(_ context.Context, p backend.Params) (map[string]any, error) {
	h.calls.Store(p.String("target"), true)
	return map[string]any{"ok": true}, nil
}
