package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Budget Guard ---

func TestBudgetGuard_ExceedsCeiling(t *testing.T) {
	g := NewBudgetGuard(0.10, map[string]float64{"x.big": 0.20}, discardLogger())

	d := g.Check(context.Background(), "x.big")
	if d.Allowed {
		t.Fatal("expected decision to disallow")
	}
	if d.MonthlyCost != 146.00 {
		t.Errorf("monthly cost = %v, want 146.00", d.MonthlyCost)
	}
	if d.HourlyCost != 0.20 || d.Ceiling != 0.10 {
		t.Errorf("hourly/ceiling = %v/%v, want 0.20/0.10", d.HourlyCost, d.Ceiling)
	}
	if d.Reason == "" {
		t.Error("expected a reason on disallowed decision")
	}
	if !errors.Is(d.Err(), ErrBudgetExceeded) {
		t.Errorf("Err() = %v, want ErrBudgetExceeded", d.Err())
	}
}

func TestBudgetGuard_ComparesHourlyNotMonthly(t *testing.T) {
	// t3.large is $0.0832/h ($60.74/month): under a $0.10/h ceiling even
	// though its monthly equivalent is far above 0.10.
	g := NewBudgetGuard(0.10, nil, discardLogger())
	d := g.Check(context.Background(), "t3.large")
	if !d.Allowed {
		t.Fatalf("expected t3.large allowed, reason: %s", d.Reason)
	}
	if d.MonthlyCost != 60.74 {
		t.Errorf("monthly cost = %v, want 60.74", d.MonthlyCost)
	}
}

func TestBudgetGuard_UnknownClassFailsOpen(t *testing.T) {
	g := NewBudgetGuard(0.01, nil, discardLogger())
	d := g.Check(context.Background(), "z9.unobtainium")
	if !d.Allowed {
		t.Fatal("unknown class should be allowed")
	}
	if d.Known {
		t.Error("unknown class should report Known=false")
	}
	if d.HourlyCost != 0 {
		t.Errorf("hourly cost = %v, want 0", d.HourlyCost)
	}
}

func TestBudgetGuard_DefaultCeiling(t *testing.T) {
	g := NewBudgetGuard(0, nil, discardLogger())
	if g.Ceiling() != DefaultMaxHourlyCost {
		t.Errorf("ceiling = %v, want %v", g.Ceiling(), DefaultMaxHourlyCost)
	}
	if !g.Check(context.Background(), "m5.4xlarge").Allowed {
		t.Error("m5.4xlarge ($0.768/h) should fit the default $1/h ceiling")
	}
}

func TestBudgetGuard_CostDiff(t *testing.T) {
	g := NewBudgetGuard(1, nil, discardLogger())
	if got := g.CostDiff("t3.micro", "t3.small"); got != 7.59 {
		t.Errorf("diff = %v, want 7.59", got)
	}
	if got := g.CostDiff("t3.small", "t3.micro"); got != -7.59 {
		t.Errorf("diff = %v, want -7.59", got)
	}
}

func TestBudgetGuard_TableSorted(t *testing.T) {
	g := NewBudgetGuard(1, nil, discardLogger())
	table := g.Table()
	if len(table) != len(DefaultPricing) {
		t.Fatalf("table has %d entries, want %d", len(table), len(DefaultPricing))
	}
	if table[0].ResourceClass != "t3.nano" {
		t.Errorf("cheapest = %q, want t3.nano", table[0].ResourceClass)
	}
	for i := 1; i < len(table); i++ {
		if table[i].HourlyCost < table[i-1].HourlyCost {
			t.Fatalf("table not sorted at %d", i)
		}
	}
}

func TestBudgetGuard_LoadPricingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	if err := os.WriteFile(path, []byte("t3.micro: 0.5\ngpu.huge: 3.2\n"), 0600); err != nil {
		t.Fatal(err)
	}

	g := NewBudgetGuard(1, nil, discardLogger())
	if err := g.LoadPricingFile(path); err != nil {
		t.Fatalf("LoadPricingFile: %v", err)
	}
	if c, _ := g.HourlyCost("t3.micro"); c != 0.5 {
		t.Errorf("t3.micro = %v, want override 0.5", c)
	}
	if g.Check(context.Background(), "gpu.huge").Allowed {
		t.Error("gpu.huge should exceed the $1/h ceiling")
	}
	if _, ok := g.HourlyCost("m5.large"); !ok {
		t.Error("defaults should survive a reload")
	}
}

func TestPricingWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	if err := os.WriteFile(path, []byte("t3.micro: 0.5\n"), 0600); err != nil {
		t.Fatal(err)
	}
	g := NewBudgetGuard(1, nil, discardLogger())
	if err := g.LoadPricingFile(path); err != nil {
		t.Fatalf("LoadPricingFile: %v", err)
	}

	w, err := NewPricingWatcher(g, path, discardLogger())
	if err != nil {
		t.Fatalf("NewPricingWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := os.WriteFile(path, []byte("t3.micro: 0.9\n"), 0600); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c, _ := g.HourlyCost("t3.micro"); c == 0.9 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	c, _ := g.HourlyCost("t3.micro")
	t.Fatalf("t3.micro = %v after write, want 0.9", c)
}

func TestBudgetGuard_LoadPricingFileRejectsNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")
	if err := os.WriteFile(path, []byte(`{"t3.micro": -1}`), 0600); err != nil {
		t.Fatal(err)
	}
	g := NewBudgetGuard(1, nil, discardLogger())
	if err := g.LoadPricingFile(path); err == nil {
		t.Fatal("expected error for negative cost")
	}
	if c, _ := g.HourlyCost("t3.micro"); c != DefaultPricing["t3.micro"] {
		t.Errorf("t3.micro = %v, table should be unchanged", c)
	}
}

// --- Backup Guard ---

type stubLister struct {
	backups []Backup
	err     error
}

func (s *stubLister) ListBackups(_ context.Context, _ string) ([]Backup, error) {
	return s.backups, s.err
}

func newTestBackupGuard(l BackupLister, now time.Time) *BackupGuard {
	g := NewBackupGuard(l, 0, discardLogger())
	g.now = func() time.Time { return now }
	return g
}

func TestBackupGuard_NoBackups(t *testing.T) {
	g := newTestBackupGuard(&stubLister{}, time.Now())
	status, err := g.Check(context.Background(), "i-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status.HasBackup || status.HasRecentBackup {
		t.Errorf("has_backup=%v has_recent=%v, want false/false", status.HasBackup, status.HasRecentBackup)
	}
	if status.Recommendation == "" {
		t.Error("expected a recommendation")
	}
	if !errors.Is(status.Err(), ErrBackupMissing) {
		t.Errorf("Err() = %v, want ErrBackupMissing", status.Err())
	}
}

func TestBackupGuard_StaleBackup(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	g := newTestBackupGuard(&stubLister{backups: []Backup{
		{ID: "ami-old", CreatedAt: now.Add(-30 * 24 * time.Hour)},
		{ID: "ami-newest", CreatedAt: now.Add(-10 * 24 * time.Hour)},
	}}, now)

	status, err := g.Check(context.Background(), "i-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !status.HasBackup {
		t.Error("expected has_backup=true")
	}
	if status.HasRecentBackup {
		t.Error("expected has_recent_backup=false for a 10-day-old backup")
	}
	if status.Latest == nil || status.Latest.ID != "ami-newest" {
		t.Errorf("latest = %+v, want ami-newest", status.Latest)
	}
	if status.LatestAgeDays != 10 {
		t.Errorf("age = %d days, want 10", status.LatestAgeDays)
	}
}

func TestBackupGuard_RecentBackup(t *testing.T) {
	now := time.Now().UTC()
	g := newTestBackupGuard(&stubLister{backups: []Backup{
		{ID: "ami-1", CreatedAt: now.Add(-2 * 24 * time.Hour)},
		{ID: "ami-2", CreatedAt: now.Add(-9 * 24 * time.Hour)},
	}}, now)

	status, err := g.Check(context.Background(), "i-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !status.HasRecentBackup {
		t.Fatal("expected a recent backup")
	}
	if status.RecentCount != 1 || status.TotalCount != 2 {
		t.Errorf("recent/total = %d/%d, want 1/2", status.RecentCount, status.TotalCount)
	}
	if status.Err() != nil {
		t.Errorf("Err() = %v, want nil", status.Err())
	}
}

func TestBackupGuard_ListError(t *testing.T) {
	g := newTestBackupGuard(&stubLister{err: fmt.Errorf("throttled")}, time.Now())
	if _, err := g.Check(context.Background(), "i-1"); err == nil {
		t.Fatal("expected error from lister")
	}
}

// --- Errors ---

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{nil, ReasonNone},
		{fmt.Errorf("%w: unknown action", ErrValidation), ReasonValidation},
		{fmt.Errorf("wrapped: %w", fmt.Errorf("%w: x", ErrBudgetExceeded)), ReasonBudgetExceeded},
		{ErrBackupMissing, ReasonBackupMissing},
		{ErrTokenInvalid, ReasonTokenInvalid},
		{ErrPreconditionFailed, ReasonPreconditionFailed},
		{ErrBackendFailure, ReasonBackendFailure},
		{errors.New("boom"), ReasonInternal},
	}
	for _, tt := range tests {
		if got := ReasonFor(tt.err); got != tt.want {
			t.Errorf("ReasonFor(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestParseRiskLevel(t *testing.T) {
	if ParseRiskLevel("low") != RiskLow {
		t.Error("low")
	}
	if ParseRiskLevel("bogus") != RiskCritical {
		t.Error("unknown levels should default to critical")
	}
	if !RiskHigh.RequiresConfirmation() || RiskMedium.RequiresConfirmation() {
		t.Error("confirmation threshold should be high")
	}
	if RiskHigh.Irreversible() || !RiskCritical.Irreversible() {
		t.Error("only critical is irreversible")
	}
}

func TestCallerContext(t *testing.T) {
	ctx := ContextWithCaller(context.Background(), "ops@example.com")
	if got := CallerFromContext(ctx); got != "ops@example.com" {
		t.Errorf("caller = %q", got)
	}
	if got := CallerFromContext(context.Background()); got != "" {
		t.Errorf("empty context caller = %q, want empty", got)
	}
}
