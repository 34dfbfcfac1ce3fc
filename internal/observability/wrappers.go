package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/confirmation"
	"github.com/jkaninda/warden/internal/intent"
	"github.com/jkaninda/warden/internal/llm"
	"github.com/jkaninda/warden/internal/security"
)

func tracerOf(ts *TracerSetup) trace.Tracer {
	if ts == nil {
		return nil
	}
	return ts.Tracer()
}

func recordSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// --- InstrumentedEngine ---

// InstrumentedEngine wraps an action.Authorizer with decision metrics and tracing.
type InstrumentedEngine struct {
	inner   action.Authorizer
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedEngine wraps the engine with observability.
func NewInstrumentedEngine(inner action.Authorizer, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedEngine {
	return &InstrumentedEngine{inner: inner, metrics: metrics, tracer: tracerOf(ts)}
}

func (e *InstrumentedEngine) AuthorizeAndExecute(ctx context.Context, req *action.Request) *action.Outcome {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "engine.authorize",
			trace.WithAttributes(
				AttrAction.String(req.Action),
				AttrCaller.String(req.Caller),
				AttrHasToken.Bool(req.ConfirmationToken != ""),
			))
		defer span.End()
	}

	start := time.Now()
	out := e.inner.AuthorizeAndExecute(ctx, req)
	duration := time.Since(start).Seconds()

	if e.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(
			AttrStatus.String(string(out.Status)),
			AttrReason.String(string(out.Reason)),
		)
		if out.Err != nil && out.Status == action.StatusBlocked {
			recordSpanError(ctx, out.Err)
		}
	}

	if e.metrics != nil {
		e.metrics.DecisionsTotal.WithLabelValues(out.Action, string(out.Status), string(out.Reason)).Inc()
		e.metrics.DecisionDuration.WithLabelValues(out.Action).Observe(duration)

		if out.Budget != nil {
			e.metrics.GuardChecksTotal.WithLabelValues("budget", budgetResult(out.Budget)).Inc()
		}
		if out.Backup != nil {
			result := "missing"
			if out.Backup.HasRecentBackup {
				result = "recent"
			}
			e.metrics.GuardChecksTotal.WithLabelValues("backup", result).Inc()
		}
	}

	return out
}

func budgetResult(d *security.BudgetDecision) string {
	switch {
	case !d.Allowed:
		return "exceeded"
	case !d.Known:
		return "unknown_class"
	default:
		return "allowed"
	}
}

// --- InstrumentedBackend ---

// InstrumentedBackend wraps a backend.Backend with call metrics and tracing.
type InstrumentedBackend struct {
	inner   backend.Backend
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedBackend wraps a resource backend with observability.
func NewInstrumentedBackend(inner backend.Backend, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedBackend {
	return &InstrumentedBackend{inner: inner, metrics: metrics, tracer: tracerOf(ts)}
}

func (b *InstrumentedBackend) Execute(ctx context.Context, act string, params map[string]any) (*backend.Result, error) {
	var res *backend.Result
	err := b.observe(ctx, act, func(ctx context.Context) error {
		var err error
		res, err = b.inner.Execute(ctx, act, params)
		return err
	})
	return res, err
}

func (b *InstrumentedBackend) ListBackups(ctx context.Context, resourceID string) ([]security.Backup, error) {
	var backups []security.Backup
	err := b.observe(ctx, "list_backups", func(ctx context.Context) error {
		var err error
		backups, err = b.inner.ListBackups(ctx, resourceID)
		return err
	})
	return backups, err
}

func (b *InstrumentedBackend) Describe(ctx context.Context, resourceID string) (*backend.ResourceState, error) {
	var state *backend.ResourceState
	err := b.observe(ctx, "describe", func(ctx context.Context) error {
		var err error
		state, err = b.inner.Describe(ctx, resourceID)
		return err
	})
	return state, err
}

func (b *InstrumentedBackend) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	if b.tracer != nil {
		var span trace.Span
		ctx, span = b.tracer.Start(ctx, "backend."+operation,
			trace.WithAttributes(AttrBackendOperation.String(operation)))
		defer span.End()
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if b.tracer != nil {
			recordSpanError(ctx, err)
		}
	}

	if b.metrics != nil {
		b.metrics.BackendCallsTotal.WithLabelValues(operation, status).Inc()
		b.metrics.BackendCallDuration.WithLabelValues(operation).Observe(duration)
	}
	return err
}

// --- InstrumentedAuditLog ---

// InstrumentedAuditLog wraps a security.AuditLog with write metrics.
type InstrumentedAuditLog struct {
	inner   security.AuditLog
	metrics *MetricsCollector
}

// NewInstrumentedAuditLog wraps an audit log with observability.
func NewInstrumentedAuditLog(inner security.AuditLog, metrics *MetricsCollector) *InstrumentedAuditLog {
	return &InstrumentedAuditLog{inner: inner, metrics: metrics}
}

func (a *InstrumentedAuditLog) Append(ctx context.Context, record security.AuditRecord) error {
	err := a.inner.Append(ctx, record)
	if a.metrics != nil {
		if err != nil {
			a.metrics.AuditWriteFailuresTotal.Inc()
		} else {
			a.metrics.AuditWritesTotal.WithLabelValues(string(record.Status)).Inc()
		}
	}
	return err
}

func (a *InstrumentedAuditLog) Query(ctx context.Context, q security.AuditQuery) ([]security.AuditRecord, error) {
	return a.inner.Query(ctx, q)
}

// --- InstrumentedTokenStore ---

// InstrumentedTokenStore wraps a confirmation.Store with operation metrics.
type InstrumentedTokenStore struct {
	inner   confirmation.Store
	metrics *MetricsCollector
}

// NewInstrumentedTokenStore wraps a token store with observability.
func NewInstrumentedTokenStore(inner confirmation.Store, metrics *MetricsCollector) *InstrumentedTokenStore {
	return &InstrumentedTokenStore{inner: inner, metrics: metrics}
}

func (s *InstrumentedTokenStore) Issue(ctx context.Context, act string, params map[string]any) (*confirmation.Token, error) {
	tok, err := s.inner.Issue(ctx, act, params)
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.TokenOpsTotal.WithLabelValues("issue", result).Inc()
	}
	return tok, err
}

func (s *InstrumentedTokenStore) VerifyAndConsume(ctx context.Context, value string) (*confirmation.Token, error) {
	tok, err := s.inner.VerifyAndConsume(ctx, value)
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = confirmation.Reason(err)
			if result == "" {
				result = "error"
			}
		}
		s.metrics.TokenOpsTotal.WithLabelValues("verify", result).Inc()
	}
	return tok, err
}

// --- InstrumentedParser ---

// InstrumentedParser wraps an intent.Parser with parse metrics and tracing.
type InstrumentedParser struct {
	inner   intent.Parser
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedParser wraps an intent parser with observability.
func NewInstrumentedParser(inner intent.Parser, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedParser {
	return &InstrumentedParser{inner: inner, metrics: metrics, tracer: tracerOf(ts)}
}

func (p *InstrumentedParser) Parse(ctx context.Context, text string) intent.Intent {
	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "intent.parse")
		defer span.End()
	}

	start := time.Now()
	in := p.inner.Parse(ctx, text)
	duration := time.Since(start).Seconds()

	if p.tracer != nil {
		trace.SpanFromContext(ctx).SetAttributes(AttrAction.String(in.Action))
	}

	if p.metrics != nil {
		result := "parsed"
		if in.IsHelp() {
			result = "help"
		}
		p.metrics.IntentParsesTotal.WithLabelValues(result).Inc()
		p.metrics.IntentParseDuration.Observe(duration)
	}
	return in
}

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics and tracing.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedProvider {
	return &InstrumentedProvider{inner: inner, metrics: metrics, tracer: tracerOf(ts)}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "llm.send_message",
			trace.WithAttributes(attribute.String("llm.provider", provider)))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if p.tracer != nil {
			recordSpanError(ctx, err)
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider).Observe(duration)
		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	return resp, err
}

func statusCode(code int) string {
	return strconv.Itoa(code)
}
