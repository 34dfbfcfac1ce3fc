package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/confirmation"
	"github.com/jkaninda/warden/internal/security"
)

// Authorizer is the contract consumed by entry points and instrumentation.
type Authorizer interface {
	AuthorizeAndExecute(ctx context.Context, req *Request) *Outcome
}

// Options configures an Engine. Every field except AuditRetention is required.
type Options struct {
	Registry       *Registry
	Tokens         confirmation.Store
	Budget         *security.BudgetGuard
	Backups        *security.BackupGuard
	Audit          security.AuditLog
	AuditRetention time.Duration // 0 = security.DefaultAuditRetention.
	Logger         *slog.Logger
}

// Engine decides for each request whether it runs now, is blocked, or must
// wait for confirmation. It is safe for concurrent use and holds no
// cross-request locks.
type Engine struct {
	registry  *Registry
	tokens    confirmation.Store
	budget    *security.BudgetGuard
	backups   *security.BackupGuard
	audit     security.AuditLog
	retention time.Duration
	logger    *slog.Logger
}

// NewEngine validates the registry and builds an engine.
func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("action engine: registry is required")
	case opts.Tokens == nil:
		return nil, errors.New("action engine: token store is required")
	case opts.Budget == nil:
		return nil, errors.New("action engine: budget guard is required")
	case opts.Backups == nil:
		return nil, errors.New("action engine: backup guard is required")
	case opts.Audit == nil:
		return nil, errors.New("action engine: audit log is required")
	case opts.Logger == nil:
		return nil, errors.New("action engine: logger is required")
	}
	if err := opts.Registry.Validate(); err != nil {
		return nil, fmt.Errorf("action engine: %w", err)
	}
	retention := opts.AuditRetention
	if retention <= 0 {
		retention = security.DefaultAuditRetention
	}
	return &Engine{
		registry:  opts.Registry,
		tokens:    opts.Tokens,
		budget:    opts.Budget,
		backups:   opts.Backups,
		audit:     opts.Audit,
		retention: retention,
		logger:    opts.Logger,
	}, nil
}

// Registry returns the engine's action registry.
func (e *Engine) Registry() *Registry { return e.registry }

// AuthorizeAndExecute runs one request through validation, the budget and
// backup guards, the state precheck, the confirmation gate and finally the
// handler. A supplied token is consumed before the precheck, so a replay
// after the resource is gone still reports token_invalid. Every decision
// point writes an audit record.
func (e *Engine) AuthorizeAndExecute(ctx context.Context, req *Request) *Outcome {
	req = req.Normalize()
	ctx = security.ContextWithCaller(ctx, req.Caller)
	params := backend.Params(req.Parameters)
	out := &Outcome{Action: req.Action}

	h := e.registry.Get(req.Action)
	if h == nil {
		err := fmt.Errorf("%w: unknown action %q", security.ErrValidation, req.Action)
		return e.block(ctx, req, out, security.StatusFailed, err)
	}
	if err := validateParams(h, params); err != nil {
		return e.block(ctx, req, out, security.StatusFailed, err)
	}

	if cb, ok := h.(CostBearing); ok {
		if class := cb.ResourceClass(params); class != "" {
			d := e.budget.Check(ctx, class)
			out.Budget = &d
			if err := d.Err(); err != nil {
				return e.block(ctx, req, out, security.StatusFailed, err)
			}
		}
	}

	if bg, ok := h.(BackupGated); ok && h.Risk().Irreversible() && !req.SkipBackupCheck {
		if target := bg.BackupTarget(params); target != "" {
			status, err := e.backups.Check(ctx, target)
			if err != nil {
				return e.block(ctx, req, out, security.StatusFailed,
					fmt.Errorf("%w: checking backups: %w", security.ErrBackendFailure, err))
			}
			out.Backup = status
			if err := status.Err(); err != nil {
				return e.block(ctx, req, out, security.StatusRequiresConfirmation, err)
			}
		}
	}

	guarded := h.Risk().RequiresConfirmation()
	if guarded && req.ConfirmationToken != "" {
		if detail, err := e.verifyToken(ctx, req); err != nil {
			out.Detail = detail
			return e.block(ctx, req, out, security.StatusFailed, err)
		}
	} else if req.ConfirmationToken != "" {
		e.logger.DebugContext(ctx, "confirmation token ignored for unguarded action",
			slog.String("action", req.Action),
		)
	}

	if pc, ok := h.(Prechecker); ok {
		if err := pc.Precheck(ctx, params); err != nil {
			if !errors.Is(err, security.ErrPreconditionFailed) {
				err = fmt.Errorf("%w: %w", security.ErrBackendFailure, err)
			}
			return e.block(ctx, req, out, security.StatusFailed, err)
		}
	}

	if guarded && req.ConfirmationToken == "" {
		return e.requestConfirmation(ctx, req, h, out)
	}

	result, err := h.Execute(ctx, params)
	if err != nil {
		return e.block(ctx, req, out, security.StatusFailed, executionError(err))
	}

	out.Status = StatusExecuted
	out.Result = result
	out.Message = fmt.Sprintf("%s completed", h.Name())
	rec := e.record(req, security.StatusSuccess)
	rec.Result = result
	if ap, ok := h.(AuditProjector); ok {
		rec.Result = ap.AuditResult(params, result)
	}
	out.LogID = e.appendAudit(ctx, rec)

	e.logger.InfoContext(ctx, "action executed",
		slog.String("action", req.Action),
		slog.String("caller", req.Caller),
		slog.String("log_id", out.LogID),
	)
	return out
}

func (e *Engine) requestConfirmation(ctx context.Context, req *Request, h Handler, out *Outcome) *Outcome {
	tok, err := e.tokens.Issue(ctx, req.Action, req.Parameters)
	if err != nil {
		return e.block(ctx, req, out, security.StatusFailed,
			fmt.Errorf("%w: issuing confirmation token: %w", security.ErrInternal, err))
	}

	summary := fmt.Sprintf("%s (%s risk)", h.Name(), h.Risk())
	if s, ok := h.(Summarizer); ok {
		summary = s.Summary(ctx, backend.Params(req.Parameters))
	}
	expires := tok.ExpiresAt

	out.Status = StatusRequiresConfirmation
	out.Reason = security.ReasonConfirmationRequired
	out.Token = tok.Value
	out.ExpiresAt = &expires
	out.Summary = summary
	out.Message = fmt.Sprintf("%s requires confirmation. Resubmit the same request with confirmation_token %s before %s.",
		h.Name(), tok.Value, expires.Format(time.RFC3339))
	out.Err = fmt.Errorf("%w: %s", security.ErrConfirmationRequired, summary)

	rec := e.record(req, security.StatusRequiresConfirmation)
	rec.Result = map[string]any{"summary": summary, "expires_at": expires.Format(time.RFC3339)}
	out.LogID = e.appendAudit(ctx, rec)

	e.logger.InfoContext(ctx, "confirmation required",
		slog.String("action", req.Action),
		slog.String("caller", req.Caller),
		slog.Time("expires_at", expires),
	)
	return out
}

// verifyToken consumes the supplied token and checks its binding. The
// returned detail is the token reason code for invalid tokens.
func (e *Engine) verifyToken(ctx context.Context, req *Request) (string, error) {
	tok, err := e.tokens.VerifyAndConsume(ctx, req.ConfirmationToken)
	if err != nil {
		if reason := confirmation.Reason(err); reason != "" {
			return reason, fmt.Errorf("%w: %w", security.ErrTokenInvalid, err)
		}
		return "", fmt.Errorf("%w: verifying confirmation token: %w", security.ErrInternal, err)
	}
	if err := tok.Matches(req.Action, req.Parameters); err != nil {
		return confirmation.ReasonParameterMismatch, fmt.Errorf("%w: %w", security.ErrTokenInvalid, err)
	}
	return "", nil
}

// block fills a blocked outcome and audits it with the given status.
func (e *Engine) block(ctx context.Context, req *Request, out *Outcome, status security.AuditStatus, err error) *Outcome {
	out.Status = StatusBlocked
	out.Reason = security.ReasonFor(err)
	out.Message = err.Error()
	out.Err = err

	rec := e.record(req, status)
	rec.Error = err.Error()
	if out.Detail != "" {
		rec.Result = map[string]any{"detail": out.Detail}
	}
	out.LogID = e.appendAudit(ctx, rec)

	e.logger.WarnContext(ctx, "action blocked",
		slog.String("action", req.Action),
		slog.String("caller", req.Caller),
		slog.String("reason", string(out.Reason)),
		slog.String("error", err.Error()),
	)
	return out
}

func (e *Engine) record(req *Request, status security.AuditStatus) security.AuditRecord {
	rec := security.NewAuditRecord(req.Action, req.Parameters, status, req.Caller, e.retention)
	rec.Query = req.Query
	return rec
}

// appendAudit writes best-effort: a failure is logged and never changes the
// outcome.
func (e *Engine) appendAudit(ctx context.Context, rec security.AuditRecord) string {
	if err := e.audit.Append(ctx, rec); err != nil {
		e.logger.ErrorContext(ctx, "audit write failed, continuing",
			slog.String("log_id", rec.LogID),
			slog.String("action", rec.Action),
			slog.String("status", string(rec.Status)),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return rec.LogID
}

func validateParams(h Handler, p backend.Params) error {
	var missing []string
	for _, key := range h.RequiredParams() {
		if !p.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", security.ErrValidation, h.Name(), strings.Join(missing, ", "))
	}
	if err := h.Validate(p); err != nil {
		if errors.Is(err, security.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: %w", security.ErrValidation, err)
	}
	return nil
}

// executionError keeps handler errors that already carry a reason and
// marks everything else as a backend failure.
func executionError(err error) error {
	if security.ReasonFor(err) != security.ReasonInternal || errors.Is(err, security.ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %w", security.ErrBackendFailure, err)
}

var _ Authorizer = (*Engine)(nil)
