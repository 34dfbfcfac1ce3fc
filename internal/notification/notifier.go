package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/security"
)

const defaultSendTimeout = 15 * time.Second

// Notifier wraps an Authorizer and, after an action at or above minRisk
// executes, sends a notice through the dispatcher in the background.
type Notifier struct {
	next       action.Authorizer
	registry   *action.Registry
	dispatcher *Dispatcher
	minRisk    security.RiskLevel
	timeout    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

var _ action.Authorizer = (*Notifier)(nil)

// NewNotifier creates a Notifier. registry resolves each action's risk.
func NewNotifier(next action.Authorizer, registry *action.Registry, d *Dispatcher, minRisk security.RiskLevel, logger *slog.Logger) *Notifier {
	return &Notifier{
		next:       next,
		registry:   registry,
		dispatcher: d,
		minRisk:    minRisk,
		timeout:    defaultSendTimeout,
		logger:     logger,
	}
}

func (n *Notifier) AuthorizeAndExecute(ctx context.Context, req *action.Request) *action.Outcome {
	out := n.next.AuthorizeAndExecute(ctx, req)
	if !out.Executed() {
		return out
	}
	h := n.registry.Get(out.Action)
	if h == nil || h.Risk() < n.minRisk {
		return out
	}

	msg := buildMessage(req, out, h.Risk())
	sendCtx := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(sendCtx, n.timeout)
		defer cancel()
		n.dispatcher.Notify(ctx, msg)
	}()
	return out
}

// Wait blocks until in-flight notifications finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func buildMessage(req *action.Request, out *action.Outcome, risk security.RiskLevel) *Message {
	caller := req.Caller
	if caller == "" {
		caller = "unknown"
	}

	params := req.Normalize().Parameters

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s risk) executed by %s", out.Action, risk, caller)
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nParameters:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n  %s = %v", k, params[k])
		}
	}
	if out.LogID != "" {
		fmt.Fprintf(&b, "\nAudit log: %s", out.LogID)
	}

	return &Message{
		Subject: fmt.Sprintf("Warden: %s executed", out.Action),
		Body:    b.String(),
		Metadata: map[string]string{
			"action": out.Action,
			"caller": caller,
			"risk":   risk.String(),
			"log_id": out.LogID,
		},
	}
}
