package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/security"
)

// QueryRequest is the JSON body for POST /v1/query.
type QueryRequest struct {
	Query             string `json:"query"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
	SkipBackupCheck   bool   `json:"skip_backup_check,omitempty"`
}

// ActionRequest is the JSON body for POST /v1/actions.
type ActionRequest struct {
	Action            string         `json:"action"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	ConfirmationToken string         `json:"confirmation_token,omitempty"`
	SkipBackupCheck   bool           `json:"skip_backup_check,omitempty"`
}

// ActionResponse is the engine outcome plus the request's correlation ID.
type ActionResponse struct {
	*action.Outcome
	CorrelationID string `json:"correlation_id"`
}

// AuditResponse is the JSON response for GET /v1/audit.
type AuditResponse struct {
	Records []security.AuditRecord `json:"records"`
	Count   int                    `json:"count"`
}

// PricingResponse is the JSON response for GET /v1/pricing.
type PricingResponse struct {
	MaxHourlyCost float64               `json:"max_hourly_cost"`
	Entries       []security.PriceEntry `json:"entries"`
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleQuery(c *okapi.Context) error {
	caller := c.GetString(callerKey)

	var req QueryRequest
	if err := g.bind(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorBody{Error: "invalid request body"})
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return c.JSON(http.StatusBadRequest, ErrorBody{Error: "No query provided"})
	}

	in := g.parser.Parse(observability.RequestContext(c), query)

	return g.run(c, &action.Request{
		Action:            in.Action,
		Parameters:        in.Parameters,
		Caller:            caller,
		Query:             query,
		ConfirmationToken: req.ConfirmationToken,
		SkipBackupCheck:   req.SkipBackupCheck,
	})
}

func (g *Gateway) handleAction(c *okapi.Context) error {
	caller := c.GetString(callerKey)

	var req ActionRequest
	if err := g.bind(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorBody{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Action) == "" {
		return c.JSON(http.StatusBadRequest, ErrorBody{Error: "action is required"})
	}

	return g.run(c, &action.Request{
		Action:            req.Action,
		Parameters:        req.Parameters,
		Caller:            caller,
		ConfirmationToken: req.ConfirmationToken,
		SkipBackupCheck:   req.SkipBackupCheck,
	})
}

func (g *Gateway) run(c *okapi.Context, req *action.Request) error {
	correlationID := newCorrelationID()
	out := g.engine.AuthorizeAndExecute(observability.RequestContext(c), req)

	g.logger.Info("http action",
		slog.String("caller", req.Caller),
		slog.String("correlation_id", correlationID),
		slog.String("action", out.Action),
		slog.String("status", string(out.Status)),
		slog.String("reason", string(out.Reason)),
	)
	return c.JSON(StatusCode(out), ActionResponse{Outcome: out, CorrelationID: correlationID})
}

func (g *Gateway) handleListActions(c *okapi.Context) error {
	return c.OK(g.catalog.Describe())
}

func (g *Gateway) handleAudit(c *okapi.Context) error {
	q := security.AuditQuery{Action: c.Request().URL.Query().Get("action")}
	if raw := c.Request().URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, ErrorBody{Error: "limit must be a non-negative integer"})
		}
		q.Limit = limit
	}

	records, err := g.audit.Query(observability.RequestContext(c), q)
	if err != nil {
		g.logger.Error("audit query failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("audit query failed")
	}
	if records == nil {
		records = []security.AuditRecord{}
	}
	return c.OK(AuditResponse{Records: records, Count: len(records)})
}

func (g *Gateway) handlePricing(c *okapi.Context) error {
	return c.OK(PricingResponse{
		MaxHourlyCost: g.budget.Ceiling(),
		Entries:       g.budget.Table(),
	})
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if !status.OK() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// bind caps the body at MaxRequestSize before decoding it.
func (g *Gateway) bind(c *okapi.Context, v any) error {
	r := c.Request()
	if r.Body == nil {
		return errors.New("empty body")
	}
	r.Body = http.MaxBytesReader(nil, r.Body, g.config.MaxRequestSize)
	return c.Bind(v)
}
