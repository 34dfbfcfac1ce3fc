// Package httpapi implements the HTTP entry point for Warden.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-caller rate limiting via token bucket
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/gateway"
	"github.com/jkaninda/warden/internal/intent"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/ratelimit"
	"github.com/jkaninda/warden/internal/security"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

const callerKey = "caller"

var _ gateway.Gateway = (*Gateway)(nil)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string            // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key to caller identity.
	MaxRequestSize int64             // 0 = 1 MB.

	// Observability
	MetricsRegistry *prometheus.Registry            // Registry served at MetricsPath. Nil = no /metrics.
	MetricsPath     string                          // Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Backs /readyz.
	Metrics         *observability.MetricsCollector // HTTP middleware metrics.
	Tracer          trace.Tracer                    // HTTP middleware spans.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	engine  action.Authorizer
	parser  intent.Parser
	catalog *action.Registry
	audit   security.AuditLog
	budget  *security.BudgetGuard
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server
	okapi   *okapi.Okapi
	group   *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, engine action.Authorizer, parser intent.Parser, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		engine:  engine,
		parser:  parser,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

// WithCatalog enables GET /v1/actions.
func (g *Gateway) WithCatalog(reg *action.Registry) *Gateway {
	g.catalog = reg
	return g
}

// WithAudit enables GET /v1/audit.
func (g *Gateway) WithAudit(audit security.AuditLog) *Gateway {
	g.audit = audit
	return g
}

// WithPricing enables GET /v1/pricing.
func (g *Gateway) WithPricing(budget *security.BudgetGuard) *Gateway {
	g.budget = budget
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Warden",
			Version: "v1",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	g.routes()

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

func (g *Gateway) routes() {
	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/query", g.instrument(g.handleQuery),
		okapi.DocSummary("Parse a free-text request and run it through the engine"),
		okapi.DocTags("Actions"),
		okapi.DocRequestBody(QueryRequest{}),
		okapi.DocResponse(ActionResponse{}),
		okapi.DocResponse(http.StatusAccepted, ActionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/actions", g.instrument(g.handleAction),
		okapi.DocSummary("Authorize and execute a structured action"),
		okapi.DocTags("Actions"),
		okapi.DocRequestBody(ActionRequest{}),
		okapi.DocResponse(ActionResponse{}),
		okapi.DocResponse(http.StatusAccepted, ActionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ActionResponse{}),
		okapi.DocResponse(http.StatusForbidden, ActionResponse{}),
		okapi.DocResponse(http.StatusConflict, ActionResponse{}),
		okapi.DocResponse(http.StatusBadGateway, ActionResponse{}),
	)
	if g.catalog != nil {
		g.group.Get("/actions", g.instrument(g.handleListActions),
			okapi.DocSummary("List the action catalog"),
			okapi.DocTags("Actions"),
			okapi.DocResponse([]action.ActionInfo{}),
		)
	}
	if g.audit != nil {
		g.group.Get("/audit", g.instrument(g.handleAudit),
			okapi.DocSummary("List audit records, newest first"),
			okapi.DocTags("Audit"),
			okapi.DocResponse(AuditResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}
	if g.budget != nil {
		g.group.Get("/pricing", g.instrument(g.handlePricing),
			okapi.DocSummary("Show the pricing table and hourly ceiling"),
			okapi.DocTags("Budget"),
			okapi.DocResponse(PricingResponse{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.instrument(g.handleLiveness))
	g.okapi.Get("/readyz", g.instrument(g.handleReadiness))

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// instrument applies the metrics middleware when metrics or tracing are on.
func (g *Gateway) instrument(h okapi.HandlerFunc) okapi.HandlerFunc {
	if g.config.Metrics == nil && g.config.Tracer == nil {
		return h
	}
	return observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer)(h)
}

// --- Authentication ---

// authenticate resolves the bearer API key to a caller identity, then applies
// the caller's rate limit.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		caller := ""
		for key, id := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				caller = id
			}
		}
		if caller == "" {
			return c.AbortUnauthorized("invalid API key")
		}

		if g.limiter != nil {
			if err := g.limiter.Allow(caller); err != nil {
				return c.AbortTooManyRequests("rate limit exceeded")
			}
		}

		c.Set(callerKey, caller)
		return next(c)
	}
}

// --- Helpers ---

// StatusCode maps an engine outcome to its HTTP status.
func StatusCode(out *action.Outcome) int {
	switch out.Status {
	case action.StatusExecuted:
		return http.StatusOK
	case action.StatusRequiresConfirmation:
		return http.StatusAccepted
	}
	switch out.Reason {
	case security.ReasonValidation:
		return http.StatusBadRequest
	case security.ReasonTokenInvalid:
		return http.StatusForbidden
	case security.ReasonBudgetExceeded, security.ReasonBackupMissing,
		security.ReasonPreconditionFailed, security.ReasonConfirmationRequired:
		return http.StatusConflict
	case security.ReasonBackendFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newCorrelationID() string {
	return uuid.NewString()
}
