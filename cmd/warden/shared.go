package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/backend"
	"github.com/jkaninda/warden/internal/backend/awsbackend"
	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/confirmation"
	"github.com/jkaninda/warden/internal/intent"
	"github.com/jkaninda/warden/internal/llm"
	"github.com/jkaninda/warden/internal/llm/anthropic"
	"github.com/jkaninda/warden/internal/notification"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/secrets"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/storage"
	pgstore "github.com/jkaninda/warden/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/warden/internal/storage/sqlite"
)

// sweeper is implemented by token stores that need expired entries removed.
type sweeper interface {
	StartSweeper(ctx context.Context, interval time.Duration) func()
}

// SharedComponents holds every subsystem the commands need. Built once by
// initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Obs    *observability.Observability
	Store  storage.Store // nil unless a database-backed token store or audit log is configured.

	Tokens   confirmation.Store
	Audit    security.AuditLog
	Backend  backend.Backend
	Budget   *security.BudgetGuard
	Backups  *security.BackupGuard
	Registry *action.Registry
	Engine   action.Authorizer
	Parser   intent.Parser

	tokenSweeper sweeper                 // nil for redis, which expires keys itself.
	auditPurger  *security.StoreAuditLog // nil unless audit.backend=database.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// newLogger builds the JSON logger used by every command.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(goutils.Env("WARDEN_LOG_LEVEL", logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file, falling back to defaults and environment
// when the default path does not exist.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	path := goutils.Env("WARDEN_CONFIG", configPath)
	if _, err := os.Stat(path); os.IsNotExist(err) && path == config.DefaultConfigPath() {
		logger.Debug("no config file, using defaults", slog.String("path", path))
		return config.Default()
	}
	return config.Load(path)
}

// resolveSecrets replaces env:// and vault:// references in credential
// fields with their values.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	providers := []secrets.Provider{secrets.NewEnvProvider()}
	if cfg.Secrets != nil && cfg.Secrets.Vault != nil {
		v := cfg.Secrets.Vault
		vp, err := secrets.NewVaultProvider(secrets.VaultConfig{
			Address:       v.Address,
			Token:         v.Token,
			Namespace:     v.Namespace,
			Timeout:       time.Duration(v.TimeoutSeconds) * time.Second,
			TLSSkipVerify: v.TLSSkipVerify,
		})
		if err != nil {
			return fmt.Errorf("initializing vault: %w", err)
		}
		providers = append(providers, vp)
	}
	return secrets.NewResolver(providers...).ResolveAll(ctx, cfg.CredentialFields())
}

// initShared performs all common initialization. Callers must call
// sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{Config: cfg, Logger: logger}

	if err := resolveSecrets(ctx, cfg); err != nil {
		return nil, err
	}

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, observability.Deployment{
		Version:             version,
		BackendDriver:       cfg.Backend.Driver,
		ConfirmationBackend: cfg.Confirmation.Backend,
		StorageDriver:       cfg.StorageDriverName(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	metrics, tracer := obs.MetricsOrNil(), obs.TracerOrNil()

	// Storage, only when something persists to it.
	if cfg.Confirmation.Backend == "database" || cfg.Audit.Backend == "database" {
		store, err := initStore(ctx, cfg, logger)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		sc.Store = store
		sc.addCleanup(func() {
			if err := store.Close(); err != nil {
				logger.Error("closing store", slog.String("error", err.Error()))
			}
		})
		if health := cfg.Observability; health == nil || health.Health == nil || health.Health.IncludeDB {
			obs.Health.AddPinger("database", store)
		}
	}

	// Confirmation tokens.
	tokens, err := sc.initTokens(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing confirmation store: %w", err)
	}
	sc.Tokens = observability.NewInstrumentedTokenStore(tokens, metrics)

	// Audit log.
	audit, err := sc.initAudit(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing audit log: %w", err)
	}
	sc.Audit = observability.NewInstrumentedAuditLog(audit, metrics)

	// Resource backend.
	be, err := initBackend(ctx, cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing backend: %w", err)
	}
	sc.Backend = observability.NewInstrumentedBackend(be, metrics, tracer)

	// Guards.
	sc.Budget = security.NewBudgetGuard(cfg.Budget.MaxHourlyCostUSD, cfg.Budget.Pricing, logger)
	if cfg.Budget.PricingFile != "" {
		if err := sc.Budget.LoadPricingFile(cfg.Budget.PricingFile); err != nil {
			sc.Cleanup()
			return nil, err
		}
	}
	sc.Backups = security.NewBackupGuard(sc.Backend, cfg.Backup.Freshness(), logger)

	// Engine.
	sc.Registry = action.NewDefaultRegistry(action.Deps{
		Backend: sc.Backend,
		Budget:  sc.Budget,
		Backups: sc.Backups,
		Audit:   sc.Audit,
	})
	engine, err := action.NewEngine(action.Options{
		Registry:       sc.Registry,
		Tokens:         sc.Tokens,
		Budget:         sc.Budget,
		Backups:        sc.Backups,
		Audit:          sc.Audit,
		AuditRetention: cfg.Audit.Retention(),
		Logger:         logger,
	})
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Engine = observability.NewInstrumentedEngine(engine, metrics, tracer)
	if len(cfg.Notification.Channels) > 0 {
		notifier := newNotifier(cfg, sc.Engine, sc.Registry, logger)
		sc.Engine = notifier
		sc.addCleanup(notifier.Wait)
	}

	// Intent parser.
	sc.Parser = observability.NewInstrumentedParser(newParser(cfg, sc.Registry, metrics, tracer, logger), metrics, tracer)

	logger.Debug("warden initialized",
		slog.String("backend", cfg.Backend.Driver),
		slog.String("confirmation", cfg.Confirmation.Backend),
		slog.String("audit", cfg.Audit.Backend),
		slog.String("intent", cfg.Intent.Provider),
		slog.Int("notification_channels", len(cfg.Notification.Channels)),
		slog.Bool("metrics", metrics != nil),
		slog.Bool("tracing", tracer != nil),
	)
	return sc, nil
}

func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		store, err = initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		store, err = initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	sqlCfg := sqlitestore.Config{Path: cfg.DatabasePath(), JournalMode: "wal"}
	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			sqlCfg.Path = cfg.Storage.SQLite.Path
		}
		if cfg.Storage.SQLite.JournalMode != "" {
			sqlCfg.JournalMode = cfg.Storage.SQLite.JournalMode
		}
	}
	return sqlitestore.Open(sqlCfg, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	pg := cfg.Storage.Postgres
	store, err := pgstore.Open(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return store, nil
}

func (sc *SharedComponents) initTokens(cfg *config.Config, logger *slog.Logger) (confirmation.Store, error) {
	ttl := cfg.Confirmation.TTL()
	switch cfg.Confirmation.Backend {
	case "memory":
		s := confirmation.NewMemoryStore(ttl, logger)
		sc.tokenSweeper = s
		return s, nil
	case "redis":
		r := cfg.Confirmation.Redis
		s := confirmation.NewRedisStore(confirmation.RedisOptions{Addr: r.Addr, Password: r.Password, DB: r.DB}, ttl, logger)
		sc.addCleanup(func() { _ = s.Close() })
		if h := cfg.Observability; h == nil || h.Health == nil || h.Health.IncludeRedis {
			sc.Obs.Health.AddPinger("redis", s)
		}
		return s, nil
	case "database":
		s := confirmation.NewDBStore(sc.Store.Tokens(), ttl, logger)
		sc.tokenSweeper = s
		return s, nil
	default:
		return nil, fmt.Errorf("unknown confirmation backend: %q", cfg.Confirmation.Backend)
	}
}

func (sc *SharedComponents) initAudit(cfg *config.Config, logger *slog.Logger) (security.AuditLog, error) {
	switch cfg.Audit.Backend {
	case "memory":
		return security.NewMemoryAuditLog(), nil
	case "file":
		path := cfg.Audit.Path
		if path == "" {
			path = cfg.AuditLogPath()
		}
		fl, err := security.NewFileAuditLog(path, logger)
		if err != nil {
			return nil, err
		}
		sc.addCleanup(func() { _ = fl.Close() })
		return fl, nil
	case "database":
		sl := security.NewStoreAuditLog(sc.Store.Audit(), logger)
		sc.auditPurger = sl
		return sl, nil
	default:
		return nil, fmt.Errorf("unknown audit backend: %q", cfg.Audit.Backend)
	}
}

func initBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backend.Backend, error) {
	switch cfg.Backend.Driver {
	case "memory":
		logger.Warn("using in-memory resource backend, state is lost on exit")
		return backend.NewMemoryBackend(logger), nil
	case "aws":
		aws := cfg.Backend.AWS
		if aws == nil {
			aws = &config.AWSConfig{}
		}
		return awsbackend.New(ctx, awsbackend.Config{
			Region:        aws.Region,
			Profile:       aws.Profile,
			Endpoint:      aws.Endpoint,
			AlarmTopicARN: aws.AlarmTopicARN,
			DefaultImage:  aws.DefaultImage,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown backend driver: %q", cfg.Backend.Driver)
	}
}

func newParser(cfg *config.Config, catalog intent.Catalog, metrics *observability.MetricsCollector, tracer *observability.TracerSetup, logger *slog.Logger) intent.Parser {
	if cfg.Intent.Provider != "anthropic" {
		return intent.NewStaticParser(nil)
	}
	var provider llm.Provider = anthropic.NewClient(cfg.Intent.APIKey, cfg.Intent.Model, logger,
		anthropic.WithBaseURL(cfg.Intent.BaseURL))
	provider = observability.NewInstrumentedProvider(provider, metrics, tracer)
	return intent.NewLLMParser(provider, catalog, logger)
}

// newNotifier wraps next so executed actions at or above notification.min_risk
// are announced on every configured channel.
func newNotifier(cfg *config.Config, next action.Authorizer, registry *action.Registry, logger *slog.Logger) *notification.Notifier {
	channels := make([]notification.Channel, 0, len(cfg.Notification.Channels))
	for _, ch := range cfg.Notification.Channels {
		channels = append(channels, notification.Channel{
			Name:         ch.Name,
			Type:         ch.Type,
			URL:          ch.URL,
			ChannelID:    ch.ChannelID,
			Token:        ch.Token,
			AllowPrivate: ch.AllowPrivate,
		})
	}
	d := notification.NewDispatcher(channels, logger)
	d.RegisterSender(notification.NewWebhookSender(logger))
	d.RegisterSender(notification.NewSlackSender("", logger))
	return notification.NewNotifier(next, registry, d, security.ParseRiskLevel(cfg.Notification.MinRisk), logger)
}
