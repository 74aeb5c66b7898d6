package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/relaycore/relay/api/handlers"
	"github.com/relaycore/relay/config"
	"github.com/relaycore/relay/internal/database"
	"github.com/relaycore/relay/internal/metrics"
	"github.com/relaycore/relay/internal/server"
	"github.com/relaycore/relay/internal/telemetry"
	"github.com/relaycore/relay/relay/breaker"
	"github.com/relaycore/relay/relay/external"
	"github.com/relaycore/relay/relay/external/jwtcredential"
	"github.com/relaycore/relay/relay/external/memstub"
	"github.com/relaycore/relay/relay/health"
	"github.com/relaycore/relay/relay/health/gormstore"
	"github.com/relaycore/relay/relay/pool"
	"github.com/relaycore/relay/relay/registry"
	"github.com/relaycore/relay/relay/router"
	"github.com/relaycore/relay/relay/router/eventsink"
)

const serviceVersion = "0.1.0"

var (
	buildTime = "unknown"
	gitCommit = "unknown"
)

// app holds every long-lived collaborator wired at startup, so serve and
// the health/migrate subcommands can share the same construction path.
//
// healthStore is the single in-process relay/health.Store the router and
// pool read and write directly (router.New takes it concrete, not an
// interface). When a database is configured, gormstore.New wraps the same
// store just long enough to replay persisted rows into it at startup;
// runtime writes still land on healthStore directly, so durability here is
// startup-hydration, not continuous write-through.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *gorm.DB
	poolMgr   *database.PoolManager
	collector *metrics.Collector
	telemetry *telemetry.Providers

	registry    *registry.Registry
	descStore   *memstub.DescriptorStore
	healthStore *health.Store
	breaker     *breaker.Breaker
	router      *router.Router
}

// newApp constructs every collaborator from cfg but does not start any
// network listener.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	a.collector = metrics.NewCollector("relay", logger)

	if cfg.Telemetry.Enabled {
		providers, err := telemetry.Init(cfg.Telemetry, logger)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		a.telemetry = providers
	}

	if cfg.Database.Driver != "" {
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.db = db

		poolMgr, err := database.NewPoolManager(db, database.DefaultPoolConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("database pool: %w", err)
		}
		a.poolMgr = poolMgr
	}

	a.registry = registry.New()
	a.descStore = memstub.NewDescriptorStore()
	a.breaker = breaker.New(logger)
	a.healthStore = health.NewStore()

	if a.db != nil {
		gstore, err := gormstore.New(a.healthStore, a.db, logger)
		if err != nil {
			return nil, fmt.Errorf("health store: %w", err)
		}
		if err := gstore.LoadAll(context.Background()); err != nil {
			return nil, fmt.Errorf("health store load: %w", err)
		}
	}

	credentials := buildCredentialStore(cfg)

	for _, pc := range cfg.Providers {
		prov, err := buildProvider(pc, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.ID, err)
		}
		a.registry.Register(prov.ID(), prov)
		a.descStore.Put(external.ProviderDescriptor{
			ID:          pc.ID,
			DisplayName: pc.DisplayName,
			Enabled:     pc.Enabled,
			Priority:    pc.Priority,
			HasKey:      pc.APIKey != "",
		})
		if pc.APIKey != "" {
			if err := credentials.SaveKey(context.Background(), pc.ID, pc.APIKey); err != nil {
				return nil, fmt.Errorf("provider %q: saving credential: %w", pc.ID, err)
			}
		}
		a.healthStore.Register(pc.ID)
	}

	candidatePool := pool.New(func() []pool.Descriptor {
		descs, _ := a.descStore.List(context.Background())
		out := make([]pool.Descriptor, 0, len(descs))
		for _, d := range descs {
			out = append(out, pool.Descriptor{
				ID:          d.ID,
				Priority:    d.Priority,
				Enabled:     d.Enabled,
				HasKey:      d.HasKey,
				DisplayName: d.DisplayName,
			})
		}
		return out
	}, a.healthStore, a.breaker)

	recorder := external.EventSink(memstub.NewEventSink())
	if a.telemetry != nil {
		otelSink, err := eventsink.NewOTelSink()
		if err != nil {
			return nil, fmt.Errorf("otel event sink: %w", err)
		}
		recorder = newFanoutEventSink(recorder, otelSink)
	}
	eventSink := newMetricsEventSink(a.collector, recorder)

	a.router = router.New(
		a.registry,
		candidatePool,
		a.healthStore,
		a.breaker,
		credentials,
		memstub.NewContextBuilder(),
		eventSink,
		logger,
	)

	return a, nil
}

func buildCredentialStore(cfg *config.Config) external.CredentialStore {
	base := memstub.NewCredentialStore()
	if cfg.Security.CredentialSigningKey == "" {
		return base
	}
	return jwtcredential.New(base, []byte(cfg.Security.CredentialSigningKey))
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN()), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// mux builds the full HTTP handler tree: chat, provider, and health
// routes wrapped in the standard middleware chain.
func (a *app) mux() http.Handler {
	m := http.NewServeMux()

	store := memstub.NewMessageStore()
	chat := handlers.NewChatHandler(a.router, a.logger).WithMessageStore(store)
	m.HandleFunc("POST /v1/chat/completions", chat.HandleCompletion)
	m.HandleFunc("POST /v1/chat/completions/stream", chat.HandleStream)

	providerHandler := handlers.NewProviderHandler(a.descStore, a.healthStore, a.logger)
	m.HandleFunc("GET /v1/providers", providerHandler.HandleList)
	m.HandleFunc("PATCH /v1/providers/{id}", providerHandler.HandleUpdate)
	m.HandleFunc("GET /v1/providers/health", providerHandler.HandleHealth)

	healthHandler := handlers.NewHealthHandler(a.logger)
	if a.poolMgr != nil {
		healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", func(ctx context.Context) error {
			return a.poolMgr.Ping(ctx)
		}))
	}
	m.HandleFunc("GET /health", healthHandler.HandleHealth)
	m.HandleFunc("GET /healthz", healthHandler.HandleHealthz)
	m.HandleFunc("GET /ready", healthHandler.HandleReady)
	m.HandleFunc("GET /readyz", healthHandler.HandleReady)
	m.HandleFunc("GET /version", healthHandler.HandleVersion(serviceVersion, buildTime, gitCommit))
	m.Handle("GET /metrics", promhttp.Handler())

	chain := []func(http.Handler) http.Handler{
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		CORS(a.cfg.Server.CORSAllowedOrigins),
		RequestLogger(a.logger),
		MetricsMiddleware(a.collector),
	}
	if a.cfg.Server.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(context.Background(), a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst, a.logger))
	}
	if len(a.cfg.Server.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(a.cfg.Server.APIKeys, []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}, a.logger))
	}

	return Chain(m, chain...)
}

func (a *app) run(ctx context.Context) error {
	srvCfg := server.DefaultConfig()
	srvCfg.Addr = fmt.Sprintf(":%d", a.cfg.Server.HTTPPort)
	if a.cfg.Server.ReadTimeout > 0 {
		srvCfg.ReadTimeout = a.cfg.Server.ReadTimeout
	}
	if a.cfg.Server.WriteTimeout > 0 {
		srvCfg.WriteTimeout = a.cfg.Server.WriteTimeout
	}
	if a.cfg.Server.ShutdownTimeout > 0 {
		srvCfg.ShutdownTimeout = a.cfg.Server.ShutdownTimeout
	}

	mgr := server.NewManager(a.mux(), srvCfg, a.logger)
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	a.logger.Info("relay listening", zap.String("addr", mgr.Addr()))

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-mgr.Errors():
		if err != nil {
			a.logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	if a.poolMgr != nil {
		if err := a.poolMgr.Close(); err != nil {
			a.logger.Warn("database close failed", zap.Error(err))
		}
	}
	return nil
}
