package main

import (
	"bytes"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/crossfield/ssobroker/pkg/api"
	"github.com/crossfield/ssobroker/pkg/apps"
	"github.com/crossfield/ssobroker/pkg/async"
	"github.com/crossfield/ssobroker/pkg/audit"
	"github.com/crossfield/ssobroker/pkg/auth"
	"github.com/crossfield/ssobroker/pkg/config"
	"github.com/crossfield/ssobroker/pkg/export"
	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/middleware"
	"github.com/crossfield/ssobroker/pkg/observability"
	"github.com/crossfield/ssobroker/pkg/sso"
	"github.com/crossfield/ssobroker/pkg/storage"
	"github.com/crossfield/ssobroker/pkg/storage/postgres"
	"github.com/crossfield/ssobroker/pkg/storage/sqlite"
	"github.com/crossfield/ssobroker/pkg/swagger"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ssobroker %s\n", version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("Starting SSO broker")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Broker exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	store, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	logger.WithField("type", cfg.Storage.Type).Info("Storage initialized")

	registry, err := apps.NewRegistry(cfg.Registry.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to load application registry: %w", err)
	}

	policy := identity.NewDomainOrderPolicy(cfg.Identity.DefaultEmailOrder)
	tokens := auth.NewTokenRegistry()
	issueAppTokens(registry, tokens, logger)

	providers, providerDB, err := buildProviderStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize provider store: %w", err)
	}
	if providerDB != nil {
		defer providerDB.Close()
	}
	if err := seedDefaultOIDCProvider(cfg, providers, logger); err != nil {
		return fmt.Errorf("failed to seed default OIDC provider: %w", err)
	}

	trail, err := buildAuditTrail(ctx, cfg, providerDB)
	if err != nil {
		return fmt.Errorf("failed to initialize audit trail: %w", err)
	}
	var auditSink auth.AuditSink
	var auditSearcher audit.Searcher
	if trail != nil {
		defer trail.Close()
		auditSink = audit.NewAuthSink(trail)
		if searcher, ok := trail.(audit.Searcher); ok {
			auditSearcher = searcher
		}
		logger.WithField("backend", cfg.Audit.Backend).Info("Durable audit trail enabled")
	}

	provisioner := sso.NewUserProvisioner(store, policy, logger)
	sessions := sso.NewSessionManager(cfg.SSO.SessionTTL)

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
	}

	var metrics *observability.Metrics
	promRegistry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	var uploader *export.S3Uploader
	if cfg.Storage.S3Bucket != "" {
		uploader, err = export.NewS3Uploader(ctx, cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("S3 uploader unavailable, export uploads disabled")
			uploader = nil
		}
	}

	if otelProviders != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("failed to create OTel instruments: %w", err)
		}
		if cached, ok := store.(*storage.CachedStore); ok {
			cached.SetMetrics(otelMetrics)
		}
		if uploader != nil {
			uploader.SetMetrics(otelMetrics)
		}
	}

	// Redis-backed rate limiting when Redis is available so the limits hold
	// across instances, in-process buckets otherwise.
	var rateLimit mux.MiddlewareFunc
	var distributedRL *middleware.DistributedRateLimitMiddleware
	var localRL *middleware.RateLimitMiddleware
	if cfg.Server.RateLimitEnabled {
		if cfg.Storage.RedisURL != "" {
			rlClient, err := newRateLimitRedisClient(cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to initialize rate limiter: %w", err)
			}
			defer rlClient.Close()
			distributedRL = middleware.NewDistributedRateLimitMiddleware(rlClient)
			rateLimit = distributedRL.Handler
			logger.Info("Redis-backed rate limiting enabled")
		} else {
			localRL = middleware.NewRateLimitMiddleware()
			rateLimit = localRL.Handler
			logger.Info("In-process rate limiting enabled")
		}
	}

	server := api.NewServer(store, registry, policy, tokens, sessions, logger, api.Options{
		Metrics:       metrics,
		Uploader:      uploader,
		AuditSink:     auditSink,
		AuditSearcher: auditSearcher,
		RateLimit:     rateLimit,
	})
	router := server.Router()

	baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(cfg.Server.Host, cfg.Server.Port))
	ssoHandlers := sso.NewHandlers(providers, provisioner, sessions, logger, baseURL)
	if auditSink != nil {
		ssoHandlers.SetAuditSink(auditSink)
	}
	ssoHandlers.RegisterRoutes(router)
	swagger.NewHandlers().RegisterRoutes(router)

	checker := observability.NewHealthChecker(version)
	checker.Register("storage", store.HealthCheck)
	if uploader != nil {
		checker.RegisterOptional("s3", uploader.HealthCheck)
	}
	if distributedRL != nil {
		checker.RegisterOptional("ratelimit", distributedRL.HealthCheck)
	}
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, promRegistry)
	}

	var handler http.Handler = router
	if otelProviders != nil {
		handler = otelhttp.NewHandler(router, "ssobroker")
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	if localRL != nil {
		localRL.StartCleanup(bgCtx)
	}
	if cfg.Registry.WatchForChanges {
		go func() {
			defer observability.RecoverPanic(logger, "registry watcher")
			if err := registry.Watch(bgCtx); err != nil {
				logger.WithError(err).Warn("Registry watcher stopped")
			}
		}()
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SSO.SessionCleanupSchedule, func() {
		if n := sessions.CleanupExpiredSessions(); n > 0 {
			logger.WithField("sessions", n).Info("Removed expired broker sessions")
		}
		if n := tokens.CleanupExpired(); n > 0 {
			logger.WithField("tokens", n).Info("Removed expired app tokens")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule session cleanup: %w", err)
	}
	if cfg.Export.Schedule != "" && uploader != nil {
		exporter := export.NewExporter(store, logger)
		if _, err := scheduler.AddFunc(cfg.Export.Schedule, func() {
			async.SafeGo(bgCtx, cfg.Export.Timeout, "scheduled user export", func(ctx context.Context) error {
				return runScheduledExport(ctx, exporter, uploader, logger)
			})
		}); err != nil {
			return fmt.Errorf("failed to schedule user export: %w", err)
		}
		logger.WithField("schedule", cfg.Export.Schedule).Info("Scheduled user exports enabled")
	}
	scheduler.Start()

	g := new(errgroup.Group)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelBg()
		stopped := scheduler.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
		return nil
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	if err := shutdown.WaitForShutdown(); err != nil {
		return err
	}
	return g.Wait()
}

// buildStore selects the storage backend, wrapping it in the Redis cache
// when caching is enabled.
func buildStore(cfg *config.Config, logger *observability.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Storage.Type {
	case "postgres":
		store, err = postgres.NewStore(cfg.Storage)
	case "sqlite":
		store, err = sqlite.NewStore(cfg.Storage.SQLitePath)
	case "memory":
		logger.Warn("Using in-memory storage, all data is lost on restart")
		store = storage.NewMemoryStore()
	default:
		err = fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Storage.CacheEnabled && cfg.Storage.RedisURL != "" {
		cached, err := storage.NewCachedStore(store, cfg.Storage)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		logger.Info("Redis read-through cache enabled")
		return cached, nil
	}
	return store, nil
}

// buildProviderStore keeps SSO provider configs in Postgres when the broker
// itself runs on Postgres, and in memory otherwise.
func buildProviderStore(cfg *config.Config) (sso.ProviderStore, *sql.DB, error) {
	if cfg.Storage.Type != "postgres" {
		return sso.NewMemoryProviderStore(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open provider database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping provider database: %w", err)
	}

	ssoStorage := sso.NewStorage(db)
	if err := ssoStorage.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate provider tables: %w", err)
	}
	return ssoStorage, db, nil
}

// newRateLimitRedisClient dials Redis for the distributed rate limiter,
// honoring the same connection overrides as the read-through cache.
func newRateLimitRedisClient(cfg storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// runScheduledExport writes the full user export and uploads it to S3.
func runScheduledExport(ctx context.Context, exporter *export.Exporter, uploader *export.S3Uploader, logger *observability.Logger) error {
	var buf bytes.Buffer
	count, err := exporter.WriteCSV(ctx, &buf)
	if err != nil {
		return fmt.Errorf("failed to build export: %w", err)
	}

	key := export.ObjectKey(time.Now())
	if err := uploader.Upload(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to upload export: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"key":   key,
		"users": count,
	}).Info("Uploaded scheduled user export")
	return nil
}

// buildAuditTrail constructs the durable audit backend. The db backend
// reuses the provider database connection, which config validation
// guarantees exists when the backend is selected.
func buildAuditTrail(ctx context.Context, cfg *config.Config, db *sql.DB) (audit.Logger, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}

	switch cfg.Audit.Backend {
	case "file":
		return audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Audit.Path,
			Rotate:   true,
		})
	case "db":
		if db == nil {
			return nil, fmt.Errorf("db audit backend requires postgres storage")
		}
		dbLogger := audit.NewDBLogger(db)
		if err := dbLogger.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate audit tables: %w", err)
		}
		return dbLogger, nil
	default:
		return nil, fmt.Errorf("unknown audit backend: %s", cfg.Audit.Backend)
	}
}

// seedDefaultOIDCProvider registers the upstream IdP from environment config
// so a fresh deployment is usable without calling the provider API first.
func seedDefaultOIDCProvider(cfg *config.Config, providers sso.ProviderStore, logger *observability.Logger) error {
	if cfg.SSO.OIDCIssuerURL == "" || cfg.SSO.OIDCClientID == "" {
		return nil
	}

	const name = "default-oidc"
	exists, err := providers.ProviderExists(name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	provider := &sso.ProviderConfig{
		Name:          name,
		ProviderType:  sso.ProviderTypeOIDC,
		ProviderName:  sso.ProviderGenericOIDC,
		Enabled:       true,
		AutoProvision: true,
		OIDCConfig: &sso.OIDCConfig{
			ClientID:     cfg.SSO.OIDCClientID,
			ClientSecret: cfg.SSO.OIDCClientSecret,
			IssuerURL:    cfg.SSO.OIDCIssuerURL,
			RedirectURL:  cfg.SSO.OIDCRedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
		},
	}
	if err := providers.CreateProvider(provider); err != nil {
		return err
	}
	logger.WithField("provider", name).Info("Seeded upstream OIDC provider from environment")
	return nil
}

// issueAppTokens mints a bearer token per registered application plus one
// admin token for operators. The token registry lives in memory, so tokens
// are reissued on every start and must be redistributed from the logs.
func issueAppTokens(registry *apps.Registry, tokens *auth.TokenRegistry, logger *observability.Logger) {
	for _, app := range registry.All() {
		scopes := []auth.Scope{auth.ScopeSettingsRead, auth.ScopeSettingsWrite, auth.ScopeUsersRead}
		_, plaintext, err := tokens.Issue(app.Key, app.DisplayName, scopes, nil)
		if err != nil {
			logger.WithError(err).WithField("app", app.Key).Error("Failed to issue app token")
			continue
		}
		logger.WithFields(map[string]interface{}{
			"app":   app.Key,
			"token": plaintext,
		}).Info("Issued application token")
	}

	_, plaintext, err := tokens.Issue("ssoctl", "operator admin token", []auth.Scope{auth.ScopeAdmin}, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to issue operator admin token")
		return
	}
	logger.WithField("token", plaintext).Warn("Issued operator admin token, keep it secret")
}
