// Command appvend runs the licensing and distribution API server.
//
// Two listeners come up: the public API on APPVEND_PORT and the
// health/metrics endpoints on APPVEND_HEALTH_PORT. Configuration is
// entirely environment driven, see pkg/config.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/appvend/appvend/pkg/analytics"
	"github.com/appvend/appvend/pkg/api"
	"github.com/appvend/appvend/pkg/apps"
	"github.com/appvend/appvend/pkg/audit"
	"github.com/appvend/appvend/pkg/auth"
	"github.com/appvend/appvend/pkg/cache"
	"github.com/appvend/appvend/pkg/config"
	"github.com/appvend/appvend/pkg/contextkeys"
	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/files"
	"github.com/appvend/appvend/pkg/identity"
	"github.com/appvend/appvend/pkg/license"
	"github.com/appvend/appvend/pkg/middleware"
	"github.com/appvend/appvend/pkg/observability"
	"github.com/appvend/appvend/pkg/orgs"
	"github.com/appvend/appvend/pkg/rbac"
	"github.com/appvend/appvend/pkg/settings"
	"github.com/appvend/appvend/pkg/sso"
	"github.com/appvend/appvend/pkg/webhooks"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting appvend")

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}
	adapter := database.NewSQL(db, "postgres")

	var (
		store       cache.Cache
		redisClient *redis.Client
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("invalid redis URL: %v", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		store = cache.NewRedisWithClient(redisClient)
	} else {
		memory, err := cache.NewMemory(4096)
		if err != nil {
			log.Fatalf("failed to build memory cache: %v", err)
		}
		store = memory
		logger.Warn("no redis configured, sessions and rate limits are per-instance")
	}

	settingsStore := settings.NewDBStore(adapter)
	identities := identity.NewStore(adapter)
	federation := identity.NewFederationStore(adapter)
	roles := rbac.NewAssignmentStore(adapter)
	appStore := apps.NewStore(adapter)
	licenses := license.NewService(adapter)
	memberships := orgs.NewService(adapter, identities, roles)
	usage := analytics.NewService(adapter)
	keyring := auth.NewKeyring([]byte(cfg.Auth.APIKeySecret), identities)

	auditLogger, err := buildAudit(cfg.Audit, adapter)
	if err != nil {
		log.Fatalf("failed to build audit sink: %v", err)
	}

	blob, err := buildBlob(context.Background(), cfg.Blob)
	if err != nil {
		log.Fatalf("failed to build blob store: %v", err)
	}
	pipeline := files.NewPipeline(appStore, licenses, blob, files.Limits{
		UploadLimit: cfg.Limits.UploadLimit,
		PostLimit:   cfg.Limits.PostLimit,
		MemoryLimit: cfg.Limits.MemoryLimit,
	}, nil)

	sessions, err := buildSessions(context.Background(), cfg.Auth, store)
	if err != nil {
		log.Fatalf("failed to build session lookup: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	subscriptions := webhooks.NewSubscriptionStore(adapter)
	dispatcher := webhooks.NewDispatcher(observability.WithLogger(context.Background(), logger), subscriptions, nil)
	dispatcher.StartRetries(30 * time.Second)

	server := api.NewServer(api.Deps{
		Apps:       appStore,
		Licenses:   licenses,
		Pipeline:   pipeline,
		Roles:      roles,
		Identities: identities,
		Keyring:    keyring,
		Audit:      auditLogger,
		Metrics:    metrics,
		Orgs:       memberships,
		Analytics:  usage,
		Webhooks:   subscriptions,
		Dispatcher: dispatcher,
	})
	router := mux.NewRouter()
	server.RegisterRoutes(router)

	if cfg.Auth.SSOConfigFile != "" {
		ssoCfg, err := sso.LoadConfig(cfg.Auth.SSOConfigFile)
		if err != nil {
			log.Fatalf("failed to load SSO config: %v", err)
		}
		ssoService, err := sso.NewService(ssoCfg, identities, federation, settingsStore, store)
		if err != nil {
			log.Fatalf("failed to build SSO providers: %v", err)
		}
		sso.NewHandlers(ssoService).RegisterRoutes(router)
		logger.WithField("providers", len(ssoService.Providers())).Info("SAML SSO enabled")
	}

	if cfg.Auth.OIDCIssuerURL != "" && cfg.Auth.OIDCClientSecret != "" {
		login, err := sso.NewOIDCLogin(context.Background(), sso.OIDCLoginConfig{
			IssuerURL:    cfg.Auth.OIDCIssuerURL,
			ClientID:     cfg.Auth.OIDCClientID,
			ClientSecret: cfg.Auth.OIDCClientSecret,
			RedirectURL:  cfg.Auth.OIDCRedirectURL,
		})
		if err != nil {
			log.Fatalf("failed to build OIDC login: %v", err)
		}
		sso.NewOIDCHandlers(login).RegisterRoutes(router)
		logger.Info("OIDC browser login enabled")
	}

	authenticator := &middleware.Authenticator{
		Settings:   settingsStore,
		Cache:      store,
		Identities: identities,
		Federation: federation,
		Roles:      roles,
		Keyring:    keyring,
		Sessions:   sessions,
		Audit:      auditLogger,
	}

	chain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Recover,
		loggerInjector(logger),
	}
	if cfg.Observability.MetricsEnabled {
		chain = append(chain, observability.HTTPMetricsMiddleware(metrics))
	}
	chain = append(chain, authenticator.Handler)
	if redisClient != nil {
		chain = append(chain, middleware.NewRateLimit(redisClient, nil, nil).Handler)
	}
	handler := middleware.Chain(chain...)(router)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:        cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:     healthMux,
		ReadTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return dispatcher.Close()
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return auditLogger.Close()
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		if redisClient != nil {
			return redisClient.Close()
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return db.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.CollectDBStats(db)
			case <-ctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		return shutdown.WaitForShutdown()
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server exited")
		os.Exit(1)
	}
	logger.Info("appvend stopped")
}

// buildAudit assembles the audit sinks named by the configured mode.
func buildAudit(cfg config.AuditConfig, db database.Adapter) (audit.Logger, error) {
	switch cfg.Mode {
	case "db":
		return audit.NewDBLogger(db), nil
	case "file":
		return audit.NewFileLogger(cfg.FilePath)
	case "both":
		fileLogger, err := audit.NewFileLogger(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return audit.Multi{audit.NewDBLogger(db), fileLogger}, nil
	case "off":
		return audit.Discard, nil
	}
	return nil, fmt.Errorf("unknown audit mode %q", cfg.Mode)
}

// buildBlob selects the package blob store.
func buildBlob(ctx context.Context, cfg config.BlobConfig) (files.Blob, error) {
	switch cfg.Type {
	case "filesystem":
		return files.NewFilesystem(cfg.FilesystemRoot), nil
	case "s3":
		return files.NewS3(ctx, files.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	}
	return nil, fmt.Errorf("unknown blob type %q", cfg.Type)
}

// buildSessions picks the session backend. With an OIDC issuer the
// session credential is the ID token itself and is verified on every
// request; otherwise sessions are resolved through the shared cache.
func buildSessions(ctx context.Context, cfg config.AuthConfig, store cache.Cache) (middleware.SessionLookup, error) {
	if cfg.OIDCIssuerURL == "" {
		return middleware.SessionsFromCache(store), nil
	}
	oidcIdentity, err := identity.NewOIDCIdentity(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID, contextkeys.GetSessionToken)
	if err != nil {
		return nil, err
	}
	return oidcIdentity.Subject, nil
}

// loggerInjector puts the process logger on the request context so
// handlers can log with the request id attached.
func loggerInjector(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestLogger := logger
			if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
				requestLogger = logger.WithField("request_id", requestID)
			}
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(ctx, requestLogger)))
		})
	}
}
