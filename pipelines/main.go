package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/execution/backend"
	"github.com/pipelink-labs/pipelink-go/internal/execution/backend/dryrun"
	"github.com/pipelink-labs/pipelink-go/internal/execution/backend/relay"
	"github.com/pipelink-labs/pipelink-go/internal/pipeline/registry"
	"github.com/pipelink-labs/pipelink-go/internal/platform/auditlog"
	"github.com/pipelink-labs/pipelink-go/internal/platform/balance"
	"github.com/pipelink-labs/pipelink-go/internal/platform/database"
	"github.com/pipelink-labs/pipelink-go/internal/platform/env"
	"github.com/pipelink-labs/pipelink-go/internal/platform/events"
	"github.com/pipelink-labs/pipelink-go/internal/platform/httpserver"
	"github.com/pipelink-labs/pipelink-go/internal/platform/lock"
	"github.com/pipelink-labs/pipelink-go/internal/platform/metrics"
	"github.com/pipelink-labs/pipelink-go/internal/platform/objectstore"
	"github.com/pipelink-labs/pipelink-go/internal/platform/ratelimit"
	"github.com/pipelink-labs/pipelink-go/internal/platform/tracing"
	"github.com/pipelink-labs/pipelink-go/internal/platform/walletauth"
	"github.com/pipelink-labs/pipelink-go/internal/repo/sqlstore"
	pipelinesvc "github.com/pipelink-labs/pipelink-go/internal/service/pipelines"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg, err := httpserver.ConfigFromEnv(serviceName, "PIPELINES", ":8080")
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}
	submitTimeout, err := env.Duration("PIPELINK_SUBMIT_TIMEOUT", 60*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	ratePerMinute, err := env.Int("PIPELINK_AUTH_RATE_PER_MINUTE", 10)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	trustProxy, err := env.Bool("PIPELINK_TRUST_PROXY", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	steps, err := loadRegistry(env.String("PIPELINK_STEP_CATALOG", ""))
	if err != nil {
		logger.Error("invalid step catalog", "error", err)
		os.Exit(2)
	}
	submitter, err := newSubmitter()
	if err != nil {
		logger.Error("invalid backend config", "error", err)
		os.Exit(2)
	}

	traceCfg, err := tracing.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid tracing config", "error", err)
		os.Exit(2)
	}
	tp, err := tracing.NewProvider(ctx, traceCfg)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(2)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if err := database.Migrate(ctx, db, dbCfg.Driver); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	readiness := []httpserver.ReadinessCheck{{
		Name: string(dbCfg.Driver),
		Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return db.PingContext(checkCtx)
		},
	}}

	reg := metrics.New()
	opts := []pipelinesvc.Option{
		pipelinesvc.WithAudit(db),
		pipelinesvc.WithMetrics(reg),
		pipelinesvc.WithLogger(logger),
		pipelinesvc.WithSubmitTimeout(submitTimeout),
		pipelinesvc.WithTracer(tp.Tracer()),
	}

	lockCfg, err := lock.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid lock config", "error", err)
		os.Exit(2)
	}
	if lockCfg.RedisURL != "" {
		rdb, err := lock.NewRedisClient(lockCfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis config", "error", err)
			os.Exit(2)
		}
		defer func() { _ = rdb.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		opts = append(opts, pipelinesvc.WithLocker(lock.NewRedis(rdb), lockCfg.TTL))
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return rdb.Ping(checkCtx).Err()
			},
		})
	} else {
		opts = append(opts, pipelinesvc.WithLocker(lock.NewLocal(), lockCfg.TTL))
	}

	eventsCfg, err := events.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid events config", "error", err)
		os.Exit(2)
	}
	if eventsCfg.Enabled() {
		nc, err := events.Connect(eventsCfg, serviceName)
		if err != nil {
			logger.Error("nats unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = nc.Drain() }()
		opts = append(opts, pipelinesvc.WithPublisher(events.NewNATSPublisher(nc, eventsCfg.Subject)))
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "nats",
			Check: func(context.Context) error {
				if !nc.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
		})
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	if storeCfg.Enabled() {
		storeClient, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		opts = append(opts, pipelinesvc.WithReceipts(objectstore.NewReceiptArchive(storeClient, storeCfg)))
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
			},
		})
	}

	balanceCfg, err := balance.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid rpc config", "error", err)
		os.Exit(2)
	}
	var balances balance.Source
	if balanceCfg.Enabled() {
		rpc, err := balance.NewRPCClient(balanceCfg, nil)
		if err != nil {
			logger.Error("invalid rpc config", "error", err)
			os.Exit(2)
		}
		balances = rpc
		opts = append(opts, pipelinesvc.WithBalances(rpc))
	}

	authCfg, err := walletauth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid wallet auth config", "error", err)
		os.Exit(2)
	}
	var sessions *walletauth.Sessions
	if authCfg.SessionsEnabled() {
		sessions, err = walletauth.NewSessions(authCfg.SessionSecret, authCfg.SessionTTL)
		if err != nil {
			logger.Error("invalid wallet auth config", "error", err)
			os.Exit(2)
		}
	}

	svc := pipelinesvc.New(steps, sqlstore.NewPipelineStore(db), sqlstore.NewAttemptStore(db), submitter, opts...)
	if svc == nil {
		logger.Error("pipeline service init failed")
		os.Exit(2)
	}

	_, openapiJSON, err := loadOpenAPI(ctx)
	if err != nil {
		logger.Error("invalid openapi document", "error", err)
		os.Exit(2)
	}

	var limiterOpts []ratelimit.Option
	if trustProxy {
		limiterOpts = append(limiterOpts, ratelimit.WithTrustedProxy())
	}
	api := &pipelinesAPI{
		logger:   logger,
		svc:      svc,
		sessions: sessions,
		audit:    db,
		limiter:  ratelimit.New(ratePerMinute, limiterOpts...),
		balances: balances,
		openapi:  openapiJSON,
		now:      time.Now,
	}
	if authCfg.RequireSession {
		api.guard = &walletauth.Middleware{
			Logger:   logger,
			Sessions: sessions,
			Audit:    auditlog.DenyRecorder(db, serviceName, 750*time.Millisecond),
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, readiness...))
	mux.Handle("GET /metrics", reg.Handler())
	api.register(mux)

	logger.Info("pipelines configured",
		"database", string(dbCfg.Driver),
		"backend", backendName(),
		"step_types", len(steps.Names()),
		"redis_lock", lockCfg.RedisURL != "",
		"events", eventsCfg.Enabled(),
		"receipts", storeCfg.Enabled(),
		"balance_rpc", balanceCfg.Enabled(),
		"tracing", tp.Exporting(),
		"wallet_sessions", sessions != nil,
		"require_session", authCfg.RequireSession,
	)

	handler := httpserver.Wrap(logger, serviceName, mux,
		httpserver.WithRequestObserver(reg.ObserveRequest),
		httpserver.WithTracer(tp.Tracer()),
	)
	if err := httpserver.Run(ctx, logger, httpCfg, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func loadRegistry(path string) (*registry.Registry, error) {
	catalog := registry.DefaultCatalog()
	if path = strings.TrimSpace(path); path != "" {
		loaded, err := registry.LoadCatalogFile(path)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	return registry.NewWithCatalog(catalog)
}

func backendName() string {
	return strings.ToLower(env.String("PIPELINK_BACKEND", "dryrun"))
}

func newSubmitter() (backend.Submitter, error) {
	switch name := backendName(); name {
	case "dryrun":
		rate, err := env.Float("PIPELINK_DRYRUN_FAILURE_RATE", 0)
		if err != nil {
			return nil, err
		}
		latency, err := env.Duration("PIPELINK_DRYRUN_LATENCY", 0)
		if err != nil {
			return nil, err
		}
		return dryrun.New(dryrun.WithFailureRate(rate), dryrun.WithLatency(latency)), nil
	case "relay":
		client, err := relay.New(env.String("PIPELINK_RELAY_URL", ""), nil)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("PIPELINK_BACKEND must be dryrun or relay, got %q", name)
	}
}
