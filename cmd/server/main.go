package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/algorithm"
	"github.com/TUM-AIMED/hyfed/pkg/storage"
	"github.com/TUM-AIMED/hyfed/pkg/storage/sqlite"
	"github.com/TUM-AIMED/hyfed/server"
	"github.com/TUM-AIMED/hyfed/server/api"
	"github.com/TUM-AIMED/hyfed/server/middleware"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	smqserver "github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "server"
	defHTTPPort   = "8000"
	envPrefixHTTP = "HYFED_SERVER_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel        string        `env:"HYFED_SERVER_LOG_LEVEL"        envDefault:"info"`
	InstanceID      string        `env:"HYFED_SERVER_INSTANCE_ID"`
	DBPath          string        `env:"HYFED_SERVER_DB_PATH"`
	ResultRoot      string        `env:"HYFED_SERVER_RESULT_ROOT"      envDefault:"results"`
	GracePeriod     time.Duration `env:"HYFED_SERVER_GRACE_PERIOD"     envDefault:"300s"`
	CompensatorWait time.Duration `env:"HYFED_SERVER_COMPENSATOR_WAIT" envDefault:"600s"`
	SweepInterval   time.Duration `env:"HYFED_SERVER_SWEEP_INTERVAL"   envDefault:"60s"`
	OTELURL         url.URL       `env:"HYFED_SERVER_OTEL_URL"`
	TraceRatio      float64       `env:"HYFED_SERVER_TRACE_RATIO"      envDefault:"0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, "", cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	var records storage.ProjectRecords
	var tokens storage.TokenStore
	switch cfg.DBPath {
	case "":
		records = storage.NewMemoryRecords()
		tokens = storage.NewMemoryTokens()
	default:
		db, err := sqlite.NewDatabase(cfg.DBPath)
		if err != nil {
			logger.Error("failed to open database", slog.String("error", err.Error()))

			return
		}
		defer db.Close()
		repos := sqlite.NewRepositories(db)
		records = repos.Projects
		tokens = repos.Tokens
	}

	clock := clockwork.NewRealClock()
	pool := server.NewPool()

	svc := server.NewService(pool, records, tokens, algorithm.Default(), clock, logger, server.Config{
		ResultRoot:      cfg.ResultRoot,
		GracePeriod:     cfg.GracePeriod,
		CompensatorWait: cfg.CompensatorWait,
	})
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	g.Go(func() error {
		pool.RunSweeper(ctx, clock, cfg.SweepInterval)

		return nil
	})

	httpServerConfig := smqserver.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return smqserver.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}
