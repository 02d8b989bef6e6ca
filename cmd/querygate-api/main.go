package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/querygate/querygate/internal/api"
	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/llm"
	"github.com/querygate/querygate/internal/nl2sql"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/patterns"
	patternspostgres "github.com/querygate/querygate/internal/patterns/postgres"
	patternssqlite "github.com/querygate/querygate/internal/patterns/sqlite"
	"github.com/querygate/querygate/internal/pipeline"
	"github.com/querygate/querygate/internal/query"
	duckdbengine "github.com/querygate/querygate/internal/query/duckdb"
	"github.com/querygate/querygate/internal/query/sqldb"
	"github.com/querygate/querygate/internal/safety"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/session"
	s3store "github.com/querygate/querygate/internal/storage/s3"
	"github.com/querygate/querygate/internal/summarize"
)

var version = "dev"

type patternStore interface {
	patterns.Store
	Ping(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("querygate-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.Error("api server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg, version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	source, sourceReady, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	store, err := openPatternStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	client, err := llm.New(llm.Config{
		BaseURL:           cfg.AI.BaseURL,
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.AI.Model,
		Temperature:       cfg.AI.Temperature,
		Timeout:           cfg.AI.Timeout,
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
		Burst:             cfg.AI.Burst,
	})
	if err != nil {
		return fmt.Errorf("init completion client: %w", err)
	}
	translator, err := nl2sql.NewChatTranslator(client, cfg.AI.SQLDialect)
	if err != nil {
		return fmt.Errorf("init translator: %w", err)
	}
	summarizer, err := summarize.NewChatSummarizer(client)
	if err != nil {
		return fmt.Errorf("init summarizer: %w", err)
	}

	validator, err := safety.NewValidator(safety.DefaultPolicy().WithDenied(cfg.Safety.ExtraDeniedKeywords...))
	if err != nil {
		return fmt.Errorf("init safety validator: %w", err)
	}

	schemas := schema.NewCache()
	if err := loadSchema(ctx, logger, schemas, source); err != nil {
		return err
	}
	sessions := session.NewManager(cfg.Session.MaxTurns, nil)
	metrics := pipeline.NewMetrics(pipeline.DefaultLatencyWindow)

	orchestrator, err := pipeline.New(pipeline.Dependencies{
		Validator:  validator,
		Schemas:    schemas,
		Source:     source,
		Patterns:   store,
		Sessions:   sessions,
		Translator: translator,
		Engine:     source,
		Summarizer: summarizer,
		Logger:     logger,
		Metrics:    metrics,
	}, pipeline.Options{
		HistoryTurns:  cfg.Session.HistoryTurns,
		RowLimit:      cfg.Safety.RowLimit,
		SchemaMaxAge:  cfg.Pipeline.SchemaMaxAge,
		ReusePatterns: cfg.Pipeline.ReusePatterns,
		Dialect:       cfg.AI.SQLDialect,
		Deadlines: pipeline.Deadlines{
			Translate: cfg.Pipeline.TranslateTimeout,
			Execute:   cfg.Pipeline.ExecuteTimeout,
			Interpret: cfg.Pipeline.InterpretTimeout,
		},
	})
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	deps := api.Dependencies{
		Logger: logger,
		Readiness: api.CombineReadinessChecks(
			api.CheckPing("source", source),
			sourceReady,
			api.CheckPing("patterns", store),
		),
		DependencyTimeout: time.Second,
		Pipeline:          orchestrator,
		Metrics:           metrics,
		Validator:         validator,
		Schemas:           schemas,
		Source:            source,
		Sessions:          sessions,
		Patterns:          store,
	}
	if cfg.Auth.Required {
		keys, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return fmt.Errorf("parse static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, keys)
	}

	go expireIdleSessions(ctx, logger, sessions, cfg.Session.IdleTTL)

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("source_driver", cfg.Source.Driver),
			slog.String("patterns_driver", cfg.Patterns.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// openSource opens the configured data source. For Parquet sources it also
// returns a readiness check that the table objects are still in the bucket.
func openSource(ctx context.Context, cfg config.Config) (query.Source, api.ReadinessCheck, error) {
	if cfg.Source.Driver != config.SourceParquet {
		source, err := sqldb.Open(ctx, sqldb.Config{
			Driver:       cfg.Source.Driver,
			DSN:          cfg.Source.DSN,
			MaxOpenConns: cfg.Source.MaxOpenConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open data source: %w", err)
		}
		return source, nil, nil
	}

	tables, err := config.ParseTableMap(cfg.Source.ParquetTables)
	if err != nil {
		return nil, nil, err
	}
	keys := make([]string, 0, len(tables))
	for _, key := range tables {
		keys = append(keys, key)
	}
	objectStore, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		RequiredKeys:     keys,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize object store: %w", err)
	}
	source, err := duckdbengine.Open(ctx, objectStore, tables)
	if err != nil {
		return nil, nil, fmt.Errorf("load parquet tables: %w", err)
	}
	return source, api.CheckPing("object_store", objectStore), nil
}

// loadSchema fills the cache before the server accepts requests. A source
// that answers pings but cannot describe its tables is a startup error.
func loadSchema(ctx context.Context, logger *slog.Logger, schemas *schema.Cache, source schema.Source) error {
	descriptor, err := schemas.Refresh(ctx, source)
	if err != nil {
		return fmt.Errorf("load data source schema: %w", err)
	}
	logger.Info("schema loaded", slog.Int("tables", len(descriptor.Tables)))
	return nil
}

func openPatternStore(ctx context.Context, cfg config.Config) (patternStore, error) {
	switch cfg.Patterns.Driver {
	case config.SourcePostgres:
		db, err := patternspostgres.Open(ctx, patternspostgres.DBConfig{
			DSN:             cfg.Patterns.DSN,
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		store := patternspostgres.NewStore(db, nil)
		if err := store.Verify(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pattern store is not migrated (run querygate-migrate): %w", err)
		}
		return store, nil
	default:
		store, err := patternssqlite.Open(ctx, cfg.Patterns.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func expireIdleSessions(ctx context.Context, logger *slog.Logger, sessions *session.Manager, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if closed := sessions.CloseIdle(ttl); closed > 0 {
				logger.Info("idle sessions closed", slog.Int("closed", closed), slog.Int("open", sessions.Len()))
			}
		}
	}
}
