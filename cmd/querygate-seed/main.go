package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/demo/seed"
	"github.com/querygate/querygate/internal/storage"
	s3store "github.com/querygate/querygate/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		logger.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.ObjectStore
	if cfg.Target == seed.TargetParquet {
		serviceCfg, err := config.LoadFromEnv("querygate-seed")
		if err != nil {
			logger.Error("failed to load object store config", slog.Any("error", err))
			os.Exit(1)
		}
		store, err = s3store.New(ctx, s3store.Config{
			Endpoint:         serviceCfg.ObjectStore.Endpoint,
			Region:           serviceCfg.ObjectStore.Region,
			Bucket:           serviceCfg.ObjectStore.Bucket,
			AccessKeyID:      serviceCfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  serviceCfg.ObjectStore.SecretAccessKey,
			UseSSL:           serviceCfg.ObjectStore.UseSSL,
			Prefix:           serviceCfg.ObjectStore.Prefix,
			AutoCreateBucket: serviceCfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
	}

	service, err := seed.NewService(cfg, logger, store)
	if err != nil {
		logger.Error("failed to initialize seeder", slog.Any("error", err))
		os.Exit(1)
	}
	summary, err := service.Run(ctx)
	if err != nil {
		logger.Error("seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
	if summary.Objects != nil {
		logger.Info("configure the api with the parquet source",
			slog.String("QUERYGATE_SOURCE_DRIVER", "parquet"),
			slog.String("QUERYGATE_SOURCE_PARQUET_TABLES", seed.TableMapString(summary.Objects)),
		)
	}
}
