package seed

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/querygate/querygate/internal/storage"
)

type Summary struct {
	Target    string            `json:"target"`
	Customers int               `json:"customers"`
	Products  int               `json:"products"`
	Orders    int               `json:"orders"`
	Sales     int               `json:"sales"`
	Objects   map[string]string `json:"objects,omitempty"`
}

type Service struct {
	cfg       Config
	log       *slog.Logger
	store     storage.ObjectStore
	generator *Generator
}

// NewService builds a seeder. store is only required for the parquet target.
func NewService(cfg Config, logger *slog.Logger, store storage.ObjectStore) (*Service, error) {
	if cfg.Target == TargetParquet && store == nil {
		return nil, fmt.Errorf("object store is required for the parquet target")
	}
	if cfg.Customers <= 0 {
		return nil, fmt.Errorf("customers must be > 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		cfg:       cfg,
		log:       logger,
		store:     store,
		generator: NewGenerator(cfg.Seed),
	}, nil
}

func (s *Service) Run(ctx context.Context) (Summary, error) {
	data := s.generator.Generate(s.cfg.Customers)
	summary := Summary{
		Target:    s.cfg.Target,
		Customers: len(data.Customers),
		Products:  len(data.Products),
		Orders:    len(data.Orders),
		Sales:     len(data.Sales),
	}

	switch s.cfg.Target {
	case TargetSQLite:
		if err := WriteSQLite(ctx, s.cfg.SQLitePath, data); err != nil {
			return Summary{}, err
		}
	case TargetParquet:
		keys, err := WriteParquet(ctx, s.store, s.cfg.Dataset, data)
		if err != nil {
			return Summary{}, err
		}
		summary.Objects = keys
	default:
		return Summary{}, fmt.Errorf("unsupported seed target %q", s.cfg.Target)
	}

	s.log.Info("sample dataset written",
		slog.String("target", summary.Target),
		slog.Int("customers", summary.Customers),
		slog.Int("orders", summary.Orders),
		slog.Int("sales", summary.Sales),
	)
	return summary, nil
}
