package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/ddsetl/internal/cleansing"
	"github.com/rpattn/ddsetl/internal/config"
	"github.com/rpattn/ddsetl/internal/db"
	"github.com/rpattn/ddsetl/internal/logging"
	"github.com/rpattn/ddsetl/internal/pipeline"
	"github.com/rpattn/ddsetl/internal/readiness"
	"github.com/rpattn/ddsetl/internal/repository"
	"github.com/rpattn/ddsetl/internal/secondary"
	"github.com/rpattn/ddsetl/internal/transform"
	"github.com/rpattn/ddsetl/internal/warehouse"

	"go.uber.org/zap"
)

var errNotReady = errors.New("database did not become ready")

// app carries the validated configuration and logger shared by commands.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

func loadApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// waitForDatabase polls the primary store with the configured budget.
// Zero arguments fall back to the configured values.
func (a *app) waitForDatabase(ctx context.Context, retries int, delay time.Duration) error {
	maxRetries := a.cfg.Readiness.MaxRetries
	if retries > 0 {
		maxRetries = retries
	}
	wait := a.cfg.Readiness.Delay
	if delay > 0 {
		wait = delay
	}

	if !readiness.WaitUntilReady(ctx, db.NewProbe(a.cfg.Database), maxRetries, wait, a.logger) {
		return errNotReady
	}
	return nil
}

// connect waits for the primary store and opens a pool.
func (a *app) connect(ctx context.Context) (*db.Connection, error) {
	if err := a.waitForDatabase(ctx, 0, 0); err != nil {
		return nil, err
	}
	conn, err := db.NewConnection(ctx, a.cfg.Database, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

// stack is every component wired against one connection.
type stack struct {
	engine       *transform.Engine
	records      *repository.RecordRepository
	runs         repository.PipelineRunRepository
	mart         repository.MartRepository
	orchestrator *pipeline.Orchestrator
}

func (a *app) buildStack(conn *db.Connection) (*stack, error) {
	thresholds, err := a.cfg.Thresholds()
	if err != nil {
		return nil, err
	}

	records := repository.NewRecordRepository(conn)
	engine := transform.NewEngine(records, cleansing.NewRuleset(thresholds), a.logger.Named("transform"))
	mart := repository.NewMartRepository(conn)
	runs := repository.NewPipelineRunRepository(conn.Pool)

	var migrator pipeline.Migrator
	if a.cfg.Secondary.Path != "" {
		migrator = secondary.NewMigrator(records, a.cfg.Secondary.Path, a.logger.Named("secondary"))
	}

	orchestrator := pipeline.New(
		engine,
		warehouse.NewLoader(mart, a.logger.Named("warehouse")),
		migrator,
		pipeline.WithRecorder(runs),
		pipeline.WithLogger(a.logger.Named("pipeline")),
	)

	return &stack{
		engine:       engine,
		records:      records,
		runs:         runs,
		mart:         mart,
		orchestrator: orchestrator,
	}, nil
}
