// Package app wires config, storage and the workflow engine for the CLI and
// the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/berntpopp/gene-curator-sub000/internal/config"
	"github.com/berntpopp/gene-curator-sub000/internal/db"
	"github.com/berntpopp/gene-curator-sub000/internal/engine"
	"github.com/berntpopp/gene-curator-sub000/internal/engine/auth"
	"github.com/berntpopp/gene-curator-sub000/internal/logging"
	"github.com/berntpopp/gene-curator-sub000/internal/metrics"
	"github.com/berntpopp/gene-curator-sub000/internal/migrate"
	"github.com/berntpopp/gene-curator-sub000/internal/workflow"
)

// Options override config file values. Empty fields keep the file value.
type Options struct {
	Workspace  string
	ConfigPath string
	Driver     string
	DSN        string
	LogLevel   string
	LogFormat  string
	LogOutput  io.Writer
	// Registry enables Prometheus metrics when set.
	Registry *prometheus.Registry
}

type Runtime struct {
	Config  *config.Config
	DB      *sql.DB
	Engine  engine.Engine
	Oracle  *auth.CachedOracle
	Logger  *log.Logger
	Metrics *metrics.WorkflowMetrics
}

// ResolveConfig loads the explicit config file if given, else the workspace
// config, else defaults, and applies overrides.
func ResolveConfig(opts Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.FromFile(opts.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.Database.DSN = opts.DSN
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Open resolves config, opens and migrates the database and builds an engine.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := ResolveConfig(opts)
	if err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := logging.New(out, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	rules, err := workflow.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	dbCfg := db.Config{Workspace: opts.Workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate.MigrateDialect(conn, dbCfg.Dialect()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	eng := engine.New(conn, dbCfg.Dialect(), rules)
	eng.Logger = logger.With("component", "engine")
	rt := &Runtime{Config: cfg, DB: conn, Logger: logger}
	if ttl := cfg.Oracle.CacheTTLSeconds; ttl > 0 {
		rt.Oracle = auth.NewCachedOracle(auth.Service{Repo: eng.Repo}, time.Duration(ttl)*time.Second)
		eng.Oracle = rt.Oracle
	}
	if opts.Registry != nil {
		m, err := metrics.NewWorkflowMetrics(opts.Registry)
		if err != nil {
			conn.Close()
			return nil, err
		}
		rt.Metrics = m
		eng.Metrics = m
	}
	rt.Engine = eng
	return rt, nil
}

// InvalidateUser drops cached permissions after a role or user change.
func (r *Runtime) InvalidateUser(userID string) {
	if r.Oracle != nil {
		r.Oracle.Invalidate(userID)
	}
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}
