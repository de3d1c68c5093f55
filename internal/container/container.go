package container

import (
	"context"
	"fmt"

	"didlab/adapters/postgres"
	"didlab/adapters/report"
	"didlab/adapters/tabular"
	"didlab/app"
	"didlab/internal"
	"didlab/internal/causal"
	"didlab/internal/config"
	"didlab/internal/metrics"
	"didlab/internal/migration"
	"didlab/internal/testkit"
	"didlab/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB *sqlx.DB

	// Adapters
	Reader  ports.TableReader
	Writer  ports.ReportWriter
	RunRepo ports.RunRepository
	Metrics *metrics.Metrics

	// Application services
	Analysis *app.AnalysisService
}

// New creates a container whose runs are archived in memory until a
// database is attached
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))
	}

	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Reader:  tabular.NewReader(logger),
		Writer:  report.NewWriter(cfg.Output, logger),
		RunRepo: testkit.NewInMemoryRunRepository(),
		Metrics: metrics.NewMetrics(),
	}
	c.buildService()
	return c, nil
}

// InitWithDatabase connects to the configured archive, migrates it and
// rebuilds the service with the run repository attached. It is a no-op when
// no database URL is configured.
func (c *Container) InitWithDatabase(ctx context.Context) error {
	if !c.Config.Database.Enabled() {
		c.Logger.Debug("no DATABASE_URL set, runs are kept in memory")
		return nil
	}

	db, err := sqlx.ConnectContext(ctx, c.Config.Database.Driver, c.Config.Database.URL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if c.Config.Database.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return c.AttachDatabase(ctx, db)
}

// AttachDatabase uses an already opened connection for the archive
func (c *Container) AttachDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}

	runner := migration.NewRunner()
	if err := runner.Run(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate run archive: %w", err)
	}

	c.DB = db
	c.RunRepo = postgres.NewRunRepository(db)
	c.buildService()
	c.Logger.Info("run archive ready (%s, schema %s)", db.DriverName(), runner.Version())
	return nil
}

func (c *Container) buildService() {
	c.Analysis = app.NewAnalysisService(c.Reader, causal.OptionsFromConfig(c.Config.Analysis), c.Logger,
		app.WithReportWriter(c.Writer),
		app.WithRunRepository(c.RunRepo),
		app.WithMetrics(c.Metrics),
		app.WithOutputDir(c.Config.Output.Dir),
		app.WithMaxConcurrentRuns(c.Config.Analysis.MaxConcurrentRuns),
	)
}

// Shutdown releases the database connection and flushes the logger
func (c *Container) Shutdown(ctx context.Context) error {
	defer c.Logger.Sync()
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
