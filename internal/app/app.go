// Package app wires configuration into the services shared by the api and
// processor binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/bryanwahyu/brainvol/internal/application"
	appai "github.com/bryanwahyu/brainvol/internal/application/ai"
	appanalyses "github.com/bryanwahyu/brainvol/internal/application/analyses"
	"github.com/bryanwahyu/brainvol/internal/application/segmentation"
	appsubjects "github.com/bryanwahyu/brainvol/internal/application/subjects"
	appvolumes "github.com/bryanwahyu/brainvol/internal/application/volumes"
	"github.com/bryanwahyu/brainvol/internal/application/watcher"
	"github.com/bryanwahyu/brainvol/internal/config"
	"github.com/bryanwahyu/brainvol/internal/domain/analyses"
	"github.com/bryanwahyu/brainvol/internal/infra/ai/openai"
	"github.com/bryanwahyu/brainvol/internal/infra/db/migrations"
	mysqlp "github.com/bryanwahyu/brainvol/internal/infra/db/mysql"
	"github.com/bryanwahyu/brainvol/internal/infra/db/postgres"
	"github.com/bryanwahyu/brainvol/internal/infra/db/sqlite"
	"github.com/bryanwahyu/brainvol/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/brainvol/internal/infra/executor/freesurfer"
	"github.com/bryanwahyu/brainvol/internal/infra/httpserver"
	"github.com/bryanwahyu/brainvol/internal/infra/report"
	"github.com/bryanwahyu/brainvol/internal/infra/storage"
	"github.com/bryanwahyu/brainvol/internal/middleware"
	"github.com/bryanwahyu/brainvol/internal/stats"
)

type App struct {
	Config       *config.Config
	DB           *sql.DB
	Registry     *appsubjects.Registry
	Watcher      *watcher.Watcher
	Segmentation *segmentation.Service
	Volumes      *appvolumes.Aggregator
	Analyses     *appanalyses.Tracker
	AI           *appai.Service
	Checks       map[string]middleware.HealthChecker
	Ready        map[string]middleware.HealthChecker
}

// OpenDB connects to the configured database and applies pending migrations.
func OpenDB(ctx context.Context, cfg *config.Config) (*sql.DB, sqlstore.Dialect, error) {
	dialect, err := sqlstore.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, "", err
	}
	var db *sql.DB
	switch dialect {
	case sqlstore.MySQL:
		db, err = mysqlp.Connect(ctx, cfg.DSN())
	case sqlstore.Postgres:
		db, err = postgres.Connect(ctx, cfg.DSN())
	default:
		db, err = sqlite.Connect(ctx, cfg.DSN())
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s connect: %w", dialect, err)
	}
	if err := migrations.Up(db, string(dialect)); err != nil {
		db.Close()
		return nil, "", err
	}
	return db, dialect, nil
}

// New builds every service from cfg. logger may be nil.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	db, dialect, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	dbCheck := &middleware.DatabaseHealthChecker{DB: db}
	a := &App{
		Config: cfg,
		DB:     db,
		Checks: map[string]middleware.HealthChecker{"database": dbCheck},
		Ready:  map[string]middleware.HealthChecker{"database": dbCheck},
	}
	if err := a.build(ctx, dialect, logger); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, dialect sqlstore.Dialect, logger *log.Logger) error {
	cfg := a.Config
	clock := application.SystemClock{}
	observer := middleware.JobMetrics{}
	leaser := &application.Leaser{
		Repo:   sqlstore.NewLeaseRepository(a.DB, dialect),
		Owner:  application.NewOwnerID(),
		TTL:    cfg.Jobs.LeaseTTL,
		Clock:  clock,
		Logger: logger,
	}

	a.Registry = &appsubjects.Registry{
		Repo:     sqlstore.NewSubjectRepository(a.DB, dialect),
		Features: appsubjects.FileFeatures{Path: cfg.Data.FeaturesCSV},
		Clock:    clock,
		Logger:   logger,
	}
	a.Watcher = &watcher.Watcher{
		Dir:         cfg.Data.RawDir,
		Recursive:   cfg.Watcher.Recursive,
		Extensions:  cfg.Watcher.Extensions,
		MarkOrphans: cfg.Watcher.MarkOrphans,
		Interval:    cfg.Watcher.Interval,
		Registry:    a.Registry,
		Logger:      logger,
	}
	if cfg.Watcher.Enabled {
		watcherCheck := &middleware.WatcherHealthChecker{Watcher: a.Watcher, MaxAge: 3 * cfg.Watcher.Interval}
		a.Checks["watcher"] = watcherCheck
		a.Ready["watcher"] = watcherCheck
	}

	measurements := sqlstore.NewMeasurementRepository(a.DB, dialect)
	a.Volumes = &appvolumes.Aggregator{
		Subjects:    a.Registry,
		Repo:        measurements,
		SubjectsDir: cfg.Data.SubjectsDir,
		Logger:      logger,
	}

	runner, err := freesurfer.NewRunner(freesurfer.Config{
		Mode:           freesurfer.Mode(cfg.Segmentation.Mode),
		Command:        cfg.Segmentation.Command,
		Args:           cfg.Segmentation.Args,
		FreesurferHome: cfg.Segmentation.FreesurferHome,
		Image:          cfg.Segmentation.Image,
		LicensePath:    cfg.Segmentation.LicensePath,
		OutputLimit:    cfg.Segmentation.OutputLimit,
	})
	if err != nil {
		return err
	}
	a.Segmentation = &segmentation.Service{
		Registry:      a.Registry,
		Runner:        runner,
		Aggregator:    a.Volumes,
		Observer:      observer,
		Leases:        leaser,
		SubjectsDir:   cfg.Data.SubjectsDir,
		Concurrency:   cfg.Segmentation.Concurrency,
		Timeout:       cfg.Segmentation.Timeout,
		AutoAggregate: cfg.Segmentation.AutoAggregate,
		Logger:        logger,
	}

	artifacts, err := a.artifactStore(ctx)
	if err != nil {
		return err
	}
	correction, err := stats.ParseCorrection(cfg.Analysis.Correction)
	if err != nil {
		return err
	}
	a.Analyses = &appanalyses.Tracker{
		Repo:         sqlstore.NewAnalysisRepository(a.DB, dialect),
		Subjects:     a.Registry,
		Measurements: measurements,
		Artifacts:    artifacts,
		Engine:       analyses.Engine{},
		Observer:     observer,
		Leases:       leaser,
		Clock:        clock,
		WorkDir:      os.TempDir(),
		Correction:   correction,
		Alpha:        cfg.Analysis.Alpha,
		Logger:       logger,
	}
	if cfg.Analysis.Chart {
		a.Analyses.Charts = report.SignificanceChart{}
	}

	a.AI = &appai.Service{
		Repo:  sqlstore.NewInterpretationRepository(a.DB, dialect),
		Clock: clock,
	}
	if cfg.OpenAI.APIKey != "" {
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		a.AI.Client = client
		a.AI.Model = client.Model
	}
	return nil
}

// artifactStore picks MinIO when enabled, else the local analyses directory.
func (a *App) artifactStore(ctx context.Context) (analyses.ArtifactStore, error) {
	m := a.Config.Minio
	if !m.Enabled {
		return storage.NewLocal(a.Config.Data.AnalysesDir, "")
	}
	store, err := storage.NewMinio(ctx, m.Endpoint, m.Region, m.BucketName, m.AccessKey, m.SecretKey, m.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	a.Checks["storage"] = middleware.CheckFunc(store.Ping)
	return store, nil
}

// Services exposes the use-cases to the HTTP layer.
func (a *App) Services() httpserver.Services {
	return httpserver.Services{
		Watcher:      a.Watcher,
		Registry:     a.Registry,
		Segmentation: a.Segmentation,
		Volumes:      a.Volumes,
		Analyses:     a.Analyses,
		AI:           a.AI,
	}
}

// Options maps the server section onto router options.
func (a *App) Options() httpserver.Options {
	return httpserver.Options{
		APIKeys:     a.Config.Server.APIKeys,
		CORSOrigins: a.Config.Server.CORSOrigins,
		RateLimit:   a.Config.Server.RateLimit,
		Checks:      a.Checks,
		Ready:       a.Ready,
	}
}

// Recover fails jobs and runs whose owning process stopped renewing its lease.
func (a *App) Recover(ctx context.Context) error {
	if _, err := a.Segmentation.RecoverStale(ctx); err != nil {
		return fmt.Errorf("recover segmentation: %w", err)
	}
	if _, err := a.Analyses.RecoverStale(ctx); err != nil {
		return fmt.Errorf("recover analyses: %w", err)
	}
	return nil
}

// Wait blocks until background jobs finish.
func (a *App) Wait() {
	a.Segmentation.Wait()
	a.Analyses.Wait()
}

func (a *App) Close() error {
	return a.DB.Close()
}
