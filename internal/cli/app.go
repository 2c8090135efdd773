// Package cli wires configuration into running services for the seqlims
// binaries and provides the commands they share.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/analysis"
	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/execution"
	"github.com/nishad/seqlims/internal/notify"
	"github.com/nishad/seqlims/internal/processing"
	"github.com/nishad/seqlims/internal/remote"
	"github.com/nishad/seqlims/internal/search"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/service"
	"github.com/nishad/seqlims/internal/storage"
)

// App holds the components built from one configuration.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *database.DB
	Files    *storage.Files
	Search   *search.Manager
	Taxonomy *search.TaxonomyService
	Mailer   notify.Mailer
	Services *service.Services

	// Processing runs the file processing chain. Nil until StartProcessing.
	Processing *processing.Executor

	// Execution is nil when no workflow engine is configured.
	Execution *Execution

	Remote *RemoteClients
}

// Execution bundles the analysis pipeline components.
type Execution struct {
	Service   *analysis.ExecutionService
	Scheduler *analysis.Scheduler
	Cleanup   *analysis.CleanupService
}

// RemoteClients bundles the clients for peer instances.
type RemoteClients struct {
	Projects *remote.ProjectRemoteService
	Samples  *remote.SampleRemoteService
	APIs     *remote.APIService
}

// queueProxy lets the services be built before the processing executor
// exists. Objects submitted while no executor runs are processed inline.
type queueProxy struct {
	app   *App
	chain *processing.Chain
}

func (q *queueProxy) Submit(ctx context.Context, objectID int64) error {
	if q.app.Processing != nil {
		return q.app.Processing.Submit(ctx, objectID)
	}
	return processing.NewSyncExecutor(q.chain).Submit(ctx, objectID)
}

// Open builds every component described by cfg. The caller must Close the
// returned App.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: logger}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	dsn := cfg.Database.Path
	if cfg.Database.Driver == database.DriverPostgres {
		dsn = cfg.Database.DSN
	}
	db, err := database.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetPool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	db.SetLogger(logger.Named("database"))
	app.DB = db

	stores, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Files = storage.NewFiles(db, stores)

	manager, err := search.NewManager(cfg.Search, logger.Named("search"))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Search = manager

	if cfg.Search.TaxonomyPath != "" {
		if _, statErr := os.Stat(cfg.Search.TaxonomyPath); statErr == nil {
			taxonomy, err := search.LoadTaxonomy(cfg.Search.TaxonomyPath)
			if err != nil {
				app.Close()
				return nil, err
			}
			app.Taxonomy = taxonomy
		} else {
			logger.Debug("no taxonomy loaded", zap.String("path", cfg.Search.TaxonomyPath))
		}
	}

	app.Mailer = notify.New(cfg.Mail, cfg.Server.BaseURL, logger.Named("mail"))

	chain := processing.DefaultChain(db, app.Files, cfg.FileProcessing, logger.Named("processing"))
	app.Services = service.New(db, service.Options{
		BcryptCost:         cfg.Security.BcryptCost,
		PasswordExpiryDays: cfg.Security.PasswordExpiryDays,
		Workflows:          cfg.Execution.Workflows,
		Files:              app.Files,
		Search:             manager,
		Taxonomy:           app.Taxonomy,
		Processing:         &queueProxy{app: app, chain: chain},
		Notifier:           app.Mailer,
		Logger:             logger.Named("service"),
	})

	remoteClient := remote.NewClient(db, cfg.Remote, remote.WithLogger(logger.Named("remote")))
	app.Remote = &RemoteClients{
		Projects: remote.NewProjectRemoteService(remoteClient),
		Samples:  remote.NewSampleRemoteService(remoteClient),
		APIs:     remote.NewAPIService(remoteClient),
	}

	if cfg.Execution.Enabled {
		exec, err := newExecution(cfg, db, app.Files, app.Services, app.Mailer, logger.Named("analysis"))
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Execution = exec
	}

	return app, nil
}

func newExecution(cfg *config.Config, db *database.DB, files *storage.Files, svc *service.Services,
	mailer notify.Mailer, logger *zap.Logger) (*Execution, error) {
	client, err := execution.NewClient(cfg.Execution, execution.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	workflows := execution.NewWorkflowService(client)
	histories := execution.NewHistoriesService(client, cfg.Execution.UploadWorkers)

	types := make(map[string]string, len(cfg.Execution.Workflows))
	for _, wf := range cfg.Execution.Workflows {
		types[wf.ID] = wf.AnalysisType
	}
	workspace := analysis.NewWorkspaceService(db, files, histories, types, logger)
	exec := analysis.NewExecutionService(svc.Submissions, svc.Analyses, workspace, workflows, histories, logger)

	return &Execution{
		Service: exec,
		Scheduler: analysis.NewScheduler(exec, svc.Submissions, analysis.SchedulerOptions{
			Workers:      cfg.Execution.AnalysisWorkers,
			PollInterval: cfg.PollInterval(),
			Policy:       cfg.Execution.SchedulePolicy,
			StepTimeout:  cfg.StepTimeout(),
			Notifier:     mailer,
			Users:        db,
			Logger:       logger,
		}),
		Cleanup: analysis.NewCleanupService(svc.Submissions, logger),
	}, nil
}

// StartProcessing starts the background file processing executor.
func (a *App) StartProcessing() {
	if a.Processing != nil {
		return
	}
	chain := processing.DefaultChain(a.DB, a.Files, a.Config.FileProcessing, a.Logger.Named("processing"))
	a.Processing = processing.NewExecutor(chain, a.DB, a.Config.FileProcessing, a.Logger.Named("processing"))
}

// RebuildSearchIndex reindexes every project and sample as the system user.
func (a *App) RebuildSearchIndex(ctx context.Context) (*service.IndexResponse, error) {
	return a.Services.Search.Rebuild(security.AsSystem(ctx))
}

// Close releases everything Open acquired. Queued processing finishes first,
// bounded by a short grace period.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.Processing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		keep(a.Processing.Shutdown(ctx))
		cancel()
	}
	if a.Search != nil {
		keep(a.Search.Close())
	}
	if a.Taxonomy != nil {
		keep(a.Taxonomy.Close())
	}
	if a.DB != nil {
		keep(a.DB.Close())
	}
	if firstErr != nil {
		return fmt.Errorf("failed to close: %w", firstErr)
	}
	return nil
}
