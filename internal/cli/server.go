package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nishad/seqlims/internal/api"
	"github.com/nishad/seqlims/internal/security"
)

const shutdownTimeout = 10 * time.Second

// ServerOptions are the flags of the server command.
type ServerOptions struct {
	Host      string
	Port      int
	Dev       bool
	NoAnalyze bool
}

// NewServerCmd returns the command that runs the REST API together with the
// file processing executor and the analysis scheduler.
func NewServerCmd(g *Globals) *cobra.Command {
	opts := &ServerOptions{}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the seqlims API server",
		Long: `Start the seqlims REST API server.

The server also runs the sequence file processing pipeline and, when a
workflow engine is configured, the analysis scheduler that moves submissions
through preparation, execution and result transfer.`,
		Example: `  seqlims server
  seqlims server --port 9090
  seqlims server --config /etc/seqlims/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServer(cmd.Context(), g, opts, cmd.Flags().Changed("host"), cmd.Flags().Changed("port"))
		},
	}
	cmd.Flags().StringVar(&opts.Host, "host", "", "Host to bind to (overrides server.host)")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "Port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&opts.Dev, "dev", false, "Development mode: generate a throwaway token secret when none is configured")
	cmd.Flags().BoolVar(&opts.NoAnalyze, "no-analyze", false, "Do not run the analysis scheduler")
	return cmd
}

// RunServer serves until ctx ends or SIGINT/SIGTERM arrives.
func RunServer(ctx context.Context, g *Globals, opts *ServerOptions, hostSet, portSet bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}
	if hostSet {
		cfg.Server.Host = opts.Host
	}
	if portSet {
		cfg.Server.Port = opts.Port
	}

	logger, flush, err := g.Logger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	secret := cfg.Security.JWTSecret
	if secret == "" {
		if !opts.Dev {
			return fmt.Errorf("security.jwt_secret is not set (or set SEQLIMS_JWT_SECRET)")
		}
		secret = uuid.NewString() + uuid.NewString()
		logger.Warn("using a generated token secret; tokens will not survive a restart")
	}
	tokens, err := security.NewTokenIssuer(secret, time.Duration(cfg.Security.TokenTTL)*time.Second)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Storage.Blob.Driver != "s3" {
		if err := cfg.CheckBaseDirectories(); err != nil {
			return err
		}
	}
	app.StartProcessing()

	if cfg.Search.Enabled && cfg.Search.RebuildOnStart {
		resp, err := app.RebuildSearchIndex(ctx)
		if err != nil {
			return fmt.Errorf("failed to rebuild search index: %w", err)
		}
		logger.Info("search index rebuilt", zap.Int64("documents", resp.Documents), zap.Duration("duration", resp.Duration))
	}

	serverOpts := api.Options{
		Config:   cfg.Server,
		Services: app.Services,
		Tokens:   tokens,
		Clients:  cfg.Security.Clients,
		Remote: &api.Remote{
			Projects: app.Remote.Projects,
			Samples:  app.Remote.Samples,
			APIs:     app.Remote.APIs,
		},
		DB:     app.DB,
		Logger: logger.Named("api"),
	}
	if app.Execution != nil {
		serverOpts.Status = app.Execution.Service
	}
	server, err := api.NewServer(serverOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)

	if app.Execution != nil && !opts.NoAnalyze {
		switched, err := app.Execution.Cleanup.SwitchInconsistentSubmissionsToError(ctx)
		if err != nil {
			return fmt.Errorf("failed to clean up submissions: %w", err)
		}
		if len(switched) > 0 {
			logger.Warn("interrupted submissions switched to ERROR", zap.Int("count", len(switched)))
		}
		group.Go(func() error {
			return app.Execution.Scheduler.Run(gctx)
		})
	}

	group.Go(server.Start)
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("seqlims server ready",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.Bool("analysis", app.Execution != nil && !opts.NoAnalyze),
		zap.Bool("search", app.Search.Enabled()))

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
