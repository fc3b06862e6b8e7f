package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ChuLiYu/replydraft/internal/controller"
	"github.com/ChuLiYu/replydraft/internal/generation"
	"github.com/ChuLiYu/replydraft/internal/httpapi"
	"github.com/ChuLiYu/replydraft/internal/metrics"
	"github.com/ChuLiYu/replydraft/internal/retrieval"
	"github.com/ChuLiYu/replydraft/internal/rulesync"
	"github.com/ChuLiYu/replydraft/internal/server"
	"github.com/ChuLiYu/replydraft/internal/store"
	"github.com/ChuLiYu/replydraft/internal/tasks"
)

const shutdownTimeout = 10 * time.Second

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the replydraft job service",
		Long:  "Start the controller, the gRPC and HTTP APIs and the rules watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSystem(ctx, cfg)
		},
	}
}

// app is the wired service without its listeners.
type app struct {
	store   *store.Store
	index   *retrieval.Index
	engine  *generation.Engine
	ctrl    *controller.Controller
	rules   *rulesync.Watcher
	metrics *metrics.Collector
	logger  *slog.Logger
}

// buildApp opens storage, rebuilds the retrieval index from persisted
// documents, syncs the rules file and starts the controller.
func buildApp(ctx context.Context, cfg *Config) (*app, error) {
	a := &app{logger: slog.Default()}

	st, err := store.Open(cfg.dataDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	a.index = retrieval.NewIndex()
	docs, err := st.AllDocuments(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	indexed := 0
	for user, d := range docs {
		indexed += a.index.Upsert(user, d)
	}
	a.logger.Info("retrieval index rebuilt", "users", len(docs), "documents", indexed)

	if cfg.Storage.RulesFile != "" {
		a.rules = rulesync.NewWatcher(cfg.Storage.RulesFile, st, rulesync.WithLogger(a.logger))
		// a bad file is logged and the stored rules are kept
		_ = a.rules.Sync(ctx)
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewCollector()
	}

	a.engine = generation.NewEngine(cfg.Generation,
		generation.WithRetriever(a.index),
		generation.WithProfiles(st),
		generation.WithRules(st),
		generation.WithMetrics(a.metrics),
		generation.WithLogger(a.logger),
	)

	handlers := tasks.Handlers(tasks.Deps{
		Engine:    a.engine,
		Index:     a.index,
		Documents: st,
		Profiles:  st,
		Logger:    a.logger,
	})
	ctrl, err := controller.NewController(cfg.controllerConfig(), handlers, controller.WithMetrics(a.metrics))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}
	if err := ctrl.Start(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to start controller: %w", err)
	}
	a.ctrl = ctrl
	return a, nil
}

// Close stops the controller before closing storage so in-flight handlers
// can still persist.
func (a *app) Close() error {
	a.ctrl.Stop()
	return a.store.Close()
}

func (a *app) httpHandler() http.Handler {
	deps := httpapi.Deps{Jobs: a.ctrl, Logger: a.logger}
	if a.metrics != nil {
		deps.Metrics = metrics.Handler()
	}
	return httpapi.NewHandler(deps)
}

func runSystem(ctx context.Context, cfg *Config) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.GRPCPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.rules != nil {
		g.Go(func() error { return a.rules.Run(gctx) })
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           a.httpHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info("HTTP API listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	grpcSrv := server.NewGRPCServer(a.ctrl, a.logger)
	g.Go(func() error {
		a.logger.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcSrv.GracefulStop()
		return nil
	})

	if a.metrics != nil && cfg.Metrics.Port != 0 && cfg.Metrics.Port != cfg.Server.HTTPPort {
		go func() {
			a.logger.Info("metrics server listening", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	a.logger.Info("replydraft started")
	err = g.Wait()
	a.logger.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
