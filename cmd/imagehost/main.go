package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"imagehost/internal/api"
	"imagehost/pkg/config"
	"imagehost/pkg/db"
	"imagehost/pkg/db/maintenance"
	"imagehost/pkg/events"
	"imagehost/pkg/imagefs"
	"imagehost/pkg/logging"
	"imagehost/pkg/probe"
	"imagehost/pkg/store"
	"imagehost/pkg/upload"
	"imagehost/pkg/version"
)

const defaultConfigPath = "configs/imagehost.yaml"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "imagehost",
		Usage:   "Host uploaded images over HTTP",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				Value:   defaultConfigPath,
				EnvVars: []string{"IMAGEHOST_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before the config; missing is fine",
				Value: ".env",
			},
		},
		Before: func(c *cli.Context) error {
			return config.LoadEnv(c.String("env-file"))
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server (default)",
				Action: serveAction,
			},
			{
				Name:  "init-config",
				Usage: "Write a default config file and exit",
				Action: func(c *cli.Context) error {
					path := c.String("config")
					if err := config.GenerateDefault(path); err != nil {
						return fmt.Errorf("failed to generate config: %w", err)
					}
					fmt.Fprintf(c.App.Writer, "Config file generated: %s\n", path)
					return nil
				},
			},
			{
				Name:  "reconcile",
				Usage: "Remove orphan files and metadata rows, then exit",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "report without deleting"},
				},
				Action: reconcileAction,
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version.Version)
					return nil
				},
			},
		},
	}
}

func serveAction(c *cli.Context) error {
	return run(c.Context, c.String("config"))
}

func reconcileAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, dir, err := openStorage(c.Context, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rep, err := maintenance.Reconcile(c.Context, st, dir, reconcileOptions(cfg, c.Bool("dry-run")))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "files=%d rows=%d orphan_files=%d orphan_rows=%d\n",
		rep.Files, rep.Rows, len(rep.OrphanFiles), len(rep.OrphanRows))
	if rep.Skipped {
		fmt.Fprintln(c.App.ErrWriter, "no metadata row matches a file on disk; nothing removed, check upload.dir and database settings")
	}
	return nil
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("Starting imagehost", "version", version.Version, "db", appCfg.DB.Driver)

	st, dir, err := openStorage(ctx, appCfg)
	if err != nil {
		return err
	}
	defer st.Close()

	probes := []probe.Probe{
		probe.Database(st),
		probe.Storage(dir),
		probe.StaticDir(appCfg.Static.Dir, "index.html", "error.html"),
	}
	if err := probe.AnalyzeResults(probe.Run(ctx, probes)); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	opts := reconcileOptions(appCfg, false)
	if appCfg.Maintenance.ReconcileOnStart {
		if _, err := maintenance.Reconcile(ctx, st, dir, opts); err != nil {
			slog.Error("Startup reconciliation failed", "error", err)
		}
	}

	hub := events.NewHub()
	defer hub.Close()

	validator := upload.NewValidator(int64(appCfg.Upload.MaxSize), appCfg.Upload.AllowedExtensions, appCfg.Upload.AllowedTypes)
	handler, err := api.NewHandler(api.Deps{
		Config:   appCfg,
		Store:    st,
		Dir:      dir,
		Pipeline: upload.New(validator, dir, st),
		Hub:      hub,
		Metrics:  api.NewMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to build routes: %w", err)
	}
	srv := api.NewServer(&appCfg.Server, handler)

	ln, err := listen(&appCfg.Server)
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return runServerLifecycle(gctx, srv, ln, quit)
	})
	g.Go(func() error {
		return maintenance.RunEvery(gctx, time.Duration(appCfg.Maintenance.ReconcileInterval), st, dir, opts)
	})
	return g.Wait()
}

func openStorage(ctx context.Context, cfg *config.Config) (*store.SQLStore, *imagefs.Dir, error) {
	d, err := db.Open(ctx, &cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	st := store.NewSQLStore(d)

	dir, err := imagefs.Open(cfg.Upload.Dir)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to open upload directory: %w", err)
	}
	return st, dir, nil
}

func reconcileOptions(cfg *config.Config, dryRun bool) maintenance.Options {
	return maintenance.Options{
		Grace:  time.Duration(cfg.Maintenance.OrphanGrace),
		DryRun: dryRun,
	}
}

func listen(cfg *config.ServerConfig) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	return ln, nil
}

func runServerLifecycle(ctx context.Context, srv *http.Server, ln net.Listener, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", ln.Addr().String())
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
