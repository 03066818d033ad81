package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claude/repforge/internal/config"
	"github.com/claude/repforge/internal/ingest/alpha"
	repmcp "github.com/claude/repforge/internal/mcp"
	"github.com/claude/repforge/internal/outbox"
	"github.com/claude/repforge/internal/profiles"
	"github.com/claude/repforge/internal/ranking"
	"github.com/claude/repforge/internal/recovery"
	"github.com/claude/repforge/internal/server"
	"github.com/claude/repforge/internal/storage"
	"github.com/claude/repforge/internal/training"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"tailscale.com/tsnet"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var _ training.Store = (*storage.DB)(nil)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("RepForge starting", "version", Version)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Run migrations
	dsn := cfg.Database.DSN()
	if err := storage.RunMigrations(dsn, "migrations"); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Connect database
	db, err := storage.New(ctx, dsn)
	if err != nil {
		log.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connected")

	// Engines
	catalog, err := profiles.LoadFile(cfg.Profiles.File)
	if err != nil {
		log.Error("failed to load exercise profiles", "error", err)
		os.Exit(1)
	}
	rank, err := ranking.New(cfg.RankingSettings(), catalog)
	if err != nil {
		log.Error("invalid ranking config", "error", err)
		os.Exit(1)
	}
	rec, err := recovery.New(cfg.RecoverySettings())
	if err != nil {
		log.Error("invalid recovery config", "error", err)
		os.Exit(1)
	}

	// Commit outbox
	ob, err := outbox.Open(cfg.Outbox.Dir)
	if err != nil {
		log.Error("failed to open outbox", "dir", cfg.Outbox.Dir, "error", err)
		os.Exit(1)
	}
	defer ob.Close()

	tcfg := training.DefaultConfig()
	tcfg.Pipeline = cfg.PipelineSettings()
	svc := training.New(tcfg, catalog, rank, rec, db, ob, log)

	// Deliver results left over from the last run before any state is read.
	if n, err := ob.Len(); err == nil && n > 0 {
		done, err := ob.Flush(ctx, svc.Commit)
		if err != nil {
			log.Warn("uncommitted sessions pending", "count", n-done, "delivered", done, "error", err)
		} else {
			log.Info("outbox delivered sessions", "count", done)
		}
	}

	go ob.Run(ctx, cfg.Outbox.RetryInterval, svc.Commit, log)
	go logOutcomes(ctx, svc, log)

	// Create server
	alphaProvider := alpha.NewProvider(svc, catalog, log)
	srv := server.New(svc, alphaProvider, db, db, cfg.Auth.APIKey, log)

	mcpSrv := repmcp.New(repmcp.Local{Service: svc}, Version, log)
	srv.MountMCP(mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return repmcp.WithUserID(ctx, server.RequestUserID(r))
		}),
	))

	// Start server: tsnet or plain HTTP
	var listener net.Listener
	var tsServer *tsnet.Server

	if cfg.Tailscale.Enabled {
		tsServer = &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	svc.Shutdown()
	stop()

	// Last attempt at anything still queued.
	if n, err := ob.Flush(shutdownCtx, svc.Commit); err != nil {
		log.Warn("outbox flush incomplete", "committed", n, "error", err)
	}
	log.Info("server stopped", "undelivered_outcomes", svc.OutcomeDrops())
}

// logOutcomes reports promotions as sessions finish.
func logOutcomes(ctx context.Context, svc *training.Service, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-svc.Outcomes():
			if res.Outcome.Promoted {
				log.Info("promotion", "user_id", res.UserID, "tier", res.Rank.Tier.String())
			}
		}
	}
}
